package bithumb

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"bitsplit/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// timeSyncInterval limits how often we probe the server clock
const timeSyncInterval = 5 * time.Minute

// Signer produces the per-request JWT the private API requires. The token
// carries a fresh nonce, a millisecond timestamp corrected by the measured
// server clock skew, and a SHA512 hash of the request parameters.
type Signer struct {
	accessKey string
	secretKey config.Secret
	baseURL   string
	client    *http.Client

	mu       sync.Mutex
	offsetMS int64
	lastSync time.Time
}

// NewSigner creates a signer. baseURL is used for server time probes.
func NewSigner(accessKey string, secretKey config.Secret, baseURL string) *Signer {
	return &Signer{
		accessKey: accessKey,
		secretKey: secretKey,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 3 * time.Second},
	}
}

// SignRequest attaches the Authorization header. Query parameters are hashed
// from the URL; for body requests the parameters are recovered from GetBody
// and hashed in their urlencoded form.
func (s *Signer) SignRequest(req *http.Request) error {
	claims := jwt.MapClaims{
		"access_key": s.accessKey,
		"nonce":      uuid.NewString(),
		"timestamp":  s.nowMS(),
	}

	queryString, err := s.canonicalQuery(req)
	if err != nil {
		return err
	}
	if queryString != "" {
		sum := sha512.Sum512([]byte(queryString))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secretKey.Value()))
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (s *Signer) canonicalQuery(req *http.Request) (string, error) {
	if req.URL.RawQuery != "" {
		return req.URL.RawQuery, nil
	}
	if req.GetBody == nil {
		return "", nil
	}

	body, err := req.GetBody()
	if err != nil {
		return "", fmt.Errorf("failed to reread body for signing: %w", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read body for signing: %w", err)
	}

	var params map[string]string
	if err := json.Unmarshal(data, &params); err != nil {
		return "", fmt.Errorf("failed to parse body for signing: %w", err)
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values.Encode(), nil
}

// ForceSync re-measures the server clock skew immediately. Called when the
// venue rejects a token as expired.
func (s *Signer) ForceSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLocked()
}

func (s *Signer) nowMS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastSync) >= timeSyncInterval {
		s.syncLocked()
	}
	return time.Now().UnixMilli() + s.offsetMS
}

// syncLocked probes the public ticker endpoint for the server timestamp.
// Failures are tolerated: signing proceeds with the last known offset.
func (s *Signer) syncLocked() {
	resp, err := s.client.Get(s.baseURL + "/public/ticker/BTC_KRW")
	if err != nil {
		return
	}
	defer resp.Body.Close()

	var payload struct {
		Date json.Number `json:"date"`
		Data struct {
			Date json.Number `json:"date"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return
	}
	serverTS, err := payload.Data.Date.Int64()
	if err != nil || serverTS == 0 {
		serverTS, err = payload.Date.Int64()
		if err != nil || serverTS == 0 {
			return
		}
	}
	s.offsetMS = serverTS - time.Now().UnixMilli()
	s.lastSync = time.Now()
}
