// Package store persists ladder snapshots and worker heartbeats to disk.
// Snapshot writes are crash-atomic: write to a temp file, fsync, rename.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bitsplit/internal/ladder"
	apperrors "bitsplit/pkg/errors"

	"github.com/shopspring/decimal"
)

// FileStore reads and writes per-market state files under a logs directory
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// FileTag converts a market code into a filename-safe tag (KRW-BTC -> KRW_BTC)
func FileTag(market string) string {
	return strings.ReplaceAll(market, "-", "_")
}

// SnapshotPath returns the state file path for a market
func (fs *FileStore) SnapshotPath(market string) string {
	return filepath.Join(fs.dir, fmt.Sprintf("autotrade_state_%s.json", FileTag(market)))
}

// HeartbeatPath returns the heartbeat file path for a market
func (fs *FileStore) HeartbeatPath(market string) string {
	return filepath.Join(fs.dir, fmt.Sprintf("heartbeat_%s.json", FileTag(market)))
}

// SaveSnapshot atomically replaces the state file. A crash mid-write leaves
// the previous snapshot intact.
func (fs *FileStore) SaveSnapshot(market string, snap *ladder.Snapshot) error {
	snap.Touch()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return fs.writeAtomic(fs.SnapshotPath(market), data)
}

// LoadSnapshot reads the state file for a market. A missing file returns
// (nil, nil); an unreadable or unparseable file returns ErrCorruptSnapshot.
func (fs *FileStore) LoadSnapshot(market string) (*ladder.Snapshot, error) {
	data, err := os.ReadFile(fs.SnapshotPath(market))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCorruptSnapshot, err)
	}
	var snap ladder.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCorruptSnapshot, err)
	}
	return &snap, nil
}

// BackupSnapshot moves the current state file aside so a cold start over a
// mismatched snapshot never destroys the operator's only copy
func (fs *FileStore) BackupSnapshot(market string) error {
	path := fs.SnapshotPath(market)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	backup := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102T150405"))
	if err := os.Rename(path, backup); err != nil {
		return fmt.Errorf("failed to back up snapshot: %w", err)
	}
	return nil
}

// Heartbeat is the liveness record a worker refreshes every loop iteration
type Heartbeat struct {
	Market         string          `json:"market"`
	Timestamp      string          `json:"timestamp"`
	PID            int             `json:"pid"`
	AnchorLevel    int             `json:"anchor_level"`
	RealizedProfit decimal.Decimal `json:"realized_profit"`
	PendingOrders  int             `json:"pending_orders"`
}

// HeartbeatTimeLayout is the local-time layout workers stamp heartbeats with
const HeartbeatTimeLayout = "2006-01-02T15:04:05"

// WriteHeartbeat atomically refreshes the heartbeat file
func (fs *FileStore) WriteHeartbeat(market string, hb Heartbeat) error {
	hb.Market = market
	if hb.Timestamp == "" {
		hb.Timestamp = time.Now().Format(HeartbeatTimeLayout)
	}
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}
	return fs.writeAtomic(fs.HeartbeatPath(market), data)
}

// ReadHeartbeat loads a market's heartbeat file. Missing file returns
// (nil, nil) so callers can treat never-started and stale separately.
func (fs *FileStore) ReadHeartbeat(market string) (*Heartbeat, error) {
	data, err := os.ReadFile(fs.HeartbeatPath(market))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read heartbeat: %w", err)
	}
	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, fmt.Errorf("failed to parse heartbeat: %w", err)
	}
	return &hb, nil
}

// ParseHeartbeatTime accepts the heartbeat layout with or without fractional
// seconds, falling back to RFC3339. Timestamps are interpreted in local time.
func ParseHeartbeatTime(s string) (time.Time, error) {
	for _, layout := range []string{HeartbeatTimeLayout, "2006-01-02T15:04:05.999999", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized heartbeat timestamp: %q", s)
}

func (fs *FileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(fs.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
