package config

import (
	"fmt"
	"os"
)

// Credentials holds the API and alerting secrets loaded from the environment
type Credentials struct {
	APIKey         string
	APISecret      Secret
	TelegramToken  Secret
	TelegramChatID string
}

// LoadCredentials reads secrets from the environment. Exchange keys are
// required; Telegram settings are optional and alerting degrades to logging
// when absent.
func LoadCredentials() (*Credentials, error) {
	creds := &Credentials{
		APIKey:         os.Getenv("BITHUMB_API_KEY"),
		APISecret:      Secret(os.Getenv("BITHUMB_API_SECRET")),
		TelegramToken:  Secret(os.Getenv("TELEGRAM_TOKEN")),
		TelegramChatID: os.Getenv("TELEGRAM_CHAT_ID"),
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("BITHUMB_API_KEY and BITHUMB_API_SECRET must be set")
	}
	return creds, nil
}
