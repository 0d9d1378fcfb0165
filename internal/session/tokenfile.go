package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// TokenFile holds a saved sign-in.
type TokenFile struct {
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token,omitempty"`
	TokenType      string    `json:"token_type,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	AccountID      string    `json:"account_id,omitempty"`
	RegionalDomain string    `json:"regional_domain,omitempty"`
	WebClientURL   string    `json:"web_client_url,omitempty"`
}

// IsExpired returns true if the access token has expired (with optional margin).
// A zero expiry never expires.
func (t *TokenFile) IsExpired(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// Token converts the file contents to an oauth2 token.
func (t *TokenFile) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.ExpiresAt,
	}
}

// SaveToken writes a token file readable only by the current user.
func SaveToken(path string, tf *TokenFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadToken reads a token file.
func LoadToken(path string) (*TokenFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, err
	}
	return &tf, nil
}

// DeleteToken removes a token file. A missing file is not an error.
func DeleteToken(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
