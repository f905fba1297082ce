// Package models defines types shared across internal packages.
package models

import "time"

// ExpiryBuffer is subtracted from a token's expiry when deciding whether
// it can still be used, so a token never expires mid-request.
const ExpiryBuffer = 30 * time.Second

// TokenState is a persisted OAuth bearer token.
type TokenState struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ValidAt reports whether the access token can be used at now.
func (t *TokenState) ValidAt(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}

	return now.Before(t.ExpiresAt.Add(-ExpiryBuffer))
}

// PKCESession holds the secrets of one pending authorization.
// It is created when login starts and consumed by the callback.
type PKCESession struct {
	Verifier  string `json:"verifier"`
	Challenge string `json:"challenge"`
	State     string `json:"state"`
}
