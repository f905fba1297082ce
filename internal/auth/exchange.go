package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/ambient-dash/internal/errors"
	"github.com/alexjbarnes/ambient-dash/internal/models"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// token converts the response into a TokenState issued at now. When the
// response carries no refresh token, fallbackRefresh is kept.
func (r tokenResponse) token(now time.Time, fallbackRefresh string) *models.TokenState {
	expiresIn := defaultExpiresIn
	if r.ExpiresIn > 0 {
		expiresIn = time.Duration(r.ExpiresIn) * time.Second
	}

	refresh := r.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}

	return &models.TokenState{
		AccessToken:  r.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(expiresIn),
	}
}

// exchange posts form to the token endpoint, adding client credentials
// when a secret is configured.
func (m *Manager) exchange(ctx context.Context, form url.Values) (tokenResponse, error) {
	p := m.provider

	if p.ClientSecret != "" && p.ClientAuth == ClientAuthForm {
		form.Set("client_secret", p.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("%w: creating request: %w", apperrors.ErrTokenExchange, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	if p.ClientSecret != "" && p.ClientAuth == ClientAuthBasic {
		req.SetBasicAuth(p.ClientID, p.ClientSecret)
	}

	var resp tokenResponse
	if err := m.client.Do(req, &resp); err != nil {
		return tokenResponse{}, fmt.Errorf("%w: %w", apperrors.ErrTokenExchange, err)
	}

	if resp.AccessToken == "" {
		return tokenResponse{}, fmt.Errorf("%w: %w: response carried no access token", apperrors.ErrTokenExchange, apperrors.ErrProviderResponse)
	}

	return resp, nil
}
