package auth

import (
	"strings"

	apperrors "github.com/alexjbarnes/ambient-dash/internal/errors"
)

// Flow is the OAuth2 grant a provider uses for interactive login.
type Flow string

const (
	// FlowPKCE is the authorization code grant with PKCE.
	FlowPKCE Flow = "pkce"
	// FlowImplicit returns the access token directly in the redirect
	// fragment. No refresh token is ever issued.
	FlowImplicit Flow = "implicit"
)

// ClientAuth selects how a client secret reaches the token endpoint.
type ClientAuth int

const (
	// ClientAuthBasic sends client_id:client_secret as HTTP Basic auth.
	ClientAuthBasic ClientAuth = iota
	// ClientAuthForm sends client_secret as a form field.
	ClientAuthForm
)

// Provider describes one OAuth2 authorization server and the client
// registered with it.
type Provider struct {
	// Name is the provider key used in routes and as the storage bucket.
	Name         string
	AuthorizeURL string
	TokenURL     string
	Scopes       []string
	Flow         Flow

	ClientID     string
	RedirectURI  string
	ClientSecret string
	ClientAuth   ClientAuth

	// AuthParams are extra query parameters added to the authorize URL.
	AuthParams map[string]string
}

// Validate reports whether the provider can start a login.
func (p Provider) Validate() error {
	if p.ClientID == "" {
		return apperrors.ErrMissingClientID
	}

	if p.RedirectURI == "" {
		return apperrors.ErrMissingRedirectURI
	}

	return nil
}

// Scope returns the space separated scope parameter.
func (p Provider) Scope() string {
	return strings.Join(p.Scopes, " ")
}

// Spotify returns the Spotify accounts service descriptor. A client
// secret is optional; public clients rely on PKCE alone.
func Spotify(clientID, redirectURI, clientSecret string) Provider {
	return Provider{
		Name:         "spotify",
		AuthorizeURL: "https://accounts.spotify.com/authorize",
		TokenURL:     "https://accounts.spotify.com/api/token",
		Scopes: []string{
			"user-read-playback-state",
			"user-modify-playback-state",
			"user-read-currently-playing",
		},
		Flow:         FlowPKCE,
		ClientID:     clientID,
		RedirectURI:  redirectURI,
		ClientSecret: clientSecret,
		ClientAuth:   ClientAuthBasic,
	}
}

// Google returns the Google OAuth descriptor for read-only Tasks access.
// With FlowPKCE the authorize URL asks for offline access so a refresh
// token is issued.
func Google(clientID, redirectURI, clientSecret string, flow Flow) Provider {
	p := Provider{
		Name:         "google",
		AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		Scopes:       []string{"https://www.googleapis.com/auth/tasks.readonly"},
		Flow:         flow,
		ClientID:     clientID,
		RedirectURI:  redirectURI,
		ClientSecret: clientSecret,
		ClientAuth:   ClientAuthForm,
	}

	if flow == FlowPKCE {
		p.AuthParams = map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		}
	}

	return p
}
