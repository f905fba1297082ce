// Package provider is the HTTP client shared by every widget and token
// manager. It classifies provider responses into the sentinel errors the
// poller understands.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"

	apperrors "github.com/alexjbarnes/ambient-dash/internal/errors"
)

// TransientError wraps an error that is likely temporary. The poller
// keeps the previous data and tries again on the next tick.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// maxRedirects matches the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout bounds a single provider call so a hung request
	// cannot stall a poll cycle indefinitely.
	httpClientTimeout = 15 * time.Second

	// maxResponseBytes caps response body reads. Provider payloads are
	// small JSON documents.
	maxResponseBytes = 1024 * 1024

	userAgent = "ambient-dash/1"
)

// Client performs provider requests.
type Client struct {
	httpClient *http.Client
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so bearer tokens never follow a
// redirect to a third party.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a provider client. If httpClient is nil, a client
// with a 15-second timeout and same-host redirect policy is created.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{httpClient: httpClient}
}

// GetJSON sends a GET request, with a bearer token when token is not
// empty, and decodes a 200 response into result.
func (c *Client) GetJSON(ctx context.Context, url, token string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.Do(req, result)
}

// Do sends req and classifies the response:
//
//   - 200 decodes the body into result (when result is not nil)
//   - 202 and 204 return ErrNoContent
//   - 401 returns ErrAuthRequired
//   - network errors, 429 and 5xx return a TransientError
//   - anything else returns ErrProviderRequest
func (c *Client) Do(req *http.Request, result any) error {
	req.Header.Set("User-Agent", userAgent)

	target := req.URL.Host + req.URL.Path

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return &TransientError{Err: fmt.Errorf("%w: sending request to %s: %w", apperrors.ErrProviderRequest, target, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransientError{Err: fmt.Errorf("%w: reading response from %s: %w", apperrors.ErrProviderRequest, target, err)}
	}

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusAccepted:
		return apperrors.ErrNoContent
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s returned 401: %s", apperrors.ErrAuthRequired, target, ErrorMessage(body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		err := fmt.Errorf("%w: %s returned status %d: %s", apperrors.ErrProviderRequest, target, resp.StatusCode, ErrorMessage(body))
		if isTransientStatus(resp.StatusCode) {
			return &TransientError{Err: err}
		}

		return err
	}

	if result == nil {
		return nil
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%w: decoding response from %s: %w", apperrors.ErrProviderResponse, target, err)
	}

	return nil
}

// ErrorMessage extracts a human readable message from a provider error
// body. Spotify and Google nest it under error.message, OAuth token
// endpoints use error_description or a bare error string. Unknown
// shapes fall back to the sanitized raw body.
func ErrorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return sanitizeResponseBody(body)
	}

	for _, path := range []string{"error.message", "error_description", "error", "message"} {
		r := gjson.GetBytes(body, path)
		if r.Type == gjson.String && r.Str != "" {
			return sanitizeResponseBody([]byte(r.Str))
		}
	}

	return sanitizeResponseBody(body)
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// Normalize returns s in Unicode NFC. Provider strings (track titles,
// task names) arrive in whatever form the upstream stored them.
func Normalize(s string) string {
	return norm.NFC.String(s)
}
