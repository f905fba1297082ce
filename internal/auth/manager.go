// Package auth manages the OAuth2 token of one provider on behalf of the
// widgets that call it: login with PKCE or the implicit grant, token
// persistence, expiry checks and refresh.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/alexjbarnes/ambient-dash/internal/errors"
	"github.com/alexjbarnes/ambient-dash/internal/models"
	"github.com/alexjbarnes/ambient-dash/internal/provider"
	"github.com/alexjbarnes/ambient-dash/internal/state"
)

// Persisted keys inside the provider's bucket.
const (
	keyAccessToken  = "access_token"
	keyExpiresAt    = "expires_at"
	keyRefreshToken = "refresh_token"
	keyVerifier     = "pkce_verifier"
	keyState        = "pkce_state"
)

// defaultExpiresIn is assumed when a token response omits expires_in.
const defaultExpiresIn = 3599 * time.Second

// refreshTimeout bounds a refresh that has outlived its callers.
const refreshTimeout = 30 * time.Second

// AuthStatus summarises where a provider is in the login lifecycle.
type AuthStatus string

const (
	StatusConfigError      AuthStatus = "config_error"
	StatusUnauthenticated  AuthStatus = "unauthenticated"
	StatusAwaitingCallback AuthStatus = "awaiting_callback"
	StatusAuthenticated    AuthStatus = "authenticated"
)

// Manager owns the token lifecycle of one provider. All state lives in
// the store, so a restart resumes where the previous process left off.
type Manager struct {
	provider    Provider
	store       state.Store
	client      *provider.Client
	logger      *slog.Logger
	now         func() time.Time
	verifierLen int

	// sessionMu serialises reads and writes of the pending login.
	sessionMu sync.Mutex
	refreshes singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithVerifierLength sets the PKCE verifier length (43..128).
func WithVerifierLength(n int) Option {
	return func(m *Manager) { m.verifierLen = n }
}

// NewManager creates a token manager for p backed by store.
func NewManager(p Provider, store state.Store, client *provider.Client, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		provider:    p,
		store:       store,
		client:      client,
		logger:      logger.With(slog.String("provider", p.Name)),
		now:         time.Now,
		verifierLen: DefaultVerifierLen,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Name returns the provider name.
func (m *Manager) Name() string { return m.provider.Name }

// Flow returns the provider's login flow.
func (m *Manager) Flow() Flow { return m.provider.Flow }

// ConfigError returns the configuration problem that prevents login,
// or nil.
func (m *Manager) ConfigError() error { return m.provider.Validate() }

func (m *Manager) get(key string) (string, error) {
	v, ok, err := m.store.Get(m.provider.Name, key)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}

	if !ok {
		return "", nil
	}

	return v, nil
}

// stored returns the persisted token regardless of expiry. A missing
// access token or malformed expiry reads as no token.
func (m *Manager) stored() (*models.TokenState, error) {
	values, err := m.store.GetAll(m.provider.Name, keyAccessToken, keyExpiresAt, keyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}

	access, raw, refresh := values[keyAccessToken], values[keyExpiresAt], values[keyRefreshToken]

	if access == "" {
		if refresh == "" {
			return nil, nil
		}
		// A seeded refresh token with no access token yet.
		return &models.TokenState{RefreshToken: refresh}, nil
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.logger.Warn("ignoring malformed token expiry", slog.String("value", raw))
		return &models.TokenState{RefreshToken: refresh}, nil
	}

	return &models.TokenState{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.UnixMilli(ms),
	}, nil
}

// LoadPersisted returns the persisted token if it is still usable
// (now < ExpiresAt - ExpiryBuffer), otherwise nil.
func (m *Manager) LoadPersisted() (*models.TokenState, error) {
	t, err := m.stored()
	if err != nil {
		return nil, err
	}

	if !t.ValidAt(m.now()) {
		return nil, nil
	}

	return t, nil
}

func (m *Manager) persist(t *models.TokenState) error {
	values := map[string]string{
		keyAccessToken: t.AccessToken,
		keyExpiresAt:   strconv.FormatInt(t.ExpiresAt.UnixMilli(), 10),
	}

	var del []string
	if t.RefreshToken != "" {
		values[keyRefreshToken] = t.RefreshToken
	} else {
		del = append(del, keyRefreshToken)
	}

	if err := m.store.Update(m.provider.Name, values, del...); err != nil {
		return fmt.Errorf("persisting token: %w", err)
	}

	return nil
}

// BeginAuthorization starts an interactive login and returns the URL
// the user agent must be sent to. The PKCE verifier and state are
// persisted before the URL is returned.
func (m *Manager) BeginAuthorization() (string, error) {
	if err := m.provider.Validate(); err != nil {
		return "", err
	}

	u, err := url.Parse(m.provider.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("parsing authorize url: %w", err)
	}

	q := u.Query()
	q.Set("client_id", m.provider.ClientID)
	q.Set("redirect_uri", m.provider.RedirectURI)
	q.Set("scope", m.provider.Scope())

	for k, v := range m.provider.AuthParams {
		q.Set(k, v)
	}

	switch m.provider.Flow {
	case FlowImplicit:
		st, err := RandomString(DefaultStateLen)
		if err != nil {
			return "", err
		}

		m.sessionMu.Lock()
		err = m.store.Update(m.provider.Name, map[string]string{keyState: st}, keyVerifier)
		m.sessionMu.Unlock()

		if err != nil {
			return "", fmt.Errorf("persisting login state: %w", err)
		}

		q.Set("response_type", "token")
		q.Set("state", st)
	default:
		session, err := NewPKCESession(m.verifierLen)
		if err != nil {
			return "", err
		}

		m.sessionMu.Lock()
		err = m.store.PutAll(m.provider.Name, map[string]string{
			keyVerifier: session.Verifier,
			keyState:    session.State,
		})
		m.sessionMu.Unlock()

		if err != nil {
			return "", fmt.Errorf("persisting login state: %w", err)
		}

		q.Set("response_type", "code")
		q.Set("code_challenge_method", MethodS256)
		q.Set("code_challenge", session.Challenge)
		q.Set("state", session.State)
	}

	u.RawQuery = q.Encode()

	m.logger.Info("authorization started")

	return u.String(), nil
}

// consumeSession checks the callback state against the pending login.
// It returns false when the callback does not belong to this login; the
// pending session is then left as it was. On a match the session is
// deleted before anything else happens, so it can be used only once,
// even by callbacks that arrive together.
func (m *Manager) consumeSession(callbackState string, needVerifier bool) (string, bool, error) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	session, err := m.store.GetAll(m.provider.Name, keyState, keyVerifier)
	if err != nil {
		return "", false, fmt.Errorf("reading login state: %w", err)
	}

	stored, verifier := session[keyState], session[keyVerifier]

	if callbackState == "" || stored == "" ||
		subtle.ConstantTimeCompare([]byte(callbackState), []byte(stored)) != 1 {
		m.logger.Warn("ignoring callback with unknown state")
		return "", false, nil
	}

	if needVerifier && verifier == "" {
		m.logger.Warn("ignoring callback without pending verifier")
		return "", false, nil
	}

	if err := m.store.Delete(m.provider.Name, keyVerifier, keyState); err != nil {
		return "", false, fmt.Errorf("deleting login state: %w", err)
	}

	return verifier, true, nil
}

// fail clears any stale token after a failed exchange and returns err.
func (m *Manager) fail(err error) error {
	if clearErr := m.Invalidate(); clearErr != nil {
		m.logger.Error("clearing token after failure", slog.String("error", clearErr.Error()))
	}

	m.logger.Warn("authorization failed", slog.String("error", err.Error()))

	return err
}

// failExchange is fail for token endpoint errors. An exchange cut short
// by its context says nothing about the token, so nothing is cleared.
func (m *Manager) failExchange(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		m.logger.Warn("token request abandoned", slog.String("error", err.Error()))
		return err
	}

	return m.fail(err)
}

// CompleteAuthorization finishes a PKCE login from the callback query
// (code, state, and possibly error). A callback whose state does not
// match the pending login is ignored and returns nil, nil.
func (m *Manager) CompleteAuthorization(ctx context.Context, query url.Values) (*models.TokenState, error) {
	verifier, ok, err := m.consumeSession(query.Get("state"), true)
	if err != nil || !ok {
		return nil, err
	}

	if e := query.Get("error"); e != "" {
		return nil, m.fail(fmt.Errorf("%w: %s", apperrors.ErrAuthDenied, e))
	}

	code := query.Get("code")
	if code == "" {
		return nil, m.fail(fmt.Errorf("%w: callback carried no code", apperrors.ErrTokenExchange))
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", m.provider.RedirectURI)
	form.Set("client_id", m.provider.ClientID)
	form.Set("code_verifier", verifier)

	resp, err := m.exchange(ctx, form)
	if err != nil {
		return nil, m.failExchange(ctx, err)
	}

	t := resp.token(m.now(), "")
	if err := m.persist(t); err != nil {
		return nil, err
	}

	m.logger.Info("authorization completed", slog.Bool("refresh_token", t.RefreshToken != ""))

	return t, nil
}

// CompleteImplicit finishes an implicit-grant login from the fragment
// parameters (access_token, expires_in, state) relayed as a query.
// State handling matches CompleteAuthorization.
func (m *Manager) CompleteImplicit(_ context.Context, query url.Values) (*models.TokenState, error) {
	_, ok, err := m.consumeSession(query.Get("state"), false)
	if err != nil || !ok {
		return nil, err
	}

	if e := query.Get("error"); e != "" {
		return nil, m.fail(fmt.Errorf("%w: %s", apperrors.ErrAuthDenied, e))
	}

	access := query.Get("access_token")
	if access == "" {
		return nil, m.fail(fmt.Errorf("%w: callback carried no access token", apperrors.ErrTokenExchange))
	}

	expiresIn := defaultExpiresIn
	if raw := query.Get("expires_in"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			expiresIn = time.Duration(secs) * time.Second
		}
	}

	t := &models.TokenState{
		AccessToken: access,
		ExpiresAt:   m.now().Add(expiresIn),
	}

	if err := m.persist(t); err != nil {
		return nil, err
	}

	m.logger.Info("authorization completed", slog.String("flow", string(FlowImplicit)))

	return t, nil
}

// Refresh exchanges the persisted refresh token for a new access token.
// The refresh token is replaced only when the response carries a new
// one. A rejected refresh clears all persisted token state. Concurrent
// calls share a single token request, which runs to completion even
// when ctx is cancelled; the caller then gets ctx.Err() and the result
// is persisted for the next call.
func (m *Manager) Refresh(ctx context.Context) (*models.TokenState, error) {
	ch := m.refreshes.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		return m.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(*models.TokenState), nil
	}
}

func (m *Manager) refresh(ctx context.Context) (*models.TokenState, error) {
	refreshToken, err := m.get(keyRefreshToken)
	if err != nil {
		return nil, err
	}

	if refreshToken == "" {
		return nil, apperrors.ErrNoRefreshToken
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", m.provider.ClientID)

	resp, err := m.exchange(ctx, form)
	if err != nil {
		return nil, m.failExchange(ctx, err)
	}

	t := resp.token(m.now(), refreshToken)
	if err := m.persist(t); err != nil {
		return nil, err
	}

	m.logger.Debug("token refreshed", slog.Bool("rotated", resp.RefreshToken != ""))

	return t, nil
}

// Invalidate clears the persisted token. Used after a 401 and on logout.
func (m *Manager) Invalidate() error {
	if err := m.store.Delete(m.provider.Name, keyAccessToken, keyExpiresAt, keyRefreshToken); err != nil {
		return fmt.Errorf("clearing token: %w", err)
	}

	return nil
}

// Token returns a usable access token, refreshing first when the stored
// one is stale and a refresh token is available. It returns an error
// wrapping ErrAuthRequired when the user has to log in again.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if err := m.provider.Validate(); err != nil {
		return "", err
	}

	t, err := m.stored()
	if err != nil {
		return "", err
	}

	if t.ValidAt(m.now()) {
		return t.AccessToken, nil
	}

	if t == nil || t.RefreshToken == "" {
		return "", apperrors.ErrAuthRequired
	}

	refreshed, err := m.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}

		return "", errors.Join(apperrors.ErrAuthRequired, err)
	}

	return refreshed.AccessToken, nil
}

// Seed stores refreshToken when none is persisted yet, so a headless
// deployment can authenticate without the browser flow.
func (m *Manager) Seed(refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	existing, err := m.get(keyRefreshToken)
	if err != nil {
		return err
	}

	if existing != "" {
		return nil
	}

	if err := m.store.PutAll(m.provider.Name, map[string]string{keyRefreshToken: refreshToken}); err != nil {
		return fmt.Errorf("seeding refresh token: %w", err)
	}

	m.logger.Info("seeded refresh token from configuration")

	return nil
}

// Status derives the login state from what is persisted.
func (m *Manager) Status() AuthStatus {
	if m.provider.Validate() != nil {
		return StatusConfigError
	}

	t, err := m.stored()
	if err != nil {
		m.logger.Error("reading token", slog.String("error", err.Error()))
		return StatusUnauthenticated
	}

	if t.ValidAt(m.now()) || (t != nil && t.RefreshToken != "") {
		return StatusAuthenticated
	}

	pending, err := m.get(keyState)
	if err != nil {
		m.logger.Error("reading login state", slog.String("error", err.Error()))
	}

	if pending != "" {
		return StatusAwaitingCallback
	}

	return StatusUnauthenticated
}
