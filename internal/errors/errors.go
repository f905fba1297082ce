package errors

import (
	"errors"
	"fmt"
)

// Configuration errors. A widget with a configuration error never polls
// and shows a static message instead.
var (
	ErrConfiguration      = errors.New("widget is not configured")
	ErrMissingClientID    = fmt.Errorf("%w: client id is not set", ErrConfiguration)
	ErrMissingRedirectURI = fmt.Errorf("%w: redirect uri is not set", ErrConfiguration)
)

// Authorization errors.
var (
	// ErrAuth means a token exchange or refresh failed and the stored
	// token has been cleared.
	ErrAuth           = errors.New("authorization failed")
	ErrTokenExchange  = fmt.Errorf("%w: token exchange rejected", ErrAuth)
	ErrNoRefreshToken = fmt.Errorf("%w: no refresh token", ErrAuth)
	ErrAuthDenied     = fmt.Errorf("%w: access denied by provider", ErrAuth)

	// ErrAuthRequired means a data request cannot proceed without a new
	// interactive authorization.
	ErrAuthRequired = errors.New("authorization required")
)

// Provider/transport errors.
var (
	// ErrNoContent marks a successful response that carries nothing to
	// show, e.g. no track currently playing.
	ErrNoContent        = errors.New("nothing currently active")
	ErrProviderRequest  = errors.New("provider request failed")
	ErrProviderResponse = errors.New("unexpected provider response")
)

// Lookup errors.
var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnknownWidget   = errors.New("unknown widget")
)
