// Package widget holds what the provider-specific widget packages share.
package widget

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/alexjbarnes/ambient-dash/internal/errors"
)

// TokenSource supplies bearer tokens to authenticated widgets.
// *auth.Manager implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate() error
}

// AuthFailed handles a 401 from a data endpoint: the stored token is
// cleared and the returned error wraps ErrAuthRequired. Errors that are
// not authorization failures pass through unchanged.
func AuthFailed(tokens TokenSource, err error) error {
	if !errors.Is(err, apperrors.ErrAuthRequired) {
		return err
	}

	if clearErr := tokens.Invalidate(); clearErr != nil {
		return fmt.Errorf("%w (clearing token: %v)", err, clearErr)
	}

	return err
}
