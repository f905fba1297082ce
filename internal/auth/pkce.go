package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/alexjbarnes/ambient-dash/internal/models"
)

// MethodS256 is the only code challenge method this client sends.
const MethodS256 = "S256"

const (
	// VerifierMinLen and VerifierMaxLen are the bounds RFC 7636 puts on
	// a code verifier.
	VerifierMinLen = 43
	VerifierMaxLen = 128

	// DefaultVerifierLen is the verifier length used for every login.
	DefaultVerifierLen = 64

	// DefaultStateLen is the anti-CSRF state length.
	DefaultStateLen = 16
)

const randomAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomString returns n characters drawn uniformly from [A-Za-z0-9]
// using crypto/rand.
func RandomString(n int) (string, error) {
	limit := big.NewInt(int64(len(randomAlphabet)))

	out := make([]byte, n)
	for i := range n {
		num, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}

		out[i] = randomAlphabet[num.Int64()]
	}

	return string(out), nil
}

// Challenge returns base64url(SHA-256(verifier)) without padding.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NewPKCESession generates a verifier of verifierLen characters, its
// S256 challenge and a fresh state.
func NewPKCESession(verifierLen int) (models.PKCESession, error) {
	if verifierLen < VerifierMinLen || verifierLen > VerifierMaxLen {
		return models.PKCESession{}, fmt.Errorf("verifier length %d outside %d..%d", verifierLen, VerifierMinLen, VerifierMaxLen)
	}

	verifier, err := RandomString(verifierLen)
	if err != nil {
		return models.PKCESession{}, err
	}

	state, err := RandomString(DefaultStateLen)
	if err != nil {
		return models.PKCESession{}, err
	}

	return models.PKCESession{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		State:     state,
	}, nil
}
