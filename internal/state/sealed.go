package state

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealInfo is the HKDF info string; changing it invalidates every
// stored value.
const sealInfo = "ambient-dash state v1"

// MinSecretLen is the minimum length of the sealing secret in bytes.
const MinSecretLen = 32

// Sealed encrypts values before handing them to another Store. Values
// that cannot be decrypted (written without a key, or with a different
// key) read as absent.
type Sealed struct {
	inner Store
	aead  cipher.AEAD
}

// NewSealed wraps inner. The XChaCha20-Poly1305 key is derived from
// secret with HKDF-SHA256.
func NewSealed(inner Store, secret []byte) (*Sealed, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("sealing secret must be at least %d bytes", MinSecretLen)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving state key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating state cipher: %w", err)
	}

	return &Sealed{inner: inner, aead: aead}, nil
}

// additionalData binds a ciphertext to its location, so a value cannot
// be moved to another key.
func additionalData(bucket, key string) []byte {
	return []byte(bucket + "/" + key)
}

func (s *Sealed) seal(bucket, key, value string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	out := s.aead.Seal(nonce, nonce, []byte(value), additionalData(bucket, key))

	return base64.RawStdEncoding.EncodeToString(out), nil
}

func (s *Sealed) open(bucket, key, value string) (string, bool) {
	raw, err := base64.RawStdEncoding.DecodeString(value)
	if err != nil || len(raw) < s.aead.NonceSize() {
		return "", false
	}

	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]

	plain, err := s.aead.Open(nil, nonce, ciphertext, additionalData(bucket, key))
	if err != nil {
		return "", false
	}

	return string(plain), true
}

// Get returns the decrypted value stored under bucket/key.
func (s *Sealed) Get(bucket, key string) (string, bool, error) {
	v, ok, err := s.inner.Get(bucket, key)
	if err != nil || !ok {
		return "", false, err
	}

	plain, ok := s.open(bucket, key, v)

	return plain, ok, nil
}

// GetAll returns the decrypted values of the present keys. Values that
// fail to open are left out.
func (s *Sealed) GetAll(bucket string, keys ...string) (map[string]string, error) {
	raw, err := s.inner.GetAll(bucket, keys...)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if plain, ok := s.open(bucket, k, v); ok {
			out[k] = plain
		}
	}

	return out, nil
}

// PutAll encrypts and stores every value.
func (s *Sealed) PutAll(bucket string, values map[string]string) error {
	return s.Update(bucket, values)
}

// Delete removes keys from bucket.
func (s *Sealed) Delete(bucket string, keys ...string) error {
	return s.inner.Delete(bucket, keys...)
}

// Update encrypts put and hands the write and the deletes to the
// wrapped store as one update.
func (s *Sealed) Update(bucket string, put map[string]string, del ...string) error {
	sealed := make(map[string]string, len(put))

	for k, v := range put {
		enc, err := s.seal(bucket, k, v)
		if err != nil {
			return err
		}

		sealed[k] = enc
	}

	return s.inner.Update(bucket, sealed, del...)
}

// Close closes the wrapped store.
func (s *Sealed) Close() error {
	return s.inner.Close()
}
