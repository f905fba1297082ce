// Package state persists small string values (tokens, PKCE sessions)
// in named buckets. A bucket groups the keys of one provider.
package state

// Store is a bucketed key-value store. Values are opaque strings; a
// missing bucket behaves like an empty one.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(bucket, key string) (string, bool, error)

	// GetAll reads keys in a single transaction. Missing keys are
	// absent from the result.
	GetAll(bucket string, keys ...string) (map[string]string, error)

	// PutAll writes every value in a single transaction, so readers
	// never observe a partially written set.
	PutAll(bucket string, values map[string]string) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(bucket string, keys ...string) error

	// Update writes put and removes del in a single transaction.
	Update(bucket string, put map[string]string, del ...string) error

	Close() error
}
