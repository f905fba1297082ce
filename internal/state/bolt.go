package state

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.ambient-dash/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

// Bolt wraps a bbolt database.
type Bolt struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it and its
// directory if they do not exist.
func LoadAt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	return &Bolt{db: db}, nil
}

// DefaultPath returns ~/.ambient-dash/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".ambient-dash", "state.db"), nil
}

// Close closes the database.
func (s *Bolt) Close() error {
	return s.db.Close()
}

// Get returns the value stored under bucket/key.
func (s *Bolt) Get(bucket, key string) (string, bool, error) {
	var (
		value string
		found bool
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}

		value = string(v)
		found = true

		return nil
	})

	return value, found, err
}

// GetAll returns the present keys of bucket from one read transaction.
func (s *Bolt) GetAll(bucket string, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}

		for _, k := range keys {
			if v := b.Get([]byte(k)); v != nil {
				out[k] = string(v)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// PutAll writes all values into bucket, creating it if needed.
func (s *Bolt) PutAll(bucket string, values map[string]string) error {
	return s.Update(bucket, values)
}

// Delete removes keys from bucket.
func (s *Bolt) Delete(bucket string, keys ...string) error {
	return s.Update(bucket, nil, keys...)
}

// Update writes put and removes del in one bolt transaction. The bucket
// is only created when there is something to write.
func (s *Bolt) Update(bucket string, put map[string]string, del ...string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			if len(put) == 0 {
				return nil
			}

			var err error
			if b, err = tx.CreateBucket([]byte(bucket)); err != nil {
				return err
			}
		}

		for k, v := range put {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}

		for _, k := range del {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}

		return nil
	})
}
