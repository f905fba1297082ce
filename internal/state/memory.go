package state

import (
	"sync"

	"github.com/patrickmn/go-cache"
)

// Memory keeps values in process memory. Everything is lost on restart,
// which suits tests and kiosks that should forget logins on reboot.
type Memory struct {
	// mu makes multi-key reads and writes atomic; go-cache only locks
	// per call.
	mu sync.RWMutex
	c  *cache.Cache
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	// Entries never expire; token expiry is checked by the caller.
	return &Memory{c: cache.New(cache.NoExpiration, 0)}
}

func memoryKey(bucket, key string) string {
	return bucket + "\x00" + key
}

func (m *Memory) lookup(bucket, key string) (string, bool) {
	v, ok := m.c.Get(memoryKey(bucket, key))
	if !ok {
		return "", false
	}

	s, ok := v.(string)

	return s, ok
}

// Get returns the value stored under bucket/key.
func (m *Memory) Get(bucket, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.lookup(bucket, key)

	return s, ok, nil
}

// GetAll returns the present keys of bucket.
func (m *Memory) GetAll(bucket string, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if s, ok := m.lookup(bucket, k); ok {
			out[k] = s
		}
	}

	return out, nil
}

// PutAll stores every value.
func (m *Memory) PutAll(bucket string, values map[string]string) error {
	return m.Update(bucket, values)
}

// Delete removes keys from bucket.
func (m *Memory) Delete(bucket string, keys ...string) error {
	return m.Update(bucket, nil, keys...)
}

// Update stores put and removes del while holding the write lock.
func (m *Memory) Update(bucket string, put map[string]string, del ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range put {
		m.c.Set(memoryKey(bucket, k), v, cache.NoExpiration)
	}

	for _, k := range del {
		m.c.Delete(memoryKey(bucket, k))
	}

	return nil
}

// Close flushes all values.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.c.Flush()

	return nil
}
