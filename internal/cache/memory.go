package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is a thread-safe in-process Store. It backs single-instance
// development setups and tests; expiry is evaluated lazily against now.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]memoryEntry
	locksMu sync.Mutex
	locks   map[string]chan struct{}
	now     func() time.Time
}

// NewMemoryStore creates an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		data:  make(map[string]memoryEntry),
		locks: make(map[string]chan struct{}),
		now:   now,
	}
}

// lookup returns the live entry for key, dropping it if expired. Caller holds mu.
func (m *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.data, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	return e.value, ok, nil
}

func (m *MemoryStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = memoryEntry{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *MemoryStore) Forever(ctx context.Context, key, value string) error {
	return m.Put(ctx, key, value, 0)
}

func (m *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	var n int64
	if ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("increment %s: value is not an integer", key)
		}
		n = parsed
	}
	n++

	if !ok {
		e.expiresAt = m.expiry(ttl)
	}
	e.value = strconv.FormatInt(n, 10)
	m.data[key] = e
	return n, nil
}

func (m *MemoryStore) Forget(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *MemoryStore) Has(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.lookup(key)
	return ok, nil
}

func (m *MemoryStore) Add(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.data[key] = memoryEntry{value: value, expiresAt: m.expiry(ttl)}
	return true, nil
}

// Lock acquires an in-process lock for key. Without a deadline on ctx, ttl
// bounds the wait; a held lock lives until released.
func (m *MemoryStore) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m.locksMu.Lock()
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	m.locksMu.Unlock()

	if _, ok := ctx.Deadline(); !ok && ttl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ttl)
		defer cancel()
	}

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", models.ErrLockTimeout, key)
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Len reports the number of live keys
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.data {
		if _, ok := m.lookup(key); ok {
			n++
		}
	}
	return n
}
