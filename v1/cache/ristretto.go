package cache

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	warperrors "github.com/mirkobrombin/warp-weather/v1/errors"
)

// Expiring is a best-effort TTL map backed by dgraph-io/ristretto.
//
// Unlike Bounded it keeps no recency order and may refuse an admission, so it
// only suits advisory data such as remembered negative lookups.
type Expiring[T any] struct {
	// mu keeps Close from racing with writes into ristretto's buffers.
	mu     sync.RWMutex
	closed bool
	c      *ristretto.Cache
}

// ExpiringOption configures the underlying ristretto cache.
type ExpiringOption func(*ristretto.Config)

// WithRistretto applies a custom ristretto configuration.
//
// If cfg is nil, defaults are used.
func WithRistretto(cfg *ristretto.Config) ExpiringOption {
	return func(c *ristretto.Config) {
		if cfg == nil {
			return
		}
		*c = *cfg
	}
}

// NewExpiring returns an Expiring map holding roughly maxEntries keys.
func NewExpiring[T any](maxEntries int64, opts ...ExpiringOption) (*Expiring[T], error) {
	if maxEntries <= 0 {
		return nil, warperrors.Config("cache.NewExpiring", "maxEntries must be positive")
	}
	cfg := &ristretto.Config{
		NumCounters: maxEntries * 10, // ristretto recommends 10x the item count.
		MaxCost:     maxEntries,      // every entry costs 1.
		BufferItems: 64,
		// Cost counts entries, not bytes.
		IgnoreInternalCost: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	rc, err := ristretto.NewCache(cfg)
	if err != nil {
		return nil, warperrors.Config("cache.NewExpiring", err.Error())
	}
	return &Expiring[T]{c: rc}, nil
}

// Get returns the value for the normalized key if it has not expired.
func (e *Expiring[T]) Get(key string) (T, bool) {
	var zero T
	key = Normalize(key)
	if key == "" {
		return zero, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return zero, false
	}
	v, ok := e.c.Get(key)
	if !ok {
		return zero, false
	}
	val, ok := v.(T)
	if !ok {
		return zero, false
	}
	return val, true
}

// Set stores value for ttl. It reports whether ristretto admitted the entry.
func (e *Expiring[T]) Set(key string, value T, ttl time.Duration) bool {
	key = Normalize(key)
	if key == "" || ttl <= 0 {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	ok := e.c.SetWithTTL(key, value, 1, ttl)
	e.c.Wait()
	return ok
}

// Del removes key.
func (e *Expiring[T]) Del(key string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	e.c.Del(Normalize(key))
	e.c.Wait()
}

// Close releases resources held by the cache. Later calls to Get, Set and
// Del do nothing. Close is idempotent.
func (e *Expiring[T]) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.c.Close()
}
