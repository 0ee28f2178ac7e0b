package cache

import (
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	warperrors "github.com/mirkobrombin/warp-weather/v1/errors"
	"github.com/mirkobrombin/warp-weather/v1/metrics"
)

// Cache is the contract shared by the on-demand client and the refresh
// scheduler.
type Cache[T any] interface {
	// Get returns the value stored for key if it is present and fresh.
	Get(key string) (T, bool)
	// Put inserts or overwrites the value for key. Blank keys and absent
	// values are ignored.
	Put(key string, value T)
	// Keys returns the normalized keys currently resident.
	Keys() []string
}

// Clock supplies the current time. It exists so tests can control TTL.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Bounded is a capacity-limited cache with a fixed TTL and least recently
// used eviction.
//
// Entries are kept in an arena-backed recency list (head = LRU, tail = MRU)
// indexed by normalized key. Expiry is lazy: an entry older than the TTL is
// only removed when a Get observes it or when it is evicted to make room.
// Nothing sweeps the cache in the background, so an entry that is never read
// again can stay resident past its TTL until capacity pressure evicts it.
type Bounded[T any] struct {
	mu       sync.RWMutex
	index    map[string]handle
	order    recency[T]
	capacity int
	ttl      time.Duration
	clock    Clock

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64

	HitCounter        prometheus.Counter
	missCounter       prometheus.Counter
	evictionCounter   prometheus.Counter
	expirationCounter prometheus.Counter
	sizeGauge         prometheus.Gauge
}

// Option configures a Bounded cache.
type Option[T any] func(*Bounded[T])

// WithClock replaces the wall clock used for TTL checks.
func WithClock[T any](clock Clock) Option[T] {
	return func(c *Bounded[T]) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMetrics enables Prometheus metrics collection using the provided
// registerer. Caches sharing a registerer share their series; wrap reg with
// prometheus.WrapRegistererWith to keep them apart.
func WithMetrics[T any](reg prometheus.Registerer) Option[T] {
	return func(c *Bounded[T]) {
		c.HitCounter = metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_cache_hits_total",
			Help: "Total number of cache hits",
		}))
		c.missCounter = metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_cache_misses_total",
			Help: "Total number of cache misses, expired reads included",
		}))
		c.evictionCounter = metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_cache_evictions_total",
			Help: "Total number of entries evicted for capacity",
		}))
		c.expirationCounter = metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_cache_expirations_total",
			Help: "Total number of expired entries purged on read",
		}))
		c.sizeGauge = metrics.Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weather_cache_entries",
			Help: "Number of resident cache entries",
		}))
	}
}

// NewBounded returns a cache holding at most capacity entries, each valid for
// ttl after its last write. Non-positive capacity or ttl is a configuration
// error.
func NewBounded[T any](capacity int, ttl time.Duration, opts ...Option[T]) (*Bounded[T], error) {
	if capacity <= 0 {
		return nil, warperrors.Config("cache.NewBounded", "capacity must be positive")
	}
	if ttl <= 0 {
		return nil, warperrors.Config("cache.NewBounded", "ttl must be positive")
	}
	c := &Bounded[T]{
		index:    make(map[string]handle, capacity+1),
		order:    newRecency[T](capacity),
		capacity: capacity,
		ttl:      ttl,
		clock:    SystemClock,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Normalize folds a key to the form used for storage: surrounding space
// trimmed, lower case.
func Normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Get implements Cache.Get.
//
// A present key is checked under the read lock first; the recency bump or the
// purge of an expired entry then happens under the write lock after
// re-checking, since the entry may have been evicted in between.
func (c *Bounded[T]) Get(key string) (T, bool) {
	var zero T
	key = Normalize(key)
	if key == "" {
		return zero, false
	}

	c.mu.RLock()
	_, ok := c.index[key]
	c.mu.RUnlock()
	if !ok {
		c.recordMiss()
		return zero, false
	}

	c.mu.Lock()
	h, ok := c.index[key]
	if !ok {
		c.mu.Unlock()
		c.recordMiss()
		return zero, false
	}
	s := &c.order.slots[h]
	if c.clock.Now().Sub(s.written) > c.ttl {
		delete(c.index, key)
		c.order.release(h)
		c.setSize(len(c.index))
		c.mu.Unlock()
		c.expirations.Add(1)
		if c.expirationCounter != nil {
			c.expirationCounter.Inc()
		}
		c.recordMiss()
		return zero, false
	}
	c.order.moveToBack(h)
	v := s.value
	c.mu.Unlock()

	c.hits.Add(1)
	if c.HitCounter != nil {
		c.HitCounter.Inc()
	}
	return v, true
}

// Put implements Cache.Put.
//
// Writing an existing key refreshes its timestamp and makes it the most
// recently used entry. Inserting a new key may evict an unrelated key from the
// least recently used end.
func (c *Bounded[T]) Put(key string, value T) {
	key = Normalize(key)
	if key == "" || isAbsent(value) {
		return
	}

	c.mu.Lock()
	now := c.clock.Now()
	if h, ok := c.index[key]; ok {
		s := &c.order.slots[h]
		s.value = value
		s.written = now
		c.order.moveToBack(h)
		c.mu.Unlock()
		return
	}

	h := c.order.alloc(key, value, now)
	c.order.pushBack(h)
	c.index[key] = h
	evicted := 0
	for len(c.index) > c.capacity {
		victim := c.order.head
		delete(c.index, c.order.slots[victim].key)
		c.order.release(victim)
		evicted++
	}
	c.setSize(len(c.index))
	c.mu.Unlock()

	if evicted > 0 {
		c.evictions.Add(uint64(evicted))
		if c.evictionCounter != nil {
			c.evictionCounter.Add(float64(evicted))
		}
	}
}

// Invalidate removes key. It reports whether an entry was resident.
func (c *Bounded[T]) Invalidate(key string) bool {
	key = Normalize(key)
	if key == "" {
		return false
	}
	c.mu.Lock()
	h, ok := c.index[key]
	if ok {
		delete(c.index, key)
		c.order.release(h)
		c.setSize(len(c.index))
	}
	c.mu.Unlock()
	return ok
}

// Keys implements Cache.Keys. Keys are returned from least to most recently
// used. The slice is a copy; later mutations are not reflected in it.
func (c *Bounded[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, c.order.n)
	for h := c.order.head; h != nilHandle; h = c.order.slots[h].next {
		out = append(out, c.order.slots[h].key)
	}
	return out
}

// Len returns the number of resident entries, expired ones included.
func (c *Bounded[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// Capacity returns the maximum number of entries.
func (c *Bounded[T]) Capacity() int { return c.capacity }

// TTL returns the freshness window.
func (c *Bounded[T]) TTL() time.Duration { return c.ttl }

// Clear drops every entry.
func (c *Bounded[T]) Clear() {
	c.mu.Lock()
	clear(c.index)
	c.order.reset()
	c.setSize(0)
	c.mu.Unlock()
}

// Stats reports basic metrics about cache usage.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Size        int
}

// Metrics returns current metrics for the cache.
func (c *Bounded[T]) Metrics() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Size:        c.Len(),
	}
}

func (c *Bounded[T]) recordMiss() {
	c.misses.Add(1)
	if c.missCounter != nil {
		c.missCounter.Inc()
	}
}

// setSize must be called with c.mu held so the gauge follows mutation order.
func (c *Bounded[T]) setSize(n int) {
	if c.sizeGauge != nil {
		c.sizeGauge.Set(float64(n))
	}
}

// isAbsent reports whether v is a nil interface, pointer, map, slice,
// channel or function.
func isAbsent[T any](v T) bool {
	rv := reflect.ValueOf(any(v))
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

var _ Cache[int] = (*Bounded[int])(nil)
