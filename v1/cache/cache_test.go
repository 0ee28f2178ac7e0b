package cache

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	warperrors "github.com/mirkobrombin/warp-weather/v1/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newBounded[T any](t *testing.T, capacity int, ttl time.Duration, opts ...Option[T]) *Bounded[T] {
	t.Helper()
	c, err := NewBounded[T](capacity, ttl, opts...)
	if err != nil {
		t.Fatalf("NewBounded: %v", err)
	}
	return c
}

// checkInvariants walks the recency list in both directions and compares it
// with the index.
func checkInvariants[T any](t *testing.T, c *Bounded[T]) {
	t.Helper()
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.index) != c.order.n {
		t.Fatalf("index has %d keys, list has %d", len(c.index), c.order.n)
	}
	if len(c.index) > c.capacity {
		t.Fatalf("size %d exceeds capacity %d", len(c.index), c.capacity)
	}
	seen := make(map[string]bool, len(c.index))
	prev := nilHandle
	for h := c.order.head; h != nilHandle; h = c.order.slots[h].next {
		s := c.order.slots[h]
		if s.prev != prev {
			t.Fatalf("slot %d has prev %d, want %d", h, s.prev, prev)
		}
		if seen[s.key] {
			t.Fatalf("key %q linked twice", s.key)
		}
		seen[s.key] = true
		if ih, ok := c.index[s.key]; !ok || ih != h {
			t.Fatalf("key %q in list at %d but index has %d (%v)", s.key, h, ih, ok)
		}
		prev = h
	}
	if prev != c.order.tail {
		t.Fatalf("last visited slot %d is not the tail %d", prev, c.order.tail)
	}
	for k := range c.index {
		if !seen[k] {
			t.Fatalf("key %q indexed but not linked", k)
		}
	}
}

func TestNewBoundedRejectsInvalidConfig(t *testing.T) {
	if _, err := NewBounded[string](0, time.Minute); !errors.Is(err, warperrors.ErrConfig) {
		t.Fatalf("expected config error for zero capacity, got %v", err)
	}
	if _, err := NewBounded[string](1, 0); !errors.Is(err, warperrors.ErrConfig) {
		t.Fatalf("expected config error for zero ttl, got %v", err)
	}
	if _, err := NewBounded[string](-3, -time.Second); err == nil {
		t.Fatalf("expected error for negative settings")
	}
}

func TestPutGet(t *testing.T) {
	c := newBounded[string](t, 4, time.Minute)
	c.Put("London", "rain")
	if v, ok := c.Get("London"); !ok || v != "rain" {
		t.Fatalf("expected rain, got %q ok=%v", v, ok)
	}
	checkInvariants(t, c)
}

func TestCaseInsensitiveKeys(t *testing.T) {
	c := newBounded[string](t, 4, time.Minute)
	c.Put("London", "rain")
	if v, ok := c.Get("LONDON"); !ok || v != "rain" {
		t.Fatalf("expected LONDON to hit, got %q ok=%v", v, ok)
	}
	c.Put("  london ", "fog")
	if c.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", c.Len())
	}
	if v, _ := c.Get("london"); v != "fog" {
		t.Fatalf("expected overwrite to fog, got %q", v)
	}
	if keys := c.Keys(); !reflect.DeepEqual(keys, []string{"london"}) {
		t.Fatalf("expected normalized key, got %v", keys)
	}
}

func TestPutIgnoresInvalidInput(t *testing.T) {
	c := newBounded[*string](t, 2, time.Minute)
	v := "x"
	c.Put("", &v)
	c.Put("   ", &v)
	c.Put("paris", nil)
	if c.Len() != 0 {
		t.Fatalf("expected no entries, got %v", c.Keys())
	}
	if _, ok := c.Get(""); ok {
		t.Fatalf("blank key must miss")
	}
	if m := c.Metrics(); m.Misses != 0 {
		t.Fatalf("blank key get must have no side effects, got %+v", m)
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := newBounded[string](t, 4, 10*time.Minute, WithClock[string](clock))
	c.Put("x", "v")

	clock.Advance(10 * time.Minute)
	if v, ok := c.Get("x"); !ok || v != "v" {
		t.Fatalf("entry exactly at the ttl boundary must be valid")
	}

	clock.Advance(time.Nanosecond)
	if _, ok := c.Get("x"); ok {
		t.Fatalf("expected entry to expire after ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be purged on read, got %v", c.Keys())
	}
	m := c.Metrics()
	if m.Hits != 1 || m.Misses != 1 || m.Expirations != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	checkInvariants(t, c)
}

func TestGetDoesNotExtendTTL(t *testing.T) {
	clock := newFakeClock()
	c := newBounded[string](t, 4, time.Minute, WithClock[string](clock))
	c.Put("x", "v")
	clock.Advance(50 * time.Second)
	if _, ok := c.Get("x"); !ok {
		t.Fatalf("expected hit")
	}
	clock.Advance(11 * time.Second)
	if _, ok := c.Get("x"); ok {
		t.Fatalf("reads must not refresh the write timestamp")
	}
}

func TestPutRefreshesTimestamp(t *testing.T) {
	clock := newFakeClock()
	c := newBounded[string](t, 4, time.Minute, WithClock[string](clock))
	c.Put("x", "v1")
	clock.Advance(50 * time.Second)
	c.Put("x", "v2")
	clock.Advance(50 * time.Second)
	if v, ok := c.Get("x"); !ok || v != "v2" {
		t.Fatalf("expected rewritten entry to stay fresh, got %q ok=%v", v, ok)
	}
}

func TestStaleEntriesStayWithoutReads(t *testing.T) {
	clock := newFakeClock()
	c := newBounded[string](t, 4, time.Second, WithClock[string](clock))
	c.Put("a", "1")
	c.Put("b", "2")
	clock.Advance(time.Hour)

	// Nothing sweeps in the background: the entries remain resident until a
	// read or capacity pressure removes them.
	if keys := c.Keys(); !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Fatalf("expected stale keys to stay resident, got %v", keys)
	}
	if _, ok := c.Get("a"); ok {
		t.Fatalf("stale entry must not be returned")
	}
	if keys := c.Keys(); !reflect.DeepEqual(keys, []string{"b"}) {
		t.Fatalf("expected only b after reading a, got %v", keys)
	}
}

func TestLRUEvictionScenario(t *testing.T) {
	c := newBounded[int](t, 2, 600*time.Second)
	c.Put("a", 1)
	c.Put("b", 2)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1")
	}
	c.Put("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a to remain")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatalf("expected c to exist")
	}
	if keys := c.Keys(); !reflect.DeepEqual(keys, []string{"a", "c"}) {
		t.Fatalf("expected resident set [a c], got %v", keys)
	}
	if m := c.Metrics(); m.Evictions != 1 {
		t.Fatalf("expected one eviction, got %+v", m)
	}
	checkInvariants(t, c)
}

func TestEvictionFollowsRecencyNotInsertion(t *testing.T) {
	const n = 5
	c := newBounded[int](t, n, time.Hour)
	for i := 0; i < n; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	// Touch k0 by read and k1 by overwrite; k2 becomes the LRU entry.
	c.Get("k0")
	c.Put("k1", 10)
	c.Put("k5", 5)

	if _, ok := c.Get("k2"); ok {
		t.Fatalf("expected k2 to be evicted")
	}
	for _, k := range []string{"k0", "k1", "k3", "k4", "k5"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("expected %s to remain", k)
		}
	}
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := newBounded[int](t, 2, time.Hour)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 3)
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if keys := c.Keys(); !reflect.DeepEqual(keys, []string{"b", "a"}) {
		t.Fatalf("expected overwrite to move a to MRU, got %v", keys)
	}
	if m := c.Metrics(); m.Evictions != 0 {
		t.Fatalf("overwrite must not evict, got %+v", m)
	}
}

func TestCapacityInvariantRandomOps(t *testing.T) {
	clock := newFakeClock()
	c := newBounded[int](t, 7, 30*time.Second, WithClock[int](clock))
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		k := fmt.Sprintf("city-%d", r.Intn(20))
		switch r.Intn(4) {
		case 0, 1:
			c.Put(k, i)
		case 2:
			c.Get(k)
		case 3:
			clock.Advance(time.Duration(r.Intn(5)) * time.Second)
		}
		if c.Len() > c.Capacity() {
			t.Fatalf("op %d: size %d exceeds capacity", i, c.Len())
		}
	}
	checkInvariants(t, c)
}

func TestSlotsAreRecycled(t *testing.T) {
	c := newBounded[int](t, 3, time.Hour)
	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	c.mu.RLock()
	slots := len(c.order.slots)
	c.mu.RUnlock()
	if slots > 4 {
		t.Fatalf("expected the arena to reuse released slots, it grew to %d", slots)
	}
	checkInvariants(t, c)
}

func TestInvalidateAndClear(t *testing.T) {
	c := newBounded[int](t, 3, time.Hour)
	c.Put("a", 1)
	c.Put("b", 2)
	if !c.Invalidate("A") {
		t.Fatalf("expected a to be removed")
	}
	if c.Invalidate("a") {
		t.Fatalf("second invalidate should report absence")
	}
	checkInvariants(t, c)
	c.Clear()
	if c.Len() != 0 || len(c.Keys()) != 0 {
		t.Fatalf("expected empty cache after Clear")
	}
	c.Put("c", 3)
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatalf("cache must be usable after Clear")
	}
	checkInvariants(t, c)
}

func TestConcurrentAccess(t *testing.T) {
	c := newBounded[int](t, 16, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				k := fmt.Sprintf("k%d", (g*7+i)%40)
				switch i % 3 {
				case 0:
					c.Put(k, i)
				case 1:
					c.Get(k)
				default:
					for _, key := range c.Keys() {
						if key == "" {
							t.Errorf("empty key in snapshot")
							return
						}
					}
				}
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 16 {
		t.Fatalf("capacity exceeded: %d", c.Len())
	}
	checkInvariants(t, c)
}

func TestBoundedPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	clock := newFakeClock()
	c := newBounded[string](t, 1, time.Second, WithMetrics[string](reg), WithClock[string](clock))

	c.Put("a", "1")
	c.Get("a")
	c.Get("missing")
	c.Put("b", "2")
	clock.Advance(2 * time.Second)
	c.Get("b")

	if got := testutil.ToFloat64(c.HitCounter); got != 1 {
		t.Fatalf("hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.missCounter); got != 2 {
		t.Fatalf("misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.evictionCounter); got != 1 {
		t.Fatalf("evictions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.expirationCounter); got != 1 {
		t.Fatalf("expirations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.sizeGauge); got != 0 {
		t.Fatalf("size = %v, want 0", got)
	}
}

func TestBoundedMetricsSharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := newBounded[string](t, 2, time.Minute, WithMetrics[string](reg))
	b := newBounded[string](t, 2, time.Minute, WithMetrics[string](reg))

	a.Put("x", "1")
	b.Put("y", "2")
	b.Get("y")
	if got := testutil.ToFloat64(a.HitCounter); got != 1 {
		t.Fatalf("shared hits = %v, want 1", got)
	}
}
