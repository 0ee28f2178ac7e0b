package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	warperrors "github.com/mirkobrombin/warp-weather/v1/errors"
)

var tracer = otel.Tracer("github.com/mirkobrombin/warp-weather/v1/refresh")

// DefaultShutdownGrace is how long Stop waits for an in-flight pass.
const DefaultShutdownGrace = 5 * time.Second

// Target is the cache a Scheduler keeps fresh.
type Target[T any] interface {
	Keys() []string
	Put(key string, value T)
}

// Fetcher loads the current value for a key. It may block and may fail.
type Fetcher[T any] interface {
	Fetch(ctx context.Context, key string) (T, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[T any] func(ctx context.Context, key string) (T, error)

func (f FetcherFunc[T]) Fetch(ctx context.Context, key string) (T, error) { return f(ctx, key) }

// State is the scheduler lifecycle: Created, then Running, then Stopped.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Scheduler periodically re-fetches every key resident in a Target and
// writes the results back.
//
// The first pass runs as soon as Start is called, then one pass per
// interval. A failing key is reported and skipped; it never aborts the pass.
// No cache lock is held while fetching: the key list is a snapshot and each
// result goes through the regular Put path, so eviction and TTL apply to
// refreshed entries as to any other write.
type Scheduler[T any] struct {
	target   Target[T]
	fetcher  Fetcher[T]
	interval time.Duration
	opts     options

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	// quit is closed by Stop; no fetch or pass starts after that.
	quit chan struct{}
	done chan struct{}

	// writeMu orders result writes against a forced Stop; once abandoned is
	// set no result is written or reported.
	writeMu   sync.Mutex
	abandoned bool

	passes    atomic.Uint64
	refreshed atomic.Uint64
	failures  atomic.Uint64
	forced    atomic.Uint64

	m *schedulerMetrics
}

// New returns a scheduler refreshing target every interval.
func New[T any](target Target[T], fetcher Fetcher[T], interval time.Duration, opts ...Option) (*Scheduler[T], error) {
	const op = "refresh.New"
	if target == nil {
		return nil, warperrors.Config(op, "target must not be nil")
	}
	if fetcher == nil {
		return nil, warperrors.Config(op, "fetcher must not be nil")
	}
	if interval <= 0 {
		return nil, warperrors.Config(op, "interval must be positive")
	}
	o := options{
		grace:     DefaultShutdownGrace,
		newTicker: newTimeTicker,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.grace <= 0 {
		return nil, warperrors.Config(op, "shutdown grace must be positive")
	}
	if o.reporter == nil {
		o.reporter = &LogReporter{Logger: o.logger}
	}
	s := &Scheduler[T]{
		target:   target,
		fetcher:  fetcher,
		interval: interval,
		opts:     o,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if o.reg != nil {
		s.m = newSchedulerMetrics(o.reg)
	}
	return s, nil
}

// Start begins periodic refreshing. Only the first call on a new Scheduler
// has an effect; a stopped Scheduler cannot be restarted.
func (s *Scheduler[T]) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated {
		return
	}
	s.state = StateRunning
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
	s.opts.logger.Debug("refresh scheduler started", "interval", s.interval)
}

// Stop prevents further passes and waits up to the shutdown grace period for
// the pass in flight. When the grace period elapses the pass is cancelled
// and abandoned: no result is written or reported after Stop returns. Stop is
// safe to call before Start and more than once.
func (s *Scheduler[T]) Stop() {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return
	case StateCreated:
		s.state = StateStopped
		close(s.quit)
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	close(s.quit)
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	// Wait outside the lock so State stays callable during shutdown.
	timer := time.NewTimer(s.opts.grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.forced.Add(1)
		if s.m != nil {
			s.m.forced.Inc()
		}
		s.opts.logger.Warn("refresh: pass still running after shutdown grace, cancelling", "grace", s.opts.grace)
		s.writeMu.Lock()
		s.abandoned = true
		s.writeMu.Unlock()
	}
	cancel()
	s.opts.logger.Debug("refresh scheduler stopped")
}

// State reports the lifecycle state.
func (s *Scheduler[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats reports refresh counters.
type Stats struct {
	Passes    uint64
	Refreshed uint64
	Failures  uint64
	// ForcedStops counts Stop calls that had to cancel a pass.
	ForcedStops uint64
}

// Metrics returns current counters for the scheduler.
func (s *Scheduler[T]) Metrics() Stats {
	return Stats{
		Passes:      s.passes.Load(),
		Refreshed:   s.refreshed.Load(),
		Failures:    s.failures.Load(),
		ForcedStops: s.forced.Load(),
	}
}

func (s *Scheduler[T]) run(ctx context.Context) {
	defer close(s.done)

	s.pass(ctx)

	ticker := s.opts.newTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C():
			s.pass(ctx)
		}
	}
}

func (s *Scheduler[T]) stopping() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// pass refreshes every key resident at the time it starts.
func (s *Scheduler[T]) pass(ctx context.Context) {
	if s.stopping() {
		return
	}
	id := uuid.NewString()
	start := time.Now()
	keys := s.target.Keys()

	var span trace.Span
	if s.opts.tracing {
		ctx, span = tracer.Start(ctx, "Refresh.Pass", trace.WithAttributes(
			attribute.String("weather.refresh.pass", id),
			attribute.Int("weather.refresh.keys", len(keys)),
		))
		defer span.End()
	}

	var refreshed, failed int
	for _, key := range keys {
		if s.stopping() || ctx.Err() != nil {
			break
		}
		v, err := s.fetch(ctx, key)
		if !s.settle(ctx, key, v, err) {
			// Cancelled by Stop: the result is abandoned, not a failure.
			break
		}
		if err != nil {
			failed++
		} else {
			refreshed++
		}
	}

	elapsed := time.Since(start)
	s.passes.Add(1)
	if s.m != nil {
		s.m.passes.Inc()
		s.m.duration.Observe(elapsed.Seconds())
	}
	if span != nil {
		span.SetAttributes(
			attribute.Int("weather.refresh.refreshed", refreshed),
			attribute.Int("weather.refresh.failed", failed),
		)
		if failed > 0 {
			span.SetStatus(codes.Error, fmt.Sprintf("%d of %d keys failed", failed, len(keys)))
		}
	}
	s.opts.logger.Debug("refresh pass finished",
		"pass", id,
		"keys", len(keys),
		"refreshed", refreshed,
		"failed", failed,
		"duration", elapsed,
	)
}

// settle writes or reports the outcome of one fetch. It returns false once
// Stop has abandoned the pass, in which case nothing is recorded.
func (s *Scheduler[T]) settle(ctx context.Context, key string, v T, err error) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.abandoned || ctx.Err() != nil {
		return false
	}
	if err != nil {
		s.failures.Add(1)
		if s.m != nil {
			s.m.failures.WithLabelValues(warperrors.KindOf(err).String()).Inc()
		}
		s.report(key, err)
		return true
	}
	s.target.Put(key, v)
	s.refreshed.Add(1)
	if s.m != nil {
		s.m.refreshed.Inc()
	}
	return true
}

// fetch calls the fetcher, turning a panic into an error so one bad key
// cannot take the loop down.
func (s *Scheduler[T]) fetch(ctx context.Context, key string) (v T, err error) {
	var span trace.Span
	if s.opts.tracing {
		ctx, span = tracer.Start(ctx, "Refresh.Key", trace.WithAttributes(attribute.String("weather.key", key)))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, fmt.Errorf("refresh: fetcher panicked: %v", r)
		}
	}()
	return s.fetcher.Fetch(ctx, key)
}

func (s *Scheduler[T]) report(key string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("refresh: error reporter panicked", "key", key, "panic", r)
		}
	}()
	s.opts.reporter.Report(key, err)
}
