package refresh

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type options struct {
	grace     time.Duration
	reporter  Reporter
	newTicker func(time.Duration) Ticker
	logger    *slog.Logger
	reg       prometheus.Registerer
	tracing   bool
}

// Option configures a Scheduler.
type Option func(*options)

// WithShutdownGrace sets how long Stop waits for an in-flight pass before
// cancelling it. The default is DefaultShutdownGrace.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *options) { o.grace = d }
}

// WithReporter sets the sink for per-key refresh failures. The default logs
// them with slog.
func WithReporter(r Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithLogger sets the logger used for lifecycle messages and by the default
// reporter.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTicker replaces the ticker source, mainly for tests.
func WithTicker(fn func(time.Duration) Ticker) Option {
	return func(o *options) {
		if fn != nil {
			o.newTicker = fn
		}
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithTracing enables OpenTelemetry spans for passes and per-key fetches.
func WithTracing() Option {
	return func(o *options) { o.tracing = true }
}
