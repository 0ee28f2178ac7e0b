// Package client is the weather SDK entry point: a Client answers
// GetWeather from a bounded, TTL-limited cache and fetches from the
// OpenWeatherMap API on a miss. In polling mode it also keeps every cached
// city fresh in the background.
package client

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/mirkobrombin/warp-weather/v1/cache"
	"github.com/mirkobrombin/warp-weather/v1/config"
	warperrors "github.com/mirkobrombin/warp-weather/v1/errors"
	"github.com/mirkobrombin/warp-weather/v1/metrics"
	"github.com/mirkobrombin/warp-weather/v1/openweather"
	"github.com/mirkobrombin/warp-weather/v1/refresh"
	"github.com/mirkobrombin/warp-weather/v1/weather"
)

var tracer = otel.Tracer("github.com/mirkobrombin/warp-weather/v1/client")

// ErrInvalidCity is returned for an empty or blank city name.
var ErrInvalidCity = stdErrors.New("weather: city name must not be blank")

// notFoundEntries bounds the negative cache.
const notFoundEntries = 1024

// Fetcher loads weather for a city. *openweather.Client implements it.
type Fetcher = refresh.Fetcher[weather.Data]

type options struct {
	fetcher Fetcher
	clock   cache.Clock
	logger  *slog.Logger
	reg     prometheus.Registerer
	label   string
	tracing bool
}

// Option configures a Client.
type Option func(*options)

// WithFetcher replaces the OpenWeatherMap fetcher.
func WithFetcher(f Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithClock sets the clock used for cache expiry.
func WithClock(c cache.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger for the client and its scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics registers the cache and scheduler metrics on reg. Clients
// created by a Registry get a "client" label each; other clients sharing reg
// share their series.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// withMetricsLabel tells apart the series of clients sharing a registerer.
func withMetricsLabel(label string) Option {
	return func(o *options) { o.label = label }
}

// WithTracing enables OpenTelemetry spans for GetWeather and refresh passes.
func WithTracing() Option {
	return func(o *options) { o.tracing = true }
}

// Client answers weather queries for a single API key. It is safe for
// concurrent use.
type Client struct {
	mode     config.Mode
	cfg      config.Config
	cache    *cache.Bounded[weather.Data]
	notFound *cache.Expiring[error]
	fetcher  Fetcher
	group    singleflight.Group
	sched    *refresh.Scheduler[weather.Data]
	logger   *slog.Logger
	tracing  bool

	closeOnce sync.Once
}

// New builds a Client from cfg. The API key is taken from cfg.APIKey and
// must not be blank unless WithFetcher is given. In polling mode the
// refresh scheduler starts before New returns.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	const op = "client.New"
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Mode, _ = config.ParseMode(string(cfg.Mode))
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.reg != nil && o.label != "" {
		o.reg = prometheus.WrapRegistererWith(prometheus.Labels{"client": o.label}, o.reg)
	}

	if o.fetcher == nil {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, warperrors.Config(op, "api key must not be blank")
		}
		f, err := openweather.NewClient(cfg.APIKey,
			openweather.WithBaseURL(cfg.BaseURL),
			openweather.WithUnits(cfg.Units),
			openweather.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
		)
		if err != nil {
			return nil, err
		}
		o.fetcher = f
	}

	var copts []cache.Option[weather.Data]
	if o.clock != nil {
		copts = append(copts, cache.WithClock[weather.Data](o.clock))
	}
	if o.reg != nil {
		copts = append(copts, cache.WithMetrics[weather.Data](o.reg))
	}
	bc, err := cache.NewBounded[weather.Data](cfg.CacheSize, cfg.CacheTTL, copts...)
	if err != nil {
		return nil, err
	}
	nf, err := cache.NewExpiring[error](notFoundEntries)
	if err != nil {
		return nil, err
	}

	c := &Client{
		mode:     cfg.Mode,
		cfg:      cfg,
		cache:    bc,
		notFound: nf,
		fetcher:  o.fetcher,
		logger:   o.logger,
		tracing:  o.tracing,
	}

	if cfg.Mode == config.ModePolling {
		sopts := []refresh.Option{
			refresh.WithShutdownGrace(cfg.ShutdownGrace),
			refresh.WithLogger(o.logger),
		}
		if o.reg != nil {
			sopts = append(sopts, refresh.WithMetrics(o.reg))
		}
		if o.tracing {
			sopts = append(sopts, refresh.WithTracing())
		}
		s, err := refresh.New[weather.Data](bc, o.fetcher, cfg.PollingInterval, sopts...)
		if err != nil {
			nf.Close()
			return nil, err
		}
		c.sched = s
		s.Start()
	}

	metrics.ClientGauge.Inc()
	o.logger.Debug("weather client created", "mode", string(cfg.Mode), "cache_size", cfg.CacheSize, "cache_ttl", cfg.CacheTTL)
	return c, nil
}

// GetWeather returns the current weather for city.
//
// A fresh cached value is returned without a request. Otherwise the API is
// queried once per city even under concurrent misses, and the result is
// cached. Cities the API reported as unknown are answered from memory for
// the configured not-found TTL. Fetch errors are returned unchanged.
func (c *Client) GetWeather(ctx context.Context, city string) (d weather.Data, err error) {
	if c.tracing {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Client.GetWeather", trace.WithAttributes(attribute.String("weather.city", city)))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	key := cache.Normalize(city)
	if key == "" {
		metrics.RequestCounter.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return weather.Data{}, ErrInvalidCity
	}
	if v, ok := c.cache.Get(key); ok {
		metrics.RequestCounter.WithLabelValues(metrics.OutcomeHit).Inc()
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("weather.cache_hit", true))
		return v, nil
	}
	metrics.RequestCounter.WithLabelValues(metrics.OutcomeMiss).Inc()
	if nfErr, ok := c.notFound.Get(key); ok {
		metrics.NotFoundCounter.Inc()
		return weather.Data{}, nfErr
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.load(ctx, key, strings.TrimSpace(city))
	})
	if err != nil {
		return weather.Data{}, err
	}
	return v.(weather.Data), nil
}

func (c *Client) load(ctx context.Context, key, city string) (weather.Data, error) {
	metrics.FetchCounter.Inc()
	d, err := c.fetcher.Fetch(ctx, city)
	if err != nil {
		metrics.FetchErrorCounter.WithLabelValues(warperrors.KindOf(err).String()).Inc()
		if warperrors.StatusOf(err) == http.StatusNotFound {
			c.notFound.Set(key, err, c.cfg.NotFoundTTL)
		}
		c.logger.Debug("weather fetch failed", "city", city, "error", err)
		return weather.Data{}, err
	}
	c.cache.Put(key, d)
	return d, nil
}

// Invalidate drops city from the cache.
func (c *Client) Invalidate(city string) bool {
	return c.cache.Invalidate(city)
}

// Cities returns the cached cities from least to most recently used.
func (c *Client) Cities() []string {
	return c.cache.Keys()
}

// Mode reports the refresh mode.
func (c *Client) Mode() config.Mode { return c.mode }

// Stats reports cache counters and, in polling mode, refresh counters.
type Stats struct {
	Cache   cache.Stats
	Refresh refresh.Stats
}

// Stats returns the current counters.
func (c *Client) Stats() Stats {
	st := Stats{Cache: c.cache.Metrics()}
	if c.sched != nil {
		st.Refresh = c.sched.Metrics()
	}
	return st
}

// Close stops background refreshing. Cached values stay readable. Close is
// idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.sched != nil {
			c.sched.Stop()
		}
		c.notFound.Close()
		metrics.ClientGauge.Dec()
		c.logger.Debug("weather client closed", "mode", string(c.mode))
	})
	return nil
}
