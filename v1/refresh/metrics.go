package refresh

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirkobrombin/warp-weather/v1/metrics"
)

type schedulerMetrics struct {
	passes    prometheus.Counter
	refreshed prometheus.Counter
	failures  *prometheus.CounterVec
	forced    prometheus.Counter
	duration  prometheus.Histogram
}

func newSchedulerMetrics(reg prometheus.Registerer) *schedulerMetrics {
	return &schedulerMetrics{
		passes: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_refresh_passes_total",
			Help: "Total number of refresh passes",
		})),
		refreshed: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_refresh_keys_total",
			Help: "Total number of keys refreshed successfully",
		})),
		failures: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_refresh_failures_total",
			Help: "Total number of failed key refreshes by error kind",
		}, []string{"kind"})),
		forced: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_refresh_forced_stops_total",
			Help: "Total number of stops that cancelled an in-flight pass",
		})),
		duration: metrics.Register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "weather_refresh_pass_duration_seconds",
			Help:    "Duration of refresh passes",
			Buckets: prometheus.DefBuckets,
		})),
	}
}
