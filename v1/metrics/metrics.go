// Package metrics holds the process-wide weather client counters.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestCounter tracks GetWeather calls by outcome: hit, miss or invalid.
	RequestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_client_requests_total",
		Help: "Total number of GetWeather calls by outcome",
	}, []string{"outcome"})
	// FetchCounter tracks calls made to the weather API.
	FetchCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "weather_client_fetches_total",
		Help: "Total number of weather API requests",
	})
	// FetchErrorCounter tracks failed API requests by error kind.
	FetchErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_client_fetch_errors_total",
		Help: "Total number of failed weather API requests by error kind",
	}, []string{"kind"})
	// NotFoundCounter tracks requests answered from the not-found cache.
	NotFoundCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "weather_client_not_found_hits_total",
		Help: "Total number of requests answered from the not-found cache",
	})
	// ClientGauge reports the number of live clients.
	ClientGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "weather_clients",
		Help: "Current number of open weather clients",
	})
)

// Request outcomes used as RequestCounter labels.
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeInvalid = "invalid"
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterClientMetrics registers the client metrics on the provided registry.
func RegisterClientMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RequestCounter, FetchCounter, FetchErrorCounter, NotFoundCounter, ClientGauge)
}

// Register registers c on reg and returns it. When an equal collector is
// already registered, that one is returned instead so repeated construction
// keeps counting into the same series. Any other registration error panics,
// as with MustRegister.
func Register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}
