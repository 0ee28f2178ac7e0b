package main

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mirkobrombin/warp-weather/v1/client"
	"github.com/mirkobrombin/warp-weather/v1/config"
	"github.com/mirkobrombin/warp-weather/v1/metrics"
	"github.com/mirkobrombin/warp-weather/v1/weather"
)

func newPollCmd() *cobra.Command {
	var (
		interval    time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "poll <city>...",
		Short: "Keep the weather for some cities fresh until interrupted",
		Long: `Warm the cache with the given cities, then refresh them in the
background and print the cached values once per polling interval.

With --metrics-addr (or metrics_addr in the config file) Prometheus metrics
are served on /metrics.`,
		Example: `  weather poll London Oslo --interval 30s
  weather poll Rome --metrics-addr :9100`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(configPath, apiKey, logLevel)
			if err != nil {
				return err
			}
			setupLogger(cfg)
			cfg.Mode = config.ModePolling
			if interval > 0 {
				cfg.PollingInterval = interval
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			return runPoll(cmd.Context(), cfg, args, func(d weather.Data) {
				out, err := weather.Encode(d)
				if err != nil {
					slog.Error("encode weather", "city", d.Name, "error", err)
					return
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Polling interval (default from config, 2m)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func runPoll(ctx context.Context, cfg config.Config, cities []string, emit func(weather.Data)) error {
	opts := []client.Option{client.WithLogger(slog.Default())}

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		reg := metrics.NewRegistry()
		metrics.RegisterClientMetrics(reg)
		reg.MustRegister(collectors.NewGoCollector())
		opts = append(opts, client.WithMetrics(reg))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	c, err := client.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
	}()

	show := func() {
		for _, city := range cities {
			d, err := c.GetWeather(ctx, city)
			if err != nil {
				slog.Warn("weather unavailable", "city", city, "error", err)
				continue
			}
			emit(d)
		}
	}

	show()
	ticker := time.NewTicker(cfg.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			st := c.Stats()
			slog.Info("stopping", "passes", st.Refresh.Passes, "refreshed", st.Refresh.Refreshed, "failures", st.Refresh.Failures)
			return nil
		case <-ticker.C:
			show()
		}
	}
}
