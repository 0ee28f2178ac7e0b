// Package config holds the settings shared by the weather client, the refresh
// scheduler and the command line tool.
package config

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	warperrors "github.com/mirkobrombin/warp-weather/v1/errors"
)

// Mode selects how a client keeps its cache fresh.
type Mode string

const (
	// ModeOnDemand fetches only on cache misses.
	ModeOnDemand Mode = "on_demand"
	// ModePolling additionally refreshes every cached city in the background.
	ModePolling Mode = "polling"
)

// ParseMode accepts "on_demand", "on-demand", "ondemand" and "polling" in any case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on_demand", "on-demand", "ondemand":
		return ModeOnDemand, nil
	case "polling":
		return ModePolling, nil
	}
	return "", warperrors.Config("config.ParseMode", fmt.Sprintf("unknown mode %q", s))
}

const (
	DefaultCacheSize       = 10
	DefaultCacheTTL        = 600 * time.Second
	DefaultAPITimeout      = 10 * time.Second
	DefaultPollingInterval = 2 * time.Minute
	DefaultShutdownGrace   = 5 * time.Second
	DefaultNotFoundTTL     = time.Minute
	DefaultBaseURL         = "https://api.openweathermap.org/data/2.5/weather"
	DefaultUnits           = "metric"
	DefaultLogLevel        = "warn"
)

// Config holds the client settings. Durations in TOML files are Go duration
// strings such as "10m" or "90s".
type Config struct {
	APIKey          string        `toml:"api_key"`
	Mode            Mode          `toml:"mode"`
	CacheSize       int           `toml:"cache_size"`
	CacheTTL        time.Duration `toml:"cache_ttl"`
	APITimeout      time.Duration `toml:"api_timeout"`
	PollingInterval time.Duration `toml:"polling_interval"`
	ShutdownGrace   time.Duration `toml:"shutdown_grace"`
	NotFoundTTL     time.Duration `toml:"not_found_ttl"`
	BaseURL         string        `toml:"base_url"`
	Units           string        `toml:"units"`
	LogLevel        string        `toml:"log_level"`
	MetricsAddr     string        `toml:"metrics_addr"` // empty disables /metrics
}

// Default returns the default configuration. APIKey is left empty.
func Default() Config {
	return Config{
		Mode:            ModeOnDemand,
		CacheSize:       DefaultCacheSize,
		CacheTTL:        DefaultCacheTTL,
		APITimeout:      DefaultAPITimeout,
		PollingInterval: DefaultPollingInterval,
		ShutdownGrace:   DefaultShutdownGrace,
		NotFoundTTL:     DefaultNotFoundTTL,
		BaseURL:         DefaultBaseURL,
		Units:           DefaultUnits,
		LogLevel:        DefaultLogLevel,
	}
}

// Validate reports the first invalid setting as a KindConfig error. The API
// key is not checked here; the client requires it.
func (c Config) Validate() error {
	const op = "config.Validate"
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return warperrors.Config(op, fmt.Sprintf("unknown mode %q", c.Mode))
	}
	if c.CacheSize <= 0 {
		return warperrors.Config(op, "cache_size must be positive")
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"cache_ttl", c.CacheTTL},
		{"api_timeout", c.APITimeout},
		{"polling_interval", c.PollingInterval},
		{"shutdown_grace", c.ShutdownGrace},
		{"not_found_ttl", c.NotFoundTTL},
	}
	for _, f := range durations {
		if f.d <= 0 {
			return warperrors.Config(op, f.name+" must be positive")
		}
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return warperrors.Config(op, "base_url must not be empty")
	}
	switch c.Units {
	case "standard", "metric", "imperial":
	default:
		return warperrors.Config(op, fmt.Sprintf("unknown units %q", c.Units))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Load reads a TOML file on top of Default. A missing file is not an error
// and yields the defaults.
func Load(path string) (Config, error) {
	const op = "config.Load"
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if stdErrors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, warperrors.Config(op, "read "+path+": "+err.Error())
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Default(), warperrors.Config(op, "parse "+path+": "+err.Error())
	}
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return Default(), err
	}
	cfg.Mode = mode
	return cfg, nil
}

// ApplyEnv overlays WEATHER_* environment variables on c. Unset or empty
// variables leave the field alone; malformed values are errors.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	const op = "config.ApplyEnv"
	getEnv := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	c.APIKey = getEnv("WEATHER_API_KEY", c.APIKey)
	c.BaseURL = getEnv("WEATHER_BASE_URL", c.BaseURL)
	c.Units = getEnv("WEATHER_UNITS", c.Units)
	c.LogLevel = getEnv("WEATHER_LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getEnv("WEATHER_METRICS_ADDR", c.MetricsAddr)

	if v := getenv("WEATHER_MODE"); v != "" {
		m, err := ParseMode(v)
		if err != nil {
			return err
		}
		c.Mode = m
	}
	if v := getenv("WEATHER_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return warperrors.Config(op, "WEATHER_CACHE_SIZE: "+err.Error())
		}
		c.CacheSize = n
	}
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"WEATHER_CACHE_TTL", &c.CacheTTL},
		{"WEATHER_API_TIMEOUT", &c.APITimeout},
		{"WEATHER_POLLING_INTERVAL", &c.PollingInterval},
		{"WEATHER_SHUTDOWN_GRACE", &c.ShutdownGrace},
		{"WEATHER_NOT_FOUND_TTL", &c.NotFoundTTL},
	}
	for _, f := range durations {
		v := getenv(f.env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return warperrors.Config(op, f.env+": "+err.Error())
		}
		*f.dst = d
	}
	return nil
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, warperrors.Config("config.ParseLevel", fmt.Sprintf("unknown log level %q", s))
	}
	return l, nil
}
