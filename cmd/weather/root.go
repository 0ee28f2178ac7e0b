package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/warp-weather/v1/config"
)

var (
	// Global flags
	configPath string
	apiKey     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "weather",
	Short: "Current weather from OpenWeatherMap with a local cache",
	Long: `weather fetches current conditions from OpenWeatherMap.

Settings come from the TOML file given with --config, then WEATHER_*
environment variables, then flags. The API key may be set with --api-key or
WEATHER_API_KEY.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "weather:", err)
		cancel()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "OpenWeatherMap API key (default $WEATHER_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newPollCmd())
}

// resolveConfig layers the config file, the environment and the flags, in
// that order, and installs the default logger.
func resolveConfig(path, key, level string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if key != "" {
		cfg.APIKey = key
	}
	if level != "" {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.APIKey == "" {
		return cfg, fmt.Errorf("no API key: use --api-key or WEATHER_API_KEY")
	}
	return cfg, nil
}

func setupLogger(cfg config.Config) {
	lvl, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
