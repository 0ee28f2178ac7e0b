package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/warp-weather/v1/client"
	"github.com/mirkobrombin/warp-weather/v1/config"
	"github.com/mirkobrombin/warp-weather/v1/weather"
)

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <city>...",
		Short: "Print the current weather for one or more cities",
		Long: `Print the current weather for each city as one JSON object per line.

A city that appears more than once is fetched only once.`,
		Example: `  weather get London
  weather get Paris "New York" paris`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(configPath, apiKey, logLevel)
			if err != nil {
				return err
			}
			setupLogger(cfg)
			cfg.Mode = config.ModeOnDemand

			c, err := client.New(cfg, client.WithLogger(slog.Default()))
			if err != nil {
				return err
			}
			defer c.Close()

			var failed int
			for _, city := range args {
				d, err := c.GetWeather(cmd.Context(), city)
				if err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "%s: %v\n", city, err)
					continue
				}
				out, err := weather.Encode(d)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d cities failed", failed, len(args))
			}
			return nil
		},
	}
	return cmd
}
