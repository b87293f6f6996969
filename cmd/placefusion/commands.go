// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/connectors/config"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "placefusion",
		Short:        "Place data fusion service",
		Long:         "placefusion queries several place sources at once and fuses their answers into one verified record.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().String("config", "", "Path to configuration file (YAML); environment variables are used when empty")

	root.AddCommand(newServeCmd(), newIntegrateCmd(), newHealthCmd(), newConfigCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}

// newCLIApp builds an App whose logs go to stderr so stdout carries only
// command output
func newCLIApp(cmd *cobra.Command) (*App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewApp(cmd.Context(), cfg, cmd.ErrOrStderr())
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(ctx, cfg, os.Stdout)
			if err != nil {
				return err
			}
			defer app.Close()

			app.Start(ctx)
			return app.Serve(ctx)
		},
	}
}

func newIntegrateCmd() *cobra.Command {
	var (
		lat, lng float64
		mode     string
		language string
		sources  []string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "integrate <query>",
		Short: "Run one integration and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := orchestrator.ParseMode(mode)
			if err != nil {
				return err
			}
			var coords *base.Coordinates
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lng") {
					return fmt.Errorf("--lat and --lng must be given together")
				}
				coords = &base.Coordinates{Lat: lat, Lng: lng}
			}

			app, err := newCLIApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res := app.Orchestrator().Integrate(ctx, args[0], coords, orchestrator.IntegrateOptions{
				Sources:  sources,
				Mode:     m,
				Language: language,
			})
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("integration failed: %s", res.FailureReason)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude of the place")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Longitude of the place")
	cmd.Flags().StringVar(&mode, "mode", "", "Performance mode: speed, accuracy or comprehensive")
	cmd.Flags().StringVar(&language, "language", "", "Preferred answer language")
	cmd.Flags().StringSliceVar(&sources, "sources", nil, "Sources to query (default: all)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Overall deadline")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check every configured source and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newCLIApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			checks := app.Orchestrator().HealthCheck(cmd.Context())
			if err := writeJSON(cmd.OutOrStdout(), checks); err != nil {
				return err
			}
			for name, ok := range checks {
				if !ok {
					return fmt.Errorf("source %s is unhealthy", name)
				}
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "example",
		Short: "Print an example configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), config.Example)
			return err
		},
	}, &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: %d source(s)\n", len(cfg.Sources.Enabled()))
			return err
		},
	})
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
