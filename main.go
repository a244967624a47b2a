// Copyright 2025 Matthew Gall <me@matthewgall.dev>
//
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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/matthewgall/octodispatch/octopus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// app carries what PersistentPreRunE builds for the subcommands
type app struct {
	configPath string
	flags      Config
	jsonOutput bool

	cfg      *Config
	logger   *octopus.Logger
	registry *prometheus.Registry
	client   *octopus.Client
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "octodispatch",
		Short: "Octopus Energy Intelligent dispatch client",
		Long: `octodispatch talks to the Octopus Energy Kraken API to read planned and
completed smart-charging dispatches, manage devices, and run a monitor
with a status page and Prometheus metrics.`,
		SilenceUsage:  true,
		Version:       GetVersion(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.client != nil {
				a.client.Close()
			}
		},
	}

	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to configuration file")
	flags.StringVar(&a.flags.AccountID, "account", "", "Octopus Energy account number (A-XXXXXXXX)")
	flags.StringVar(&a.flags.APIKey, "key", "", "Octopus Energy API key")
	flags.StringVar(&a.flags.Endpoint, "endpoint", "", "GraphQL endpoint name or URL")
	flags.BoolVar(&a.flags.Debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&a.flags.JSONLogs, "json-logs", false, "Write logs as JSON")
	flags.BoolVar(&a.jsonOutput, "json", false, "Print command output as JSON")

	root.AddCommand(
		newVersionCmd(a),
		newAccountsCmd(a),
		newFetchCmd(a),
		newDevicesCmd(a),
		newDispatchesCmd(a),
		newSuspensionCmd(a, "suspend", octopus.ActionSuspend),
		newSuspensionCmd(a, "unsuspend", octopus.ActionUnsuspend),
		newChargePreferencesCmd(a),
		newServeCmd(a),
	)
	return root
}

// setup resolves configuration with the precedence flags > environment >
// config file > defaults, then builds the logger and API client.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("error loading config file: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)

	flags := cmd.Flags()
	if flags.Changed("account") {
		cfg.AccountID = a.flags.AccountID
	}
	if flags.Changed("key") {
		cfg.APIKey = a.flags.APIKey
	}
	if flags.Changed("endpoint") {
		cfg.Endpoint = a.flags.Endpoint
	}
	if flags.Changed("debug") {
		cfg.Debug = a.flags.Debug
	}
	if flags.Changed("json-logs") {
		cfg.JSONLogs = a.flags.JSONLogs
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	// stdout is reserved for command output
	a.logger = octopus.NewLoggerTo(os.Stderr, cfg.Debug, cfg.JSONLogs)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.client, err = octopus.NewClient(cfg.ClientConfig(a.logger, a.registry))
	if err != nil {
		return err
	}

	a.logger.Debug("Configuration loaded",
		"account_id", octopus.MaskAccountID(cfg.AccountID),
		"endpoint", cfg.EndpointURL(),
		"user_agent", GetUserAgent(),
	)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
