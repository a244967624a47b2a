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
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/matthewgall/octodispatch/octopus"
	"github.com/spf13/cobra"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := readBuildInfo()
			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return printJSON(out, info)
			}

			build := "development build"
			if info.Release {
				build = "release"
			}
			fmt.Fprintf(out, "octodispatch %s (%s)\n", GetVersion(), build)
			fmt.Fprintf(out, "Commit: %s", info.Commit)
			if info.Modified {
				fmt.Fprint(out, " (modified)")
			}
			fmt.Fprintf(out, "\nGo: %s\n", info.GoVersion)
			fmt.Fprintf(out, "User-Agent: %s\n", GetUserAgent())
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAccountsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the accounts visible to your credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := a.client.Accounts(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), accounts)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NUMBER\tSTATUS")
			for _, acc := range accounts {
				fmt.Fprintf(tw, "%s\t%s\n", acc.Number, acc.Status)
			}
			return tw.Flush()
		},
	}
}

func newFetchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch account, devices and dispatches in one request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireAccount(); err != nil {
				return err
			}
			result, err := a.client.FetchAllData(cmd.Context(), a.cfg.AccountID)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), result)
			}

			out := cmd.OutOrStdout()
			if result.Account != nil {
				fmt.Fprintf(out, "Account %s, balance £%.2f\n", result.Account.Number, result.Account.BalancePounds())
			}
			for _, p := range result.Products {
				fmt.Fprintf(out, "Tariff: %s (%s)\n", p.DisplayName, p.Code)
			}
			fmt.Fprintf(out, "Devices: %d\n", len(result.Devices))
			printSchedule(out, result.Schedule(), time.Now())
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "Note: %s unavailable (%s)\n", pathOrQuery(w.Path), w.Message)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "Error: %s failed: %s\n", pathOrQuery(e.Path), e.Message)
			}
			return nil
		},
	}
}

func pathOrQuery(path []string) string {
	if len(path) == 0 {
		return "query"
	}
	return path[0]
}

func newDevicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List smart devices on the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireAccount(); err != nil {
				return err
			}
			devices, err := a.client.FetchDevices(cmd.Context(), a.cfg.AccountID, false)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), devices)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATE\tSUSPENDED")
			for _, d := range devices {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", d.ID, d.Name, d.DeviceType, d.Status.CurrentState, d.Status.IsSuspended)
			}
			return tw.Flush()
		},
	}
}

func newDispatchesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatches",
		Short: "Show planned and completed dispatches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireAccount(); err != nil {
				return err
			}
			schedule, err := a.client.FetchDispatches(cmd.Context(), a.cfg.AccountID, false)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), schedule)
			}
			printSchedule(cmd.OutOrStdout(), schedule, time.Now())
			return nil
		},
	}
}

func printSchedule(out io.Writer, schedule *octopus.DispatchSchedule, now time.Time) {
	if active := schedule.Active(now); active != nil {
		fmt.Fprintf(out, "⚡ Dispatch active until %s (%s remaining)\n",
			active.End.Local().Format("15:04"), formatTimeUntil(active.End.Sub(now)))
	}
	if next := schedule.Next(now); next != nil {
		fmt.Fprintf(out, "Next dispatch: %s for %s (starts in %s)\n",
			next.Start.Local().Format("Mon Jan 2 15:04"), formatDuration(next.End.Sub(next.Start)), formatTimeUntil(next.Start.Sub(now)))
	}

	fmt.Fprintf(out, "Planned dispatches: %d\n", len(schedule.Planned))
	for _, d := range schedule.Planned {
		fmt.Fprintf(out, "  %s - %s  %.2f kWh  %s\n",
			d.Start.Local().Format("Mon 15:04"), d.End.Local().Format("15:04"), d.DeltaKWh(), d.Meta.Source)
	}
	fmt.Fprintf(out, "Completed dispatches: %d\n", len(schedule.Completed))
}

func newSuspensionCmd(a *app, use, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <device-id>",
		Short: fmt.Sprintf("Send %s for a device's smart control", action),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.ChangeDeviceSuspension(cmd.Context(), args[0], action); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Device %s: %s accepted\n", args[0], action)
			return nil
		},
	}
}

func newChargePreferencesCmd(a *app) *cobra.Command {
	var prefs octopus.ChargePreferences

	cmd := &cobra.Command{
		Use:   "charge-preferences",
		Short: "Set the vehicle's weekday and weekend charge targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireAccount(); err != nil {
				return err
			}
			if err := a.client.SetVehicleChargePreferences(cmd.Context(), a.cfg.AccountID, prefs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Charge targets set: weekdays %d%% by %s, weekends %d%% by %s\n",
				prefs.WeekdayTargetSoc, prefs.WeekdayTargetTime, prefs.WeekendTargetSoc, prefs.WeekendTargetTime)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&prefs.WeekdayTargetSoc, "weekday-soc", 80, "Weekday target state of charge (%)")
	flags.IntVar(&prefs.WeekendTargetSoc, "weekend-soc", 80, "Weekend target state of charge (%)")
	flags.StringVar(&prefs.WeekdayTargetTime, "weekday-time", "07:00", "Weekday ready-by time (HH:MM)")
	flags.StringVar(&prefs.WeekendTargetTime, "weekend-time", "07:00", "Weekend ready-by time (HH:MM)")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var port, interval int
	var noWeb bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Monitor dispatches continuously with a status page and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireAccount(); err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				a.cfg.WebPort = port
			}
			if cmd.Flags().Changed("interval") {
				a.cfg.CheckInterval = interval
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if a.cfg.AutoRefresh {
				a.client.StartAutoRefresh()
			}

			monitor := NewDispatchMonitor(a.client, a.cfg.AccountID, a.logger)
			monitor.SetCheckInterval(a.cfg.CheckEvery())
			a.registry.MustRegister(NewMetricsCollector(monitor))

			if !noWeb {
				monitor.EnableWebUI(NewWebServer(monitor, a.cfg.WebPort, a.registry, a.logger))
				a.logger.Info("Web UI enabled", "url", fmt.Sprintf("http://localhost:%d", a.cfg.WebPort))
			}

			return monitor.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&port, "port", defaultWebPort, "Status server port")
	flags.IntVar(&interval, "interval", defaultCheckInterval, "Minutes between checks")
	flags.BoolVar(&noWeb, "no-web", false, "Disable the status server")
	return cmd
}
