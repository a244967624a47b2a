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
	"time"

	"github.com/matthewgall/octodispatch/octopus"
)

// dispatchSource is the part of the API client the monitor needs
type dispatchSource interface {
	FetchAllData(ctx context.Context, accountNumber string) (*octopus.APIResult, error)
	InvalidateCache(keys ...string)
	Connected() bool
}

// DispatchMonitor polls the account on an interval and keeps the last good
// result in its AppState.
type DispatchMonitor struct {
	client        dispatchSource
	state         *AppState
	accountID     string
	checkInterval time.Duration
	logger        *octopus.Logger
	now           func() time.Time
	webServer     *WebServer
}

func NewDispatchMonitor(client dispatchSource, accountID string, logger *octopus.Logger) *DispatchMonitor {
	if logger == nil {
		logger = octopus.NewDiscardLogger()
	}
	return &DispatchMonitor{
		client:        client,
		state:         NewAppState(),
		accountID:     accountID,
		checkInterval: defaultCheckInterval * time.Minute,
		logger:        logger.WithComponent("monitor").WithAccountID(accountID),
		now:           time.Now,
	}
}

func (m *DispatchMonitor) SetCheckInterval(interval time.Duration) {
	m.checkInterval = interval
}

func (m *DispatchMonitor) EnableWebUI(server *WebServer) {
	m.webServer = server
}

func (m *DispatchMonitor) Snapshot() Snapshot {
	return m.state.Snapshot(m.accountID, m.now())
}

// Run checks immediately and then every interval until ctx is done.
func (m *DispatchMonitor) Run(ctx context.Context) error {
	m.logger.Info("Starting dispatch monitoring", "interval", m.checkInterval)

	webErr := make(chan error, 1)
	if m.webServer != nil {
		go func() {
			webErr <- m.webServer.Start()
		}()
	}

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	_ = m.CheckOnce(ctx)

	for {
		select {
		case <-ticker.C:
			_ = m.CheckOnce(ctx)
		case err := <-webErr:
			if err != nil {
				return fmt.Errorf("web server: %w", err)
			}
		case <-ctx.Done():
			m.logger.Info("Stopping dispatch monitoring...")
			if m.webServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := m.webServer.Shutdown(shutdownCtx); err != nil {
					m.logger.Warn("Web server shutdown failed", "error", err)
				}
			}
			return nil
		}
	}
}

// CheckOnce fetches the account once. On failure the previous result is kept
// and marked stale.
func (m *DispatchMonitor) CheckOnce(ctx context.Context) error {
	m.logger.Debug("Checking dispatches...")

	result, err := m.client.FetchAllData(ctx, m.accountID)
	now := m.now()
	if err != nil {
		connected := m.client.Connected() && !octopus.IsNotConnected(err)
		m.state.RecordFailure(err, connected, now)
		m.logger.Error("Error fetching account data",
			"error", err,
			"connected", connected,
			"have_previous_data", m.state.HasData(),
		)
		return err
	}

	newlyPlanned, previousActive := m.state.RecordSuccess(result, now)

	for _, w := range result.Warnings {
		m.logger.Debug("Section unavailable", "path", w.Path, "kind", w.Kind.String())
	}
	for _, e := range result.Errors {
		m.logger.Warn("Section failed", "path", e.Path, "code", e.Code, "error", e.Message)
	}

	snap := m.state.Snapshot(m.accountID, now)
	m.logDispatchChanges(newlyPlanned, previousActive, snap.ActiveDispatch, now)

	if len(snap.StaleSections) > 0 {
		m.logger.Warn("Keeping previous data for failed sections", "sections", snap.StaleSections)
	} else if len(result.PlannedDispatches) == 0 {
		m.logger.Info("No planned dispatches")
	}
	return nil
}

// Refresh drops cached API data and checks again straight away.
func (m *DispatchMonitor) Refresh(ctx context.Context) error {
	m.client.InvalidateCache()
	m.logger.Info("Cleared API caches, refreshing")
	return m.CheckOnce(ctx)
}

func (m *DispatchMonitor) logDispatchChanges(newlyPlanned []octopus.Dispatch, previous, current *octopus.Dispatch, now time.Time) {
	for _, d := range newlyPlanned {
		m.logger.Info("🔌 Dispatch planned",
			"start", d.Start.Local().Format("Mon Jan 2 15:04"),
			"duration", formatDuration(d.End.Sub(d.Start)),
			"starts_in", formatTimeUntil(d.Start.Sub(now)),
			"delta_kwh", d.DeltaKWh(),
			"source", d.Meta.Source,
		)
	}

	switch {
	case previous == nil && current != nil:
		m.logger.Info("⚡ Dispatch active, electricity is at the off-peak rate",
			"ends_at", current.End.Local().Format("15:04"),
			"time_remaining", formatTimeUntil(current.End.Sub(now)),
		)
	case previous != nil && current == nil:
		m.logger.Info("Dispatch ended", "ended_at", previous.End.Local().Format("15:04"))
	case previous != nil && current != nil && !previous.Start.Equal(current.Start):
		m.logger.Info("⚡ Next dispatch active",
			"ends_at", current.End.Local().Format("15:04"),
		)
	}
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 && minutes > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else if hours > 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", minutes)
}

func formatTimeUntil(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 && minutes > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else if hours > 0 {
		return fmt.Sprintf("%dh", hours)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return "less than a minute"
}
