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
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exposes the monitor's view of the account. Values are read
// from the snapshot at scrape time, so a scrape never calls the API.
type MetricsCollector struct {
	monitor *DispatchMonitor

	info             *prometheus.Desc
	connected        *prometheus.Desc
	lastUpdated      *prometheus.Desc
	lastChecked      *prometheus.Desc
	stale            *prometheus.Desc
	balance          *prometheus.Desc
	planned          *prometheus.Desc
	dispatchActive   *prometheus.Desc
	nextDispatch     *prometheus.Desc
	devices          *prometheus.Desc
	devicesSuspended *prometheus.Desc
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(monitor *DispatchMonitor) *MetricsCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc("octodispatch_"+name, help, labels, nil)
	}
	return &MetricsCollector{
		monitor:          monitor,
		info:             desc("info", "Build information", "version", "user_agent"),
		connected:        desc("connected", "Whether the client holds a valid token (1=yes, 0=no)"),
		lastUpdated:      desc("last_update_timestamp_seconds", "Unix timestamp of last successful fetch"),
		lastChecked:      desc("last_check_timestamp_seconds", "Unix timestamp of last fetch attempt"),
		stale:            desc("data_stale", "Whether the last fetch failed and older data is being served"),
		balance:          desc("account_balance_pounds", "Account balance in pounds"),
		planned:          desc("planned_dispatches", "Number of planned dispatches"),
		dispatchActive:   desc("dispatch_active", "Whether a dispatch is active now (1=yes, 0=no)"),
		nextDispatch:     desc("next_dispatch_timestamp_seconds", "Unix timestamp of the next planned dispatch start"),
		devices:          desc("devices", "Number of smart devices on the account"),
		devicesSuspended: desc("devices_suspended", "Number of devices with smart control suspended"),
	}
}

func (m *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		m.info, m.connected, m.lastUpdated, m.lastChecked, m.stale, m.balance,
		m.planned, m.dispatchActive, m.nextDispatch, m.devices, m.devicesSuspended,
	} {
		ch <- d
	}
}

func (m *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(desc *prometheus.Desc, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, labels...)
	}

	snap := m.monitor.Snapshot()

	gauge(m.info, 1, GetVersion(), GetUserAgent())
	gauge(m.connected, boolValue(snap.Connected))
	gauge(m.stale, boolValue(snap.Stale))
	if !snap.LastChecked.IsZero() {
		gauge(m.lastChecked, float64(snap.LastChecked.Unix()))
	}

	if snap.Data == nil {
		return
	}

	gauge(m.lastUpdated, float64(snap.LastUpdated.Unix()))
	if snap.Data.Account != nil {
		gauge(m.balance, snap.Data.Account.BalancePounds())
	}
	gauge(m.planned, float64(len(snap.Data.PlannedDispatches)))
	gauge(m.dispatchActive, boolValue(snap.ActiveDispatch != nil))
	if snap.NextDispatch != nil {
		gauge(m.nextDispatch, float64(snap.NextDispatch.Start.Unix()))
	}

	suspended := 0
	for _, d := range snap.Data.Devices {
		if d.Status.IsSuspended {
			suspended++
		}
	}
	gauge(m.devices, float64(len(snap.Data.Devices)))
	gauge(m.devicesSuspended, float64(suspended))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
