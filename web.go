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
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/matthewgall/octodispatch/octopus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const webRefreshTimeout = 2 * time.Minute

type WebServer struct {
	monitor *DispatchMonitor
	server  *http.Server
	logger  *octopus.Logger
}

func NewWebServer(monitor *DispatchMonitor, port int, gatherer prometheus.Gatherer, logger *octopus.Logger) *WebServer {
	if logger == nil {
		logger = octopus.NewDiscardLogger()
	}
	ws := &WebServer{
		monitor: monitor,
		logger:  logger.WithComponent("web"),
	}

	router := httprouter.New()
	router.GET("/", ws.handleDashboard)
	router.GET("/healthz", ws.handleHealth)
	router.GET("/api/snapshot", ws.handleSnapshotAPI)
	router.GET("/api/dispatches", ws.handleDispatchesAPI)
	router.GET("/api/devices", ws.handleDevicesAPI)
	router.POST("/api/refresh", ws.handleRefreshAPI)
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	ws.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws
}

func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start serves until Shutdown is called
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.server.Addr)
	if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (ws *WebServer) Shutdown(ctx context.Context) error {
	return ws.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap := ws.monitor.Snapshot()
	status := http.StatusOK
	state := "ok"
	if !snap.Connected {
		status = http.StatusServiceUnavailable
		state = "disconnected"
	}
	writeJSON(w, status, map[string]any{
		"status":       state,
		"connected":    snap.Connected,
		"stale":        snap.Stale,
		"last_updated": snap.LastUpdated,
		"version":      GetVersion(),
	})
}

func (ws *WebServer) handleSnapshotAPI(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, ws.monitor.Snapshot())
}

func (ws *WebServer) handleDispatchesAPI(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap := ws.monitor.Snapshot()
	if snap.Data == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "no data yet"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"active":       snap.ActiveDispatch,
		"next":         snap.NextDispatch,
		"planned":      snap.Data.PlannedDispatches,
		"completed":    snap.Data.CompletedDispatches,
		"stale":        snap.Stale,
		"last_updated": snap.LastUpdated,
	})
}

func (ws *WebServer) handleDevicesAPI(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap := ws.monitor.Snapshot()
	if snap.Data == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "no data yet"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"devices":      snap.Data.Devices,
		"stale":        snap.Stale,
		"last_updated": snap.LastUpdated,
	})
}

func (ws *WebServer) handleRefreshAPI(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), webRefreshTimeout)
	defer cancel()

	if err := ws.monitor.Refresh(ctx); err != nil {
		ws.logger.Warn("Refresh failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "refreshed": true})
}

var dashboardTemplate = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"clock": func(t time.Time) string { return t.Local().Format("Mon 15:04") },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta http-equiv="refresh" content="60">
    <title>Octodispatch</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; margin: 2rem; color: #1a1a2e; }
        table { border-collapse: collapse; margin-bottom: 1.5rem; }
        td, th { padding: 0.3rem 0.8rem; border-bottom: 1px solid #ddd; text-align: left; }
        .active { background: #d4f8d4; }
        .warn { color: #b35c00; }
    </style>
</head>
<body>
    <h1>Octodispatch</h1>
    <p>Account {{.AccountID}} &middot; {{if .Connected}}connected{{else}}<span class="warn">disconnected</span>{{end}}
    {{if .Stale}}&middot; <span class="warn">showing data from {{clock .LastUpdated}}</span>{{end}}</p>
    {{if .LastError}}<p class="warn">{{.LastError}}</p>{{end}}
    {{with .Data}}
    {{with .Account}}<p>Balance: &pound;{{printf "%.2f" .BalancePounds}}</p>{{end}}
    <h2>Planned dispatches</h2>
    <table>
        <tr><th>Start</th><th>End</th><th>kWh</th><th>Source</th></tr>
        {{range .PlannedDispatches}}<tr><td>{{clock .Start}}</td><td>{{clock .End}}</td><td>{{printf "%.2f" .DeltaKWh}}</td><td>{{.Meta.Source}}</td></tr>
        {{else}}<tr><td colspan="4">None</td></tr>{{end}}
    </table>
    <h2>Devices</h2>
    <table>
        <tr><th>Name</th><th>Type</th><th>State</th><th>Suspended</th></tr>
        {{range .Devices}}<tr><td>{{.Name}}</td><td>{{.DeviceType}}</td><td>{{.Status.CurrentState}}</td><td>{{.Status.IsSuspended}}</td></tr>
        {{else}}<tr><td colspan="4">None</td></tr>{{end}}
    </table>
    {{else}}<p>Waiting for the first update...</p>{{end}}
    {{with .ActiveDispatch}}<p class="active">Dispatch active until {{clock .End}}</p>{{end}}
    {{with .NextDispatch}}<p>Next dispatch starts {{clock .Start}}</p>{{end}}
</body>
</html>`))

func (ws *WebServer) handleDashboard(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, ws.monitor.Snapshot()); err != nil {
		ws.logger.Error("Failed to render dashboard", "error", err)
	}
}
