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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCommandAPIKey = "sk_live_0123456789abcdefghij"

// krakenStub answers GraphQL operations by name with canned bodies
type krakenStub struct {
	mu        sync.Mutex
	bodies    map[string]string
	calls     map[string]int
	variables map[string]map[string]any
}

func newKrakenStub(t *testing.T, bodies map[string]string) (*krakenStub, *httptest.Server) {
	t.Helper()

	stub := &krakenStub{
		bodies: map[string]string{
			"obtainKrakenToken": fmt.Sprintf(`{"data":{"obtainKrakenToken":{"token":"cli-token","payload":{"exp":%d}}}}`,
				time.Now().Add(time.Hour).Unix()),
		},
		calls:     make(map[string]int),
		variables: make(map[string]map[string]any),
	}
	for op, body := range bodies {
		stub.bodies[op] = body
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			OperationName string         `json:"operationName"`
			Variables     map[string]any `json:"variables"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		stub.mu.Lock()
		stub.calls[req.OperationName]++
		stub.variables[req.OperationName] = req.Variables
		body, ok := stub.bodies[req.OperationName]
		stub.mu.Unlock()

		if !ok {
			http.Error(w, "unexpected operation", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return stub, server
}

func (s *krakenStub) count(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[operation]
}

func (s *krakenStub) input(operation string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	input, _ := s.variables[operation]["input"].(map[string]any)
	return input
}

// runCommand executes the CLI with args and returns what it printed
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, key := range []string{envAPIKey, envEmail, envPassword, envAccountID, envEndpoint} {
		t.Setenv(key, "")
	}

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestFetchCommand(t *testing.T) {
	start := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Minute)
	comprehensive := fmt.Sprintf(`{"data":{
		"account":{"number":"A-1234ABCD","balance":2550},
		"devices":[{"id":"dev-1","name":"Car","status":{"isSuspended":false}}],
		"plannedDispatches":[{"start":%q,"end":%q,"delta":"-1.5"}],
		"completedDispatches":null},
		"errors":[{"message":"boom","path":["completedDispatches"],"extensions":{"errorCode":"KT-CT-9999"}}]}`,
		start.Format(time.RFC3339), start.Add(time.Hour).Format(time.RFC3339))
	stub, server := newKrakenStub(t, map[string]string{"comprehensiveData": comprehensive})

	out, err := runCommand(t, "fetch", "--key", testCommandAPIKey, "--account", "A-1234ABCD", "--endpoint", server.URL)
	require.NoError(t, err)

	assert.Contains(t, out, "Account A-1234ABCD, balance £25.50")
	assert.Contains(t, out, "Devices: 1")
	assert.Contains(t, out, "Planned dispatches: 1")
	assert.Contains(t, out, "Error: completedDispatches failed: boom")
	assert.Equal(t, 1, stub.count("obtainKrakenToken"))
	assert.Equal(t, 1, stub.count("comprehensiveData"))
}

func TestFetchCommandJSON(t *testing.T) {
	_, server := newKrakenStub(t, map[string]string{
		"comprehensiveData": `{"data":{"account":{"number":"A-1234ABCD","balance":0},"devices":[],"plannedDispatches":[],"completedDispatches":[]}}`,
	})

	out, err := runCommand(t, "fetch", "--json", "--key", testCommandAPIKey, "--account", "A-1234ABCD", "--endpoint", server.URL)
	require.NoError(t, err)

	var result struct {
		Account struct {
			Number string `json:"number"`
		} `json:"account"`
		PlannedDispatches []any `json:"planned_dispatches"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "A-1234ABCD", result.Account.Number)
	assert.Empty(t, result.PlannedDispatches)
}

func TestFetchCommandRequiresAccount(t *testing.T) {
	stub, server := newKrakenStub(t, nil)

	_, err := runCommand(t, "fetch", "--key", testCommandAPIKey, "--endpoint", server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account ID is required")
	assert.Equal(t, 0, stub.count("obtainKrakenToken"))
}

func TestSuspendCommand(t *testing.T) {
	stub, server := newKrakenStub(t, map[string]string{
		"updateDeviceSmartControl": `{"data":{"updateDeviceSmartControl":{"id":"dev-1"}}}`,
	})

	out, err := runCommand(t, "suspend", "dev-1", "--key", testCommandAPIKey, "--endpoint", server.URL)
	require.NoError(t, err)

	assert.Equal(t, "Device dev-1: SUSPEND accepted\n", out)
	assert.Equal(t, map[string]any{"deviceId": "dev-1", "action": "SUSPEND"}, stub.input("updateDeviceSmartControl"))
}

func TestSuspendCommandReportsRejection(t *testing.T) {
	_, server := newKrakenStub(t, map[string]string{
		"updateDeviceSmartControl": `{"data":null,"errors":[{"message":"Device not found","path":["updateDeviceSmartControl"],"extensions":{"errorCode":"KT-CT-4301"}}]}`,
	})

	out, err := runCommand(t, "unsuspend", "dev-9", "--key", testCommandAPIKey, "--endpoint", server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Device not found")
	assert.Empty(t, out)
}

func TestCommandRejectsInvalidConfig(t *testing.T) {
	_, err := runCommand(t, "devices", "--key", "sk_test_short", "--account", "A-1234ABCD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sk_live_")
}

func TestVersionCommandSkipsSetup(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "octodispatch ")
	assert.Contains(t, out, GetUserAgent())
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := runCommand(t, "version", "--json")
	require.NoError(t, err)

	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}
