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

package octopus

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// responder answers the n-th (1-based) call of one operation.
type responder func(n int, req recordedRequest) (status int, body string)

type recordedRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	Authorization string         `json:"-"`
	RequestID     string         `json:"-"`
}

// fakeKraken is a scripted GraphQL endpoint keyed by operation name.
type fakeKraken struct {
	mu         sync.Mutex
	responders map[string]responder
	calls      map[string]int
	requests   []recordedRequest
}

func newFakeKraken(t *testing.T) (*fakeKraken, *httptest.Server) {
	t.Helper()

	f := &fakeKraken{
		responders: map[string]responder{"obtainKrakenToken": loginOK},
		calls:      make(map[string]int),
	}
	server := httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeKraken) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	var req recordedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req.Authorization = r.Header.Get("Authorization")
	req.RequestID = r.Header.Get("X-Request-ID")

	f.mu.Lock()
	f.calls[req.OperationName]++
	n := f.calls[req.OperationName]
	f.requests = append(f.requests, req)
	respond, ok := f.responders[req.OperationName]
	f.mu.Unlock()

	if !ok {
		http.Error(w, "unexpected operation "+req.OperationName, http.StatusBadRequest)
		return
	}

	status, payload := respond(n, req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, payload)
}

func (f *fakeKraken) on(operation string, r responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responders[operation] = r
}

func (f *fakeKraken) count(operation string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[operation]
}

func (f *fakeKraken) lastRequest(operation string) recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].OperationName == operation {
			return f.requests[i]
		}
	}
	return recordedRequest{}
}

func loginOK(n int, _ recordedRequest) (int, string) {
	return http.StatusOK, fmt.Sprintf(
		`{"data":{"obtainKrakenToken":{"token":"token-%d","payload":{"exp":%d}}}}`,
		n, time.Now().Add(time.Hour).Unix(),
	)
}

func always(status int, body string) responder {
	return func(int, recordedRequest) (int, string) { return status, body }
}

// sequence answers call n with bodies[n-1], repeating the last one.
func sequence(bodies ...string) responder {
	return func(n int, _ recordedRequest) (int, string) {
		if n > len(bodies) {
			n = len(bodies)
		}
		return http.StatusOK, bodies[n-1]
	}
}

func gqlError(code string, path ...string) string {
	p, _ := json.Marshal(path)
	return fmt.Sprintf(`{"message":"error %s","path":%s,"extensions":{"errorCode":"%s"}}`, code, p, code)
}

func newTestClient(t *testing.T, endpoint string, reg prometheus.Registerer) *Client {
	t.Helper()

	client, err := NewClient(Config{
		Credentials:       Credentials{APIKey: "sk_test_key"},
		Endpoint:          endpoint,
		MinInterval:       -1,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
		Registerer:        reg,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

const (
	devicesBody = `{"data":{"devices":[{"id":"dev-1","name":"Car","deviceType":"ELECTRIC_VEHICLES","provider":"TESLA","make":"Tesla","model":"Model 3","status":{"current":"LIVE","currentState":"SMART_CONTROL_CAPABLE","isSuspended":false}}]}}`

	dispatchesBody = `{"data":{"plannedDispatches":[{"start":"2025-01-01T01:00:00Z","end":"2025-01-01T02:00:00Z","delta":"-1.5","meta":{"source":"smart-charge"}}],"completedDispatches":[{"start":"2024-12-31T23:00:00Z","end":"2024-12-31T23:30:00Z","delta":"-0.5","meta":{"source":"bump-charge"}}]}}`

	accountJSON = `{"number":"A-1234ABCD","balance":-1234.5,"ledgers":[{"balance":-1234.5,"ledgerType":"ELECTRICITY_LEDGER"}],"properties":[{"id":"1","address":"1 Test Street","electricityMeterPoints":[{"mpan":"1000000000001","agreements":[{"validFrom":"2025-01-01T00:00:00Z","validTo":null,"tariff":{"productCode":"INTELLI-VAR-24-10","displayName":"Intelligent Octopus Go","fullName":"Intelligent Octopus Go October 2024","description":"Smart EV tariff"}}]}]}]}`
)
