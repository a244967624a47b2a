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
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(endpoint string, metrics *Metrics) *Executor {
	return NewExecutor(ExecutorConfig{
		Endpoint:     endpoint,
		MinInterval:  -1,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		UserAgent:    "octodispatch-test",
	}, nil, metrics)
}

func TestBackoffSchedule(t *testing.T) {
	e := NewExecutor(ExecutorConfig{}, nil, nil)

	b := e.newBackoff(10)
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		got, stop := b.Next()
		require.False(t, stop, "retry %d stopped early", i+1)
		assert.Equal(t, w, got, "retry %d", i+1)
	}

	_, stop := b.Next()
	assert.True(t, stop, "ten attempts allow nine retries")
}

func TestBackoffSingleAttempt(t *testing.T) {
	e := NewExecutor(ExecutorConfig{}, nil, nil)

	_, stop := e.newBackoff(1).Next()
	assert.True(t, stop)
	_, stop = e.newBackoff(0).Next()
	assert.True(t, stop)
}

func TestExecuteHeaders(t *testing.T) {
	fake, server := newFakeKraken(t)
	fake.on("devices", always(http.StatusOK, devicesBody))
	e := newTestExecutor(server.URL, nil)

	resp, err := e.Execute(context.Background(), Request{OperationName: "devices", Query: devicesQuery, Token: "jwt-token"}, 1)
	require.NoError(t, err)
	assert.True(t, resp.HasData())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req := fake.lastRequest("devices")
	assert.Equal(t, "jwt-token", req.Authorization)
	assert.NotEmpty(t, req.RequestID)

	_, err = e.Execute(context.Background(), Request{OperationName: "devices", Query: devicesQuery}, 1)
	require.NoError(t, err)
	assert.Empty(t, fake.lastRequest("devices").Authorization, "no token means no Authorization header")
}

func TestExecuteUserAgent(t *testing.T) {
	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	_, err := newTestExecutor(server.URL, nil).Execute(context.Background(), Request{Query: "{}"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "octodispatch-test", userAgent)
}

func TestExecuteRateLimitReturnsLastResponse(t *testing.T) {
	fake, server := newFakeKraken(t)
	fake.on("devices", always(http.StatusOK, `{"data":null,"errors":[`+gqlError(ErrorCodeRateLimited)+`]}`))
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	e := newTestExecutor(server.URL, metrics)

	resp, err := e.Execute(context.Background(), Request{OperationName: "devices", Query: devicesQuery}, 4)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, ErrorCodeRateLimited, resp.Errors[0].Extensions.ErrorCode)

	assert.Equal(t, 4, fake.count("devices"))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.retries.WithLabelValues("rate_limited")))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.requests.WithLabelValues("devices", "rate_limited")))
}

func TestExecuteTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := server.URL
	server.Close()

	_, err := newTestExecutor(endpoint, nil).Execute(context.Background(), Request{Query: "{}"}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 0, apiErr.StatusCode)
}

func TestExecuteDoesNotRetryClientErrors(t *testing.T) {
	fake, server := newFakeKraken(t)
	fake.on("devices", always(http.StatusBadRequest,
		`{"errors":[{"message":"Syntax Error","extensions":{"errorCode":"GRAPHQL_PARSE_FAILED"}}]}`))
	e := newTestExecutor(server.URL, nil)

	resp, err := e.Execute(context.Background(), Request{OperationName: "devices", Query: "broken"}, 3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Syntax Error", resp.Errors[0].Message)
	assert.Equal(t, 1, fake.count("devices"))
}

func TestExecuteMalformedBody(t *testing.T) {
	fake, server := newFakeKraken(t)
	fake.on("devices", always(http.StatusOK, `<html>maintenance</html>`))
	e := newTestExecutor(server.URL, nil)

	_, err := e.Execute(context.Background(), Request{OperationName: "devices", Query: devicesQuery}, 3)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Equal(t, 1, fake.count("devices"), "malformed responses are not retried")
}

func TestExecuteHonoursContext(t *testing.T) {
	fake, server := newFakeKraken(t)
	fake.on("devices", always(http.StatusServiceUnavailable, `down`))
	e := NewExecutor(ExecutorConfig{Endpoint: server.URL, MinInterval: -1, InitialDelay: time.Hour}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Execute(ctx, Request{OperationName: "devices", Query: devicesQuery}, 3)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, fake.count("devices"))
}

func TestExecutorPacesRequests(t *testing.T) {
	fake, server := newFakeKraken(t)
	fake.on("devices", always(http.StatusOK, devicesBody))
	e := NewExecutor(ExecutorConfig{Endpoint: server.URL, MinInterval: 50 * time.Millisecond}, nil, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := e.Execute(context.Background(), Request{OperationName: "devices", Query: devicesQuery}, 1)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestResponseDecode(t *testing.T) {
	resp := &Response{Data: []byte(`null`)}
	assert.False(t, resp.HasData())
	assert.ErrorIs(t, resp.Decode(&struct{}{}), ErrMalformedResponse)

	resp = &Response{Data: []byte(`{"devices":"not-a-list"}`)}
	var out struct {
		Devices []Device `json:"devices"`
	}
	assert.ErrorIs(t, resp.Decode(&out), ErrMalformedResponse)
}

func TestTruncateBody(t *testing.T) {
	short := []byte("short")
	assert.Equal(t, "short", truncateBody(short))

	long := make([]byte, debugBodyLimit+10)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateBody(long)
	assert.Len(t, got, debugBodyLimit+len("... (truncated)"))
}
