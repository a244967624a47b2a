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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// Request is one GraphQL operation. Token is sent verbatim as the
// Authorization header when non-empty.
type Request struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	Token         string         `json:"-"`
}

// ErrorExtensions carries the Kraken error code.
type ErrorExtensions struct {
	ErrorCode string `json:"errorCode"`
}

// GraphQLError is a raw entry of a response's errors array.
type GraphQLError struct {
	Message    string          `json:"message"`
	Path       []any           `json:"path,omitempty"`
	Extensions ErrorExtensions `json:"extensions"`
}

// PathStrings returns the error path with list indices rendered as strings.
func (e GraphQLError) PathStrings() []string {
	if len(e.Path) == 0 {
		return nil
	}
	path := make([]string, len(e.Path))
	for i, p := range e.Path {
		path[i] = fmt.Sprint(p)
	}
	return path
}

// Response is a decoded GraphQL response body.
type Response struct {
	Data       json.RawMessage `json:"data"`
	Errors     []GraphQLError  `json:"errors"`
	StatusCode int             `json:"-"`
}

// HasData reports whether the response carries a non-null data object.
func (r *Response) HasData() bool {
	return len(r.Data) > 0 && !bytes.Equal(bytes.TrimSpace(r.Data), []byte("null"))
}

// Decode unmarshals the data object into v.
func (r *Response) Decode(v any) error {
	if !r.HasData() {
		return ErrMalformedResponse
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// ExecutorConfig configures an Executor. Zero values select the package
// defaults; a negative MinInterval disables request pacing.
type ExecutorConfig struct {
	Endpoint     string
	HTTPClient   *http.Client
	MinInterval  time.Duration
	InitialDelay time.Duration
	MaxDelay     time.Duration
	UserAgent    string
	Debug        bool
}

// Executor sends GraphQL requests and retries transport failures and
// rate-limit responses with capped exponential backoff. It decides whether a
// failure is worth retrying; what an error means is left to the caller.
type Executor struct {
	endpoint     string
	httpClient   *http.Client
	limiter      *rate.Limiter
	initialDelay time.Duration
	maxDelay     time.Duration
	userAgent    string
	debug        bool
	logger       *Logger
	metrics      *Metrics
}

var errRateLimited = errors.New("rate limited")

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig, logger *Logger, metrics *Metrics) *Executor {
	if cfg.Endpoint == "" {
		cfg.Endpoint = Endpoint("graphql")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: HTTPClientTimeout}
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = RetryInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = RetryMaxDelay
	}
	if logger == nil {
		logger = NewDiscardLogger()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	switch {
	case cfg.MinInterval == 0:
		limiter = rate.NewLimiter(rate.Every(HTTPMinInterval), 1)
	case cfg.MinInterval > 0:
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	return &Executor{
		endpoint:     cfg.Endpoint,
		httpClient:   cfg.HTTPClient,
		limiter:      limiter,
		initialDelay: cfg.InitialDelay,
		maxDelay:     cfg.MaxDelay,
		userAgent:    cfg.UserAgent,
		debug:        cfg.Debug,
		logger:       logger.WithComponent("executor"),
		metrics:      metrics,
	}
}

// newBackoff returns the retry schedule for a call allowed attempts tries:
// initialDelay, doubling, capped at maxDelay, attempts-1 retries.
func (e *Executor) newBackoff(attempts int) retry.Backoff {
	if attempts < 1 {
		attempts = 1
	}
	b := retry.NewExponential(e.initialDelay)
	b = retry.WithCappedDuration(e.maxDelay, b)
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Execute sends req, making at most attempts tries. When the last try is
// still rate limited that response is returned with a nil error; exhausted
// transport failures return an error wrapping ErrTransport.
func (e *Executor) Execute(ctx context.Context, req Request, attempts int) (*Response, error) {
	operation := operationLabel(req)

	var (
		last    *Response
		attempt int
		reason  ErrorKind
	)

	schedule := e.newBackoff(attempts)
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := schedule.Next()
		if !stop {
			e.metrics.incRetry(reason.String())
			e.logger.Warn("Retrying GraphQL request",
				"operation", operation,
				"attempt", attempt,
				"max_attempts", attempts,
				"backoff_ms", delay.Milliseconds(),
				"reason", reason.String(),
			)
		}
		return delay, stop
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, err := e.send(ctx, req, attempt)
		if err != nil {
			if !isTransient(ctx, err) {
				return err
			}
			reason = KindTransientNetwork
			return retry.RetryableError(err)
		}

		last = resp
		for _, ce := range ClassifyResponse(resp) {
			if ce.Kind == KindRateLimited {
				reason = KindRateLimited
				return retry.RetryableError(errRateLimited)
			}
		}
		return nil
	})

	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, errRateLimited):
		e.logger.Warn("Still rate limited after all attempts",
			"operation", operation,
			"attempts", attempt,
		)
		return last, nil
	default:
		return nil, err
	}
}

func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable || errors.Is(err, ErrTransport)
	}
	return false
}

func operationLabel(req Request) string {
	if req.OperationName != "" {
		return req.OperationName
	}
	return "anonymous"
}

// send performs a single HTTP round trip.
func (e *Executor) send(ctx context.Context, req Request, attempt int) (*Response, error) {
	operation := operationLabel(req)

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if e.userAgent != "" {
		httpReq.Header.Set("User-Agent", e.userAgent)
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", req.Token)
	}

	e.debugLogRequest(httpReq, bodyBytes)

	startTime := time.Now()
	httpResp, err := e.httpClient.Do(httpReq)
	duration := time.Since(startTime).Seconds()
	if err != nil {
		e.metrics.observeRequest(operation, "transport_error", duration)
		return nil, NewAPIError(0, e.endpoint, "request failed", fmt.Errorf("%w: %w", ErrTransport, err))
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		e.metrics.observeRequest(operation, "transport_error", duration)
		return nil, NewAPIError(httpResp.StatusCode, e.endpoint, "failed to read response", fmt.Errorf("%w: %w", ErrTransport, err))
	}

	e.logger.LogAPIRequest(operation, httpResp.StatusCode, duration, attempt)
	e.debugLogResponse(httpResp, respBytes, duration)

	if isRetryableStatus(httpResp.StatusCode) {
		e.metrics.observeRequest(operation, "http_error", duration)
		return nil, NewAPIError(httpResp.StatusCode, e.endpoint, http.StatusText(httpResp.StatusCode), ErrTransport)
	}

	resp := &Response{StatusCode: httpResp.StatusCode}
	if err := json.Unmarshal(respBytes, resp); err != nil {
		if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
			e.metrics.observeRequest(operation, "malformed", duration)
			return nil, NewAPIError(httpResp.StatusCode, e.endpoint, "failed to decode response", fmt.Errorf("%w: %v", ErrMalformedResponse, err))
		}
		// Non-JSON error pages are classified by status code alone.
		resp = &Response{StatusCode: httpResp.StatusCode}
	}

	outcome := "ok"
	switch {
	case hasKind(ClassifyResponse(resp), KindRateLimited):
		outcome = "rate_limited"
	case len(resp.Errors) > 0:
		outcome = "graphql_error"
	case httpResp.StatusCode >= 300:
		outcome = "http_error"
	}
	e.metrics.observeRequest(operation, outcome, duration)

	return resp, nil
}

// debugLogRequest logs detailed request information in debug mode
func (e *Executor) debugLogRequest(req *http.Request, bodyBytes []byte) {
	if !e.debug {
		return
	}

	// Mask sensitive headers
	maskedHeaders := make(map[string]string)
	for key, values := range req.Header {
		if len(values) == 0 {
			continue
		}
		if key == "Authorization" {
			// Show only first and last 4 chars of auth tokens
			val := values[0]
			if len(val) > 12 {
				maskedHeaders[key] = val[:6] + "..." + val[len(val)-4:]
			} else {
				maskedHeaders[key] = "***"
			}
		} else {
			maskedHeaders[key] = values[0]
		}
	}

	e.logger.Debug("→ HTTP Request",
		"method", req.Method,
		"url", req.URL.String(),
		"headers", maskedHeaders,
	)

	if len(bodyBytes) > 0 {
		e.logger.Debug("  Request Body", "body", truncateBody(bodyBytes))
	}
}

// debugLogResponse logs detailed response information in debug mode
func (e *Executor) debugLogResponse(resp *http.Response, body []byte, duration float64) {
	if !e.debug {
		return
	}

	e.logger.Debug("← HTTP Response",
		"status", resp.StatusCode,
		"status_text", resp.Status,
		"duration_ms", duration*1000,
		"content_type", resp.Header.Get("Content-Type"),
	)

	if len(body) > 0 {
		e.logger.Debug("  Response Body", "body", truncateBody(body))
	}
}

func truncateBody(body []byte) string {
	bodyStr := string(body)
	if len(bodyStr) > debugBodyLimit {
		bodyStr = bodyStr[:debugBodyLimit] + "... (truncated)"
	}
	return bodyStr
}
