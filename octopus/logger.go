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
	"errors"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger for structured logging throughout the client
type Logger struct {
	*slog.Logger
}

func levelFor(debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// NewLogger creates a new structured text logger writing to stdout
func NewLogger(debug bool) *Logger {
	return NewLoggerTo(os.Stdout, debug, false)
}

// NewJSONLogger creates a new JSON structured logger (useful for production/log aggregation)
func NewJSONLogger(debug bool) *Logger {
	return NewLoggerTo(os.Stdout, debug, true)
}

// NewLoggerTo creates a logger writing to w
func NewLoggerTo(w io.Writer, debug, jsonFormat bool) *Logger {
	opts := &slog.HandlerOptions{
		Level: levelFor(debug),
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewDiscardLogger returns a logger that drops everything
func NewDiscardLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithComponent returns a logger with a component field pre-set
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
	}
}

// WithAccountID returns a logger with an account_id field pre-set
func (l *Logger) WithAccountID(accountID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("account_id", MaskAccountID(accountID)),
	}
}

// WithOperation tags every record with the logical operation and its id
func (l *Logger) WithOperation(operation, opID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("operation", operation, "op_id", opID),
	}
}

// MaskAccountID shows only the prefix of an account number
func MaskAccountID(accountID string) string {
	if len(accountID) > 5 {
		return accountID[:5] + "***"
	}
	return accountID
}

// LogAPIRequest logs a GraphQL request with common fields
func (l *Logger) LogAPIRequest(operation string, statusCode int, duration float64, attempt int) {
	l.Debug("API request",
		"operation", operation,
		"status_code", statusCode,
		"duration_ms", duration*1000,
		"attempt", attempt,
	)
}

// LogAPIError logs an API error with details
func (l *Logger) LogAPIError(err error, operation string) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		l.Error("API request failed",
			"operation", operation,
			"status_code", apiErr.StatusCode,
			"retryable", apiErr.Retryable,
			"error", apiErr.Message,
		)
		return
	}
	l.Error("API request failed",
		"operation", operation,
		"error", err.Error(),
	)
}

// LogClassifiedErrors logs non-critical errors as warnings and the rest as errors
func (l *Logger) LogClassifiedErrors(operation string, errs []ClassifiedError) {
	for _, ce := range errs {
		args := []any{
			"operation", operation,
			"kind", ce.Kind.String(),
			"code", ce.Code,
			"path", ce.Path,
			"error", ce.Message,
		}
		if ce.Kind.Critical() {
			l.Error("GraphQL error", args...)
		} else {
			l.Warn("GraphQL section unavailable", args...)
		}
	}
}

// LogCacheHit logs a cache hit
func (l *Logger) LogCacheHit(cacheType string, age float64) {
	l.Debug("Cache hit",
		"cache_type", cacheType,
		"age_seconds", age,
	)
}

// LogCacheMiss logs a cache miss
func (l *Logger) LogCacheMiss(cacheType string, reason string) {
	l.Debug("Cache miss",
		"cache_type", cacheType,
		"reason", reason,
	)
}
