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
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors returned across the public API. Callers match them with
// errors.Is; the concrete error usually wraps one of these with context.
var (
	ErrTransport         = errors.New("transport failure")
	ErrMalformedResponse = errors.New("malformed response")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrTokenExpired      = errors.New("token expired after re-authentication")
	ErrFetchFailed       = errors.New("fetch failed")
	ErrMutationFailed    = errors.New("mutation failed")
)

// ErrorKind is the closed set of outcomes an API error can be classified as.
type ErrorKind int

const (
	KindCritical ErrorKind = iota
	KindTransientNetwork
	KindRateLimited
	KindTokenExpired
	KindNonCriticalMissingResource
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindRateLimited:
		return "rate_limited"
	case KindTokenExpired:
		return "token_expired"
	case KindNonCriticalMissingResource:
		return "missing_resource"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "critical"
	}
}

// Retryable reports whether the executor should retry a request that failed
// with this kind.
func (k ErrorKind) Retryable() bool {
	return k == KindTransientNetwork || k == KindRateLimited
}

// Critical reports whether this kind fails the call it occurred in.
func (k ErrorKind) Critical() bool {
	return k != KindNonCriticalMissingResource
}

// ClassifiedError is a raw GraphQL error after classification.
type ClassifiedError struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code,omitempty"`
	Path    []string  `json:"path,omitempty"`
	Message string    `json:"message"`
}

func (e ClassifiedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// tokenExpiryMessages are matched when the API omits an error code.
var tokenExpiryMessages = []string{
	"Signature of the JWT has expired",
	"JWT has expired",
	"Token has expired",
}

// ClassifyError maps a single GraphQL error onto an ErrorKind. It is the only
// place that interprets error codes; retry, refresh and suppression policy all
// derive from its result.
func ClassifyError(gqlErr GraphQLError) ClassifiedError {
	classified := ClassifiedError{
		Kind:    KindCritical,
		Code:    gqlErr.Extensions.ErrorCode,
		Path:    gqlErr.PathStrings(),
		Message: gqlErr.Message,
	}

	switch classified.Code {
	case ErrorCodeRateLimited:
		classified.Kind = KindRateLimited
	case ErrorCodeTokenExpired, ErrorCodeJWTExpired, ErrorCodeInvalidAuth:
		classified.Kind = KindTokenExpired
	case ErrorCodeNotFound:
		if len(classified.Path) > 0 && optionalSections[classified.Path[0]] {
			classified.Kind = KindNonCriticalMissingResource
		}
	case "":
		for _, msg := range tokenExpiryMessages {
			if strings.Contains(gqlErr.Message, msg) {
				classified.Kind = KindTokenExpired
				break
			}
		}
	}

	return classified
}

// ClassifyResponse classifies every error in resp. A response rejected with
// 401/403 and no GraphQL errors counts as token expiry; a response carrying
// neither data nor errors is malformed.
func ClassifyResponse(resp *Response) []ClassifiedError {
	if resp == nil {
		return []ClassifiedError{{Kind: KindMalformedResponse, Message: "no response"}}
	}

	classified := make([]ClassifiedError, 0, len(resp.Errors))
	for _, gqlErr := range resp.Errors {
		classified = append(classified, ClassifyError(gqlErr))
	}

	if len(classified) == 0 {
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			classified = append(classified, ClassifiedError{
				Kind:    KindTokenExpired,
				Message: fmt.Sprintf("request rejected with status %d", resp.StatusCode),
			})
		case !resp.HasData():
			classified = append(classified, ClassifiedError{
				Kind:    KindMalformedResponse,
				Message: "response contains neither data nor errors",
			})
		}
	}

	return classified
}

func hasKind(errs []ClassifiedError, kind ErrorKind) bool {
	for _, e := range errs {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func splitCritical(errs []ClassifiedError) (warnings, critical []ClassifiedError) {
	for _, e := range errs {
		if e.Kind.Critical() {
			critical = append(critical, e)
		} else {
			warnings = append(warnings, e)
		}
	}
	return warnings, critical
}

// GraphQLErrors reports the critical errors that failed an operation.
type GraphQLErrors struct {
	Operation string
	Errors    []ClassifiedError
}

func (e *GraphQLErrors) Error() string {
	messages := make([]string, len(e.Errors))
	for i, ce := range e.Errors {
		messages[i] = ce.Error()
	}
	return fmt.Sprintf("%s: GraphQL errors: %s", e.Operation, strings.Join(messages, ", "))
}

// APIError represents an HTTP-level error from the Octopus Energy API
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
	Retryable  bool
	Err        error // Underlying error if any
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API error (%d) at %s: %s (caused by: %v)", e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("API error (%d) at %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new APIError with automatic retryable detection
func NewAPIError(statusCode int, endpoint, message string, err error) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Endpoint:   endpoint,
		Message:    message,
		Retryable:  isRetryableStatus(statusCode),
		Err:        err,
	}
}

// isRetryableStatus determines if an HTTP status code is retryable
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	default:
		return false
	}
}

// AuthError describes why a single login attempt failed
type AuthError struct {
	Code    string // Error code from API (e.g., "KT-CT-1139")
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("authentication error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("authentication error: %s", e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ValidationError represents configuration or input validation errors
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error for %s (value: %v): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}
