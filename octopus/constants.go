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

import "time"

// API endpoints
var endpoints = map[string]string{
	"graphql":         "https://api.octopus.energy/v1/graphql/",
	"backend-graphql": "https://api.backend.octopus.energy/v1/graphql/",
	"oeg-graphql":     "https://api.oeg-kraken.energy/v1/graphql/",
}

// Endpoint returns the GraphQL URL registered under key, falling back to the
// main GraphQL endpoint for unknown keys.
func Endpoint(key string) string {
	if url, exists := endpoints[key]; exists {
		return url
	}
	return endpoints["graphql"]
}

// Cache keys. These are the names accepted by Client.InvalidateCache.
const (
	CacheKeyAccount    = "account"
	CacheKeyAccounts   = "accounts"
	CacheKeyDevices    = "devices"
	CacheKeyDispatches = "dispatches"
)

// Cache durations - other components rely on these, treat them as a contract
const (
	// CacheDurationAccount - Account and tariff data is long-lived reference data
	CacheDurationAccount = 1 * time.Hour

	// CacheDurationAccounts - The list of accounts visible to the credentials
	CacheDurationAccounts = 1 * time.Hour

	// CacheDurationDevices - Device list including suspension state
	CacheDurationDevices = 5 * time.Minute

	// CacheDurationDispatches - Planned dispatches change at short notice
	CacheDurationDispatches = 1 * time.Minute
)

// Token settings
const (
	// TokenRefreshMargin - Treat tokens as expired this long before their real expiry
	TokenRefreshMargin = 5 * time.Minute

	// TokenAutoRefreshInterval - Background re-login interval, independent of observed expiry
	TokenAutoRefreshInterval = 1 * time.Hour

	// LoginAttempts - Attempt budget for a single Login call
	LoginAttempts = 5

	// LoginTimeout - Upper bound for a shared login, independent of the caller's context
	LoginTimeout = 2 * time.Minute
)

// HTTP client settings
const (
	// HTTPClientTimeout - Maximum time for a single HTTP request
	HTTPClientTimeout = 30 * time.Second

	// HTTPMinInterval - Minimum time between API requests (rate limiting)
	HTTPMinInterval = 1 * time.Second

	// HTTPMaxAttempts - Attempts per query, the first one included
	HTTPMaxAttempts = 3

	// RetryInitialDelay - First backoff delay, doubled on every retry
	RetryInitialDelay = 1 * time.Second

	// RetryMaxDelay - Backoff ceiling
	RetryMaxDelay = 30 * time.Second
)

// Octopus Energy API error codes
const (
	// ErrorCodeRateLimited - Too many requests
	ErrorCodeRateLimited = "KT-CT-1199"

	// ErrorCodeTokenExpired - Token has expired
	ErrorCodeTokenExpired = "KT-CT-1124"

	// ErrorCodeJWTExpired - Signature of the JWT has expired
	ErrorCodeJWTExpired = "KT-CT-1139"

	// ErrorCodeInvalidAuth - Invalid authorization header
	ErrorCodeInvalidAuth = "KT-CT-1143"

	// ErrorCodeNotFound - Resource does not exist for this account
	ErrorCodeNotFound = "KT-CT-4301"
)

// Top-level sections of the comprehensive query that an account may not have.
var optionalSections = map[string]bool{
	"devices":             true,
	"plannedDispatches":   true,
	"completedDispatches": true,
}

// Device suspension actions accepted by ChangeDeviceSuspension.
const (
	ActionSuspend   = "SUSPEND"
	ActionUnsuspend = "UNSUSPEND"
)

// Debug logging limits
const (
	// debugBodyLimit - Truncate logged request and response bodies beyond this many bytes
	debugBodyLimit = 500
)
