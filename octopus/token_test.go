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
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFrozenTokenManager(now time.Time) (*TokenManager, *time.Time) {
	clock := now
	m := NewTokenManager(nil, 0, 0)
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestTokenManagerValidity(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m, clock := newFrozenTokenManager(t0)

	assert.False(t, m.IsValid(), "empty manager")

	m.SetToken("abc", t0.Add(time.Hour))
	assert.True(t, m.IsValid())

	*clock = t0.Add(3299 * time.Second)
	assert.True(t, m.IsValid(), "just outside the refresh margin")

	*clock = t0.Add(3300 * time.Second)
	assert.False(t, m.IsValid(), "inside the refresh margin")

	*clock = t0.Add(2 * time.Hour)
	assert.False(t, m.IsValid(), "expired")
}

func TestTokenManagerDecodesJWTExpiry(t *testing.T) {
	exp := time.Now().Add(45 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"sub": "kraken|account-user",
	}).SignedString([]byte("not-the-real-key"))
	require.NoError(t, err)

	m := NewTokenManager(nil, 0, 0)
	m.SetToken(signed, time.Time{})

	assert.True(t, m.ExpiresAt().Equal(exp), "ExpiresAt = %v, want %v", m.ExpiresAt(), exp)
	assert.True(t, m.IsValid())
}

func TestTokenManagerFallsBackWhenExpiryUnreadable(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
	}{
		{name: "not a jwt", value: "opaque-token"},
		{name: "jwt without exp", value: mustSign(t, jwt.MapClaims{"sub": "x"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newFrozenTokenManager(t0)
			m.SetToken(tt.value, time.Time{})
			assert.Equal(t, t0.Add(TokenAutoRefreshInterval), m.ExpiresAt())
			assert.True(t, m.IsValid())
		})
	}
}

func mustSign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return signed
}

func TestTokenManagerExpireAndClear(t *testing.T) {
	m := NewTokenManager(nil, 0, 0)
	m.SetToken("abc", time.Now().Add(time.Hour))

	m.Expire()
	assert.False(t, m.IsValid())
	assert.Equal(t, "abc", m.Value())
	assert.True(t, m.ExpiresAt().IsZero())

	m.Clear()
	assert.Empty(t, m.Value())
}

func TestTokenManagerClearIf(t *testing.T) {
	m := NewTokenManager(nil, 0, 0)
	m.SetToken("token-2", time.Now().Add(time.Hour))

	assert.False(t, m.ClearIf("token-1"), "a rejection of an older token is ignored")
	assert.Equal(t, "token-2", m.Value())
	assert.True(t, m.IsValid())

	assert.True(t, m.ClearIf("token-2"))
	assert.Empty(t, m.Value())
	assert.False(t, m.IsValid())
}

func TestTokenManagerClampsRefreshMargin(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		margin     time.Duration
		interval   time.Duration
		wantMargin time.Duration
	}{
		{name: "defaults", wantMargin: TokenRefreshMargin},
		{name: "shorter margin kept", margin: time.Minute, interval: 10 * time.Minute, wantMargin: time.Minute},
		{name: "equal margin clamped", margin: 10 * time.Minute, interval: 10 * time.Minute, wantMargin: 5 * time.Minute},
		{name: "default margin over short interval", interval: 2 * time.Minute, wantMargin: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewTokenManager(nil, tt.margin, tt.interval)
			assert.Equal(t, tt.wantMargin, m.refreshMargin)

			// a token on the fallback expiry must be usable straight away
			m.now = func() time.Time { return t0 }
			m.SetToken("opaque-token", time.Time{})
			assert.True(t, m.IsValid())
		})
	}
}

func TestTokenManagerAutoRefresh(t *testing.T) {
	m := NewTokenManager(nil, 0, 10*time.Millisecond)
	m.SetToken("abc", time.Now().Add(24*time.Hour))

	validAtCallback := make(chan bool, 10)
	m.StartAutoRefresh(func() {
		validAtCallback <- m.IsValid()
	})
	// second start is a no-op
	m.StartAutoRefresh(func() { t.Error("second callback must not run") })

	select {
	case valid := <-validAtCallback:
		assert.False(t, valid, "token should be expired before the callback runs")
	case <-time.After(2 * time.Second):
		t.Fatal("auto refresh callback never ran")
	}

	m.StopAutoRefresh()
	m.StopAutoRefresh()
	assert.Equal(t, "abc", m.Value(), "stopping leaves the token alone")
}
