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
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is a bearer credential and the instant it stops being accepted.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenManager owns the token of one credential set.
//
// A token is valid while now < ExpiresAt - refreshMargin. A token without an
// expiry is never valid, so a missing expiry can't be mistaken for an eternal
// one.
type TokenManager struct {
	mu    sync.RWMutex
	token Token

	refreshMargin       time.Duration
	autoRefreshInterval time.Duration
	now                 func() time.Time
	logger              *Logger

	timerMu sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewTokenManager creates an empty token manager. Zero durations select
// TokenRefreshMargin and TokenAutoRefreshInterval. The margin must be shorter
// than the interval, otherwise a token given the fallback expiry would be
// stale on arrival; a longer margin is cut to half the interval.
func NewTokenManager(logger *Logger, refreshMargin, autoRefreshInterval time.Duration) *TokenManager {
	if logger == nil {
		logger = NewDiscardLogger()
	}
	logger = logger.WithComponent("token_manager")

	if refreshMargin <= 0 {
		refreshMargin = TokenRefreshMargin
	}
	if autoRefreshInterval <= 0 {
		autoRefreshInterval = TokenAutoRefreshInterval
	}
	if refreshMargin >= autoRefreshInterval {
		clamped := autoRefreshInterval / 2
		logger.Warn("Refresh margin not shorter than auto refresh interval, clamping",
			"refresh_margin", refreshMargin,
			"auto_refresh_interval", autoRefreshInterval,
			"clamped_margin", clamped,
		)
		refreshMargin = clamped
	}

	return &TokenManager{
		refreshMargin:       refreshMargin,
		autoRefreshInterval: autoRefreshInterval,
		now:                 time.Now,
		logger:              logger,
	}
}

// SetToken stores value. A zero expiresAt is read from the token's exp claim;
// if that can't be decoded the token lives for one auto-refresh interval.
func (m *TokenManager) SetToken(value string, expiresAt time.Time) {
	if expiresAt.IsZero() {
		expiresAt = m.decodeExpiry(value)
	}

	m.mu.Lock()
	m.token = Token{Value: value, ExpiresAt: expiresAt}
	m.mu.Unlock()

	m.logger.Debug("Token updated", "expires_at", expiresAt)
}

func (m *TokenManager) decodeExpiry(value string) time.Time {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(value, claims)
	if err == nil {
		var exp *jwt.NumericDate
		exp, err = claims.GetExpirationTime()
		if err == nil && exp != nil {
			return exp.Time
		}
		if err == nil {
			err = errors.New("token has no exp claim")
		}
	}

	fallback := m.now().Add(m.autoRefreshInterval)
	m.logger.Warn("Could not read token expiry, assuming refresh interval",
		"error", err,
		"expires_at", fallback,
	)
	return fallback
}

// IsValid reports whether the token can be used without refreshing first.
func (m *TokenManager) IsValid() bool {
	m.mu.RLock()
	token := m.token
	m.mu.RUnlock()

	if token.Value == "" || token.ExpiresAt.IsZero() {
		return false
	}
	return m.now().Before(token.ExpiresAt.Add(-m.refreshMargin))
}

// Value returns the raw token, which may be empty or no longer valid.
func (m *TokenManager) Value() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token.Value
}

// ExpiresAt returns the current expiry, zero when unknown.
func (m *TokenManager) ExpiresAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token.ExpiresAt
}

// Expire keeps the token value but makes IsValid false.
func (m *TokenManager) Expire() {
	m.mu.Lock()
	m.token.ExpiresAt = time.Time{}
	m.mu.Unlock()
}

// Clear drops the token.
func (m *TokenManager) Clear() {
	m.mu.Lock()
	m.token = Token{}
	m.mu.Unlock()
	m.logger.Debug("Token cleared")
}

// ClearIf drops the token only while it still equals value. A rejection that
// arrives after another caller already replaced the token leaves the new one
// in place. It reports whether the token was dropped.
func (m *TokenManager) ClearIf(value string) bool {
	m.mu.Lock()
	cleared := m.token.Value == value
	if cleared {
		m.token = Token{}
	}
	m.mu.Unlock()

	if cleared {
		m.logger.Debug("Token cleared")
	} else {
		m.logger.Debug("Rejected token already replaced")
	}
	return cleared
}

// StartAutoRefresh calls callback every auto-refresh interval, whatever the
// observed expiry. The token is expired before each call so the callback
// always performs a real login. Calling it while running is a no-op.
func (m *TokenManager) StartAutoRefresh(callback func()) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if m.stopCh != nil {
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.refreshLoop(callback, m.stopCh, m.doneCh)
	m.logger.Debug("Auto refresh started", "interval", m.autoRefreshInterval)
}

func (m *TokenManager) refreshLoop(callback func(), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.autoRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.logger.Debug("Scheduled token refresh")
			m.Expire()
			callback()
		}
	}
}

// StopAutoRefresh stops the refresh timer and waits for a running callback to
// return. The token itself is left alone.
func (m *TokenManager) StopAutoRefresh() {
	m.timerMu.Lock()
	stop, done := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	m.timerMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	m.logger.Debug("Auto refresh stopped")
}
