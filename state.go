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
	"slices"
	"sync"
	"time"

	"github.com/matthewgall/octodispatch/octopus"
)

// AppState holds what the monitor last learned about the account. It lives in
// memory only; a restart starts from an empty state.
type AppState struct {
	mu sync.RWMutex

	result          *octopus.APIResult
	lastUpdated     time.Time // last successful fetch
	lastChecked     time.Time // last attempt, successful or not
	lastError       string
	staleSections   []string // sections kept from an earlier result
	connected       bool
	activeDispatch  *octopus.Dispatch
	knownDispatches map[string]bool // planned dispatches already announced, keyed by start
}

// Snapshot is a consistent copy of AppState for readers.
type Snapshot struct {
	AccountID      string             `json:"account_id"`
	Connected      bool               `json:"connected"`
	Stale          bool               `json:"stale"`
	LastUpdated    time.Time          `json:"last_updated"`
	LastChecked    time.Time          `json:"last_checked"`
	LastError      string             `json:"last_error,omitempty"`
	StaleSections  []string           `json:"stale_sections,omitempty"`
	ActiveDispatch *octopus.Dispatch  `json:"active_dispatch"`
	NextDispatch   *octopus.Dispatch  `json:"next_dispatch"`
	Data           *octopus.APIResult `json:"data,omitempty"`
}

func NewAppState() *AppState {
	return &AppState{
		knownDispatches: make(map[string]bool),
	}
}

// RecordSuccess stores result. Sections the API failed to return keep their
// previous data and are reported as stale. It returns the planned dispatches
// seen for the first time and the active dispatch before this update.
func (s *AppState) RecordSuccess(result *octopus.APIResult, now time.Time) (newlyPlanned []octopus.Dispatch, previousActive *octopus.Dispatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previousActive = s.activeDispatch

	result, failed := mergeFailedSections(s.result, result)

	s.result = result
	s.lastUpdated = now
	s.lastChecked = now
	s.lastError = ""
	s.staleSections = failed
	s.connected = true
	s.activeDispatch = result.Schedule().Active(now)

	for _, d := range result.PlannedDispatches {
		if !d.End.After(now) {
			continue
		}
		key := dispatchKey(d)
		if !s.knownDispatches[key] {
			s.knownDispatches[key] = true
			newlyPlanned = append(newlyPlanned, d)
		}
	}
	if !slices.Contains(failed, sectionPlannedDispatches) {
		s.cleanupExpiredDispatches(now)
	}

	return newlyPlanned, previousActive
}

// API result sections, named by their top-level GraphQL path
const (
	sectionAccount             = "account"
	sectionDevices             = "devices"
	sectionPlannedDispatches   = "plannedDispatches"
	sectionCompletedDispatches = "completedDispatches"
)

// mergeFailedSections returns next with every critically failed section
// replaced by its data from prev, plus the names of the failed sections.
// next itself is not modified.
func mergeFailedSections(prev, next *octopus.APIResult) (*octopus.APIResult, []string) {
	var failed []string
	for _, e := range next.Errors {
		if len(e.Path) == 0 {
			continue
		}
		switch section := e.Path[0]; section {
		case sectionAccount, sectionDevices, sectionPlannedDispatches, sectionCompletedDispatches:
			if !slices.Contains(failed, section) {
				failed = append(failed, section)
			}
		}
	}
	if len(failed) == 0 || prev == nil {
		return next, failed
	}

	merged := *next
	for _, section := range failed {
		switch section {
		case sectionAccount:
			merged.Account = prev.Account
			merged.Products = prev.Products
		case sectionDevices:
			merged.Devices = prev.Devices
		case sectionPlannedDispatches:
			merged.PlannedDispatches = prev.PlannedDispatches
		case sectionCompletedDispatches:
			merged.CompletedDispatches = prev.CompletedDispatches
		}
	}
	return &merged, failed
}

// RecordFailure keeps the last good result and marks it stale.
func (s *AppState) RecordFailure(err error, connected bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastChecked = now
	s.lastError = err.Error()
	s.connected = connected
}

func (s *AppState) Snapshot(accountID string, now time.Time) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		AccountID:   accountID,
		Connected:   s.connected,
		Stale:         s.result != nil && (s.lastError != "" || len(s.staleSections) > 0),
		LastUpdated:   s.lastUpdated,
		LastChecked:   s.lastChecked,
		LastError:     s.lastError,
		StaleSections: slices.Clone(s.staleSections),
		Data:          s.result,
	}
	if s.result != nil {
		schedule := s.result.Schedule()
		snap.ActiveDispatch = schedule.Active(now)
		snap.NextDispatch = schedule.Next(now)
	}
	return snap
}

func (s *AppState) HasData() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result != nil
}

func (s *AppState) IsCacheValid(maxAge time.Duration, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.lastUpdated.IsZero() && now.Sub(s.lastUpdated) < maxAge
}

// cleanupExpiredDispatches forgets announced dispatches that have ended
func (s *AppState) cleanupExpiredDispatches(now time.Time) {
	if s.result == nil {
		return
	}
	stillPlanned := make(map[string]bool, len(s.result.PlannedDispatches))
	for _, d := range s.result.PlannedDispatches {
		if d.End.After(now) {
			stillPlanned[dispatchKey(d)] = true
		}
	}
	for key := range s.knownDispatches {
		if !stillPlanned[key] {
			delete(s.knownDispatches, key)
		}
	}
}

func dispatchKey(d octopus.Dispatch) string {
	return d.Start.UTC().Format(time.RFC3339) + "/" + d.End.UTC().Format(time.RFC3339)
}
