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
	"strings"
	"testing"

	"golang.org/x/mod/semver"
)

func TestVersionComparison(t *testing.T) {
	tests := []struct {
		name     string
		v1       string
		v2       string
		expected int // -1: v1 < v2, 0: v1 == v2, 1: v1 > v2
	}{
		{
			name:     "same version",
			v1:       "v1.5.0",
			v2:       "v1.5.0",
			expected: 0,
		},
		{
			name:     "double digit minor version",
			v1:       "v1.9.0",
			v2:       "v1.10.0",
			expected: -1,
		},
		{
			name:     "newer major version",
			v1:       "v2.0.0",
			v2:       "v1.9.0",
			expected: 1,
		},
		{
			name:     "prerelease version",
			v1:       "v1.5.0-beta",
			v2:       "v1.5.0",
			expected: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := semver.Compare(tt.v1, tt.v2)
			if result != tt.expected {
				t.Errorf("semver.Compare(%s, %s) = %d, want %d", tt.v1, tt.v2, result, tt.expected)
			}
		})
	}
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	if v == "" {
		t.Error("GetVersion() should not return empty string")
	}
}

func TestGetUserAgent(t *testing.T) {
	ua := GetUserAgent()
	if !strings.HasPrefix(ua, "matthewgall/octodispatch ") {
		t.Errorf("GetUserAgent() = %s, should start with 'matthewgall/octodispatch'", ua)
	}
}

func TestShortCommit(t *testing.T) {
	tests := []struct {
		sha  string
		want string
	}{
		{"0123456789abcdef", "0123456"},
		{"abc1234", "abc1234"},
		{"abc", ""},
		{"unknown", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := shortCommit(tt.sha); got != tt.want {
			t.Errorf("shortCommit(%q) = %q, want %q", tt.sha, got, tt.want)
		}
	}
}

func TestReadBuildInfoPrefersStampedValues(t *testing.T) {
	origVersion, origCommit := version, commit
	defer func() { version, commit = origVersion, origCommit }()

	version, commit = "v2.1.0", "fedcba9876543210"
	info := readBuildInfo()
	if info.Version != "v2.1.0" || info.Commit != "fedcba9876543210" {
		t.Errorf("readBuildInfo() = %+v, want stamped version and commit", info)
	}
	if !info.Release {
		t.Error("v2.1.0 should be a release")
	}
	if info.GoVersion == "" {
		t.Error("GoVersion should be set")
	}
	if got := GetVersion(); got != "v2.1.0" {
		t.Errorf("GetVersion() = %s, want v2.1.0", got)
	}
}

func TestIsRelease(t *testing.T) {
	original := version
	defer func() { version = original }()

	tests := []struct {
		version string
		want    bool
	}{
		{"dev", false},
		{"v1.2.3", true},
		{"v1.2.3-rc.1", false},
		{"1.2.3", false},
	}

	for _, tt := range tests {
		version = tt.version
		if got := IsRelease(); got != tt.want {
			t.Errorf("IsRelease() with version %q = %v, want %v", tt.version, got, tt.want)
		}
	}
}
