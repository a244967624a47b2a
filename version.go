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
	"fmt"
	"runtime"
	"runtime/debug"

	"golang.org/x/mod/semver"
)

// Stamped with -ldflags "-X main.version=v1.2.3 -X main.commit=<sha>"
var (
	version = "dev"
	commit  = "unknown"
)

// BuildInfo describes the running binary
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Modified  bool   `json:"modified"`
	GoVersion string `json:"go_version"`
	Release   bool   `json:"release"`
}

// readBuildInfo combines the ldflags values with what the toolchain recorded
func readBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   version,
		Commit:    commit,
		GoVersion: runtime.Version(),
		Release:   IsRelease(),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				if info.Commit == "unknown" {
					info.Commit = setting.Value
				}
			case "vcs.modified":
				info.Modified = setting.Value == "true"
			}
		}
	}
	return info
}

// GetVersion is the stamped version, or the short commit of an unstamped build
func GetVersion() string {
	if version != "dev" {
		return version
	}
	if short := shortCommit(readBuildInfo().Commit); short != "" {
		return short
	}
	return "dev"
}

func shortCommit(sha string) string {
	if sha == "unknown" || len(sha) < 7 {
		return ""
	}
	return sha[:7]
}

// GetUserAgent is sent with every GraphQL request
func GetUserAgent() string {
	return fmt.Sprintf("matthewgall/octodispatch %s", GetVersion())
}

// IsRelease reports whether version is a semver release tag
func IsRelease() bool {
	return semver.IsValid(version) && semver.Prerelease(version) == ""
}
