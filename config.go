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
	"os"
	"strings"
	"time"

	"github.com/matthewgall/octodispatch/octopus"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AccountID     string `yaml:"account_id"`
	APIKey        string `yaml:"api_key"`
	Email         string `yaml:"email"`
	Password      string `yaml:"password"`
	Endpoint      string `yaml:"endpoint"`
	CheckInterval int    `yaml:"check_interval_minutes"`
	WebPort       int    `yaml:"web_port"`
	Debug         bool   `yaml:"debug"`
	JSONLogs      bool   `yaml:"json_logs"`
	AutoRefresh   bool   `yaml:"auto_refresh"`
}

// Environment variables that override the config file
const (
	envAPIKey    = "OCTOPUS_API_KEY"
	envEmail     = "OCTOPUS_EMAIL"
	envPassword  = "OCTOPUS_PASSWORD"
	envAccountID = "OCTOPUS_ACCOUNT_ID"
	envEndpoint  = "OCTOPUS_ENDPOINT"
)

const (
	defaultCheckInterval = 5 // minutes
	defaultWebPort       = 8080
)

func LoadConfig(configPath string) (*Config, error) {
	config := &Config{
		CheckInterval: defaultCheckInterval,
		WebPort:       defaultWebPort,
		AutoRefresh:   true,
	}

	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides fields with any of the OCTOPUS_* variables that are set
func (c *Config) ApplyEnv(getenv func(string) string) {
	override := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.APIKey, envAPIKey)
	override(&c.Email, envEmail)
	override(&c.Password, envPassword)
	override(&c.AccountID, envAccountID)
	override(&c.Endpoint, envEndpoint)
}

func (c *Config) ApplyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = defaultCheckInterval
	}
	if c.WebPort <= 0 {
		c.WebPort = defaultWebPort
	}
	if c.Endpoint == "" {
		c.Endpoint = "graphql"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errors []string

	// Validate credentials
	switch {
	case c.APIKey != "":
		if !strings.HasPrefix(c.APIKey, "sk_live_") {
			errors = append(errors, "API key should start with 'sk_live_' (use your live API key, not test key)")
		} else if len(c.APIKey) < 20 {
			errors = append(errors, "API key appears too short (should be ~40+ characters)")
		}
	case c.Email != "" || c.Password != "":
		if c.Email == "" || c.Password == "" {
			errors = append(errors, "email and password must be set together")
		} else if !strings.Contains(c.Email, "@") {
			errors = append(errors, fmt.Sprintf("email address looks invalid: %s", c.Email))
		}
	default:
		errors = append(errors, "an API key or email and password are required")
	}

	// Validate account ID, optional until a command needs it
	if c.AccountID != "" && !strings.HasPrefix(c.AccountID, "A-") {
		errors = append(errors, fmt.Sprintf("account ID should start with 'A-', got: %s", c.AccountID))
	}

	// Validate endpoint
	if !isURL(c.Endpoint) && !knownEndpoint(c.Endpoint) {
		errors = append(errors, fmt.Sprintf("unknown endpoint %q (use graphql, backend-graphql, oeg-graphql or a URL)", c.Endpoint))
	}

	// Validate web port
	if c.WebPort < 1 || c.WebPort > 65535 {
		errors = append(errors, fmt.Sprintf("web port must be between 1-65535, got: %d", c.WebPort))
	}

	// Validate check interval
	if c.CheckInterval < 1 {
		errors = append(errors, fmt.Sprintf("check interval must be at least 1 minute, got: %d", c.CheckInterval))
	}
	if c.CheckInterval > 1440 {
		errors = append(errors, fmt.Sprintf("check interval seems too long (%d minutes = %.1f hours), consider using a shorter interval", c.CheckInterval, float64(c.CheckInterval)/60.0))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// RequireAccount fails when no account number is configured
func (c *Config) RequireAccount() error {
	if c.AccountID == "" {
		return fmt.Errorf("account ID is required (set account_id, %s or --account)", envAccountID)
	}
	return nil
}

func (c *Config) CheckEvery() time.Duration {
	return time.Duration(c.CheckInterval) * time.Minute
}

// EndpointURL resolves Endpoint, which may be a named endpoint or a URL
func (c *Config) EndpointURL() string {
	if isURL(c.Endpoint) {
		return c.Endpoint
	}
	return octopus.Endpoint(c.Endpoint)
}

// ClientConfig builds the API client configuration
func (c *Config) ClientConfig(logger *octopus.Logger, reg prometheus.Registerer) octopus.Config {
	return octopus.Config{
		Credentials: octopus.Credentials{
			APIKey:   c.APIKey,
			Email:    c.Email,
			Password: c.Password,
		},
		Endpoint:   c.EndpointURL(),
		UserAgent:  GetUserAgent(),
		Debug:      c.Debug,
		Logger:     logger,
		Registerer: reg,
	}
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func knownEndpoint(name string) bool {
	switch name {
	case "graphql", "backend-graphql", "oeg-graphql":
		return true
	}
	return false
}
