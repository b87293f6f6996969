// Copyright 2025 AxonFlow
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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/connectors/pool"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/scheduler"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/smartcache"
)

// Source types understood by the registry factory
const (
	SourceHTTP     = "http"
	SourcePostgres = "postgres"
)

// Config is the root of a placefusion configuration file
type Config struct {
	Server       ServerConfig        `yaml:"server"`
	Logging      LoggingConfig       `yaml:"logging"`
	Pool         pool.Config         `yaml:"pool"`
	Cache        smartcache.Config   `yaml:"cache"`
	Scheduler    scheduler.Config    `yaml:"scheduler"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Redis        RedisConfig         `yaml:"redis"`
	Sources      Sources             `yaml:"sources"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port            int           `yaml:"port"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig sets the minimum log level
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RedisConfig backs shared source quotas. An empty URL disables quotas.
type RedisConfig struct {
	URL    string        `yaml:"url"`
	Window time.Duration `yaml:"window"`
}

// SourceConfig describes one place source
type SourceConfig struct {
	Name            string                 `yaml:"-"`
	Type            string                 `yaml:"type"`
	Enabled         *bool                  `yaml:"enabled"`
	ConnectionURL   string                 `yaml:"connection_url"`
	Credentials     map[string]string      `yaml:"credentials"`
	Options         map[string]interface{} `yaml:"options"`
	Timeout         time.Duration          `yaml:"timeout"`
	Reliability     float64                `yaml:"reliability"`
	Authority       float64                `yaml:"authority"`
	ExpectedLatency time.Duration          `yaml:"expected_latency"`
	// Quota is the number of calls per redis.window shared by all
	// instances; 0 means unlimited
	Quota int `yaml:"quota"`
}

// IsEnabled reports whether the source should be registered; sources are
// enabled unless stated otherwise
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// AdapterConfig converts the entry into an adapter configuration
func (s SourceConfig) AdapterConfig() *base.AdapterConfig {
	return &base.AdapterConfig{
		Name:            s.Name,
		Type:            s.Type,
		ConnectionURL:   s.ConnectionURL,
		Credentials:     s.Credentials,
		Options:         s.Options,
		Timeout:         s.Timeout,
		Reliability:     s.Reliability,
		Authority:       s.Authority,
		ExpectedLatency: s.ExpectedLatency,
	}
}

// Sources keeps the order in which sources appear in the file; it decides
// the order answers are fused in.
type Sources []SourceConfig

// UnmarshalYAML decodes a mapping of source name to settings in order
func (s *Sources) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: sources must be a mapping of name to settings", node.Line)
	}
	out := make(Sources, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var sc SourceConfig
		if err := node.Content[i+1].Decode(&sc); err != nil {
			return fmt.Errorf("source %s: %w", node.Content[i].Value, err)
		}
		sc.Name = node.Content[i].Value
		out = append(out, sc)
	}
	*s = out
	return nil
}

// Enabled returns the enabled sources in file order
func (s Sources) Enabled() []SourceConfig {
	var out []SourceConfig
	for _, sc := range s {
		if sc.IsEnabled() {
			out = append(out, sc)
		}
	}
	return out
}

// Default returns a configuration with every section at its defaults and
// no sources
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging:      LoggingConfig{Level: "INFO"},
		Pool:         pool.DefaultConfig(),
		Cache:        smartcache.DefaultConfig(),
		Scheduler:    scheduler.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Redis:        RedisConfig{Window: time.Minute},
	}
}

// Load reads a YAML file, expands environment references and validates
// the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds a configuration without a file. PORT, LOG_LEVEL,
// PERFORMANCE_MODE and REDIS_URL override the defaults; DATABASE_URL
// registers a postgres source named "registry".
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PERFORMANCE_MODE"); v != "" {
		cfg.Orchestrator.PerformanceMode = orchestrator.Mode(strings.ToLower(v))
	}
	cfg.Redis.URL = os.Getenv("REDIS_URL")
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Sources = append(cfg.Sources, SourceConfig{
			Name:          "registry",
			Type:          SourcePostgres,
			ConnectionURL: dsn,
			Reliability:   0.9,
			Authority:     0.9,
		})
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be within 1-65535, got %d", c.Server.Port)
	}
	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("logging.level %q is not one of DEBUG, INFO, WARN, ERROR", c.Logging.Level)
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	var errs []error
	seen := make(map[string]bool)
	for _, s := range c.Sources {
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("source %s: defined twice", s.Name))
		}
		seen[s.Name] = true
		if err := s.validate(c.Redis); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s SourceConfig) validate(redis RedisConfig) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	switch s.Type {
	case SourceHTTP, SourcePostgres:
	default:
		return fmt.Errorf("invalid type %q (want %s or %s)", s.Type, SourceHTTP, SourcePostgres)
	}
	if s.IsEnabled() && s.ConnectionURL == "" {
		return errors.New("connection_url is required")
	}
	if s.Reliability < 0 || s.Reliability > 1 || s.Authority < 0 || s.Authority > 1 {
		return errors.New("reliability and authority must be within [0,1]")
	}
	if s.Timeout < 0 || s.ExpectedLatency < 0 {
		return errors.New("timeout and expected_latency must not be negative")
	}
	if s.Quota < 0 {
		return errors.New("quota must not be negative")
	}
	if s.Quota > 0 && redis.URL == "" {
		return errors.New("quota requires redis.url")
	}
	return nil
}
