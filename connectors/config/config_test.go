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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjg3605-hash/tripradio-sub007/orchestrator"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("PF_HOST", "db.internal")
	t.Setenv("PF_EMPTY", "")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"braced", "host: ${PF_HOST}", "host: db.internal"},
		{"bare", "host: $PF_HOST", "host: db.internal"},
		{"default unused", "host: ${PF_HOST:-localhost}", "host: db.internal"},
		{"default used", "host: ${PF_MISSING:-localhost}", "host: localhost"},
		{"empty falls back", "host: ${PF_EMPTY:-localhost}", "host: localhost"},
		{"missing without default", "host: ${PF_MISSING}", "host: "},
		{"no references", "port: 8080", "port: 8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandEnvVars(tt.in))
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, orchestrator.ModeAccuracy, cfg.Orchestrator.PerformanceMode)
	assert.Empty(t, cfg.Sources)
}

func TestParseExample(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TOURISM_API_KEY", "secret")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Parse([]byte(Example))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.Timeout)
	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrency)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)

	require.Len(t, cfg.Sources, 2)
	db, api := cfg.Sources[0], cfg.Sources[1]

	assert.Equal(t, "heritage_registry", db.Name)
	assert.Equal(t, SourcePostgres, db.Type)
	assert.Equal(t, "postgres://localhost/places?sslmode=disable", db.ConnectionURL)
	assert.Equal(t, 3*time.Second, db.Timeout)
	assert.Equal(t, "places", db.Options["table"])

	assert.Equal(t, "tourism_api", api.Name)
	assert.Equal(t, 600, api.Quota)
	assert.Equal(t, "secret", api.Credentials["api_key"])
	assert.Equal(t, 400*time.Millisecond, api.ExpectedLatency)

	ac := api.AdapterConfig()
	assert.Equal(t, "tourism_api", ac.Name)
	assert.Equal(t, 0.7, ac.Authority)
	assert.Equal(t, 5*time.Second, ac.Timeout)
}

func TestSourcesKeepFileOrder(t *testing.T) {
	cfg, err := Parse([]byte(`
sources:
  zeta: {type: http, connection_url: "http://z"}
  alpha: {type: http, connection_url: "http://a"}
  mid: {type: http, connection_url: "http://m", enabled: false}
`))
	require.NoError(t, err)

	var names []string
	for _, s := range cfg.Sources {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)

	enabled := cfg.Sources.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "alpha", enabled[1].Name)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  port: 7000\n"))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, orchestrator.DefaultConfig(), cfg.Orchestrator)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad port", "server: {port: 70000}", "server.port"},
		{"bad level", "logging: {level: TRACE}", "logging.level"},
		{"bad mode", "orchestrator: {performance_mode: turbo}", "orchestrator"},
		{"bad pool", "pool: {max_connections: 0}", "pool"},
		{"sources not a mapping", "sources: [a, b]", "mapping"},
		{"bad type", "sources: {a: {type: ftp, connection_url: x}}", "invalid type"},
		{"missing url", "sources: {a: {type: http}}", "connection_url is required"},
		{"reliability range", "sources: {a: {type: http, connection_url: x, reliability: 1.5}}", "within [0,1]"},
		{"quota without redis", "sources: {a: {type: http, connection_url: x, quota: 10}}", "requires redis.url"},
		{"negative quota", "sources: {a: {type: http, connection_url: x, quota: -1}}", "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDisabledSourceNeedsNoURL(t *testing.T) {
	_, err := Parse([]byte("sources: {a: {type: http, enabled: false}}"))
	assert.NoError(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "placefusion.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8181\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "8282")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PERFORMANCE_MODE", "SPEED")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("DATABASE_URL", "postgres://places")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 8282, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, orchestrator.ModeSpeed, cfg.Orchestrator.PerformanceMode)
	assert.Equal(t, "redis://cache:6379", cfg.Redis.URL)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "registry", cfg.Sources[0].Name)
	assert.Equal(t, SourcePostgres, cfg.Sources[0].Type)

	t.Setenv("PORT", "abc")
	_, err = LoadFromEnv()
	assert.ErrorContains(t, err, "invalid PORT")
}
