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
	"regexp"
	"strings"
)

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands ${VAR}, ${VAR:-default} and $VAR references.
// Undefined variables without a default expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		def := ""
		if idx := strings.Index(name, ":-"); idx != -1 {
			def = name[idx+2:]
			name = name[:idx]
		}
		if v := os.Getenv(name); v != "" {
			return v
		}
		return def
	})
}

// Example is a commented configuration file covering every section
const Example = `# placefusion configuration
# Environment variables may be referenced as ${VAR} or ${VAR:-default}.

server:
  port: ${PORT:-8080}
  cors_origins: ["*"]
  shutdown_timeout: 15s

logging:
  level: ${LOG_LEVEL:-INFO}

pool:
  max_connections: 10
  min_connections: 1
  acquire_timeout: 5s
  idle_timeout: 5m
  reap_interval: 1m

cache:
  default_ttl: 1h
  max_size: 104857600
  preload_threshold: 0.8
  adaptive_ttl: true
  compression_enabled: true
  compression_threshold: 1024

scheduler:
  max_concurrency: 8
  timeout: 15s
  failure_threshold: 5
  recovery_timeout: 30s

orchestrator:
  timeout: 30s
  retry_attempts: 3
  min_confidence_threshold: 0.7
  max_data_sources: 5
  enable_fallbacks: true
  performance_mode: accuracy

redis:
  url: ${REDIS_URL}
  window: 1m

sources:
  heritage_registry:
    type: postgres
    connection_url: ${DATABASE_URL:-postgres://localhost/places?sslmode=disable}
    reliability: 0.95
    authority: 0.95
    timeout: 3s
    options:
      table: places
  tourism_api:
    type: http
    connection_url: https://api.example.com
    reliability: 0.8
    authority: 0.7
    timeout: 5s
    expected_latency: 400ms
    quota: 600
    credentials:
      api_key: ${TOURISM_API_KEY}
    options:
      auth_type: api-key
      search_path: /v1/places
      nearby_path: /v1/places/nearby
      rate: 10
      burst: 5
`
