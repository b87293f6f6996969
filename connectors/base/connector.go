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

package base

import (
	"context"
	"encoding/json"
	"time"
)

// Adapter is implemented by every place-data source. Fetch must honour ctx
// cancellation: the scheduler cancels it when a task times out.
type Adapter interface {
	Name() string
	Type() string

	Fetch(ctx context.Context, query string, coords *Coordinates) ([]SourceData, error)
	HealthCheck(ctx context.Context) (*HealthStatus, error)
	Close() error
}

// NearbySearcher is implemented by adapters that can look up places around a point
type NearbySearcher interface {
	SearchNearby(ctx context.Context, center Coordinates, radiusMeters float64) ([]SourceData, error)
}

// AdapterConfig holds the configuration for one source adapter.
// ConnectionURL is a base URL for http sources and a DSN for postgres.
// Reliability is copied onto every SourceData the adapter returns; Authority
// and ExpectedLatency feed the accuracy and speed priority modes.
type AdapterConfig struct {
	Name            string                 `json:"name" yaml:"name"`
	Type            string                 `json:"type" yaml:"type"`
	ConnectionURL   string                 `json:"connection_url" yaml:"connection_url"`
	Credentials     map[string]string      `json:"credentials" yaml:"credentials"`
	Options         map[string]interface{} `json:"options" yaml:"options"`
	Timeout         time.Duration          `json:"timeout" yaml:"timeout"`
	Reliability     float64                `json:"reliability" yaml:"reliability"`
	Authority       float64                `json:"authority" yaml:"authority"`
	ExpectedLatency time.Duration          `json:"expected_latency" yaml:"expected_latency"`
}

// Coordinates is a WGS84 point
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within latitude/longitude bounds
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// PlaceFacts is the normalized set of facts a source reports about a place
type PlaceFacts struct {
	Name         string       `json:"name,omitempty"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
	Address      string       `json:"address,omitempty"`
	Country      string       `json:"country,omitempty"`
	Region       string       `json:"region,omitempty"`
	Description  string       `json:"description,omitempty"`
	Categories   []string     `json:"categories,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Significance string       `json:"significance,omitempty"`
	Established  string       `json:"established,omitempty"`
	Facts        []string     `json:"facts,omitempty"`
}

// SourceData is one provider's answer for a query
type SourceData struct {
	SourceID    string          `json:"source_id"`
	SourceName  string          `json:"source_name"`
	Reliability float64         `json:"reliability"`
	Latency     time.Duration   `json:"latency"`
	RetrievedAt time.Time       `json:"retrieved_at"`
	Place       PlaceFacts      `json:"place"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// HealthStatus represents the health of a source adapter
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	Latency   time.Duration     `json:"latency"`
	Details   map[string]string `json:"details"`
	Timestamp time.Time         `json:"timestamp"`
	Error     string            `json:"error"`
}
