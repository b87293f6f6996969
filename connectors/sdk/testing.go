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

package sdk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
)

// MockAdapter is a scriptable base.Adapter for tests
type MockAdapter struct {
	name        string
	adapterType string
	reliability float64

	places      []base.PlaceFacts
	fetchError  error
	nearby      []base.PlaceFacts
	healthError error
	healthy     bool
	delay       time.Duration

	onFetch func(context.Context, string, *base.Coordinates) ([]base.SourceData, error)

	fetchCalls  []FetchCall
	nearbyCalls int
	healthCalls int
	closeCalls  int

	mu sync.RWMutex
}

// FetchCall records a Fetch call
type FetchCall struct {
	Query  string
	Coords *base.Coordinates
	Time   time.Time
}

// NewMockAdapter creates a healthy mock that returns no places
func NewMockAdapter(name string, reliability float64) *MockAdapter {
	return &MockAdapter{
		name:        name,
		adapterType: "mock",
		reliability: reliability,
		healthy:     true,
	}
}

// Name implements base.Adapter
func (m *MockAdapter) Name() string { return m.name }

// Type implements base.Adapter
func (m *MockAdapter) Type() string { return m.adapterType }

// Fetch implements base.Adapter. The configured delay is interrupted by ctx.
func (m *MockAdapter) Fetch(ctx context.Context, query string, coords *base.Coordinates) ([]base.SourceData, error) {
	m.mu.Lock()
	m.fetchCalls = append(m.fetchCalls, FetchCall{Query: query, Coords: coords, Time: time.Now()})
	onFetch, places, fetchErr, delay := m.onFetch, m.places, m.fetchError, m.delay
	m.mu.Unlock()

	if onFetch != nil {
		return onFetch(ctx, query, coords)
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return m.wrap(places, delay), nil
}

// SearchNearby implements base.NearbySearcher
func (m *MockAdapter) SearchNearby(ctx context.Context, center base.Coordinates, radiusMeters float64) ([]base.SourceData, error) {
	m.mu.Lock()
	m.nearbyCalls++
	nearby, fetchErr := m.nearby, m.fetchError
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	var within []base.PlaceFacts
	for _, p := range nearby {
		if p.Coordinates != nil && base.HaversineMeters(center, *p.Coordinates) <= radiusMeters {
			within = append(within, p)
		}
	}
	return m.wrap(within, 0), nil
}

func (m *MockAdapter) wrap(places []base.PlaceFacts, latency time.Duration) []base.SourceData {
	out := make([]base.SourceData, 0, len(places))
	for _, p := range places {
		out = append(out, base.SourceData{
			SourceID:    m.name,
			SourceName:  m.name,
			Reliability: m.reliability,
			Latency:     latency,
			RetrievedAt: time.Now(),
			Place:       p,
		})
	}
	return out
}

// HealthCheck implements base.Adapter
func (m *MockAdapter) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthCalls++
	if m.healthError != nil {
		return nil, m.healthError
	}
	return &base.HealthStatus{Healthy: m.healthy, Timestamp: time.Now()}, nil
}

// Close implements base.Adapter
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

// SetPlaces sets the places returned by Fetch
func (m *MockAdapter) SetPlaces(places ...base.PlaceFacts) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.places = places
	return m
}

// SetNearby sets the places SearchNearby filters by distance
func (m *MockAdapter) SetNearby(places ...base.PlaceFacts) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nearby = places
	return m
}

// SetFetchError makes Fetch and SearchNearby fail
func (m *MockAdapter) SetFetchError(err error) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchError = err
	return m
}

// SetDelay delays every Fetch
func (m *MockAdapter) SetDelay(d time.Duration) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// SetHealthy sets the reported health
func (m *MockAdapter) SetHealthy(healthy bool) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
	return m
}

// SetHealthError makes HealthCheck fail
func (m *MockAdapter) SetHealthError(err error) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthError = err
	return m
}

// SetOnFetch replaces Fetch entirely
func (m *MockAdapter) SetOnFetch(fn func(context.Context, string, *base.Coordinates) ([]base.SourceData, error)) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFetch = fn
	return m
}

// FetchCalls returns the recorded Fetch calls
func (m *MockAdapter) FetchCalls() []FetchCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]FetchCall(nil), m.fetchCalls...)
}

// FetchCount returns how many times Fetch was called
func (m *MockAdapter) FetchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fetchCalls)
}

// NearbyCalls returns how many times SearchNearby was called
func (m *MockAdapter) NearbyCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nearbyCalls
}

// HealthCalls returns how many times HealthCheck was called
func (m *MockAdapter) HealthCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthCalls
}

// CloseCalls returns how many times Close was called
func (m *MockAdapter) CloseCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closeCalls
}

// Reset clears call tracking
func (m *MockAdapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls = nil
	m.nearbyCalls = 0
	m.healthCalls = 0
	m.closeCalls = 0
}

// Config returns an AdapterConfig matching the mock
func (m *MockAdapter) Config() *base.AdapterConfig {
	return &base.AdapterConfig{
		Name:        m.name,
		Type:        m.adapterType,
		Reliability: m.reliability,
		Authority:   m.reliability,
		Timeout:     time.Second,
	}
}

// TestHarness bundles a test context with assertion helpers for adapters
type TestHarness struct {
	t      *testing.T
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTestHarness creates a harness whose context is cancelled on cleanup
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	h := &TestHarness{t: t, ctx: ctx, cancel: cancel}
	t.Cleanup(cancel)
	return h
}

// Context returns the harness context
func (h *TestHarness) Context() context.Context {
	return h.ctx
}

// AssertHealthy fails the test unless the adapter reports healthy
func (h *TestHarness) AssertHealthy(a base.Adapter) {
	h.t.Helper()
	status, err := a.HealthCheck(h.ctx)
	if err != nil {
		h.t.Fatalf("health check failed: %v", err)
	}
	if status == nil || !status.Healthy {
		h.t.Fatalf("expected %s to be healthy, got %+v", a.Name(), status)
	}
}

// AssertCategory fails the test unless err classifies as want
func (h *TestHarness) AssertCategory(err error, want base.ErrorCategory) {
	h.t.Helper()
	if err == nil {
		h.t.Fatalf("expected a %s error, got nil", want)
	}
	if got := base.Classify(err); got != want {
		h.t.Fatalf("expected category %s, got %s (%v)", want, got, err)
	}
}

// FetchOne fetches and requires exactly one result
func (h *TestHarness) FetchOne(a base.Adapter, query string, coords *base.Coordinates) base.SourceData {
	h.t.Helper()
	data, err := a.Fetch(h.ctx, query, coords)
	if err != nil {
		h.t.Fatalf("fetch %q from %s: %v", query, a.Name(), err)
	}
	if len(data) != 1 {
		h.t.Fatalf("expected 1 result from %s, got %d", a.Name(), len(data))
	}
	return data[0]
}
