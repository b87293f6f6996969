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

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/connectors/pool"
	"github.com/cjg3605-hash/tripradio-sub007/connectors/registry"
	"github.com/cjg3605-hash/tripradio-sub007/connectors/sdk"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/fusion"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/scheduler"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/smartcache"
)

type fixture struct {
	o        *Orchestrator
	registry *registry.Registry
	metrics  *Metrics
	promReg  *prometheus.Registry
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func newFixture(t *testing.T, cfg Config, verifier Verifier, adapters ...base.Adapter) *fixture {
	t.Helper()

	reg := registry.NewRegistry(nil)
	for _, a := range adapters {
		var ac *base.AdapterConfig
		if m, ok := a.(*sdk.MockAdapter); ok {
			ac = m.Config()
		} else {
			ac = &base.AdapterConfig{Name: a.Name(), Type: a.Type(), Reliability: 0.5, Timeout: time.Second}
		}
		require.NoError(t, reg.Register(a, ac))
	}

	p, err := pool.New(pool.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(p.Close)

	s, err := scheduler.New(scheduler.DefaultConfig(), p)
	require.NoError(t, err)

	c, err := smartcache.New[CachedResult](smartcache.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	promReg := prometheus.NewRegistry()
	m, err := NewMetrics(promReg)
	require.NoError(t, err)

	o, err := New(cfg, Dependencies{
		Sources:   reg,
		Scheduler: s,
		Cache:     c,
		Verifier:  verifier,
		Pool:      p,
		Metrics:   m,
	})
	require.NoError(t, err)
	return &fixture{o: o, registry: reg, metrics: m, promReg: promReg}
}

func gyeongbokgungSources() (*sdk.MockAdapter, *sdk.MockAdapter, *sdk.MockAdapter) {
	a := sdk.NewMockAdapter("unesco", 0.95).SetPlaces(base.PlaceFacts{
		Name:        "Gyeongbokgung Palace",
		Description: "Main royal palace of the Joseon dynasty",
		Categories:  []string{"cultural_heritage"},
	})
	b := sdk.NewMockAdapter("google_places", 0.6).SetPlaces(base.PlaceFacts{
		Name:        "Gyeongbokgung",
		Coordinates: &base.Coordinates{Lat: 37.579, Lng: 126.977},
		Address:     "161 Sajik-ro, Jongno-gu, Seoul",
		Categories:  []string{"tourist_attraction"},
	})
	c := sdk.NewMockAdapter("government", 0.9).
		SetFetchError(base.NewSourceError("government", "fetch", base.CategoryServiceUnavailable, "upstream returned 503", nil))
	return a, b, c
}

func TestIntegrateThreeSourcesOneFailing(t *testing.T) {
	a, b, c := gyeongbokgungSources()
	f := newFixture(t, testConfig(), nil, a, b, c)

	res := f.o.Integrate(context.Background(), "경복궁", nil, IntegrateOptions{
		Sources: []string{"unesco", "google_places", "government"},
	})

	require.True(t, res.Success, "errors: %+v", res.Errors)
	assert.Equal(t, []string{"unesco", "google_places"}, res.SourcesUsed)
	assert.NotEmpty(t, res.RequestID)
	assert.False(t, res.CacheHit)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "government", res.Errors[0].Source)
	assert.Equal(t, base.CategoryServiceUnavailable, res.Errors[0].Category)
	assert.True(t, res.Errors[0].Retryable)
	assert.Equal(t, 4, res.Errors[0].Attempts, "accuracy mode retries three times")
	assert.Equal(t, 4, c.FetchCount())

	record := res.Record
	require.NotNil(t, record)
	assert.Equal(t, "Gyeongbokgung Palace", record.Location.Name)
	require.NotNil(t, record.Location.Coordinates)
	assert.Equal(t, base.Coordinates{Lat: 37.579, Lng: 126.977}, *record.Location.Coordinates)
	assert.Equal(t, "161 Sajik-ro, Jongno-gu, Seoul", record.Location.Address)
	assert.Equal(t, []string{"cultural_heritage", "tourist_attraction"}, record.Location.Categories)

	require.NotNil(t, record.Verification)
	assert.Greater(t, record.Confidence, 0.0)
	assert.Less(t, record.Confidence, 1.0)
	assert.InDelta(t, fusion.Confidence((0.95+0.6)/2, record.Verification.Confidence), record.Confidence, 1e-9)
	assert.False(t, record.LastVerified.IsZero())
}

func TestIntegrateAllAuthenticationFailures(t *testing.T) {
	var adapters []base.Adapter
	var mocks []*sdk.MockAdapter
	for _, name := range []string{"unesco", "wikidata", "google_places"} {
		m := sdk.NewMockAdapter(name, 0.8).SetFetchError(base.NewStatusError(name, "fetch", 401, "invalid api key"))
		mocks = append(mocks, m)
		adapters = append(adapters, m)
	}
	f := newFixture(t, testConfig(), nil, adapters...)

	res := f.o.Integrate(context.Background(), "Bulguksa", nil, IntegrateOptions{})

	assert.False(t, res.Success)
	assert.Nil(t, res.Record)
	assert.Equal(t, ReasonAllSourcesFailed, res.FailureReason)
	assert.False(t, res.RetryRecommended)
	assert.Empty(t, res.SourcesUsed)
	require.Len(t, res.Errors, 3)
	for _, e := range res.Errors {
		assert.Equal(t, base.CategoryAuthentication, e.Category)
		assert.Equal(t, base.SeverityCritical, e.Severity)
		assert.False(t, e.Retryable)
	}
	assert.Contains(t, res.Recommendations, "check the API credentials of the failing sources")
	for _, m := range mocks {
		assert.Equal(t, 1, m.FetchCount(), "%s must not be retried", m.Name())
	}
}

func TestIntegrateRetryRecommendedForTransientFailures(t *testing.T) {
	m := sdk.NewMockAdapter("wikidata", 0.8).SetFetchError(errors.New("connection refused"))
	f := newFixture(t, testConfig(), nil, m)

	res := f.o.Integrate(context.Background(), "Seokguram", nil, IntegrateOptions{Mode: ModeSpeed})
	assert.False(t, res.Success)
	assert.True(t, res.RetryRecommended)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, base.CategoryNetwork, res.Errors[0].Category)
	assert.Equal(t, 2, m.FetchCount(), "speed mode retries once")
}

func TestIntegrateCachesResult(t *testing.T) {
	a, b, _ := gyeongbokgungSources()
	f := newFixture(t, testConfig(), nil, a, b)
	ctx := context.Background()

	first := f.o.Integrate(ctx, "경복궁", nil, IntegrateOptions{})
	require.True(t, first.Success)

	second := f.o.Integrate(ctx, "경복궁", nil, IntegrateOptions{})
	require.True(t, second.Success)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.SourcesUsed, second.SourcesUsed)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, 1, a.FetchCount())

	second.Record.Location.Name = "mutated"
	third := f.o.Integrate(ctx, "경복궁", nil, IntegrateOptions{})
	assert.Equal(t, "Gyeongbokgung Palace", third.Record.Location.Name)

	bypass := f.o.Integrate(ctx, "경복궁", nil, IntegrateOptions{BypassCache: true})
	assert.False(t, bypass.CacheHit)
	assert.Equal(t, 2, a.FetchCount())

	assert.Equal(t, 1, f.o.ClearCache("integrated"))
	again := f.o.Integrate(ctx, "경복궁", nil, IntegrateOptions{})
	assert.False(t, again.CacheHit)
}

func TestIntegrateCanceledCallerDoesNotFailSharedRequest(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	a := sdk.NewMockAdapter("unesco", 0.95)
	a.SetOnFetch(func(ctx context.Context, query string, _ *base.Coordinates) ([]base.SourceData, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []base.SourceData{{
			SourceID:    "unesco",
			Place:       base.PlaceFacts{Name: "Bulguksa Temple"},
			Reliability: 0.95,
			RetrievedAt: time.Now(),
		}}, nil
	})
	f := newFixture(t, testConfig(), nil, a)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := make(chan *IntegrationResult, 1)
	go func() { leader <- f.o.Integrate(leaderCtx, "불국사", nil, IntegrateOptions{}) }()
	<-started

	follower := make(chan *IntegrationResult, 1)
	go func() { follower <- f.o.Integrate(context.Background(), "불국사", nil, IntegrateOptions{}) }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	lr := <-leader
	assert.False(t, lr.Success)
	assert.Equal(t, ReasonCanceled, lr.FailureReason)
	require.Len(t, lr.Errors, 1)
	assert.Equal(t, "orchestrator", lr.Errors[0].Source)

	close(release)
	fr := <-follower
	require.True(t, fr.Success, "errors: %+v", fr.Errors)
	assert.Equal(t, []string{"unesco"}, fr.SourcesUsed)
	assert.Equal(t, 1, a.FetchCount())

	// the shared run finished and cached its answer after the leader left
	again := f.o.Integrate(context.Background(), "불국사", nil, IntegrateOptions{})
	assert.True(t, again.CacheHit)
	assert.Equal(t, 1, a.FetchCount())
}

func TestIntegrateFallback(t *testing.T) {
	primary := sdk.NewMockAdapter("wikidata", 0.8).
		SetFetchError(base.NewSourceError("wikidata", "fetch", base.CategoryNotFound, "no entity", nil))
	backup := sdk.NewMockAdapter("unesco", 0.95).SetPlaces(base.PlaceFacts{Name: "Haeinsa"})
	f := newFixture(t, testConfig(), nil, primary, backup)

	res := f.o.Integrate(context.Background(), "Haeinsa", nil, IntegrateOptions{Sources: []string{"wikidata"}})
	require.True(t, res.Success)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, []string{"unesco"}, res.SourcesUsed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, base.CategoryNotFound, res.Errors[0].Category)

	require.NoError(t, f.o.UpdateConfig(func(c *Config) { c.EnableFallbacks = false }))
	res = f.o.Integrate(context.Background(), "Haeinsa", nil, IntegrateOptions{Sources: []string{"wikidata"}, BypassCache: true})
	assert.False(t, res.Success)
	assert.False(t, res.FallbackUsed)
}

func TestIntegrateEmptyAnswerIsNotFound(t *testing.T) {
	m := sdk.NewMockAdapter("wikidata", 0.8)
	f := newFixture(t, testConfig(), nil, m)

	res := f.o.Integrate(context.Background(), "Atlantis", nil, IntegrateOptions{})
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, base.CategoryNotFound, res.Errors[0].Category)
	assert.Equal(t, 1, m.FetchCount())
}

func TestIntegrateUnknownSource(t *testing.T) {
	a, _, _ := gyeongbokgungSources()
	f := newFixture(t, testConfig(), nil, a)

	res := f.o.Integrate(context.Background(), "경복궁", nil, IntegrateOptions{Sources: []string{"nope", "unesco"}})
	require.True(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "nope", res.Errors[0].Source)
	assert.Equal(t, base.CategoryNotFound, res.Errors[0].Category)

	res = f.o.Integrate(context.Background(), "경복궁", nil, IntegrateOptions{Sources: []string{"nope"}})
	assert.False(t, res.Success)
	assert.Equal(t, ReasonNoSources, res.FailureReason)
}

func TestIntegrateFallbackCoordinates(t *testing.T) {
	a, _, _ := gyeongbokgungSources()
	f := newFixture(t, testConfig(), nil, a)
	coords := &base.Coordinates{Lat: 37.5796, Lng: 126.9770}

	res := f.o.Integrate(context.Background(), "경복궁", coords, IntegrateOptions{})
	require.True(t, res.Success)
	assert.Equal(t, *coords, *res.Record.Location.Coordinates)
	calls := a.FetchCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, coords, calls[0].Coords)
}

func TestIntegrateInvalidRequest(t *testing.T) {
	f := newFixture(t, testConfig(), nil, sdk.NewMockAdapter("unesco", 0.9))

	tests := []struct {
		name   string
		query  string
		coords *base.Coordinates
		opts   IntegrateOptions
	}{
		{"empty query", "  ", nil, IntegrateOptions{}},
		{"bad coordinates", "x", &base.Coordinates{Lat: 120, Lng: 0}, IntegrateOptions{}},
		{"bad mode", "x", nil, IntegrateOptions{Mode: "turbo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.o.Integrate(context.Background(), tt.query, tt.coords, tt.opts)
			assert.False(t, res.Success)
			assert.Equal(t, ReasonInvalidRequest, res.FailureReason)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, base.CategoryDataFormat, res.Errors[0].Category)
		})
	}
}

type verifierFunc func(ctx context.Context, r *fusion.Record) (*fusion.Verification, error)

func (f verifierFunc) Verify(ctx context.Context, r *fusion.Record) (*fusion.Verification, error) {
	return f(ctx, r)
}

func TestIntegrateVerifierErrorDegrades(t *testing.T) {
	a, _, _ := gyeongbokgungSources()
	failing := verifierFunc(func(context.Context, *fusion.Record) (*fusion.Verification, error) {
		return nil, errors.New("verification backend offline")
	})
	f := newFixture(t, testConfig(), failing, a)

	res := f.o.Integrate(context.Background(), "경복궁", nil, IntegrateOptions{})
	require.True(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "verification", res.Errors[0].Source)
	assert.Equal(t, base.CategoryUnknown, res.Errors[0].Category)
	assert.Zero(t, res.Record.Verification.Confidence)
	assert.InDelta(t, 0.95/2, res.Record.Confidence, 1e-9)
	assert.NotEmpty(t, res.Recommendations, "confidence is below the default threshold")
}

func TestIntegrateRecoversFromPanic(t *testing.T) {
	a, _, _ := gyeongbokgungSources()
	panicking := verifierFunc(func(context.Context, *fusion.Record) (*fusion.Verification, error) {
		panic("nil map write")
	})
	f := newFixture(t, testConfig(), panicking, a)

	res := f.o.Integrate(context.Background(), "경복궁", nil, IntegrateOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, ReasonInternalError, res.FailureReason)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "nil map write")
	assert.NotEmpty(t, res.RequestID)
}

func TestIntegrateLowConfidenceWarning(t *testing.T) {
	a, _, _ := gyeongbokgungSources()
	cfg := testConfig()
	cfg.MinConfidenceThreshold = 0.99
	f := newFixture(t, cfg, nil, a)

	res := f.o.Integrate(context.Background(), "경복궁", nil, IntegrateOptions{})
	require.True(t, res.Success)
	require.Len(t, res.Recommendations, 1)
	assert.Contains(t, res.Recommendations[0], "below the 0.99 threshold")
}

func TestIntegrateMaxDataSources(t *testing.T) {
	var adapters []base.Adapter
	for _, name := range []string{"a", "b", "c"} {
		adapters = append(adapters, sdk.NewMockAdapter(name, 0.8).SetPlaces(base.PlaceFacts{Name: "Jongmyo"}))
	}
	cfg := testConfig()
	cfg.MaxDataSources = 2
	f := newFixture(t, cfg, nil, adapters...)

	res := f.o.Integrate(context.Background(), "Jongmyo", nil, IntegrateOptions{})
	require.True(t, res.Success)
	assert.Equal(t, []string{"a", "b"}, res.SourcesUsed)
	assert.Zero(t, adapters[2].(*sdk.MockAdapter).FetchCount())
}

func TestCacheKey(t *testing.T) {
	coords := &base.Coordinates{Lat: 37.5796, Lng: 126.977}
	assert.Equal(t, `integrated:경복궁:37.5796:126.9770:{"mode":"accuracy"}`,
		CacheKey("경복궁", coords, IntegrateOptions{Mode: ModeAccuracy}))
	assert.Equal(t,
		CacheKey("경복궁", coords, IntegrateOptions{Mode: ModeAccuracy}),
		CacheKey("경복궁", &base.Coordinates{Lat: 37.57961, Lng: 126.97704}, IntegrateOptions{Mode: ModeAccuracy}),
		"coordinates within the fourth decimal share a key")
	assert.NotEqual(t,
		CacheKey("경복궁", coords, IntegrateOptions{Mode: ModeAccuracy}),
		CacheKey("경복궁", &base.Coordinates{Lat: 37.5797, Lng: 126.977}, IntegrateOptions{Mode: ModeAccuracy}))
	assert.Equal(t, `integrated:x:no-coords:{"sources":["a","b"],"mode":"speed","language":"ko"}`,
		CacheKey("x", nil, IntegrateOptions{Sources: []string{"a", "b"}, Mode: ModeSpeed, Language: "ko"}))
	assert.Equal(t,
		CacheKey("x", nil, IntegrateOptions{Mode: ModeSpeed}),
		CacheKey("x", nil, IntegrateOptions{Mode: ModeSpeed, BypassCache: true}))
}

func TestPreloadReplaysRememberedRequest(t *testing.T) {
	a, _, _ := gyeongbokgungSources()
	f := newFixture(t, testConfig(), nil, a)
	ctx := context.Background()

	_, ok, err := f.o.preload(ctx, "integrated:unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	res := f.o.Integrate(ctx, "경복궁", nil, IntegrateOptions{})
	require.True(t, res.Success)
	key := CacheKey("경복궁", nil, IntegrateOptions{Mode: ModeAccuracy})

	v, ok, err := f.o.preload(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Gyeongbokgung Palace", v.Record.Location.Name)
	assert.Equal(t, 2, a.FetchCount())
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, testConfig(), nil,
		sdk.NewMockAdapter("up", 0.9),
		sdk.NewMockAdapter("down", 0.9).SetHealthy(false),
		sdk.NewMockAdapter("broken", 0.9).SetHealthError(errors.New("timeout")),
	)
	assert.Equal(t, map[string]bool{"up": true, "down": false, "broken": false},
		f.o.HealthCheck(context.Background()))
}

func TestUpdateConfig(t *testing.T) {
	f := newFixture(t, testConfig(), nil, sdk.NewMockAdapter("unesco", 0.9))

	err := f.o.UpdateConfig(func(c *Config) { c.MinConfidenceThreshold = 2 })
	assert.Error(t, err)
	assert.Equal(t, 0.7, f.o.Config().MinConfidenceThreshold)

	require.NoError(t, f.o.UpdateConfig(func(c *Config) {
		c.PerformanceMode = ModeSpeed
		c.PreloadMemory = 16
	}))
	assert.Equal(t, ModeSpeed, f.o.Config().PerformanceMode)
}

func TestStatsAndMetrics(t *testing.T) {
	a, b, c := gyeongbokgungSources()
	f := newFixture(t, testConfig(), nil, a, b, c)
	ctx := context.Background()

	f.o.Integrate(ctx, "경복궁", nil, IntegrateOptions{})
	f.o.Integrate(ctx, "경복궁", nil, IntegrateOptions{})

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.integrations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.integrations.WithLabelValues("cache_hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.tasks.WithLabelValues("unesco", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.tasks.WithLabelValues("government", string(base.CategoryServiceUnavailable))))

	stats := f.o.Stats()
	assert.Equal(t, int64(2), stats.Requests)
	assert.Zero(t, stats.Failures)
	assert.Equal(t, 100.0, stats.Performance.Uptime)
	assert.Equal(t, 1, stats.Cache.TotalEntries)
	assert.Equal(t, int64(3), stats.Scheduler.Executed)
	assert.Contains(t, stats.Pool, "unesco")
	assert.Equal(t, []string{"unesco", "google_places", "government"}, stats.Sources)

	collector := NewStatsCollector(f.o)
	require.NoError(t, f.promReg.Register(collector))
	assert.Equal(t, 1, testutil.CollectAndCount(collector, "placefusion_cache_entries"))
	assert.Equal(t, 3, testutil.CollectAndCount(collector, "placefusion_breaker_state"))
}
