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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/connectors/pool"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/fusion"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/scheduler"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/smartcache"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/verification"
	"github.com/cjg3605-hash/tripradio-sub007/shared/logger"
)

// SourceRegistry resolves source names to adapters and their settings
type SourceRegistry interface {
	Get(name string) (base.Adapter, error)
	// Loaded returns the adapter without instantiating it
	Loaded(name string) (base.Adapter, bool)
	Config(name string) (base.AdapterConfig, error)
	List() []string
}

// Verifier cross-checks a fused record
type Verifier interface {
	Verify(ctx context.Context, r *fusion.Record) (*fusion.Verification, error)
}

// PoolStats exposes connection pool statistics
type PoolStats interface {
	Stats() map[string]pool.Stats
}

// Dependencies are the collaborators an Orchestrator is built from.
// Sources, Scheduler and Cache are required.
type Dependencies struct {
	Sources   SourceRegistry
	Scheduler *scheduler.Scheduler
	Cache     *smartcache.Cache[CachedResult]
	Verifier  Verifier
	Pool      PoolStats
	Metrics   *Metrics
	Logger    *logger.Logger
	Clock     clock.PassiveClock
}

// request is what preloading needs to replay an integration
type request struct {
	query  string
	coords *base.Coordinates
	opts   IntegrateOptions
}

type latencyStat struct {
	total time.Duration
	count int64
}

// Orchestrator fans a place query out to the registered sources, fuses and
// verifies the answers, and caches the result.
type Orchestrator struct {
	mu  sync.RWMutex
	cfg Config

	sources   SourceRegistry
	sched     *scheduler.Scheduler
	cache     *smartcache.Cache[CachedResult]
	verifier  Verifier
	pool      PoolStats
	metrics   *Metrics
	log       *logger.Logger
	clock     clock.PassiveClock
	flight    singleflight.Group
	requests  *lru.Cache[string, request]
	startedAt time.Time

	statsMu   sync.Mutex
	perf      PerformanceMetrics
	latencies map[string]*latencyStat
	total     int64
	failures  int64
}

// New creates an Orchestrator and installs its preloader on the cache
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}
	if deps.Sources == nil || deps.Scheduler == nil || deps.Cache == nil {
		return nil, errors.New("orchestrator requires sources, scheduler and cache")
	}
	if deps.Verifier == nil {
		deps.Verifier = verification.New(verification.DefaultConfig())
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard("orchestrator")
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	requests, err := lru.New[string, request](cfg.PreloadMemory)
	if err != nil {
		return nil, fmt.Errorf("create request memory: %w", err)
	}

	o := &Orchestrator{
		cfg:       cfg,
		sources:   deps.Sources,
		sched:     deps.Scheduler,
		cache:     deps.Cache,
		verifier:  deps.Verifier,
		pool:      deps.Pool,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		clock:     deps.Clock,
		requests:  requests,
		startedAt: deps.Clock.Now(),
		perf:      PerformanceMetrics{Uptime: 100},
		latencies: make(map[string]*latencyStat),
	}
	o.cache.SetPreloader(o.preload)
	return o, nil
}

// Config returns the current configuration
func (o *Orchestrator) Config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// UpdateConfig applies fn to a copy of the configuration and swaps it in
// if the result is valid
func (o *Orchestrator) UpdateConfig(fn func(*Config)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	next := o.cfg
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	if next.PreloadMemory != o.cfg.PreloadMemory {
		o.requests.Resize(next.PreloadMemory)
	}
	o.cfg = next
	o.log.Info("", "configuration updated", map[string]interface{}{
		"performance_mode": string(next.PerformanceMode),
		"max_data_sources": next.MaxDataSources,
	})
	return nil
}

// CacheKey builds the cache key of an integration request. Coordinates are
// rounded to four decimal places (about 11 m).
func CacheKey(query string, coords *base.Coordinates, opts IntegrateOptions) string {
	coordPart := "no-coords"
	if coords != nil {
		coordPart = strconv.FormatFloat(coords.Lat, 'f', 4, 64) + ":" + strconv.FormatFloat(coords.Lng, 'f', 4, 64)
	}
	optPart, err := json.Marshal(opts)
	if err != nil {
		optPart = []byte("{}")
	}
	return "integrated:" + query + ":" + coordPart + ":" + string(optPart)
}

func (o *Orchestrator) normalize(opts IntegrateOptions, cfg Config) IntegrateOptions {
	if opts.Mode == "" {
		opts.Mode = cfg.PerformanceMode
	}
	if len(opts.Sources) > 0 {
		opts.Sources = append([]string(nil), opts.Sources...)
	}
	return opts
}

// Integrate collects facts about query from the requested sources, fuses
// and verifies them. It never panics and never returns a nil result.
func (o *Orchestrator) Integrate(ctx context.Context, query string, coords *base.Coordinates, opts IntegrateOptions) (res *IntegrationResult) {
	start := o.clock.Now()
	requestID := uuid.New().String()
	cfg := o.Config()
	opts = o.normalize(opts, cfg)

	defer func() {
		if r := recover(); r != nil {
			res = o.panicResult(requestID, r)
		}
		res.RequestID = requestID
		res.Performance = o.observe(res, opts.Mode, start)
	}()

	query = strings.TrimSpace(query)
	if err := validateRequest(query, coords, opts); err != nil {
		return &IntegrationResult{
			Errors:        []CategorizedError{categorize("orchestrator", base.NewSourceError("orchestrator", "integrate", base.CategoryDataFormat, err.Error(), nil), 0)},
			FailureReason: ReasonInvalidRequest,
			SourcesUsed:   []string{},
		}
	}

	key := CacheKey(query, coords, opts)
	o.requests.Add(key, request{query: query, coords: coords, opts: opts})

	if !opts.BypassCache {
		if cached, ok := o.cache.Get(key); ok && cached.Record != nil {
			o.log.Debug(requestID, "cache hit", map[string]interface{}{"key": key})
			return &IntegrationResult{
				Success:     true,
				Record:      cached.Record,
				Errors:      []CategorizedError{},
				SourcesUsed: cached.SourcesUsed,
				CacheHit:    true,
			}
		}
	}

	// identical requests share one run that outlives any single caller
	ch := o.flight.DoChan(key, func() (v interface{}, _ error) {
		defer func() {
			if r := recover(); r != nil {
				v = o.panicResult(requestID, r)
			}
		}()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Timeout)
		defer cancel()

		res := o.integrate(runCtx, requestID, query, coords, opts, cfg)
		if res.Success {
			o.store(requestID, key, res, opts.Mode, cfg)
		}
		return res, nil
	})

	select {
	case r := <-ch:
		out := *r.Val.(*IntegrationResult)
		return &out
	case <-ctx.Done():
		o.log.Info(requestID, "caller gave up waiting for integration", map[string]interface{}{"key": key})
		return &IntegrationResult{
			Errors:        []CategorizedError{categorize("orchestrator", ctx.Err(), 0)},
			FailureReason: ReasonCanceled,
			SourcesUsed:   []string{},
		}
	}
}

func (o *Orchestrator) panicResult(requestID string, r interface{}) *IntegrationResult {
	o.log.Error(requestID, "integration panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
	return &IntegrationResult{
		RequestID:     requestID,
		Errors:        []CategorizedError{categorize("orchestrator", fmt.Errorf("internal error: %v", r), 0)},
		FailureReason: ReasonInternalError,
		SourcesUsed:   []string{},
	}
}

func validateRequest(query string, coords *base.Coordinates, opts IntegrateOptions) error {
	if query == "" {
		return errors.New("query must not be empty")
	}
	if coords != nil && !coords.Valid() {
		return fmt.Errorf("coordinates out of range: %v,%v", coords.Lat, coords.Lng)
	}
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return err
	}
	return nil
}

// integrate runs the uncached path: batch, optional fallback batch, fusion,
// verification
func (o *Orchestrator) integrate(ctx context.Context, requestID, query string, coords *base.Coordinates, opts IntegrateOptions, cfg Config) *IntegrationResult {
	res := &IntegrationResult{Errors: []CategorizedError{}, SourcesUsed: []string{}}

	requested, unknown := o.selectSources(opts.Sources, cfg)
	for _, name := range unknown {
		res.Errors = append(res.Errors, categorize(name, base.NewSourceError(name, "integrate", base.CategoryNotFound, "source not registered", nil), 0))
	}
	if len(requested) == 0 {
		res.FailureReason = ReasonNoSources
		res.Recommendations = []string{"register at least one data source or check the requested source names"}
		return res
	}

	collected, errs, perf := o.collect(ctx, requestID, query, coords, requested, opts.Mode, cfg)
	res.Errors = append(res.Errors, errs...)
	res.Batch = &perf

	if len(collected) == 0 && cfg.EnableFallbacks && ctx.Err() == nil {
		if rest := o.fallbackSources(requested, unknown, cfg); len(rest) > 0 {
			o.log.Warn(requestID, "all requested sources failed, trying fallbacks", map[string]interface{}{"fallbacks": rest})
			res.FallbackUsed = true
			collected, errs, perf = o.collect(ctx, requestID, query, coords, rest, opts.Mode, cfg)
			res.Errors = append(res.Errors, errs...)
			res.Batch = &perf
		}
	}

	if len(collected) == 0 {
		res.FailureReason = ReasonAllSourcesFailed
		res.Recommendations = failureRecommendations(res.Errors)
		for _, e := range res.Errors {
			if e.Retryable {
				res.RetryRecommended = true
				break
			}
		}
		o.log.Warn(requestID, "all data sources failed", map[string]interface{}{
			"query":  query,
			"errors": len(res.Errors),
		})
		return res
	}

	now := o.clock.Now()
	record := fusion.Fuse(collected, fusion.Options{Fallback: coords, Language: opts.Language, Now: now})

	verdict, err := o.verifier.Verify(ctx, record)
	if err != nil {
		o.log.ErrorWithSource(requestID, "verification failed", "verification", string(base.CategoryUnknown), err, nil)
		res.Errors = append(res.Errors, CategorizedError{
			Source:      "verification",
			Category:    base.CategoryUnknown,
			Severity:    base.CategoryUnknown.Severity(),
			Message:     err.Error(),
			UserMessage: base.CategoryUnknown.UserMessage(),
			Retryable:   true,
		})
		verdict = &fusion.Verification{Method: verification.MethodCrossReference, Conflicts: []fusion.Conflict{}, VerifiedAt: now}
	}
	record.Verification = verdict
	record.Confidence = fusion.Confidence(fusion.MeanReliability(collected), verdict.Confidence)
	record.LastVerified = now

	if record.Confidence < cfg.MinConfidenceThreshold {
		o.log.Warn(requestID, "low confidence result", map[string]interface{}{
			"confidence": record.Confidence,
			"threshold":  cfg.MinConfidenceThreshold,
		})
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("confidence %.2f is below the %.2f threshold; treat this record with caution", record.Confidence, cfg.MinConfidenceThreshold))
	}

	for _, s := range collected {
		res.SourcesUsed = append(res.SourcesUsed, s.SourceID)
	}
	res.Success = true
	res.Record = record
	return res
}

// selectSources resolves the requested names, or all registered sources,
// capped at MaxDataSources
func (o *Orchestrator) selectSources(names []string, cfg Config) (known, unknown []string) {
	if len(names) == 0 {
		names = o.sources.List()
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, err := o.sources.Config(name); err != nil {
			unknown = append(unknown, name)
			continue
		}
		if len(known) < cfg.MaxDataSources {
			known = append(known, name)
		}
	}
	return known, unknown
}

func (o *Orchestrator) fallbackSources(tried, unknown []string, cfg Config) []string {
	skip := make(map[string]bool, len(tried)+len(unknown))
	for _, n := range tried {
		skip[n] = true
	}
	for _, n := range unknown {
		skip[n] = true
	}
	var rest []string
	for _, name := range o.sources.List() {
		if !skip[name] && len(rest) < cfg.MaxDataSources {
			rest = append(rest, name)
		}
	}
	return rest
}

// collect runs one scheduler batch over sources and returns the successful
// answers in source order
func (o *Orchestrator) collect(ctx context.Context, requestID, query string, coords *base.Coordinates, sources []string, mode Mode, cfg Config) ([]base.SourceData, []CategorizedError, scheduler.Performance) {
	prof := profileFor(mode, cfg).within(o.sched.Config())

	infos := make([]sourceInfo, 0, len(sources))
	configs := make(map[string]base.AdapterConfig, len(sources))
	for _, name := range sources {
		sc, _ := o.sources.Config(name)
		configs[name] = sc
		infos = append(infos, sourceInfo{name: name, latency: o.expectedLatency(name, sc, cfg), authority: authorityOf(sc)})
	}
	prio := priorities(mode, infos)

	tasks := make([]scheduler.Task[base.SourceData], 0, len(sources))
	for _, name := range sources {
		sc := configs[name]
		tasks = append(tasks, scheduler.Task[base.SourceData]{
			ID:        requestID + "/" + name,
			Source:    name,
			Priority:  prio[name],
			Timeout:   prof.taskTimeout(sc, cfg),
			Retry:     scheduler.RetryPolicy{MaxRetries: prof.retries, Backoff: cfg.RetryBackoff, Exponential: true},
			Operation: o.fetchOperation(name, sc, query, coords),
		})
	}

	batch := scheduler.ExecuteBatch(ctx, o.sched, tasks, scheduler.BatchOptions{
		MaxConcurrency: prof.concurrency,
		Timeout:        prof.batchTimeout,
		FailFast:       prof.failFast,
	})

	var collected []base.SourceData
	var errs []CategorizedError
	for _, t := range tasks {
		d := batch.Durations[t.ID]
		if data, ok := batch.Successful[t.ID]; ok {
			collected = append(collected, data)
			o.recordLatency(t.Source, d)
			o.metrics.observeTask(t.Source, "success", d)
			continue
		}
		err := batch.Failed[t.ID]
		if err == nil {
			err = errors.New("task produced no result")
		}
		ce := categorize(t.Source, err, batch.Attempts[t.ID])
		errs = append(errs, ce)
		o.metrics.observeTask(t.Source, string(ce.Category), d)
	}
	return collected, errs, batch.Performance
}

// fetchOperation adapts one source's Fetch into a task operation. The first
// answer is the source's best match; an empty answer is a not_found error.
func (o *Orchestrator) fetchOperation(name string, sc base.AdapterConfig, query string, coords *base.Coordinates) func(context.Context) (base.SourceData, error) {
	return func(ctx context.Context) (base.SourceData, error) {
		adapter, err := o.sources.Get(name)
		if err != nil {
			return base.SourceData{}, err
		}
		start := o.clock.Now()
		answers, err := adapter.Fetch(ctx, query, coords)
		if err != nil {
			return base.SourceData{}, err
		}
		if len(answers) == 0 {
			return base.SourceData{}, base.NewSourceError(name, "fetch", base.CategoryNotFound, "no results for "+strconv.Quote(query), nil)
		}
		return fillSourceData(answers[0], name, sc, o.clock.Since(start), o.clock.Now()), nil
	}
}

func fillSourceData(d base.SourceData, name string, sc base.AdapterConfig, latency time.Duration, now time.Time) base.SourceData {
	if d.SourceID == "" {
		d.SourceID = name
	}
	if d.SourceName == "" {
		d.SourceName = name
	}
	if d.Reliability == 0 {
		d.Reliability = sc.Reliability
	}
	if d.Latency == 0 {
		d.Latency = latency
	}
	if d.RetrievedAt.IsZero() {
		d.RetrievedAt = now
	}
	return d
}

func authorityOf(sc base.AdapterConfig) float64 {
	if sc.Authority > 0 {
		return sc.Authority
	}
	return sc.Reliability
}

// expectedLatency is the historical mean latency of a source, falling back
// to its configured expectation and then its timeout
func (o *Orchestrator) expectedLatency(name string, sc base.AdapterConfig, cfg Config) time.Duration {
	o.statsMu.Lock()
	st := o.latencies[name]
	o.statsMu.Unlock()
	if st != nil && st.count > 0 {
		return st.total / time.Duration(st.count)
	}
	if sc.ExpectedLatency > 0 {
		return sc.ExpectedLatency
	}
	if sc.Timeout > 0 {
		return sc.Timeout
	}
	return cfg.SourceTimeout
}

func (o *Orchestrator) recordLatency(source string, d time.Duration) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	st, ok := o.latencies[source]
	if !ok {
		st = &latencyStat{}
		o.latencies[source] = st
	}
	st.total += d
	st.count++
}

func (o *Orchestrator) store(requestID, key string, res *IntegrationResult, mode Mode, cfg Config) {
	tags := append([]string{"integrated", "location"}, res.SourcesUsed...)
	err := o.cache.Set(key, CachedResult{Record: res.Record, SourcesUsed: res.SourcesUsed}, smartcache.SetOptions{
		Tags:     tags,
		Priority: profileFor(mode, cfg).cachePriority,
		Source:   "integrate",
	})
	if err != nil {
		o.log.Warn(requestID, "failed to cache result", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

// preload replays a remembered request for the cache's predictive preload
func (o *Orchestrator) preload(ctx context.Context, key string) (CachedResult, bool, error) {
	req, ok := o.requests.Get(key)
	if !ok {
		return CachedResult{}, false, nil
	}
	cfg := o.Config()
	res := o.integrate(ctx, "preload-"+uuid.New().String(), req.query, req.coords, req.opts, cfg)
	if !res.Success {
		return CachedResult{}, false, fmt.Errorf("preload %s: %s", key, res.FailureReason)
	}
	return CachedResult{Record: res.Record, SourcesUsed: res.SourcesUsed}, true, nil
}

func failureRecommendations(errs []CategorizedError) []string {
	var out []string
	seen := make(map[base.ErrorCategory]bool)
	for _, e := range errs {
		if seen[e.Category] {
			continue
		}
		seen[e.Category] = true
		switch e.Category {
		case base.CategoryAuthentication:
			out = append(out, "check the API credentials of the failing sources")
		case base.CategoryRateLimit:
			out = append(out, "rate limits were hit; retry after a short wait")
		case base.CategoryNotFound:
			out = append(out, "no source knows this place; try a different spelling or add coordinates")
		case base.CategoryNetwork, base.CategoryServiceUnavailable:
			out = append(out, "sources are temporarily unreachable; retry shortly")
		case base.CategoryDataFormat:
			out = append(out, "a source returned malformed data; report it to the source operator")
		default:
			out = append(out, "retry the request; if it keeps failing, check the source logs")
		}
	}
	return out
}

// observe updates the rolling performance view and Prometheus metrics
func (o *Orchestrator) observe(res *IntegrationResult, mode Mode, start time.Time) PerformanceMetrics {
	elapsed := o.clock.Since(start)
	quality := 0.0
	if res.Record != nil {
		quality = res.Record.Metadata.QualityScore
	}
	perf := o.updatePerformance(elapsed, len(res.SourcesUsed), len(res.Errors), quality, res.Success)

	outcome := "success"
	switch {
	case res.CacheHit:
		outcome = "cache_hit"
	case !res.Success:
		outcome = "failure"
	}
	o.metrics.observeIntegration(outcome, mode, elapsed)
	if res.Record != nil && !res.CacheHit {
		o.metrics.observeConfidence(res.Record.Confidence)
	}
	return perf
}

func (o *Orchestrator) updatePerformance(elapsed time.Duration, sources, errs int, quality float64, success bool) PerformanceMetrics {
	hitRate := o.cache.HitRate()

	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.total++
	if !success {
		o.failures++
	}
	secs := elapsed.Seconds()
	if secs < 0.001 {
		secs = 0.001
	}
	denom := sources
	if denom < 1 {
		denom = 1
	}
	o.perf = PerformanceMetrics{
		ResponseTime: elapsed,
		Throughput:   float64(sources) / secs,
		ErrorRate:    float64(errs) / float64(denom),
		CacheHitRate: hitRate,
		DataQuality:  quality,
		Uptime:       100 * float64(o.total-o.failures) / float64(o.total),
	}
	return o.perf
}

// Stats is a snapshot of the orchestrator and its collaborators
type Stats struct {
	Performance PerformanceMetrics    `json:"performance"`
	Requests    int64                 `json:"requests"`
	Failures    int64                 `json:"failures"`
	Uptime      time.Duration         `json:"uptime"`
	Cache       smartcache.Stats      `json:"cache"`
	Scheduler   scheduler.Stats       `json:"scheduler"`
	Pool        map[string]pool.Stats `json:"pool,omitempty"`
	Sources     []string              `json:"sources"`
	Config      Config                `json:"config"`
}

// Stats returns a snapshot of the orchestrator state
func (o *Orchestrator) Stats() Stats {
	o.statsMu.Lock()
	s := Stats{Performance: o.perf, Requests: o.total, Failures: o.failures}
	o.statsMu.Unlock()

	s.Uptime = o.clock.Since(o.startedAt)
	s.Cache = o.cache.Stats()
	s.Scheduler = o.sched.Stats()
	if o.pool != nil {
		s.Pool = o.pool.Stats()
	}
	s.Sources = o.sources.List()
	s.Config = o.Config()
	return s
}

// ClearCache removes cached results carrying any of tags, or everything
func (o *Orchestrator) ClearCache(tags ...string) int {
	n := o.cache.Clear(tags...)
	o.log.Info("", "cache cleared", map[string]interface{}{"tags": tags, "removed": n})
	return n
}
