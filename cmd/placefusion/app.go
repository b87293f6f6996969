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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/connectors/config"
	httpsource "github.com/cjg3605-hash/tripradio-sub007/connectors/http"
	"github.com/cjg3605-hash/tripradio-sub007/connectors/pool"
	"github.com/cjg3605-hash/tripradio-sub007/connectors/postgres"
	"github.com/cjg3605-hash/tripradio-sub007/connectors/ratelimit"
	"github.com/cjg3605-hash/tripradio-sub007/connectors/registry"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/scheduler"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/smartcache"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/verification"
	"github.com/cjg3605-hash/tripradio-sub007/shared/logger"
)

// connectTimeout bounds opening a database source on first use
const connectTimeout = 10 * time.Second

// App is a fully wired placefusion instance
type App struct {
	cfg *config.Config
	out io.Writer
	log *logger.Logger

	sources *registry.Registry
	pool    *pool.Pool
	cache   *smartcache.Cache[orchestrator.CachedResult]
	redis   *redis.Client
	limiter *ratelimit.Limiter
	quotas  map[string]int
	promReg *prometheus.Registry
	fusion  *orchestrator.Orchestrator
}

// NewApp builds every component from cfg. Logs are written to out as JSON
// lines.
func NewApp(ctx context.Context, cfg *config.Config, out io.Writer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	a := &App{cfg: cfg, out: out, quotas: make(map[string]int)}
	a.log = a.newLogger("placefusion")

	if err := a.connectRedis(ctx); err != nil {
		return nil, err
	}
	if err := a.registerSources(); err != nil {
		a.Close()
		return nil, err
	}

	p, err := pool.New(cfg.Pool, pool.WithLogger(a.newLogger("pool")))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	a.pool = p

	sched, err := scheduler.New(cfg.Scheduler, p, scheduler.WithLogger(a.newLogger("scheduler")))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	cache, err := smartcache.New[orchestrator.CachedResult](cfg.Cache, smartcache.WithLogger(a.newLogger("cache")))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	a.cache = cache

	a.promReg = prometheus.NewRegistry()
	a.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := orchestrator.NewMetrics(a.promReg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	o, err := orchestrator.New(cfg.Orchestrator, orchestrator.Dependencies{
		Sources:   a.sources,
		Scheduler: sched,
		Cache:     cache,
		Verifier:  a.newVerifier(),
		Pool:      p,
		Metrics:   metrics,
		Logger:    a.newLogger("orchestrator"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	a.fusion = o
	a.promReg.MustRegister(orchestrator.NewStatsCollector(o))

	a.log.Info("", "placefusion initialized", map[string]interface{}{
		"sources": a.sources.List(),
		"mode":    string(cfg.Orchestrator.PerformanceMode),
		"quotas":  a.limiter != nil,
	})
	return a, nil
}

func (a *App) newLogger(component string) *logger.Logger {
	l := logger.NewWithWriter(component, a.out)
	l.SetLevel(logger.LogLevel(strings.ToUpper(a.cfg.Logging.Level)))
	return l
}

// connectRedis enables shared quotas. An unreachable server disables them
// rather than failing startup, the same way a failed quota check admits the
// call.
func (a *App) connectRedis(ctx context.Context) error {
	if a.cfg.Redis.URL == "" {
		return nil
	}
	client, err := ratelimit.Connect(ctx, a.cfg.Redis.URL)
	if err != nil {
		a.log.Warn("", "redis unavailable, source quotas disabled", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	a.redis = client
	a.limiter = ratelimit.NewLimiter(client, a.cfg.Redis.Window, ratelimit.WithLogger(a.newLogger("ratelimit")))
	return nil
}

// registerSources adds every enabled source in file order. Adapters are
// built through the factory on first use.
func (a *App) registerSources() error {
	a.sources = registry.NewRegistry(a.newLogger("registry"))
	a.sources.SetFactory(a.buildSource)
	for _, sc := range a.cfg.Sources.Enabled() {
		if sc.Quota > 0 {
			a.quotas[sc.Name] = sc.Quota
		}
		if err := a.sources.RegisterConfig(sc.AdapterConfig()); err != nil {
			return fmt.Errorf("failed to register source %s: %w", sc.Name, err)
		}
	}
	return nil
}

func (a *App) buildSource(cfg *base.AdapterConfig) (base.Adapter, error) {
	log := a.newLogger(cfg.Type + "-source")

	var adapter base.Adapter
	switch cfg.Type {
	case config.SourceHTTP:
		h, err := httpsource.New(cfg, log)
		if err != nil {
			return nil, err
		}
		adapter = h
	case config.SourcePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		pg, err := postgres.New(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		adapter = pg
	default:
		return nil, fmt.Errorf("unsupported source type %q", cfg.Type)
	}

	if limit := a.quotas[cfg.Name]; limit > 0 && a.limiter != nil {
		adapter = ratelimit.Wrap(adapter, a.limiter, limit)
	}
	return adapter, nil
}

// newVerifier weighs each source by its configured authority, falling
// back to the built-in weights
func (a *App) newVerifier() *verification.Verifier {
	vcfg := verification.DefaultConfig()
	weights := make(map[string]float64, len(vcfg.AuthorityWeights)+len(a.cfg.Sources))
	for k, v := range vcfg.AuthorityWeights {
		weights[k] = v
	}
	for _, sc := range a.cfg.Sources.Enabled() {
		if sc.Authority > 0 {
			weights[sc.Name] = sc.Authority
		}
	}
	vcfg.AuthorityWeights = weights
	vcfg.VerifiedThreshold = a.cfg.Orchestrator.MinConfidenceThreshold
	return verification.New(vcfg, verification.WithLogger(a.newLogger("verification")))
}

// Start launches background maintenance and pre-warms pool slots
func (a *App) Start(ctx context.Context) {
	a.pool.Start(ctx)
	a.cache.Start(ctx)
	for _, name := range a.sources.List() {
		a.pool.Warm(name)
	}
}

// Orchestrator returns the wired orchestrator
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.fusion }

// Handler returns the HTTP API
func (a *App) Handler() http.Handler {
	return orchestrator.NewAPI(a.fusion, a.promReg, a.cfg.Server.CORSOrigins, a.newLogger("api")).Handler()
}

// Serve runs the HTTP API until ctx is done, then shuts down gracefully
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("", "placefusion listening", map[string]interface{}{"port": a.cfg.Server.Port})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("", "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Close releases sources, background loops and the redis client
func (a *App) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.sources != nil {
		if err := a.sources.CloseAll(); err != nil {
			a.log.Warn("", "failed to close sources", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
