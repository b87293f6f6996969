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

package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/shared/logger"
)

// ErrNotFound is returned for unknown source names
var ErrNotFound = base.NewCategorized(base.CategoryNotFound, "source not registered")

// AdapterFactory builds an adapter from its configuration
type AdapterFactory func(cfg *base.AdapterConfig) (base.Adapter, error)

// Registry holds the source adapters in registration order.
// Thread-safe for concurrent access.
type Registry struct {
	adapters map[string]base.Adapter
	configs  map[string]*base.AdapterConfig
	order    []string
	factory  AdapterFactory
	mu       sync.RWMutex
	log      *logger.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Discard("registry")
	}
	return &Registry{
		adapters: make(map[string]base.Adapter),
		configs:  make(map[string]*base.AdapterConfig),
		log:      log,
	}
}

// SetFactory enables lazy instantiation of sources added with RegisterConfig
func (r *Registry) SetFactory(factory AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = factory
}

// Register adds a ready adapter. cfg may be nil, in which case name and type
// come from the adapter.
func (r *Registry) Register(a base.Adapter, cfg *base.AdapterConfig) error {
	if a == nil {
		return errors.New("register: nil adapter")
	}
	if cfg == nil {
		cfg = &base.AdapterConfig{Name: a.Name(), Type: a.Type()}
	}
	c := *cfg
	if c.Name == "" {
		c.Name = a.Name()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.configs[c.Name]; exists {
		return fmt.Errorf("source '%s' already registered", c.Name)
	}
	r.adapters[c.Name] = a
	r.configs[c.Name] = &c
	r.order = append(r.order, c.Name)

	r.log.Info("", "registered source", map[string]interface{}{
		"source": c.Name,
		"type":   c.Type,
	})
	return nil
}

// RegisterConfig adds a source that is instantiated through the factory on
// first use
func (r *Registry) RegisterConfig(cfg *base.AdapterConfig) error {
	if cfg == nil || cfg.Name == "" {
		return errors.New("register: source config requires a name")
	}
	c := *cfg

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.configs[c.Name]; exists {
		return fmt.Errorf("source '%s' already registered", c.Name)
	}
	r.configs[c.Name] = &c
	r.order = append(r.order, c.Name)
	return nil
}

// Unregister removes a source and closes its adapter
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	a, instantiated := r.adapters[name]
	_, exists := r.configs[name]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	delete(r.adapters, name)
	delete(r.configs, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if instantiated {
		if err := a.Close(); err != nil {
			r.log.Warn("", "error closing source", map[string]interface{}{"source": name, "error": err.Error()})
		}
	}
	r.log.Info("", "unregistered source", map[string]interface{}{"source": name})
	return nil
}

// Get returns the adapter for name, instantiating it if necessary
func (r *Registry) Get(name string) (base.Adapter, error) {
	r.mu.RLock()
	a, exists := r.adapters[name]
	cfg, hasConfig := r.configs[name]
	factory := r.factory
	r.mu.RUnlock()

	if exists {
		return a, nil
	}
	if !hasConfig {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if factory == nil {
		return nil, fmt.Errorf("source '%s' has no adapter and no factory is configured", name)
	}
	return r.lazyLoad(name, cfg, factory)
}

func (r *Registry) lazyLoad(name string, cfg *base.AdapterConfig, factory AdapterFactory) (base.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, exists := r.adapters[name]; exists {
		return a, nil
	}
	if _, stillRegistered := r.configs[name]; !stillRegistered {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	a, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create source '%s': %w", name, err)
	}
	r.adapters[name] = a
	r.log.Info("", "lazy-loaded source", map[string]interface{}{"source": name, "type": cfg.Type})
	return a, nil
}

// Loaded returns the adapter for name only if it is already instantiated
func (r *Registry) Loaded(name string) (base.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Config returns a copy of the source's configuration
func (r *Registry) Config(name string) (base.AdapterConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	if !ok {
		return base.AdapterConfig{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return *cfg, nil
}

// List returns source names in registration order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered sources
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// HealthCheck checks every source concurrently. A failing or
// uninstantiable source is reported unhealthy, never as an error.
func (r *Registry) HealthCheck(ctx context.Context) map[string]*base.HealthStatus {
	names := r.List()
	statuses := make([]*base.HealthStatus, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			statuses[i] = r.checkOne(gctx, name)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]*base.HealthStatus, len(names))
	for i, name := range names {
		results[name] = statuses[i]
	}
	return results
}

func (r *Registry) checkOne(ctx context.Context, name string) *base.HealthStatus {
	start := time.Now()
	a, err := r.Get(name)
	if err == nil {
		var status *base.HealthStatus
		status, err = a.HealthCheck(ctx)
		if err == nil && status != nil {
			return status
		}
		if err == nil {
			err = errors.New("no health status returned")
		}
	}
	r.log.ErrorWithSource("", "health check failed", name, string(base.Classify(err)), err, nil)
	return &base.HealthStatus{
		Healthy:   false,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
		Error:     err.Error(),
	}
}

// CloseAll closes every instantiated adapter
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, name := range r.order {
		a, ok := r.adapters[name]
		if !ok {
			continue
		}
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
