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

package smartcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/cjg3605-hash/tripradio-sub007/shared/logger"
)

// ErrEntryTooLarge is returned by Set when a single payload exceeds MaxSize
var ErrEntryTooLarge = errors.New("cache entry larger than cache capacity")

// Priority influences both TTL and eviction order
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) ttlMultiplier() float64 {
	switch p {
	case PriorityCritical:
		return 2.0
	case PriorityHigh:
		return 1.5
	case PriorityLow:
		return 0.7
	default:
		return 1.0
	}
}

func (p Priority) evictionWeight() float64 {
	switch p {
	case PriorityCritical:
		return 10
	case PriorityHigh:
		return 5
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

// Config holds cache settings
type Config struct {
	DefaultTTL           time.Duration `yaml:"default_ttl"`
	MaxSize              int64         `yaml:"max_size"`
	PreloadThreshold     float64       `yaml:"preload_threshold"`
	AdaptiveTTL          bool          `yaml:"adaptive_ttl"`
	CompressionEnabled   bool          `yaml:"compression_enabled"`
	CompressionThreshold int           `yaml:"compression_threshold"`
	MaintenanceInterval  time.Duration `yaml:"maintenance_interval"`
	PreloadInterval      time.Duration `yaml:"preload_interval"`
	PatternRetention     time.Duration `yaml:"pattern_retention"`
}

// DefaultConfig returns the default cache settings
func DefaultConfig() Config {
	return Config{
		DefaultTTL:           30 * time.Minute,
		MaxSize:              200 * 1024 * 1024,
		PreloadThreshold:     0.8,
		AdaptiveTTL:          true,
		CompressionEnabled:   true,
		CompressionThreshold: 10 * 1024,
		MaintenanceInterval:  30 * time.Second,
		PreloadInterval:      2 * time.Minute,
		PatternRetention:     24 * time.Hour,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive")
	}
	if c.MaxSize <= 0 {
		return fmt.Errorf("max_size must be positive")
	}
	if c.PreloadThreshold < 0 || c.PreloadThreshold > 1 {
		return fmt.Errorf("preload_threshold must be between 0 and 1")
	}
	if c.MaintenanceInterval <= 0 || c.PreloadInterval <= 0 || c.PatternRetention <= 0 {
		return fmt.Errorf("maintenance_interval, preload_interval and pattern_retention must be positive")
	}
	return nil
}

// SetOptions tunes a single Set call. Zero values fall back to defaults.
type SetOptions struct {
	TTL           time.Duration
	Tags          []string
	Priority      Priority
	Source        string
	ForceCompress bool
}

type entry struct {
	key          string
	payload      []byte
	compressed   bool
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int64
	baseTTL      time.Duration
	size         int64
	priority     Priority
	tags         map[string]struct{}
	source       string
}

type options struct {
	clock clock.WithTicker
	codec Codec
	log   *logger.Logger
}

// Option configures a Cache
type Option func(*options)

// WithClock sets the clock used for ages and the background loops
func WithClock(c clock.WithTicker) Option {
	return func(o *options) { o.clock = c }
}

// WithCodec sets the compression codec
func WithCodec(c Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// Cache is an in-memory, size-bounded cache with adaptive TTL, priority
// aware eviction and access-pattern based preloading. Values are stored
// JSON-encoded, so callers never share memory with cached data.
type Cache[V any] struct {
	cfg   Config
	clock clock.WithTicker
	codec Codec
	log   *logger.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	size     int64
	patterns map[string][]time.Time
	preload  PreloadFunc[V]

	hits            int64
	misses          int64
	evictions       int64
	expirations     int64
	preloadAttempts int64
	preloadSuccess  int64
	avgResponseMs   float64

	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Cache
func New[V any](cfg Config, opts ...Option) (*Cache[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	o := options{
		clock: clock.RealClock{},
		codec: NewZstdCodec(),
		log:   logger.Discard("smartcache"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		cfg:      cfg,
		clock:    o.clock,
		codec:    o.codec,
		log:      o.log,
		entries:  make(map[string]*entry),
		patterns: make(map[string][]time.Time),
		stopCh:   make(chan struct{}),
	}, nil
}

// Get returns the cached value for key. Every call is recorded in the
// key's access history, including misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	start := c.clock.Now()

	c.mu.Lock()
	c.recordAccessLocked(key, start)
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		c.observeLocked(start)
		c.mu.Unlock()
		return zero, false
	}
	if start.Sub(e.createdAt) > c.effectiveTTL(e, start) {
		c.removeLocked(e)
		c.expirations++
		c.misses++
		c.observeLocked(start)
		c.mu.Unlock()
		return zero, false
	}
	e.lastAccessed = start
	e.accessCount++
	c.hits++
	payload, compressed := e.payload, e.compressed
	c.mu.Unlock()

	v, err := c.decode(payload, compressed)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observeLocked(start)
	if err != nil {
		c.log.Error("", "dropping undecodable cache entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		if cur, ok := c.entries[key]; ok && cur == e {
			c.removeLocked(e)
		}
		c.hits--
		c.misses++
		return zero, false
	}
	return v, true
}

// Set stores value under key, evicting the lowest scored entries until it
// fits.
func (c *Cache[V]) Set(key string, value V, opts SetOptions) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}

	payload, compressed := data, false
	if opts.ForceCompress || (c.cfg.CompressionEnabled && len(data) > c.cfg.CompressionThreshold) {
		enc, err := c.codec.Encode(data)
		if err != nil {
			c.log.Warn("", "compression failed, storing raw payload", map[string]interface{}{
				"key":   key,
				"codec": c.codec.Name(),
				"error": err.Error(),
			})
		} else if opts.ForceCompress || len(enc) < len(data) {
			payload, compressed = enc, true
		}
	}

	size := int64(len(payload))
	if size > c.cfg.MaxSize {
		return fmt.Errorf("%w: %d bytes > %d", ErrEntryTooLarge, size, c.cfg.MaxSize)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	priority := opts.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	tags := make(map[string]struct{}, len(opts.Tags))
	for _, t := range opts.Tags {
		tags[t] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}
	c.evictLocked(size, now)

	c.entries[key] = &entry{
		key:          key,
		payload:      payload,
		compressed:   compressed,
		createdAt:    now,
		lastAccessed: now,
		accessCount:  1,
		baseTTL:      ttl,
		size:         size,
		priority:     priority,
		tags:         tags,
		source:       opts.Source,
	}
	c.size += size
	return nil
}

// Delete removes key and reports whether it was present
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok {
		c.removeLocked(e)
	}
	return ok
}

// Clear removes entries carrying any of tags. Without tags it removes
// everything, access history included. It returns the number of entries
// removed.
func (c *Cache[V]) Clear(tags ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(tags) == 0 {
		n := len(c.entries)
		c.entries = make(map[string]*entry)
		c.patterns = make(map[string][]time.Time)
		c.size = 0
		return n
	}

	removed := 0
	for _, e := range c.entries {
		for _, t := range tags {
			if _, ok := e.tags[t]; ok {
				c.removeLocked(e)
				removed++
				break
			}
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included until
// they are purged.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Size returns the total stored payload size in bytes
func (c *Cache[V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// EffectiveTTL returns the TTL currently applied to key
func (c *Cache[V]) EffectiveTTL(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return c.effectiveTTL(e, c.clock.Now()), true
}

func (c *Cache[V]) decode(payload []byte, compressed bool) (V, error) {
	var v V
	if compressed {
		raw, err := c.codec.Decode(payload)
		if err != nil {
			return v, err
		}
		payload = raw
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode cache value: %w", err)
	}
	return v, nil
}

// effectiveTTL = base × priority multiplier × access-frequency multiplier
func (c *Cache[V]) effectiveTTL(e *entry, now time.Time) time.Duration {
	if !c.cfg.AdaptiveTTL {
		return e.baseTTL
	}
	mult := e.priority.ttlMultiplier()

	ageHours := now.Sub(e.createdAt).Hours()
	freq := math.Inf(1)
	if ageHours > 0 {
		freq = float64(e.accessCount) / ageHours
	}
	switch {
	case freq > 10:
		mult *= 2.0
	case freq > 5:
		mult *= 1.5
	case freq < 1:
		mult *= 0.5
	}
	return time.Duration(float64(e.baseTTL) * mult)
}

func evictionScore(e *entry, now time.Time) float64 {
	idleSeconds := float64(now.Sub(e.lastAccessed).Milliseconds()) / 1000
	recency := math.Max(0, 1000-idleSeconds)
	frequency := math.Min(float64(e.accessCount)*10, 500)
	return (recency + frequency) * e.priority.evictionWeight()
}

func (c *Cache[V]) evictLocked(need int64, now time.Time) {
	if c.size+need <= c.cfg.MaxSize {
		return
	}

	type scored struct {
		e     *entry
		score float64
	}
	candidates := make([]scored, 0, len(c.entries))
	for _, e := range c.entries {
		candidates = append(candidates, scored{e: e, score: evictionScore(e, now)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score < b.score
		}
		if !a.e.lastAccessed.Equal(b.e.lastAccessed) {
			return a.e.lastAccessed.Before(b.e.lastAccessed)
		}
		return a.e.key < b.e.key
	})

	for _, cand := range candidates {
		if c.size+need <= c.cfg.MaxSize {
			break
		}
		c.removeLocked(cand.e)
		c.evictions++
		c.log.Debug("", "cache entry evicted", map[string]interface{}{
			"key":      cand.e.key,
			"score":    cand.score,
			"priority": string(cand.e.priority),
		})
	}
}

func (c *Cache[V]) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.size -= e.size
}

func (c *Cache[V]) recordAccessLocked(key string, now time.Time) {
	history := append(c.patterns[key], now)
	cutoff := now.Add(-c.cfg.PatternRetention)
	i := 0
	for i < len(history) && !history[i].After(cutoff) {
		i++
	}
	c.patterns[key] = history[i:]
}

func (c *Cache[V]) observeLocked(start time.Time) {
	elapsed := float64(c.clock.Since(start).Microseconds()) / 1000
	c.avgResponseMs = c.avgResponseMs*0.9 + elapsed*0.1
}

// Maintain purges expired entries and access history older than the
// retention window. It returns the number of purged entries.
func (c *Cache[V]) Maintain() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	purged := 0
	for _, e := range c.entries {
		if now.Sub(e.createdAt) > c.effectiveTTL(e, now) {
			c.removeLocked(e)
			c.expirations++
			purged++
		}
	}

	cutoff := now.Add(-c.cfg.PatternRetention)
	for key, history := range c.patterns {
		i := 0
		for i < len(history) && !history[i].After(cutoff) {
			i++
		}
		if i == len(history) {
			delete(c.patterns, key)
		} else if i > 0 {
			c.patterns[key] = history[i:]
		}
	}

	if purged > 0 {
		c.log.Info("", "cache maintenance removed expired entries", map[string]interface{}{
			"purged":  purged,
			"entries": len(c.entries),
		})
	}
	return purged
}

// Start launches the maintenance and preload loops. They stop when ctx is
// done or Close is called.
func (c *Cache[V]) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	maintain := c.clock.NewTicker(c.cfg.MaintenanceInterval)
	preload := c.clock.NewTicker(c.cfg.PreloadInterval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer maintain.Stop()
		defer preload.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-maintain.C():
				c.Maintain()
			case <-preload.C():
				c.Preload(ctx)
			}
		}
	}()
}

// Close stops the background loops
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
}
