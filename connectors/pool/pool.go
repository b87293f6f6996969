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

package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/shared/logger"
)

var (
	// ErrAcquireTimeout means no connection became free within AcquireTimeout.
	// Callers treat it as a transient, source-unavailable condition.
	ErrAcquireTimeout = base.NewCategorized(base.CategoryServiceUnavailable,
		"source temporarily unavailable: connection pool exhausted")

	// ErrPoolClosed is returned once Close has been called
	ErrPoolClosed = errors.New("connection pool closed")
)

// Config holds pool limits
type Config struct {
	MaxConnections int           `yaml:"max_connections"`
	MinConnections int           `yaml:"min_connections"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	ReapInterval   time.Duration `yaml:"reap_interval"`
}

// DefaultConfig returns the default pool limits
func DefaultConfig() Config {
	return Config{
		MaxConnections: 10,
		MinConnections: 1,
		AcquireTimeout: 5 * time.Second,
		IdleTimeout:    5 * time.Minute,
		ReapInterval:   time.Minute,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}
	if c.MinConnections < 0 || c.MinConnections > c.MaxConnections {
		return fmt.Errorf("min_connections must be between 0 and max_connections, got %d", c.MinConnections)
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire_timeout must be positive")
	}
	if c.IdleTimeout <= 0 || c.ReapInterval <= 0 {
		return fmt.Errorf("idle_timeout and reap_interval must be positive")
	}
	return nil
}

// Connection is a logical connection slot for one source
type Connection struct {
	ID        string
	Source    string
	InUse     bool
	CreatedAt time.Time
	LastUsed  time.Time

	checkedOut time.Time
}

type waiter struct {
	ch     chan *Connection
	served bool
}

type sourcePool struct {
	name    string
	conns   map[string]*Connection
	idle    []*Connection
	waiters *list.List

	created       int64
	destroyed     int64
	timeouts      int64
	checkouts     int64
	totalCheckout time.Duration
}

// Stats is a per-source snapshot
type Stats struct {
	Active          int           `json:"active"`
	Idle            int           `json:"idle"`
	Total           int           `json:"total"`
	Waiting         int           `json:"waiting"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	Created         int64         `json:"created"`
	Destroyed       int64         `json:"destroyed"`
	AcquireTimeouts int64         `json:"acquire_timeouts"`
}

// Pool is a bounded per-source pool of logical connections
type Pool struct {
	cfg   Config
	clock clock.WithTicker
	log   *logger.Logger

	mu      sync.Mutex
	sources map[string]*sourcePool
	closed  bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Pool
type Option func(*Pool)

// WithClock sets the clock used for timeouts and reaping
func WithClock(c clock.WithTicker) Option {
	return func(p *Pool) { p.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// New creates a new Pool
func New(cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	p := &Pool{
		cfg:     cfg,
		clock:   clock.RealClock{},
		log:     logger.Discard("pool"),
		sources: make(map[string]*sourcePool),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pool) sourceLocked(source string) *sourcePool {
	sp, ok := p.sources[source]
	if !ok {
		sp = &sourcePool{
			name:    source,
			conns:   make(map[string]*Connection),
			waiters: list.New(),
		}
		p.sources[source] = sp
	}
	return sp
}

func (p *Pool) createLocked(sp *sourcePool, source string) *Connection {
	now := p.clock.Now()
	c := &Connection{
		ID:        uuid.New().String(),
		Source:    source,
		CreatedAt: now,
		LastUsed:  now,
	}
	sp.conns[c.ID] = c
	sp.created++
	p.log.Debug("", "connection created", map[string]interface{}{
		"source": source,
		"total":  len(sp.conns),
	})
	return c
}

func (p *Pool) checkoutLocked(c *Connection) {
	now := p.clock.Now()
	c.InUse = true
	c.LastUsed = now
	c.checkedOut = now
}

// Acquire returns a connection for source. It reuses an idle connection,
// creates one while the source is below MaxConnections, or waits in FIFO
// order for a release. Waiting is bounded by AcquireTimeout and ctx.
func (p *Pool) Acquire(ctx context.Context, source string) (*Connection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	sp := p.sourceLocked(source)

	if n := len(sp.idle); n > 0 {
		c := sp.idle[n-1]
		sp.idle = sp.idle[:n-1]
		p.checkoutLocked(c)
		p.mu.Unlock()
		return c, nil
	}

	if len(sp.conns) < p.cfg.MaxConnections {
		c := p.createLocked(sp, source)
		p.checkoutLocked(c)
		p.mu.Unlock()
		return c, nil
	}

	w := &waiter{ch: make(chan *Connection, 1)}
	elem := sp.waiters.PushBack(w)
	p.mu.Unlock()

	timer := p.clock.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case c := <-w.ch:
		if c == nil {
			return nil, ErrPoolClosed
		}
		return c, nil
	case <-timer.C():
		return p.abandon(sp, elem, w, ErrAcquireTimeout)
	case <-ctx.Done():
		return p.abandon(sp, elem, w, ctx.Err())
	}
}

// abandon removes a waiter that gave up. A connection handed over in the
// meantime is kept on timeout and returned to the pool on cancellation.
func (p *Pool) abandon(sp *sourcePool, elem *list.Element, w *waiter, cause error) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !w.served {
		sp.waiters.Remove(elem)
		if errors.Is(cause, ErrAcquireTimeout) {
			sp.timeouts++
			p.log.Warn("", "connection acquire timed out", map[string]interface{}{
				"source":  sp.name,
				"waiting": sp.waiters.Len(),
			})
		}
		return nil, cause
	}

	c := <-w.ch
	if c == nil {
		return nil, ErrPoolClosed
	}
	if errors.Is(cause, ErrAcquireTimeout) {
		return c, nil
	}
	p.releaseLocked(c)
	return nil, cause
}

// Release returns a connection. The oldest waiter, if any, receives it
// directly; otherwise it becomes idle.
func (p *Pool) Release(c *Connection) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(c)
}

func (p *Pool) releaseLocked(c *Connection) {
	sp, ok := p.sources[c.Source]
	if !ok || !c.InUse {
		return
	}
	if _, owned := sp.conns[c.ID]; !owned {
		return
	}

	now := p.clock.Now()
	sp.checkouts++
	sp.totalCheckout += now.Sub(c.checkedOut)

	if p.closed {
		c.InUse = false
		delete(sp.conns, c.ID)
		sp.destroyed++
		return
	}

	if front := sp.waiters.Front(); front != nil {
		w := sp.waiters.Remove(front).(*waiter)
		w.served = true
		p.checkoutLocked(c)
		w.ch <- c
		return
	}

	c.InUse = false
	c.LastUsed = now
	sp.idle = append(sp.idle, c)
}

// Warm pre-creates idle connections for source up to MinConnections
func (p *Pool) Warm(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	sp := p.sourceLocked(source)
	for len(sp.conns) < p.cfg.MinConnections {
		c := p.createLocked(sp, source)
		sp.idle = append(sp.idle, c)
	}
}

// Reap destroys connections idle longer than IdleTimeout while the source
// holds more than MinConnections. It returns the number destroyed.
func (p *Pool) Reap() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	destroyed := 0
	for source, sp := range p.sources {
		reaped := 0
		kept := sp.idle[:0]
		for _, c := range sp.idle {
			if len(sp.conns) > p.cfg.MinConnections && now.Sub(c.LastUsed) > p.cfg.IdleTimeout {
				delete(sp.conns, c.ID)
				sp.destroyed++
				reaped++
				continue
			}
			kept = append(kept, c)
		}
		sp.idle = kept
		if reaped > 0 {
			destroyed += reaped
			p.log.Debug("", "idle connections reaped", map[string]interface{}{
				"source": source,
				"reaped": reaped,
				"total":  len(sp.conns),
			})
		}
	}
	return destroyed
}

// Start launches the background reaper. It stops when ctx is done or
// Close is called.
func (p *Pool) Start(ctx context.Context) {
	ticker := p.clock.NewTicker(p.cfg.ReapInterval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C():
				p.Reap()
			}
		}
	}()
}

// Close stops the reaper, fails pending waiters and drops idle connections.
// Connections still in use are destroyed when released.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, sp := range p.sources {
		for e := sp.waiters.Front(); e != nil; e = e.Next() {
			w := e.Value.(*waiter)
			w.served = true
			w.ch <- nil
		}
		sp.waiters.Init()
		for _, c := range sp.idle {
			delete(sp.conns, c.ID)
			sp.destroyed++
		}
		sp.idle = nil
	}
}

// Stats returns a snapshot for every source seen so far
func (p *Pool) Stats() map[string]Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Stats, len(p.sources))
	for source, sp := range p.sources {
		s := Stats{
			Idle:            len(sp.idle),
			Total:           len(sp.conns),
			Waiting:         sp.waiters.Len(),
			Created:         sp.created,
			Destroyed:       sp.destroyed,
			AcquireTimeouts: sp.timeouts,
		}
		s.Active = s.Total - s.Idle
		if sp.checkouts > 0 {
			s.AvgResponseTime = sp.totalCheckout / time.Duration(sp.checkouts)
		}
		out[source] = s
	}
	return out
}

// Sources returns the sources known to the pool in sorted order
func (p *Pool) Sources() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.sources))
	for name := range p.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
