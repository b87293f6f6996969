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

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/connectors/pool"
	"github.com/cjg3605-hash/tripradio-sub007/shared/logger"
)

// ConnectionPool is the subset of *pool.Pool the scheduler needs
type ConnectionPool interface {
	Acquire(ctx context.Context, source string) (*pool.Connection, error)
	Release(c *pool.Connection)
}

// Config holds scheduler defaults
type Config struct {
	MaxConcurrency     int           `yaml:"max_concurrency"`
	Timeout            time.Duration `yaml:"timeout"`
	FailFast           bool          `yaml:"fail_fast"`
	DefaultTaskTimeout time.Duration `yaml:"default_task_timeout"`
	FailureThreshold   int           `yaml:"failure_threshold"`
	RecoveryTimeout    time.Duration `yaml:"recovery_timeout"`
}

// DefaultConfig returns the default scheduler settings
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:     8,
		Timeout:            15 * time.Second,
		DefaultTaskTimeout: 10 * time.Second,
		FailureThreshold:   5,
		RecoveryTimeout:    30 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.Timeout < 0 || c.DefaultTaskTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.FailureThreshold <= 0 || c.RecoveryTimeout <= 0 {
		return fmt.Errorf("failure_threshold and recovery_timeout must be positive")
	}
	return nil
}

// TaskEvent describes one settled task
type TaskEvent struct {
	TaskID   string
	Source   string
	Attempts int
	Duration time.Duration
	Err      error
}

// Stats are cumulative counters across batches
type Stats struct {
	Batches   int64          `json:"batches"`
	Executed  int64          `json:"executed"`
	Succeeded int64          `json:"succeeded"`
	Failed    int64          `json:"failed"`
	Retries   int64          `json:"retries"`
	Timeouts  int64          `json:"timeouts"`
	Rejected  int64          `json:"rejected"`
	Breakers  []BreakerState `json:"breakers"`
}

// Scheduler runs batches of tasks in priority waves under the connection
// pool, per-source circuit breakers and retry policies.
type Scheduler struct {
	cfg      Config
	pool     ConnectionPool
	clock    clock.Clock
	log      *logger.Logger
	breakers *Breakers
	observer func(TaskEvent)

	batches   atomic.Int64
	executed  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64
	timeouts  atomic.Int64
	rejected  atomic.Int64
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock sets the clock for timeouts, backoff and breakers
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithObserver registers a callback invoked once per settled task
func WithObserver(fn func(TaskEvent)) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// New creates a Scheduler
func New(cfg Config, p ConnectionPool, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	if p == nil {
		return nil, errors.New("scheduler requires a connection pool")
	}
	s := &Scheduler{
		cfg:   cfg,
		pool:  p,
		clock: clock.RealClock{},
		log:   logger.Discard("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.breakers = NewBreakers(cfg.FailureThreshold, cfg.RecoveryTimeout, s.clock)
	s.breakers.OnStateChange(func(source string, from, to State) {
		s.log.Warn("", "circuit breaker state changed", map[string]interface{}{
			"source": source,
			"from":   string(from),
			"to":     string(to),
		})
	})
	return s, nil
}

// Breakers exposes the per-source circuit breakers
func (s *Scheduler) Breakers() *Breakers {
	return s.breakers
}

// Config returns the scheduler configuration
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Stats returns cumulative counters and breaker states
func (s *Scheduler) Stats() Stats {
	return Stats{
		Batches:   s.batches.Load(),
		Executed:  s.executed.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Retries:   s.retries.Load(),
		Timeouts:  s.timeouts.Load(),
		Rejected:  s.rejected.Load(),
		Breakers:  s.breakers.Snapshot(),
	}
}

func (s *Scheduler) normalize(opts BatchOptions) BatchOptions {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = s.cfg.MaxConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = s.cfg.Timeout
	}
	// a configured fail-fast applies to every batch
	opts.FailFast = opts.FailFast || s.cfg.FailFast
	return opts
}

// ExecuteBatch runs tasks and reports every task as either successful or
// failed. Tasks are sorted by descending priority (stable) and dispatched
// in waves of at most MaxConcurrency; a wave finishes before the next one
// starts.
func ExecuteBatch[T any](ctx context.Context, s *Scheduler, tasks []Task[T], opts BatchOptions) *BatchResult[T] {
	start := s.clock.Now()
	opts = s.normalize(opts)
	s.batches.Add(1)

	ordered := make([]Task[T], len(tasks))
	copy(ordered, tasks)
	for i := range ordered {
		if ordered[i].ID == "" {
			ordered[i].ID = uuid.New().String()
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	result := &BatchResult[T]{
		Successful: make(map[string]T),
		Failed:     make(map[string]error),
		Attempts:   make(map[string]int),
		Durations:  make(map[string]time.Duration),
		Order:      make([]string, 0, len(ordered)),
	}
	var mu sync.Mutex

	// a zero Timeout leaves the batch unbounded
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = start.Add(opts.Timeout)
	}
	for waveStart := 0; waveStart < len(ordered); waveStart += opts.MaxConcurrency {
		waveEnd := waveStart + opts.MaxConcurrency
		if waveEnd > len(ordered) {
			waveEnd = len(ordered)
		}
		wave := ordered[waveStart:waveEnd]

		var remaining time.Duration
		err := ctx.Err()
		if err == nil && !deadline.IsZero() {
			if remaining = deadline.Sub(s.clock.Now()); remaining <= 0 {
				err = ErrBatchDeadline
			}
		}
		if err != nil {
			failRemaining(result, ordered[waveStart:], err)
			break
		}

		waveFailed := false
		g, gctx := errgroup.WithContext(ctx)
		for _, task := range wave {
			result.Order = append(result.Order, task.ID)
			g.Go(func() error {
				taskStart := s.clock.Now()
				v, attempts, err := runTask(gctx, s, task, remaining)
				elapsed := s.clock.Since(taskStart)

				mu.Lock()
				result.Attempts[task.ID] = attempts
				result.Durations[task.ID] = elapsed
				if err != nil {
					result.Failed[task.ID] = err
					waveFailed = true
				} else {
					result.Successful[task.ID] = v
				}
				mu.Unlock()

				s.settle(TaskEvent{TaskID: task.ID, Source: task.Source, Attempts: attempts, Duration: elapsed, Err: err})
				return nil
			})
		}
		_ = g.Wait()

		if opts.FailFast && waveFailed && waveEnd < len(ordered) {
			s.log.Info("", "fail-fast: skipping remaining waves", map[string]interface{}{
				"skipped": len(ordered) - waveEnd,
			})
			failRemaining(result, ordered[waveEnd:], ErrSkipped)
			break
		}
	}

	result.Performance = computePerformance(len(result.Successful), len(ordered), opts.MaxConcurrency, s.clock.Since(start))
	return result
}

func failRemaining[T any](result *BatchResult[T], tasks []Task[T], err error) {
	for _, t := range tasks {
		result.Failed[t.ID] = fmt.Errorf("%s: %w", t.Source, err)
		result.Attempts[t.ID] = 0
	}
}

func computePerformance(succeeded, total, maxConcurrency int, elapsed time.Duration) Performance {
	if elapsed < time.Millisecond {
		elapsed = time.Millisecond
	}
	p := Performance{
		TotalTime: elapsed,
		Succeeded: succeeded,
		Failed:    total - succeeded,
	}
	if total > 0 {
		p.SuccessRate = float64(succeeded) / float64(total)
	}
	p.Throughput = float64(succeeded) / elapsed.Seconds()
	p.ParallelEfficiency = math.Min(p.Throughput/float64(maxConcurrency), 1)
	p.ResourceUtilization = p.SuccessRate * p.ParallelEfficiency
	return p
}

func (s *Scheduler) settle(ev TaskEvent) {
	s.executed.Add(1)
	if ev.Attempts > 1 {
		s.retries.Add(int64(ev.Attempts - 1))
	}
	switch {
	case ev.Err == nil:
		s.succeeded.Add(1)
	case errors.Is(ev.Err, ErrCircuitOpen):
		s.failed.Add(1)
		s.rejected.Add(1)
	default:
		s.failed.Add(1)
		if errors.Is(ev.Err, ErrTaskTimeout) {
			s.timeouts.Add(1)
		}
	}

	if ev.Err != nil {
		s.log.ErrorWithSource("", "task failed", ev.Source, string(base.Classify(ev.Err)), ev.Err, map[string]interface{}{
			"task_id":  ev.TaskID,
			"attempts": ev.Attempts,
		})
	} else {
		s.log.Debug("", "task succeeded", map[string]interface{}{
			"task_id":  ev.TaskID,
			"source":   ev.Source,
			"attempts": ev.Attempts,
		})
	}
	if s.observer != nil {
		s.observer(ev)
	}
}

// runTask executes one task: breaker admission, pool acquisition, attempt
// loop with retries. The connection is released on every path and the
// breaker is updated exactly once per admitted task.
func runTask[T any](ctx context.Context, s *Scheduler, task Task[T], budget time.Duration) (T, int, error) {
	var zero T

	if !s.breakers.Allow(task.Source) {
		return zero, 0, fmt.Errorf("%s: %w", task.Source, ErrCircuitOpen)
	}

	conn, err := s.pool.Acquire(ctx, task.Source)
	if err != nil {
		if ctx.Err() != nil {
			s.breakers.Abandon(task.Source)
		} else {
			s.breakers.Failure(task.Source)
		}
		return zero, 0, fmt.Errorf("%s: acquire connection: %w", task.Source, err)
	}
	defer s.pool.Release(conn)

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTaskTimeout
	}
	if budget > 0 && budget < timeout {
		timeout = budget
	}

	bo := newBackOff(task.Retry)
	attempts := 0
	var lastErr error
	for {
		attempts++
		v, err := attempt(ctx, s.clock, task, timeout)
		if err == nil {
			s.breakers.Success(task.Source)
			return v, attempts, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempts > task.Retry.MaxRetries || !base.IsRetryable(err) {
			break
		}
		if err := sleep(ctx, s.clock, bo.NextBackOff()); err != nil {
			break
		}
	}

	if ctx.Err() != nil && errors.Is(lastErr, ctx.Err()) {
		s.breakers.Abandon(task.Source)
	} else {
		s.breakers.Failure(task.Source)
	}
	return zero, attempts, lastErr
}

// attempt races the operation against timeout. The operation's context is
// cancelled as soon as the attempt is decided, so abandoned work is told
// to stop.
func attempt[T any](ctx context.Context, clk clock.Clock, task Task[T], timeout time.Duration) (T, error) {
	var zero T
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("task %s panicked: %v", task.ID, r)}
			}
		}()
		v, err := task.Operation(opCtx)
		done <- outcome{v: v, err: err}
	}()

	timer := clk.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.v, o.err
	case <-timer.C():
		return zero, fmt.Errorf("%s after %s: %w", task.Source, timeout, ErrTaskTimeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func newBackOff(p RetryPolicy) backoff.BackOff {
	if p.Backoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	if !p.Exponential {
		return backoff.NewConstantBackOff(p.Backoff)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Backoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.Backoff << 10
	b.Reset()
	return b
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clk.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
