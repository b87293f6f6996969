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
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// State of a circuit breaker
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// BreakerState is a snapshot of one source's breaker
type BreakerState struct {
	Source          string    `json:"source"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	TrialInFlight   bool      `json:"trial_in_flight"`
}

type breaker struct {
	state       State
	failures    int
	lastFailure time.Time
	trial       bool
}

// Breakers tracks one circuit breaker per source.
//
//	closed    --failure (count >= threshold)--> open
//	open      --admission after recovery-->     half-open (caller makes the trial call)
//	half-open --trial success-->                closed
//	half-open --trial failure-->                open
//
// While half-open only the trial call is admitted.
type Breakers struct {
	threshold int
	recovery  time.Duration
	clock     clock.PassiveClock
	onChange  func(source string, from, to State)

	mu sync.Mutex
	m  map[string]*breaker
}

// NewBreakers creates a breaker set
func NewBreakers(threshold int, recovery time.Duration, clk clock.PassiveClock) *Breakers {
	if threshold <= 0 {
		threshold = 5
	}
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Breakers{
		threshold: threshold,
		recovery:  recovery,
		clock:     clk,
		m:         make(map[string]*breaker),
	}
}

// OnStateChange registers a callback fired on every transition. It runs
// with the breaker lock held and must not call back into Breakers.
func (b *Breakers) OnStateChange(fn func(source string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

func (b *Breakers) getLocked(source string) *breaker {
	br, ok := b.m[source]
	if !ok {
		br = &breaker{state: StateClosed}
		b.m[source] = br
	}
	return br
}

func (b *Breakers) transitionLocked(source string, br *breaker, to State) {
	from := br.state
	br.state = to
	if from != to && b.onChange != nil {
		b.onChange(source, from, to)
	}
}

// Allow reports whether a task for source may run now. An admitted caller
// must report back with Success, Failure or Abandon.
func (b *Breakers) Allow(source string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.getLocked(source)
	switch br.state {
	case StateOpen:
		if b.clock.Since(br.lastFailure) < b.recovery {
			return false
		}
		b.transitionLocked(source, br, StateHalfOpen)
		br.trial = true
		return true
	case StateHalfOpen:
		if br.trial {
			return false
		}
		br.trial = true
		return true
	default:
		return true
	}
}

// Success closes the breaker and resets the failure count
func (b *Breakers) Success(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.getLocked(source)
	br.failures = 0
	br.trial = false
	b.transitionLocked(source, br, StateClosed)
}

// Failure counts a failure. A failed trial call re-opens the breaker at once.
func (b *Breakers) Failure(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.getLocked(source)
	br.failures++
	br.lastFailure = b.clock.Now()
	wasTrial := br.state == StateHalfOpen
	br.trial = false
	if wasTrial || br.failures >= b.threshold {
		b.transitionLocked(source, br, StateOpen)
	}
}

// Abandon releases an admission without counting it, e.g. when the caller
// gave up before the source answered.
func (b *Breakers) Abandon(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getLocked(source).trial = false
}

// Reset forces the breaker for source back to closed
func (b *Breakers) Reset(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	br := b.getLocked(source)
	br.failures = 0
	br.trial = false
	br.lastFailure = time.Time{}
	b.transitionLocked(source, br, StateClosed)
}

// State returns the breaker snapshot for source
func (b *Breakers) State(source string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return snapshot(source, b.getLocked(source))
}

// Snapshot returns all breakers sorted by source
func (b *Breakers) Snapshot() []BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]BreakerState, 0, len(b.m))
	for source, br := range b.m {
		out = append(out, snapshot(source, br))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func snapshot(source string, br *breaker) BreakerState {
	return BreakerState{
		Source:          source,
		State:           br.state,
		FailureCount:    br.failures,
		LastFailureTime: br.lastFailure,
		TrialInFlight:   br.trial,
	}
}
