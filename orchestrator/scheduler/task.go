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
	"fmt"
	"strings"
	"time"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
)

// Priority orders tasks within a batch; higher runs first
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a priority name
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

var (
	// ErrCircuitOpen is returned without running the operation while the
	// source's breaker is open
	ErrCircuitOpen = base.NewCategorized(base.CategoryServiceUnavailable, "circuit breaker open")

	// ErrTaskTimeout is returned when an attempt exceeds the task timeout
	ErrTaskTimeout = base.NewCategorized(base.CategoryNetwork, "task timed out")

	// ErrBatchDeadline is returned for tasks whose wave could not start
	// before the batch timeout
	ErrBatchDeadline = base.NewCategorized(base.CategoryServiceUnavailable, "batch deadline exceeded before task started")

	// ErrSkipped is returned for tasks in waves skipped by FailFast
	ErrSkipped = base.NewCategorized(base.CategoryUnknown, "task skipped after an earlier wave failed")
)

// RetryPolicy controls retries of a failed attempt. The delay before retry
// n (0-based) is Backoff×2^n when Exponential, otherwise Backoff.
type RetryPolicy struct {
	MaxRetries  int
	Backoff     time.Duration
	Exponential bool
}

// Task is one unit of work bound to a source
type Task[T any] struct {
	ID        string
	Source    string
	Operation func(ctx context.Context) (T, error)
	Priority  Priority
	Timeout   time.Duration
	Retry     RetryPolicy
}

// BatchOptions tunes one ExecuteBatch call. Zero values use the scheduler
// configuration; FailFast is on whenever the configuration enables it.
type BatchOptions struct {
	MaxConcurrency int
	Timeout        time.Duration
	FailFast       bool
}

// Performance summarizes a batch run
type Performance struct {
	TotalTime           time.Duration `json:"total_time"`
	Succeeded           int           `json:"succeeded"`
	Failed              int           `json:"failed"`
	SuccessRate         float64       `json:"success_rate"`
	Throughput          float64       `json:"throughput"`
	ParallelEfficiency  float64       `json:"parallel_efficiency"`
	ResourceUtilization float64       `json:"resource_utilization"`
}

// BatchResult holds per-task outcomes keyed by task ID
type BatchResult[T any] struct {
	Successful  map[string]T
	Failed      map[string]error
	Attempts    map[string]int
	Durations   map[string]time.Duration
	Order       []string
	Performance Performance
}
