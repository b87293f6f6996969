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
	"sort"
	"time"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/scheduler"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/smartcache"
)

// profile is how a mode shapes one batch
type profile struct {
	timeoutFactor float64
	retries       int
	concurrency   int
	batchTimeout  time.Duration
	failFast      bool
	cachePriority smartcache.Priority
}

func profileFor(mode Mode, cfg Config) profile {
	var p profile
	switch mode {
	case ModeSpeed:
		p = profile{timeoutFactor: 1, retries: 1, concurrency: 8, batchTimeout: 8 * time.Second, failFast: true, cachePriority: smartcache.PriorityMedium}
	case ModeComprehensive:
		p = profile{timeoutFactor: 2.5, retries: cfg.RetryAttempts, concurrency: 4, batchTimeout: 20 * time.Second, cachePriority: smartcache.PriorityCritical}
	default:
		p = profile{timeoutFactor: 2, retries: cfg.RetryAttempts, concurrency: 4, batchTimeout: 20 * time.Second, cachePriority: smartcache.PriorityHigh}
	}
	if p.batchTimeout > cfg.Timeout {
		p.batchTimeout = cfg.Timeout
	}
	return p
}

// within bounds the profile by the scheduler configuration
func (p profile) within(sc scheduler.Config) profile {
	if sc.MaxConcurrency > 0 && p.concurrency > sc.MaxConcurrency {
		p.concurrency = sc.MaxConcurrency
	}
	if sc.Timeout > 0 && p.batchTimeout > sc.Timeout {
		p.batchTimeout = sc.Timeout
	}
	p.failFast = p.failFast || sc.FailFast
	return p
}

// taskTimeout scales the source timeout by the mode, capped by the
// orchestrator timeout
func (p profile) taskTimeout(source base.AdapterConfig, cfg Config) time.Duration {
	timeout := source.Timeout
	if timeout <= 0 {
		timeout = cfg.SourceTimeout
	}
	d := time.Duration(float64(timeout) * p.timeoutFactor)
	if d > cfg.Timeout {
		d = cfg.Timeout
	}
	return d
}

// sourceInfo is what prioritization needs to know about a source
type sourceInfo struct {
	name      string
	latency   time.Duration
	authority float64
}

var rankPriority = []scheduler.Priority{
	scheduler.PriorityCritical,
	scheduler.PriorityHigh,
	scheduler.PriorityMedium,
}

// priorities assigns a task priority per source. Speed ranks by latency
// (fastest first), accuracy by authority (highest first); rank 0 is
// critical, 1 high, 2 medium and the rest low. Comprehensive makes every
// source high.
func priorities(mode Mode, sources []sourceInfo) map[string]scheduler.Priority {
	out := make(map[string]scheduler.Priority, len(sources))
	if mode == ModeComprehensive {
		for _, s := range sources {
			out[s.name] = scheduler.PriorityHigh
		}
		return out
	}

	ranked := append([]sourceInfo(nil), sources...)
	if mode == ModeSpeed {
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].latency < ranked[j].latency })
	} else {
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].authority > ranked[j].authority })
	}
	for i, s := range ranked {
		p := scheduler.PriorityLow
		if i < len(rankPriority) {
			p = rankPriority[i]
		}
		out[s.name] = p
	}
	return out
}
