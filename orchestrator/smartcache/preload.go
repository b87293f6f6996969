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
	"math"
	"sort"
	"time"
)

const (
	predictionWindow     = time.Hour
	minPatternAccesses   = 3
	candidateProbability = 0.3
	preloadProbability   = 0.7
	maxPredictions       = 10
	preloadedTag         = "preloaded"
)

// PreloadFunc refetches the value behind key. ok=false means the key is not
// known to the loader and is skipped.
type PreloadFunc[V any] func(ctx context.Context, key string) (value V, ok bool, err error)

// Prediction is the estimated probability that key is requested again soon
type Prediction struct {
	Key         string  `json:"key"`
	Probability float64 `json:"probability"`
}

// SetPreloader installs the function used by Preload
func (c *Cache[V]) SetPreloader(fn PreloadFunc[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preload = fn
}

// Predictions returns up to 10 keys whose recent access pattern makes a
// repeat request likely, highest probability first.
//
// For keys with at least three recorded accesses, the last hour is used:
// probability = min(count/10 × 1/max(ln(avgIntervalSeconds), 1), 1).
func (c *Cache[V]) Predictions() []Prediction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.predictionsLocked(c.clock.Now())
}

func (c *Cache[V]) predictionsLocked(now time.Time) []Prediction {
	var out []Prediction
	cutoff := now.Add(-predictionWindow)
	for key, history := range c.patterns {
		if len(history) < minPatternAccesses {
			continue
		}
		var recent []time.Time
		for _, ts := range history {
			if ts.After(cutoff) {
				recent = append(recent, ts)
			}
		}
		if len(recent) < 2 {
			continue
		}

		total := recent[len(recent)-1].Sub(recent[0]).Seconds()
		avgInterval := total / float64(len(recent)-1)
		regularity := 1.0
		if avgInterval > 0 {
			regularity = 1 / math.Max(math.Log(avgInterval), 1)
		}
		p := math.Min(float64(len(recent))/10*regularity, 1)
		if p > candidateProbability {
			out = append(out, Prediction{Key: key, Probability: p})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > maxPredictions {
		out = out[:maxPredictions]
	}
	return out
}

// Preload refreshes likely-requested keys that are not cached. It does
// nothing while the hit rate is below PreloadThreshold or no preloader is
// installed. It returns the number of keys loaded.
func (c *Cache[V]) Preload(ctx context.Context) int {
	c.mu.Lock()
	fn := c.preload
	hitRate := c.hitRateLocked()
	if fn == nil || hitRate < c.cfg.PreloadThreshold {
		c.mu.Unlock()
		return 0
	}
	var keys []string
	for _, p := range c.predictionsLocked(c.clock.Now()) {
		if _, cached := c.entries[p.Key]; p.Probability > preloadProbability && !cached {
			keys = append(keys, p.Key)
		}
	}
	c.mu.Unlock()

	loaded := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		v, ok, err := fn(ctx, key)
		success := err == nil && ok
		if success {
			if err := c.Set(key, v, SetOptions{Priority: PriorityLow, Tags: []string{preloadedTag}}); err != nil {
				success = false
			}
		}
		if err != nil {
			c.log.Warn("", "preload failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}

		c.mu.Lock()
		c.preloadAttempts++
		if success {
			c.preloadSuccess++
			loaded++
		}
		c.mu.Unlock()
	}
	return loaded
}
