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
	"sort"
	"time"
)

// Stats is a snapshot of cache behaviour
type Stats struct {
	Hits               int64         `json:"hits"`
	Misses             int64         `json:"misses"`
	HitRate            float64       `json:"hit_rate"`
	AvgResponseTime    time.Duration `json:"avg_response_time"`
	MemoryUtilization  float64       `json:"memory_utilization"`
	PreloadSuccessRate float64       `json:"preload_success_rate"`
	TotalEntries       int           `json:"total_entries"`
	TotalSize          int64         `json:"total_size"`
	Evictions          int64         `json:"evictions"`
	Expirations        int64         `json:"expirations"`
	TopAccessedKeys    []string      `json:"top_accessed_keys"`
}

func (c *Cache[V]) hitRateLocked() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// HitRate returns hits over lookups without building a full snapshot
func (c *Cache[V]) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitRateLocked()
}

// Stats returns a snapshot of the cache statistics
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:              c.hits,
		Misses:            c.misses,
		HitRate:           c.hitRateLocked(),
		AvgResponseTime:   time.Duration(c.avgResponseMs * float64(time.Millisecond)),
		MemoryUtilization: float64(c.size) / float64(c.cfg.MaxSize),
		TotalEntries:      len(c.entries),
		TotalSize:         c.size,
		Evictions:         c.evictions,
		Expirations:       c.expirations,
	}
	if c.preloadAttempts > 0 {
		s.PreloadSuccessRate = float64(c.preloadSuccess) / float64(c.preloadAttempts)
	}

	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].accessCount != entries[j].accessCount {
			return entries[i].accessCount > entries[j].accessCount
		}
		return entries[i].key < entries[j].key
	})
	for i := 0; i < len(entries) && i < maxPredictions; i++ {
		s.TopAccessedKeys = append(s.TopAccessedKeys, entries[i].key)
	}
	return s
}
