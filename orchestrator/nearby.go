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
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/scheduler"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/smartcache"
)

// ReasonNoNearbySources is reported when no registered source can search
// by location
const ReasonNoNearbySources = "no_nearby_sources"

// NearbyKey builds the cache key of a nearby search
func NearbyKey(center base.Coordinates, radiusMeters float64, limit int) string {
	return "nearby:" + strconv.FormatFloat(center.Lat, 'f', -1, 64) +
		":" + strconv.FormatFloat(center.Lng, 'f', -1, 64) +
		":" + strconv.FormatFloat(radiusMeters, 'f', -1, 64) +
		":" + strconv.Itoa(limit)
}

// Nearby finds places around center across every source that supports
// location search, closest first. limit <= 0 uses the configured default.
func (o *Orchestrator) Nearby(ctx context.Context, center base.Coordinates, radiusMeters float64, limit int) (res *NearbyResult) {
	start := o.clock.Now()
	requestID := uuid.New().String()
	cfg := o.Config()
	if limit <= 0 {
		limit = cfg.NearbyLimit
	}

	defer func() {
		if r := recover(); r != nil {
			o.log.Error(requestID, "nearby search panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			res = &NearbyResult{
				Errors:        []CategorizedError{categorize("orchestrator", fmt.Errorf("internal error: %v", r), 0)},
				FailureReason: ReasonInternalError,
				Places:        []NearbyPlace{},
				SourcesUsed:   []string{},
			}
		}
		res.RequestID = requestID
		res.Performance = o.updatePerformance(o.clock.Since(start), len(res.SourcesUsed), len(res.Errors), 0, res.Success)
	}()

	if !center.Valid() || radiusMeters <= 0 {
		err := base.NewSourceError("orchestrator", "nearby", base.CategoryDataFormat,
			fmt.Sprintf("invalid search area %v,%v radius %v", center.Lat, center.Lng, radiusMeters), nil)
		return &NearbyResult{
			Errors:        []CategorizedError{categorize("orchestrator", err, 0)},
			FailureReason: ReasonInvalidRequest,
			Places:        []NearbyPlace{},
			SourcesUsed:   []string{},
		}
	}

	key := NearbyKey(center, radiusMeters, limit)
	if cached, ok := o.cache.Get(key); ok {
		return &NearbyResult{
			Success:     true,
			Places:      cached.Nearby,
			Errors:      []CategorizedError{},
			SourcesUsed: cached.SourcesUsed,
			CacheHit:    true,
		}
	}

	res = &NearbyResult{Places: []NearbyPlace{}, Errors: []CategorizedError{}, SourcesUsed: []string{}}

	// sources not instantiated yet are resolved inside their task, behind
	// the breaker and the pool
	var tasks []scheduler.Task[nearbyAnswer]
	for _, name := range o.sources.List() {
		if a, loaded := o.sources.Loaded(name); loaded {
			if _, ok := a.(base.NearbySearcher); !ok {
				continue
			}
		}
		sc, _ := o.sources.Config(name)
		tasks = append(tasks, scheduler.Task[nearbyAnswer]{
			ID:        requestID + "/" + name,
			Source:    name,
			Priority:  scheduler.PriorityHigh,
			Timeout:   profileFor(ModeComprehensive, cfg).taskTimeout(sc, cfg),
			Retry:     scheduler.RetryPolicy{MaxRetries: 1, Backoff: cfg.RetryBackoff, Exponential: true},
			Operation: o.nearbyOperation(name, sc, center, radiusMeters),
		})
	}
	if len(tasks) == 0 {
		res.FailureReason = ReasonNoNearbySources
		return res
	}

	sched := o.sched.Config()
	timeout := cfg.Timeout
	if sched.Timeout > 0 && sched.Timeout < timeout {
		timeout = sched.Timeout
	}
	batch := scheduler.ExecuteBatch(ctx, o.sched, tasks, scheduler.BatchOptions{
		MaxConcurrency: min(len(tasks), sched.MaxConcurrency),
		Timeout:        timeout,
	})

	capable := 0
	for _, t := range tasks {
		answer, ok := batch.Successful[t.ID]
		if !ok {
			capable++
			res.Errors = append(res.Errors, categorize(t.Source, batch.Failed[t.ID], batch.Attempts[t.ID]))
			continue
		}
		if !answer.supported {
			continue
		}
		capable++
		res.SourcesUsed = append(res.SourcesUsed, t.Source)
		for _, d := range answer.places {
			if d.Place.Coordinates == nil {
				continue
			}
			res.Places = append(res.Places, NearbyPlace{
				SourceData:     d,
				DistanceMeters: base.HaversineMeters(center, *d.Place.Coordinates),
			})
		}
	}
	if capable == 0 {
		res.FailureReason = ReasonNoNearbySources
		return res
	}
	if len(res.SourcesUsed) == 0 {
		res.FailureReason = ReasonAllSourcesFailed
		return res
	}

	sort.SliceStable(res.Places, func(i, j int) bool {
		return res.Places[i].DistanceMeters < res.Places[j].DistanceMeters
	})
	if len(res.Places) > limit {
		res.Places = res.Places[:limit]
	}
	res.Success = true

	tags := append([]string{"nearby", "location"}, res.SourcesUsed...)
	if err := o.cache.Set(key, CachedResult{Nearby: res.Places, SourcesUsed: res.SourcesUsed}, smartcache.SetOptions{
		Tags:     tags,
		Priority: smartcache.PriorityMedium,
		Source:   "nearby",
	}); err != nil {
		o.log.Warn(requestID, "failed to cache nearby result", map[string]interface{}{"key": key, "error": err.Error()})
	}
	return res
}

// nearbyAnswer is one source's radius search; supported is false when the
// source cannot search by location
type nearbyAnswer struct {
	places    []base.SourceData
	supported bool
}

func (o *Orchestrator) nearbyOperation(name string, sc base.AdapterConfig, center base.Coordinates, radiusMeters float64) func(context.Context) (nearbyAnswer, error) {
	return func(ctx context.Context) (nearbyAnswer, error) {
		adapter, err := o.sources.Get(name)
		if err != nil {
			return nearbyAnswer{}, err
		}
		searcher, ok := adapter.(base.NearbySearcher)
		if !ok {
			return nearbyAnswer{}, nil
		}
		found, err := searcher.SearchNearby(ctx, center, radiusMeters)
		if err != nil {
			return nearbyAnswer{}, err
		}
		now := o.clock.Now()
		for i := range found {
			found[i] = fillSourceData(found[i], name, sc, 0, now)
		}
		return nearbyAnswer{places: found, supported: true}, nil
	}
}
