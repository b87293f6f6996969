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

package ratelimit

import (
	"context"
	"fmt"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
)

// QuotaAdapter enforces a shared call quota in front of an adapter.
// Calls over quota fail with a rate_limit error carrying RetryAfter.
type QuotaAdapter struct {
	base.Adapter
	limiter *Limiter
	limit   int
}

type quotaNearbyAdapter struct {
	*QuotaAdapter
	searcher base.NearbySearcher
}

// Wrap puts a quota of limit calls per window in front of a. The result
// implements base.NearbySearcher when a does.
func Wrap(a base.Adapter, l *Limiter, limit int) base.Adapter {
	q := &QuotaAdapter{Adapter: a, limiter: l, limit: limit}
	if s, ok := a.(base.NearbySearcher); ok {
		return &quotaNearbyAdapter{QuotaAdapter: q, searcher: s}
	}
	return q
}

func (q *QuotaAdapter) admit(ctx context.Context, op string) error {
	d, err := q.limiter.Allow(ctx, q.Name(), q.limit)
	if err != nil || d.Allowed {
		return nil
	}
	serr := base.NewSourceError(q.Name(), op, base.CategoryRateLimit,
		fmt.Sprintf("shared quota of %d calls per %s exhausted", q.limit, q.limiter.Window()), nil)
	serr.RetryAfter = d.RetryAfter
	return serr
}

// Fetch implements base.Adapter
func (q *QuotaAdapter) Fetch(ctx context.Context, query string, coords *base.Coordinates) ([]base.SourceData, error) {
	if err := q.admit(ctx, "fetch"); err != nil {
		return nil, err
	}
	return q.Adapter.Fetch(ctx, query, coords)
}

// SearchNearby implements base.NearbySearcher
func (q *quotaNearbyAdapter) SearchNearby(ctx context.Context, center base.Coordinates, radiusMeters float64) ([]base.SourceData, error) {
	if err := q.admit(ctx, "nearby"); err != nil {
		return nil, err
	}
	return q.searcher.SearchNearby(ctx, center, radiusMeters)
}
