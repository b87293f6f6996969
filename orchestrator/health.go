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

	"golang.org/x/sync/errgroup"
)

// HealthCheck asks every registered source for its health concurrently. A
// source that errors or cannot be built counts as unhealthy.
func (o *Orchestrator) HealthCheck(ctx context.Context) map[string]bool {
	names := o.sources.List()
	healthy := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			adapter, err := o.sources.Get(name)
			if err != nil {
				return nil
			}
			status, err := adapter.HealthCheck(gctx)
			if err != nil {
				o.log.Warn("", "source health check failed", map[string]interface{}{"source": name, "error": err.Error()})
				return nil
			}
			healthy[i] = status != nil && status.Healthy
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]bool, len(names))
	for i, name := range names {
		out[name] = healthy[i]
	}
	return out
}
