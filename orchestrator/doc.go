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

// Package orchestrator integrates place facts from many unreliable sources.
//
// Integrate checks the smart cache, then runs one scheduler task per
// requested source. Task priorities, timeouts, retries and batch shape come
// from the performance mode:
//
//	mode           priority by          timeout  retries        concurrency  fail fast
//	speed          historical latency   x1       1              8            yes
//	accuracy       authority            x2       RetryAttempts  4            no
//	comprehensive  all high             x2.5     RetryAttempts  4            no
//
// Successful answers are fused (see package fusion), verified and cached.
// Every failure is reported inside the result as a CategorizedError;
// Integrate never returns a Go error and recovers from panics.
//
// The API type exposes the orchestrator over HTTP with gorilla/mux, and
// Metrics plus StatsCollector export Prometheus metrics.
package orchestrator
