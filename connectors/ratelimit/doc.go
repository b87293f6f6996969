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

// Package ratelimit shares per-source call quotas between placefusion
// instances through Redis.
//
// Limiter keeps a sliding window of admitted calls per source in a sorted
// set. Wrap puts a Limiter in front of any adapter so that upstream
// provider quotas are respected across the whole deployment.
package ratelimit
