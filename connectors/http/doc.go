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

// Package http implements a place source backed by a JSON HTTP API.
//
// The connector maps HTTP status codes onto the shared error categories,
// honours Retry-After, throttles itself with a token bucket when the rate
// option is set and exposes radius search when nearby_path is configured.
// Retries are left to the scheduler.
package http
