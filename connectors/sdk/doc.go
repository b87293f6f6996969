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

// Package sdk provides helpers for building and testing source adapters.
//
// MockAdapter is a scriptable base.Adapter and base.NearbySearcher with
// call tracking:
//
//	m := sdk.NewMockAdapter("wikidata", 0.8).
//		SetPlaces(base.PlaceFacts{Name: "Gyeongbokgung Palace"})
//	reg.Register(m, m.Config())
//
// TestHarness wraps a *testing.T with a bounded context and adapter
// assertions.
package sdk
