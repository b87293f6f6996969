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

// Package postgres implements a place source backed by a curated
// PostgreSQL table, such as a heritage registry maintained in-house.
//
// Lookups match names by case-insensitive substring or exact alias and
// order by distance when coordinates are given. Radius searches use a
// bounding-box query refined by great-circle distance.
package postgres
