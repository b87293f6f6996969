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

/*
Package base defines the contract between the fusion core and place-data
sources.

Every source implements Adapter. Fetch returns zero or more SourceData
values, each carrying the source's reliability, the observed latency and a
normalized PlaceFacts. Adapters that can search around a point also
implement NearbySearcher.

# Errors

Adapters report failures as *SourceError with one of the categories below.
Classify maps any error (typed, wrapped, HTTP status, net.Error, context
errors or plain messages) to a category:

	authentication       critical  not retryable
	network              medium    retryable
	rate_limit           medium    retryable after backoff
	not_found            low       not retryable
	data_format          low       not retryable
	service_unavailable  high      retryable
	unknown              medium    retryable
*/
package base
