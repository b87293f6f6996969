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

// Package main is the entry point for the placefusion service.
//
// placefusion answers place queries by fanning out to the configured
// sources, fusing and verifying their answers, and caching the result.
//
// Usage:
//
//	placefusion serve --config placefusion.yaml
//	placefusion integrate "경복궁" --lat 37.5796 --lng 126.9770
//	placefusion health
//	placefusion config example
//
// Without --config the service is configured from PORT, LOG_LEVEL,
// PERFORMANCE_MODE, REDIS_URL and DATABASE_URL.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
