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
Package logger provides structured JSON logging for the place fusion
services.

Each entry is a single JSON line containing the timestamp (RFC3339Nano),
level, component, instance ID, container name, optional request ID, the
message and free-form fields.

	log := logger.New("orchestrator")
	log.Info(requestID, "integration completed", map[string]interface{}{
	    "sources": 3,
	})

The minimum level defaults to INFO and can be set with LOG_LEVEL or
SetLevel. With returns a child logger carrying fixed fields, e.g. the
source an adapter talks to.
*/
package logger
