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
Package pool implements a bounded, per-source pool of logical connections.

Each source gets at most MaxConnections connections. Acquire reuses an
idle connection, creates a new one while below the limit, or queues the
caller until a Release hands a connection over. Waiting is bounded by
AcquireTimeout; a timeout yields ErrAcquireTimeout, which classifies as
service_unavailable and is retryable.

	p, _ := pool.New(pool.DefaultConfig(), pool.WithLogger(log))
	p.Start(ctx) // background reaper
	defer p.Close()

	conn, err := p.Acquire(ctx, "wikidata")
	if err != nil {
	    return err
	}
	defer p.Release(conn)

The reaper runs every ReapInterval and destroys connections idle longer
than IdleTimeout while the source holds more than MinConnections.
*/
package pool
