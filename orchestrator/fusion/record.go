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

package fusion

import (
	"time"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
)

const (
	// RecordVersion and RecordSchema are stamped into every record's metadata
	RecordVersion = "1.0"
	RecordSchema  = "integrated-location-data"

	shortDescriptionLimit = 200
)

// Location holds the fused location facts
type Location struct {
	Name        string            `json:"name"`
	Coordinates *base.Coordinates `json:"coordinates,omitempty"`
	Address     string            `json:"address,omitempty"`
	Country     string            `json:"country,omitempty"`
	Region      string            `json:"region,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
}

// BasicInfo holds descriptive facts
type BasicInfo struct {
	Description      string   `json:"description,omitempty"`
	ShortDescription string   `json:"short_description,omitempty"`
	Descriptions     []string `json:"descriptions,omitempty"`
	Significance     []string `json:"significance,omitempty"`
	Established      string   `json:"established,omitempty"`
	Facts            []string `json:"facts,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

// Provenance records which source contributed and how it behaved
type Provenance struct {
	SourceID    string        `json:"source_id"`
	SourceName  string        `json:"source_name"`
	Reliability float64       `json:"reliability"`
	Latency     time.Duration `json:"latency"`
	RetrievedAt time.Time     `json:"retrieved_at"`
}

// Metadata describes the record itself
type Metadata struct {
	Version      string       `json:"version"`
	Schema       string       `json:"schema"`
	Language     string       `json:"language,omitempty"`
	Provenance   []Provenance `json:"provenance"`
	QualityScore float64      `json:"quality_score"`
	Tags         []string     `json:"tags,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Score breaks down a verification result
type Score struct {
	Consistency  float64 `json:"consistency"`
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Timeliness   float64 `json:"timeliness"`
	Authority    float64 `json:"authority"`
	Overall      float64 `json:"overall"`
}

// ConflictValue is one source's claim for a conflicting field
type ConflictValue struct {
	SourceID string `json:"source_id"`
	Value    string `json:"value"`
}

// Resolution describes how a conflict was settled
type Resolution struct {
	Method     string  `json:"method"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Conflict is a disagreement between sources
type Conflict struct {
	Field       string          `json:"field"`
	Type        string          `json:"type"`
	Severity    base.Severity   `json:"severity"`
	Description string          `json:"description"`
	Values      []ConflictValue `json:"values"`
	Resolution  *Resolution     `json:"resolution,omitempty"`
}

// Verification is the verifier's verdict on a record
type Verification struct {
	IsVerified      bool       `json:"is_verified"`
	Confidence      float64    `json:"confidence"`
	Method          string     `json:"method"`
	Score           Score      `json:"score"`
	Conflicts       []Conflict `json:"conflicts"`
	Recommendations []string   `json:"recommendations,omitempty"`
	VerifiedAt      time.Time  `json:"verified_at"`
}

// HasCritical reports whether any conflict is critical
func (v *Verification) HasCritical() bool {
	if v == nil {
		return false
	}
	for _, c := range v.Conflicts {
		if c.Severity == base.SeverityCritical {
			return true
		}
	}
	return false
}

// Record is the fused, cross-source result for one place
type Record struct {
	ID           string            `json:"id"`
	Location     Location          `json:"location"`
	BasicInfo    BasicInfo         `json:"basic_info"`
	Sources      []base.SourceData `json:"sources"`
	Confidence   float64           `json:"confidence"`
	Verification *Verification     `json:"verification,omitempty"`
	Metadata     Metadata          `json:"metadata"`
	LastVerified time.Time         `json:"last_verified"`
}
