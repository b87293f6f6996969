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

package orchestrator

import (
	"errors"
	"time"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/fusion"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/scheduler"
)

type (
	// IntegratedRecord is the fused record returned to callers
	IntegratedRecord = fusion.Record
	// VerificationResult is the verifier's verdict on a record
	VerificationResult = fusion.Verification
)

// Failure reasons
const (
	ReasonAllSourcesFailed = "all_data_sources_failed"
	ReasonInternalError    = "internal_error"
	ReasonInvalidRequest   = "invalid_request"
	ReasonNoSources        = "no_data_sources"
	// ReasonCanceled is reported to a caller whose context ended before the
	// integration finished; the integration itself still completes
	ReasonCanceled = "request_canceled"
)

// IntegrateOptions tunes one Integrate call. BypassCache is not part of the
// cache key.
type IntegrateOptions struct {
	Sources     []string `json:"sources,omitempty"`
	Mode        Mode     `json:"mode,omitempty"`
	Language    string   `json:"language,omitempty"`
	BypassCache bool     `json:"-"`
}

// CategorizedError is a per-source failure as reported to callers
type CategorizedError struct {
	Source      string             `json:"source"`
	Category    base.ErrorCategory `json:"category"`
	Severity    base.Severity      `json:"severity"`
	Message     string             `json:"message"`
	UserMessage string             `json:"user_message"`
	Retryable   bool               `json:"retryable"`
	Attempts    int                `json:"attempts,omitempty"`
}

func categorize(source string, err error, attempts int) CategorizedError {
	if err == nil {
		err = errors.New("task produced no result")
	}
	cat := base.Classify(err)
	retryable := cat.Retryable()
	var se *base.SourceError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		retryable = true
	}
	return CategorizedError{
		Source:      source,
		Category:    cat,
		Severity:    cat.Severity(),
		Message:     err.Error(),
		UserMessage: cat.UserMessage(),
		Retryable:   retryable,
		Attempts:    attempts,
	}
}

// PerformanceMetrics is the orchestrator's rolling view of its own
// behaviour, refreshed after every request
type PerformanceMetrics struct {
	ResponseTime time.Duration `json:"response_time"`
	Throughput   float64       `json:"throughput"`
	ErrorRate    float64       `json:"error_rate"`
	CacheHitRate float64       `json:"cache_hit_rate"`
	DataQuality  float64       `json:"data_quality"`
	Uptime       float64       `json:"uptime"`
}

// IntegrationResult is the outcome of Integrate. Failures are reported
// here, never as a Go error.
type IntegrationResult struct {
	RequestID        string                 `json:"request_id"`
	Success          bool                   `json:"success"`
	Record           *IntegratedRecord      `json:"data,omitempty"`
	Errors           []CategorizedError     `json:"errors"`
	Performance      PerformanceMetrics     `json:"performance"`
	Batch            *scheduler.Performance `json:"batch,omitempty"`
	SourcesUsed      []string               `json:"sources"`
	FailureReason    string                 `json:"failure_reason,omitempty"`
	Recommendations  []string               `json:"recommendations,omitempty"`
	RetryRecommended bool                   `json:"retry_recommended"`
	CacheHit         bool                   `json:"cache_hit"`
	FallbackUsed     bool                   `json:"fallback_used,omitempty"`
}

// NearbyPlace is one source answer with its distance from the search
// center
type NearbyPlace struct {
	base.SourceData
	DistanceMeters float64 `json:"distance_meters"`
}

// NearbyResult is the outcome of Nearby
type NearbyResult struct {
	RequestID     string             `json:"request_id"`
	Success       bool               `json:"success"`
	Places        []NearbyPlace      `json:"places"`
	Errors        []CategorizedError `json:"errors"`
	SourcesUsed   []string           `json:"sources"`
	FailureReason string             `json:"failure_reason,omitempty"`
	CacheHit      bool               `json:"cache_hit"`
	Performance   PerformanceMetrics `json:"performance"`
}

// CachedResult is what the orchestrator keeps in the smart cache
type CachedResult struct {
	Record      *IntegratedRecord `json:"record,omitempty"`
	Nearby      []NearbyPlace     `json:"nearby,omitempty"`
	SourcesUsed []string          `json:"sources_used"`
}
