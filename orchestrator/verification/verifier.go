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

package verification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/fusion"
	"github.com/cjg3605-hash/tripradio-sub007/shared/logger"
)

// MethodCrossReference identifies results produced by this package
const MethodCrossReference = "cross_reference"

// DefaultAuthorityWeights rates how authoritative known sources are
var DefaultAuthorityWeights = map[string]float64{
	"unesco":                           0.95,
	"cultural_heritage_administration": 0.95,
	"government":                       0.90,
	"korea_tourism_organization":       0.85,
	"wikidata":                         0.80,
	"google_places":                    0.75,
}

const defaultAuthority = 0.5

// Config holds verification thresholds
type Config struct {
	AuthorityWeights       map[string]float64
	VerifiedThreshold      float64
	ConflictDistanceMeters float64
	CriticalDistanceMeters float64
	NameConflictSimilarity float64
	FreshnessWindow        time.Duration
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		AuthorityWeights:       DefaultAuthorityWeights,
		VerifiedThreshold:      0.7,
		ConflictDistanceMeters: 1000,
		CriticalDistanceMeters: 10000,
		NameConflictSimilarity: 0.5,
		FreshnessWindow:        365 * 24 * time.Hour,
	}
}

// Verifier cross-checks the sources behind a fused record
type Verifier struct {
	cfg   Config
	clock clock.PassiveClock
	log   *logger.Logger
}

// Option configures a Verifier
type Option func(*Verifier)

// WithClock sets the clock used for timeliness
func WithClock(c clock.PassiveClock) Option {
	return func(v *Verifier) { v.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(v *Verifier) { v.log = l }
}

// New creates a Verifier
func New(cfg Config, opts ...Option) *Verifier {
	if cfg.AuthorityWeights == nil {
		cfg.AuthorityWeights = DefaultAuthorityWeights
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultConfig().FreshnessWindow
	}
	v := &Verifier{
		cfg:   cfg,
		clock: clock.RealClock{},
		log:   logger.Discard("verification"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Authority returns the authority weight of a source
func (v *Verifier) Authority(sourceID string) float64 {
	if w, ok := v.cfg.AuthorityWeights[sourceID]; ok {
		return w
	}
	return defaultAuthority
}

// Verify scores the record's sources on consistency, completeness,
// cross-source agreement, timeliness and authority, and lists conflicts.
func (v *Verifier) Verify(ctx context.Context, r *fusion.Record) (*fusion.Verification, error) {
	if r == nil {
		return nil, errors.New("verify: nil record")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	score := fusion.Score{
		Consistency:  v.consistency(r.Sources),
		Completeness: completeness(r),
		Accuracy:     crossReference(r.Sources),
		Timeliness:   v.timeliness(r.Sources),
		Authority:    v.authority(r.Sources),
	}
	score.Overall = score.Consistency*0.25 +
		score.Completeness*0.20 +
		score.Accuracy*0.25 +
		score.Timeliness*0.15 +
		score.Authority*0.15

	conflicts := v.detectConflicts(r.Sources)
	for i := range conflicts {
		conflicts[i].Resolution = resolve(conflicts[i].Severity)
	}

	out := &fusion.Verification{
		Confidence: clamp(score.Overall),
		Method:     MethodCrossReference,
		Score:      score,
		Conflicts:  conflicts,
		VerifiedAt: v.clock.Now(),
	}
	out.IsVerified = score.Overall >= v.cfg.VerifiedThreshold && !out.HasCritical()
	out.Recommendations = recommendations(score, out.HasCritical(), len(r.Sources))

	v.log.Debug("", "record verified", map[string]interface{}{
		"record_id":  r.ID,
		"overall":    score.Overall,
		"conflicts":  len(conflicts),
		"isVerified": out.IsVerified,
	})
	return out, nil
}

func (v *Verifier) consistency(sources []base.SourceData) float64 {
	score := 1.0

	if pts := coordinatesOf(sources); len(pts) > 1 {
		if maxPairDistance(pts) > v.cfg.ConflictDistanceMeters {
			score -= 0.3
		}
	}
	if names := namesOf(sources); len(names) > 1 && meanSimilarity(names) < 0.7 {
		score -= 0.2
	}

	var cats []string
	for _, s := range sources {
		cats = append(cats, s.Place.Categories...)
	}
	score *= categoryConsistency(cats)
	return clamp(score)
}

func completeness(r *fusion.Record) float64 {
	required := []bool{
		r.Location.Name != "",
		r.Location.Coordinates != nil,
		r.BasicInfo.Description != "",
		r.Location.Address != "",
	}
	optional := []bool{
		len(r.BasicInfo.Significance) > 0,
		r.BasicInfo.Established != "",
		len(r.Location.Categories) > 0,
		len(r.BasicInfo.Facts) > 0,
	}
	return share(required)*0.8 + share(optional)*0.2
}

func share(flags []bool) float64 {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return float64(n) / float64(len(flags))
}

// crossReference is the mean pairwise agreement between sources; a single
// source scores 0.5.
func crossReference(sources []base.SourceData) float64 {
	if len(sources) < 2 {
		return 0.5
	}
	var total float64
	pairs := 0
	for i := 0; i < len(sources); i++ {
		for j := i + 1; j < len(sources); j++ {
			total += agreement(sources[i].Place, sources[j].Place)
			pairs++
		}
	}
	return total / float64(pairs)
}

func agreement(a, b base.PlaceFacts) float64 {
	var sum float64
	n := 0
	if a.Coordinates != nil && b.Coordinates != nil {
		km := base.HaversineMeters(*a.Coordinates, *b.Coordinates) / 1000
		if km < 1 {
			sum++
		} else {
			sum += math.Max(0, 1-km/10)
		}
		n++
	}
	if a.Name != "" && b.Name != "" {
		sum += similarity(a.Name, b.Name)
		n++
	}
	if len(a.Categories) > 0 && len(b.Categories) > 0 {
		sum += jaccard(a.Categories, b.Categories)
		n++
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}

func (v *Verifier) timeliness(sources []base.SourceData) float64 {
	if len(sources) == 0 {
		return 0
	}
	now := v.clock.Now()
	var total float64
	for _, s := range sources {
		age := now.Sub(s.RetrievedAt)
		total += math.Max(0, 1-float64(age)/float64(v.cfg.FreshnessWindow))
	}
	return clamp(total / float64(len(sources)))
}

func (v *Verifier) authority(sources []base.SourceData) float64 {
	var weighted, weight float64
	for _, s := range sources {
		weighted += v.Authority(s.SourceID) * s.Reliability
		weight += s.Reliability
	}
	if weight == 0 {
		return defaultAuthority
	}
	return weighted / weight
}

func recommendations(score fusion.Score, critical bool, sourceCount int) []string {
	var out []string
	if score.Consistency < 0.7 {
		out = append(out, "sources disagree; verify the conflicting fields against an additional source")
	}
	if score.Completeness < 0.7 {
		out = append(out, "required fields are missing; collect more data for this place")
	}
	if score.Accuracy < 0.7 {
		out = append(out, "cross-check the record against an authoritative source")
	}
	if critical {
		out = append(out, "critical conflicts found; manual review required")
	}
	if sourceCount < 2 {
		out = append(out, "only one source contributed; add more sources to improve reliability")
	}
	return out
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func coordinatesOf(sources []base.SourceData) []base.Coordinates {
	var pts []base.Coordinates
	for _, s := range sources {
		if s.Place.Coordinates != nil {
			pts = append(pts, *s.Place.Coordinates)
		}
	}
	return pts
}

func namesOf(sources []base.SourceData) []string {
	var names []string
	for _, s := range sources {
		if n := strings.TrimSpace(s.Place.Name); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func maxPairDistance(pts []base.Coordinates) float64 {
	var farthest float64
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			if d := base.HaversineMeters(pts[i], pts[j]); d > farthest {
				farthest = d
			}
		}
	}
	return farthest
}
