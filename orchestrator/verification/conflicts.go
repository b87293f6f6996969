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
	"fmt"
	"strings"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/fusion"
)

// Conflict types
const (
	ConflictCoordinate = "coordinate"
	ConflictName       = "name"
	ConflictDate       = "date"
	ConflictCategory   = "category"
)

func (v *Verifier) detectConflicts(sources []base.SourceData) []fusion.Conflict {
	var out []fusion.Conflict
	if c := v.coordinateConflict(sources); c != nil {
		out = append(out, *c)
	}
	if c := v.nameConflict(sources); c != nil {
		out = append(out, *c)
	}
	if c := dateConflict(sources); c != nil {
		out = append(out, *c)
	}
	if c := categoryConflict(sources); c != nil {
		out = append(out, *c)
	}
	return out
}

func (v *Verifier) coordinateConflict(sources []base.SourceData) *fusion.Conflict {
	var values []fusion.ConflictValue
	var pts []base.Coordinates
	for _, s := range sources {
		if s.Place.Coordinates == nil {
			continue
		}
		pts = append(pts, *s.Place.Coordinates)
		values = append(values, fusion.ConflictValue{
			SourceID: s.SourceID,
			Value:    fmt.Sprintf("%.6f,%.6f", s.Place.Coordinates.Lat, s.Place.Coordinates.Lng),
		})
	}
	if len(pts) < 2 {
		return nil
	}
	d := maxPairDistance(pts)
	if d <= v.cfg.ConflictDistanceMeters {
		return nil
	}
	severity := base.SeverityHigh
	if d > v.cfg.CriticalDistanceMeters {
		severity = base.SeverityCritical
	}
	return &fusion.Conflict{
		Field:       "location.coordinates",
		Type:        ConflictCoordinate,
		Severity:    severity,
		Description: fmt.Sprintf("sources place the location up to %.0fm apart", d),
		Values:      values,
	}
}

func (v *Verifier) nameConflict(sources []base.SourceData) *fusion.Conflict {
	var values []fusion.ConflictValue
	var names []string
	for _, s := range sources {
		if n := strings.TrimSpace(s.Place.Name); n != "" {
			names = append(names, n)
			values = append(values, fusion.ConflictValue{SourceID: s.SourceID, Value: n})
		}
	}
	if len(names) < 2 {
		return nil
	}
	sim := meanSimilarity(names)
	if sim >= v.cfg.NameConflictSimilarity {
		return nil
	}
	return &fusion.Conflict{
		Field:       "location.name",
		Type:        ConflictName,
		Severity:    base.SeverityMedium,
		Description: fmt.Sprintf("names are only %.0f%% similar", sim*100),
		Values:      values,
	}
}

func dateConflict(sources []base.SourceData) *fusion.Conflict {
	var values []fusion.ConflictValue
	distinct := make(map[string]bool)
	for _, s := range sources {
		if e := strings.TrimSpace(s.Place.Established); e != "" {
			distinct[e] = true
			values = append(values, fusion.ConflictValue{SourceID: s.SourceID, Value: e})
		}
	}
	if len(distinct) < 2 {
		return nil
	}
	return &fusion.Conflict{
		Field:       "basic_info.established",
		Type:        ConflictDate,
		Severity:    base.SeverityLow,
		Description: fmt.Sprintf("%d different establishment dates reported", len(distinct)),
		Values:      values,
	}
}

// categoryConflict flags sources whose category lists share nothing with
// any other source
func categoryConflict(sources []base.SourceData) *fusion.Conflict {
	var withCats []base.SourceData
	for _, s := range sources {
		if len(s.Place.Categories) > 0 {
			withCats = append(withCats, s)
		}
	}
	if len(withCats) < 2 {
		return nil
	}
	for i := 0; i < len(withCats); i++ {
		for j := i + 1; j < len(withCats); j++ {
			if jaccard(withCats[i].Place.Categories, withCats[j].Place.Categories) > 0 {
				return nil
			}
		}
	}
	values := make([]fusion.ConflictValue, 0, len(withCats))
	for _, s := range withCats {
		values = append(values, fusion.ConflictValue{SourceID: s.SourceID, Value: strings.Join(s.Place.Categories, ",")})
	}
	return &fusion.Conflict{
		Field:       "location.categories",
		Type:        ConflictCategory,
		Severity:    base.SeverityLow,
		Description: "sources share no category",
		Values:      values,
	}
}

func resolve(severity base.Severity) *fusion.Resolution {
	switch severity {
	case base.SeverityCritical:
		return &fusion.Resolution{Method: "manual_review", Reason: "critical conflict requires manual review", Confidence: 0}
	case base.SeverityHigh:
		return &fusion.Resolution{Method: "most_reliable_source", Reason: "resolved by the most reliable source", Confidence: 0.8}
	case base.SeverityMedium:
		return &fusion.Resolution{Method: "majority_vote", Reason: "resolved by majority vote", Confidence: 0.7}
	default:
		return &fusion.Resolution{Method: "most_recent", Reason: "resolved by the most recent data", Confidence: 0.6}
	}
}
