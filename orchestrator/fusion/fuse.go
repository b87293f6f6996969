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
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
)

// Options for a fusion pass
type Options struct {
	// Fallback coordinates are used when no source supplies a pair
	Fallback *base.Coordinates
	Language string
	Now      time.Time
}

// Fuse merges per-source answers into one record. Sources are taken in
// the given order and the output depends only on the inputs.
//
//   - name: first non-empty from a source with reliability > 0.9, else the
//     first non-empty
//   - coordinates: the last source supplying a pair
//   - address, country, region: last non-empty
//   - descriptions, categories, tags, facts: unioned in first-seen order
func Fuse(sources []base.SourceData, opts Options) *Record {
	r := &Record{
		Sources: append([]base.SourceData(nil), sources...),
	}

	var firstName, trustedName string
	for _, s := range sources {
		p := s.Place
		if name := strings.TrimSpace(p.Name); name != "" {
			if firstName == "" {
				firstName = name
			}
			if trustedName == "" && s.Reliability > 0.9 {
				trustedName = name
			}
		}
		if p.Coordinates != nil {
			c := *p.Coordinates
			r.Location.Coordinates = &c
		}
		if p.Address != "" {
			r.Location.Address = p.Address
		}
		if p.Country != "" {
			r.Location.Country = p.Country
		}
		if p.Region != "" {
			r.Location.Region = p.Region
		}
		if p.Description != "" {
			r.BasicInfo.Descriptions = appendUnique(r.BasicInfo.Descriptions, p.Description)
		}
		if p.Significance != "" {
			r.BasicInfo.Significance = appendUnique(r.BasicInfo.Significance, p.Significance)
		}
		if p.Established != "" && r.BasicInfo.Established == "" {
			r.BasicInfo.Established = p.Established
		}
		r.Location.Categories = appendUnique(r.Location.Categories, p.Categories...)
		r.BasicInfo.Tags = appendUnique(r.BasicInfo.Tags, p.Tags...)
		r.BasicInfo.Facts = appendUnique(r.BasicInfo.Facts, p.Facts...)

		r.Metadata.Provenance = append(r.Metadata.Provenance, Provenance{
			SourceID:    s.SourceID,
			SourceName:  s.SourceName,
			Reliability: s.Reliability,
			Latency:     s.Latency,
			RetrievedAt: s.RetrievedAt,
		})
		r.Metadata.Tags = appendUnique(r.Metadata.Tags, s.SourceID)
	}

	r.Location.Name = firstName
	if trustedName != "" {
		r.Location.Name = trustedName
	}
	if r.Location.Coordinates == nil && opts.Fallback != nil {
		c := *opts.Fallback
		r.Location.Coordinates = &c
	}

	if len(r.BasicInfo.Descriptions) > 0 {
		r.BasicInfo.Description = r.BasicInfo.Descriptions[0]
	}
	for _, d := range r.BasicInfo.Descriptions {
		if len([]rune(d)) < shortDescriptionLimit {
			r.BasicInfo.ShortDescription = d
			break
		}
	}

	r.Metadata.Tags = appendUnique(r.Metadata.Tags, r.Location.Categories...)
	r.Metadata.Version = RecordVersion
	r.Metadata.Schema = RecordSchema
	r.Metadata.Language = opts.Language
	r.Metadata.CreatedAt = opts.Now
	r.Metadata.QualityScore = Quality(sources)
	r.ID = RecordID(r.Location.Name, r.Location.Coordinates)
	return r
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dup := false
		for _, existing := range dst {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

// MeanReliability returns the average source reliability, 0 for none
func MeanReliability(sources []base.SourceData) float64 {
	if len(sources) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sources {
		sum += s.Reliability
	}
	return sum / float64(len(sources))
}

// Quality scores the raw material of a record:
// 0.25×min(n/3,1) + 0.35×meanReliability + 0.25×completeness + 0.15×max(0, 1−meanLatency/30s)
// where completeness is the share of (name, coordinates, description)
// present across sources.
func Quality(sources []base.SourceData) float64 {
	n := len(sources)
	if n == 0 {
		return 0
	}

	present := 0
	var latency time.Duration
	for _, s := range sources {
		if s.Place.Name != "" {
			present++
		}
		if s.Place.Coordinates != nil {
			present++
		}
		if s.Place.Description != "" {
			present++
		}
		latency += s.Latency
	}
	completeness := float64(present) / float64(3*n)
	meanLatency := latency / time.Duration(n)

	score := 0.25*math.Min(float64(n)/3, 1) +
		0.35*MeanReliability(sources) +
		0.25*completeness +
		0.15*math.Max(0, 1-meanLatency.Seconds()/30)
	return clamp(score)
}

// Confidence combines mean source reliability with the verifier's
// confidence
func Confidence(meanReliability, verificationConfidence float64) float64 {
	return clamp((meanReliability + verificationConfidence) / 2)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RecordID builds a stable identifier from the name and coordinates
func RecordID(name string, c *base.Coordinates) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	id := strings.TrimSuffix(b.String(), "_")
	if id == "" {
		id = "unknown"
	}
	if c == nil {
		return id + "_nocoords"
	}
	return fmt.Sprintf("%s_%.4f_%.4f", id, c.Lat, c.Lng)
}
