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
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
)

var retrieved = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

func src(id string, reliability float64, place base.PlaceFacts) base.SourceData {
	return base.SourceData{
		SourceID:    id,
		SourceName:  strings.ToUpper(id),
		Reliability: reliability,
		Latency:     300 * time.Millisecond,
		RetrievedAt: retrieved,
		Place:       place,
	}
}

func coords(lat, lng float64) *base.Coordinates {
	return &base.Coordinates{Lat: lat, Lng: lng}
}

func TestFuseNameRule(t *testing.T) {
	tests := []struct {
		name    string
		sources []base.SourceData
		want    string
	}{
		{
			name: "trusted source wins over earlier name",
			sources: []base.SourceData{
				src("google_places", 0.75, base.PlaceFacts{Name: "경복궁"}),
				src("unesco", 0.95, base.PlaceFacts{Name: "Gyeongbokgung Palace"}),
			},
			want: "Gyeongbokgung Palace",
		},
		{
			name: "first non-empty without trusted source",
			sources: []base.SourceData{
				src("wikidata", 0.8, base.PlaceFacts{}),
				src("google_places", 0.75, base.PlaceFacts{Name: "Gyeongbokgung"}),
				src("government", 0.85, base.PlaceFacts{Name: "Gyeongbok Palace"}),
			},
			want: "Gyeongbokgung",
		},
		{
			name: "first trusted source among several",
			sources: []base.SourceData{
				src("unesco", 0.95, base.PlaceFacts{Name: "A"}),
				src("heritage", 0.97, base.PlaceFacts{Name: "B"}),
			},
			want: "A",
		},
		{
			name:    "no names",
			sources: []base.SourceData{src("wikidata", 0.8, base.PlaceFacts{})},
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Fuse(tt.sources, Options{})
			assert.Equal(t, tt.want, r.Location.Name)
		})
	}
}

func TestFuseCoordinates(t *testing.T) {
	sources := []base.SourceData{
		src("unesco", 0.95, base.PlaceFacts{Coordinates: coords(37.5796, 126.9770)}),
		src("google_places", 0.6, base.PlaceFacts{Coordinates: coords(37.579, 126.977)}),
		src("wikidata", 0.8, base.PlaceFacts{}),
	}
	r := Fuse(sources, Options{Fallback: coords(1, 1)})
	require.NotNil(t, r.Location.Coordinates)
	assert.Equal(t, base.Coordinates{Lat: 37.579, Lng: 126.977}, *r.Location.Coordinates, "last pair wins")

	r = Fuse([]base.SourceData{src("wikidata", 0.8, base.PlaceFacts{Name: "x"})}, Options{Fallback: coords(37.5, 127)})
	assert.Equal(t, base.Coordinates{Lat: 37.5, Lng: 127}, *r.Location.Coordinates)

	r = Fuse([]base.SourceData{src("wikidata", 0.8, base.PlaceFacts{Name: "x"})}, Options{})
	assert.Nil(t, r.Location.Coordinates)
}

func TestFuseUnionsAndLastWins(t *testing.T) {
	long := strings.Repeat("Long history. ", 20)
	sources := []base.SourceData{
		src("unesco", 0.95, base.PlaceFacts{
			Description: long,
			Categories:  []string{"palace", "cultural_heritage"},
			Tags:        []string{"joseon"},
			Address:     "161 Sajik-ro",
			Established: "1395",
			Facts:       []string{"built 1395"},
		}),
		src("google_places", 0.75, base.PlaceFacts{
			Description: "Main royal palace of the Joseon dynasty.",
			Categories:  []string{"tourist_attraction", "palace"},
			Tags:        []string{"joseon", "seoul"},
			Address:     "161 Sajik-ro, Jongno-gu, Seoul",
			Country:     "KR",
			Established: "1394",
			Facts:       []string{"built 1395", "restored 2010"},
		}),
	}
	r := Fuse(sources, Options{Language: "en"})

	assert.Equal(t, []string{"palace", "cultural_heritage", "tourist_attraction"}, r.Location.Categories)
	assert.Equal(t, []string{"joseon", "seoul"}, r.BasicInfo.Tags)
	assert.Equal(t, []string{"built 1395", "restored 2010"}, r.BasicInfo.Facts)
	assert.Equal(t, "161 Sajik-ro, Jongno-gu, Seoul", r.Location.Address)
	assert.Equal(t, "KR", r.Location.Country)
	assert.Equal(t, "1395", r.BasicInfo.Established)
	assert.Equal(t, strings.TrimSpace(long), r.BasicInfo.Description)
	assert.Equal(t, "Main royal palace of the Joseon dynasty.", r.BasicInfo.ShortDescription)
	assert.Len(t, r.BasicInfo.Descriptions, 2)

	assert.Equal(t, RecordVersion, r.Metadata.Version)
	assert.Equal(t, RecordSchema, r.Metadata.Schema)
	assert.Equal(t, "en", r.Metadata.Language)
	assert.Len(t, r.Metadata.Provenance, 2)
	assert.Equal(t, []string{"unesco", "google_places", "palace", "cultural_heritage", "tourist_attraction"}, r.Metadata.Tags)
}

func TestFuseIsDeterministic(t *testing.T) {
	sources := []base.SourceData{
		src("unesco", 0.95, base.PlaceFacts{Name: "Gyeongbokgung Palace", Categories: []string{"palace", "heritage"}}),
		src("google_places", 0.6, base.PlaceFacts{Coordinates: coords(37.579, 126.977), Tags: []string{"seoul", "joseon"}}),
		src("wikidata", 0.8, base.PlaceFacts{Description: "Royal palace", Categories: []string{"heritage", "museum"}}),
	}
	opts := Options{Fallback: coords(37.5, 126.9), Language: "ko", Now: retrieved}

	first, err := json.Marshal(Fuse(sources, opts))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := json.Marshal(Fuse(sources, opts))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestFuseDoesNotAliasInputs(t *testing.T) {
	c := coords(37.579, 126.977)
	sources := []base.SourceData{src("google_places", 0.6, base.PlaceFacts{Coordinates: c})}
	r := Fuse(sources, Options{})
	c.Lat = 0
	assert.Equal(t, 37.579, r.Location.Coordinates.Lat)
}

func TestQuality(t *testing.T) {
	assert.Zero(t, Quality(nil))

	sources := []base.SourceData{
		src("unesco", 0.9, base.PlaceFacts{Name: "n", Coordinates: coords(1, 1), Description: "d"}),
		src("wikidata", 0.7, base.PlaceFacts{Name: "n"}),
		src("google_places", 0.8, base.PlaceFacts{}),
	}
	for i := range sources {
		sources[i].Latency = 3 * time.Second
	}
	// 0.25×1 + 0.35×0.8 + 0.25×(4/9) + 0.15×0.9
	want := 0.25 + 0.35*0.8 + 0.25*4.0/9.0 + 0.15*0.9
	assert.InDelta(t, want, Quality(sources), 1e-9)

	slow := []base.SourceData{src("unesco", 1, base.PlaceFacts{})}
	slow[0].Latency = time.Minute
	assert.InDelta(t, 0.25/3+0.35, Quality(slow), 1e-9)
}

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 0.7, Confidence(0.8, 0.6), 1e-9)
	assert.Equal(t, 1.0, Confidence(1.5, 1.5))
	assert.Equal(t, 0.0, Confidence(-1, 0))
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, "gyeongbokgung_palace_37.5790_126.9770", RecordID("Gyeongbokgung Palace", coords(37.579, 126.977)))
	assert.Equal(t, "n_seoul_tower_nocoords", RecordID("N Seoul Tower!", nil))
	assert.Equal(t, "경복궁_37.5796_126.9770", RecordID("경복궁", coords(37.5796, 126.977)))
	assert.Equal(t, "unknown_nocoords", RecordID("  ", nil))
}

func TestHasCritical(t *testing.T) {
	var v *Verification
	assert.False(t, v.HasCritical())

	v = &Verification{Conflicts: []Conflict{{Severity: base.SeverityHigh}}}
	assert.False(t, v.HasCritical())
	v.Conflicts = append(v.Conflicts, Conflict{Severity: base.SeverityCritical})
	assert.True(t, v.HasCritical())
}
