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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/fusion"
)

var now = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func newVerifier() (*Verifier, *testingclock.FakeClock) {
	clk := testingclock.NewFakeClock(now)
	return New(DefaultConfig(), WithClock(clk)), clk
}

func source(id string, reliability float64, place base.PlaceFacts) base.SourceData {
	return base.SourceData{SourceID: id, SourceName: id, Reliability: reliability, RetrievedAt: now, Place: place}
}

func at(lat, lng float64) *base.Coordinates {
	return &base.Coordinates{Lat: lat, Lng: lng}
}

func agreeingSources() []base.SourceData {
	return []base.SourceData{
		source("unesco", 0.95, base.PlaceFacts{
			Name:         "Gyeongbokgung Palace",
			Coordinates:  at(37.5796, 126.9770),
			Address:      "161 Sajik-ro, Jongno-gu, Seoul",
			Description:  "Main royal palace of the Joseon dynasty.",
			Significance: "World heritage candidate",
			Categories:   []string{"palace", "cultural_heritage"},
		}),
		source("wikidata", 0.8, base.PlaceFacts{
			Name:        "Gyeongbokgung Palace",
			Coordinates: at(37.5797, 126.9771),
			Established: "1395",
			Categories:  []string{"cultural_heritage"},
			Facts:       []string{"built in 1395"},
		}),
	}
}

func TestVerifyAgreeingSources(t *testing.T) {
	v, _ := newVerifier()
	record := fusion.Fuse(agreeingSources(), fusion.Options{})

	res, err := v.Verify(context.Background(), record)
	require.NoError(t, err)

	assert.Equal(t, MethodCrossReference, res.Method)
	assert.Empty(t, res.Conflicts)
	assert.InDelta(t, 1.0, res.Score.Consistency, 1e-9)
	assert.InDelta(t, 1.0, res.Score.Completeness, 1e-9)
	assert.InDelta(t, 2.5/3, res.Score.Accuracy, 1e-6)
	assert.InDelta(t, 1.0, res.Score.Timeliness, 1e-9)
	assert.InDelta(t, (0.95*0.95+0.8*0.8)/1.75, res.Score.Authority, 1e-9)

	wantOverall := 0.25 + 0.20 + 0.25*(2.5/3) + 0.15 + 0.15*(0.95*0.95+0.8*0.8)/1.75
	assert.InDelta(t, wantOverall, res.Score.Overall, 1e-6)
	assert.InDelta(t, wantOverall, res.Confidence, 1e-6)
	assert.True(t, res.IsVerified)
	assert.Empty(t, res.Recommendations)
	assert.Equal(t, now, res.VerifiedAt)
}

func TestVerifyCoordinateConflicts(t *testing.T) {
	tests := []struct {
		name     string
		second   *base.Coordinates
		severity base.Severity
		method   string
	}{
		{"five kilometres apart", at(37.5796, 127.0335), base.SeverityHigh, "most_reliable_source"},
		{"different city", at(35.1796, 129.0756), base.SeverityCritical, "manual_review"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newVerifier()
			sources := agreeingSources()
			sources[1].Place.Coordinates = tt.second

			res, err := v.Verify(context.Background(), fusion.Fuse(sources, fusion.Options{}))
			require.NoError(t, err)

			require.Len(t, res.Conflicts, 1)
			c := res.Conflicts[0]
			assert.Equal(t, ConflictCoordinate, c.Type)
			assert.Equal(t, tt.severity, c.Severity)
			require.NotNil(t, c.Resolution)
			assert.Equal(t, tt.method, c.Resolution.Method)
			assert.Len(t, c.Values, 2)
			assert.InDelta(t, 0.7, res.Score.Consistency, 1e-9)

			if tt.severity == base.SeverityCritical {
				assert.False(t, res.IsVerified)
				assert.Contains(t, res.Recommendations, "critical conflicts found; manual review required")
			}
		})
	}
}

func TestVerifyNameDateAndCategoryConflicts(t *testing.T) {
	v, _ := newVerifier()
	sources := []base.SourceData{
		source("google_places", 0.75, base.PlaceFacts{Name: "Gyeongbokgung", Established: "1395", Categories: []string{"tourist_attraction"}}),
		source("government", 0.9, base.PlaceFacts{Name: "National Folk Museum", Established: "1946", Categories: []string{"museum"}}),
	}
	res, err := v.Verify(context.Background(), fusion.Fuse(sources, fusion.Options{}))
	require.NoError(t, err)

	types := map[string]base.Severity{}
	for _, c := range res.Conflicts {
		types[c.Type] = c.Severity
	}
	assert.Equal(t, map[string]base.Severity{
		ConflictName:     base.SeverityMedium,
		ConflictDate:     base.SeverityLow,
		ConflictCategory: base.SeverityLow,
	}, types)
	assert.Less(t, res.Score.Consistency, 0.7)
	assert.False(t, res.IsVerified)
}

func TestVerifySingleSource(t *testing.T) {
	v, _ := newVerifier()
	sources := []base.SourceData{source("wikidata", 0.8, base.PlaceFacts{Name: "Bukchon Hanok Village"})}

	res, err := v.Verify(context.Background(), fusion.Fuse(sources, fusion.Options{}))
	require.NoError(t, err)

	assert.InDelta(t, 0.5, res.Score.Accuracy, 1e-9)
	assert.InDelta(t, 0.2, res.Score.Completeness, 1e-9)
	assert.Contains(t, res.Recommendations, "only one source contributed; add more sources to improve reliability")
	assert.Contains(t, res.Recommendations, "required fields are missing; collect more data for this place")
}

func TestTimelinessDecays(t *testing.T) {
	v, clk := newVerifier()
	sources := agreeingSources()

	clk.Step(365 * 24 * time.Hour / 2)
	assert.InDelta(t, 0.5, v.timeliness(sources), 1e-9)

	clk.Step(365 * 24 * time.Hour)
	assert.Zero(t, v.timeliness(sources))
}

func TestAuthority(t *testing.T) {
	v, _ := newVerifier()
	assert.Equal(t, 0.95, v.Authority("unesco"))
	assert.Equal(t, 0.5, v.Authority("user_generated"))
	assert.Equal(t, 0.5, v.authority(nil))

	custom := New(Config{AuthorityWeights: map[string]float64{"registry": 0.99}, VerifiedThreshold: 0.7})
	assert.Equal(t, 0.99, custom.Authority("registry"))
}

func TestVerifyErrors(t *testing.T) {
	v, _ := newVerifier()

	_, err := v.Verify(context.Background(), nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = v.Verify(ctx, &fusion.Record{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"Gyeongbokgung", "gyeongbokgung", 1},
		{"", "", 1},
		{"abc", "", 0},
		{"kitten", "sitting", 1 - 3.0/7},
		{"경복궁", "경복궁 ", 1},
		{"경복궁", "창덕궁", 1 - 2.0/3},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, similarity(tt.a, tt.b), 1e-9, "%q vs %q", tt.a, tt.b)
	}
}

func TestCategoryConsistency(t *testing.T) {
	assert.Equal(t, 1.0, categoryConsistency(nil))
	assert.Equal(t, 1.0, categoryConsistency([]string{"museum", "art_gallery"}))
	assert.Equal(t, 0.8, categoryConsistency([]string{"xyzzy", "qwerty"}))
	assert.InDelta(t, 0.8, categoryConsistency([]string{"museum", "park"}), 1e-9)
	assert.Equal(t, 0.5, categoryConsistency([]string{"museum", "park", "cafe", "hotel", "temple"}))
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 0.5, jaccard([]string{"a", "b"}, []string{"b"}), 1e-9)
	assert.Zero(t, jaccard([]string{"a"}, []string{"b"}))
	assert.InDelta(t, 1.0, jaccard([]string{"a"}, []string{"a", "a"}), 1e-9)
}
