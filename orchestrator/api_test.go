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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/connectors/sdk"
)

func newTestServer(t *testing.T, adapters ...base.Adapter) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture(t, testConfig(), nil, adapters...)
	srv := httptest.NewServer(NewAPI(f.o, f.promReg, nil, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, f
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIntegrateHandler(t *testing.T) {
	a, b, _ := gyeongbokgungSources()
	srv, _ := newTestServer(t, a, b)

	resp := postJSON(t, srv.URL+"/api/v1/integrate", IntegrateRequest{Query: "경복궁", Mode: "speed"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var res IntegrationResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Success)
	require.NotNil(t, res.Record)
	assert.Equal(t, "Gyeongbokgung Palace", res.Record.Location.Name)
	assert.ElementsMatch(t, []string{"unesco", "google_places"}, res.SourcesUsed)
}

func TestIntegrateHandlerErrors(t *testing.T) {
	failing := sdk.NewMockAdapter("unesco", 0.9).SetFetchError(base.NewStatusError("unesco", "fetch", 503, ""))
	srv, _ := newTestServer(t, failing)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", "{", http.StatusBadRequest},
		{"unknown mode", `{"query":"x","mode":"turbo"}`, http.StatusBadRequest},
		{"empty query", `{"query":""}`, http.StatusBadRequest},
		{"unknown sources only", `{"query":"x","sources":["nope"]}`, http.StatusServiceUnavailable},
		{"all sources failed", `{"query":"x","mode":"speed"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/v1/integrate", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestNearbyHandler(t *testing.T) {
	m := sdk.NewMockAdapter("google_places", 0.7).SetNearby(seoulLandmarks()...)
	srv, _ := newTestServer(t, m)

	resp, err := http.Get(srv.URL + "/api/v1/nearby?lat=37.5663&lng=126.9779&radius=2000&limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res NearbyResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.Len(t, res.Places, 2)
	assert.Equal(t, "Deoksugung", res.Places[0].Place.Name)

	for _, q := range []string{"lat=x&lng=1", "lat=1&lng=2&radius=far", "lat=1&lng=2&limit=many"} {
		resp, err := http.Get(srv.URL + "/api/v1/nearby?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name     string
		adapters []base.Adapter
		code     int
		status   string
	}{
		{"healthy", []base.Adapter{sdk.NewMockAdapter("a", 0.9)}, http.StatusOK, "healthy"},
		{"degraded", []base.Adapter{sdk.NewMockAdapter("a", 0.9), sdk.NewMockAdapter("b", 0.9).SetHealthy(false)}, http.StatusOK, "degraded"},
		{"unhealthy", []base.Adapter{sdk.NewMockAdapter("a", 0.9).SetHealthy(false)}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.adapters...)
			resp, err := http.Get(srv.URL + "/health")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.code, resp.StatusCode)

			var body struct {
				Status  string          `json:"status"`
				Sources map[string]bool `json:"sources"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.status, body.Status)
			assert.Len(t, body.Sources, len(tt.adapters))
		})
	}
}

func TestStatsCacheAndMetricsHandlers(t *testing.T) {
	a, _, _ := gyeongbokgungSources()
	srv, _ := newTestServer(t, a)

	postJSON(t, srv.URL+"/api/v1/integrate", IntegrateRequest{Query: "경복궁"})

	resp, err := http.Get(srv.URL + "/api/v1/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.Requests)
	assert.Equal(t, 1, stats.Cache.TotalEntries)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/cache?tag=unesco", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer del.Body.Close()
	var cleared struct {
		Removed int `json:"removed"`
	}
	require.NoError(t, json.NewDecoder(del.Body).Decode(&cleared))
	assert.Equal(t, 1, cleared.Removed)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `placefusion_integrations_total{outcome="success"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, sdk.NewMockAdapter("a", 0.9))

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/integrate", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://tripradio.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, statusFor(true, ""))
	assert.Equal(t, http.StatusBadRequest, statusFor(false, ReasonInvalidRequest))
	assert.Equal(t, http.StatusInternalServerError, statusFor(false, ReasonInternalError))
	assert.Equal(t, http.StatusRequestTimeout, statusFor(false, ReasonCanceled))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(false, ReasonNoNearbySources))
	assert.Equal(t, http.StatusBadGateway, statusFor(false, ReasonAllSourcesFailed))
}
