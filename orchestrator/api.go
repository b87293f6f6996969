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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/shared/logger"
)

// IntegrateRequest is the body of POST /api/v1/integrate
type IntegrateRequest struct {
	Query       string            `json:"query"`
	Coordinates *base.Coordinates `json:"coordinates,omitempty"`
	Sources     []string          `json:"sources,omitempty"`
	Mode        string            `json:"mode,omitempty"`
	Language    string            `json:"language,omitempty"`
	BypassCache bool              `json:"bypass_cache,omitempty"`
}

// ErrorResponse is the body of every non-result error reply
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// API serves the orchestrator over HTTP
type API struct {
	o            *Orchestrator
	gatherer     prometheus.Gatherer
	corsOrigins  []string
	log          *logger.Logger
	healthBudget time.Duration
}

// NewAPI creates the HTTP API. gatherer backs /metrics; corsOrigins
// defaults to any origin.
func NewAPI(o *Orchestrator, gatherer prometheus.Gatherer, corsOrigins []string, log *logger.Logger) *API {
	if log == nil {
		log = logger.Discard("api")
	}
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &API{o: o, gatherer: gatherer, corsOrigins: corsOrigins, log: log, healthBudget: 5 * time.Second}
}

// Handler returns the routed, CORS-wrapped handler
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", a.healthHandler).Methods("GET")
	if a.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/integrate", a.integrateHandler).Methods("POST")
	api.HandleFunc("/nearby", a.nearbyHandler).Methods("GET")
	api.HandleFunc("/stats", a.statsHandler).Methods("GET")
	api.HandleFunc("/cache", a.clearCacheHandler).Methods("DELETE")

	c := cors.New(cors.Options{
		AllowedOrigins: a.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func (a *API) integrateHandler(w http.ResponseWriter, r *http.Request) {
	var req IntegrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendErrorResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := ParseMode(req.Mode)
	if err != nil {
		a.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := a.o.Integrate(r.Context(), req.Query, req.Coordinates, IntegrateOptions{
		Sources:     req.Sources,
		Mode:        mode,
		Language:    req.Language,
		BypassCache: req.BypassCache,
	})
	a.writeJSON(w, statusFor(res.Success, res.FailureReason), res)
}

func (a *API) nearbyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		a.sendErrorResponse(w, "lat and lng query parameters are required numbers", http.StatusBadRequest)
		return
	}
	radius := 5000.0
	if v := q.Get("radius"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			a.sendErrorResponse(w, "radius must be a number of meters", http.StatusBadRequest)
			return
		}
		radius = parsed
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			a.sendErrorResponse(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	res := a.o.Nearby(r.Context(), base.Coordinates{Lat: lat, Lng: lng}, radius, limit)
	a.writeJSON(w, statusFor(res.Success, res.FailureReason), res)
}

func (a *API) statsHandler(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.o.Stats())
}

func (a *API) clearCacheHandler(w http.ResponseWriter, r *http.Request) {
	tags := r.URL.Query()["tag"]
	removed := a.o.ClearCache(tags...)
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"removed": removed,
		"tags":    tags,
	})
}

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.healthBudget)
	defer cancel()

	sources := a.o.HealthCheck(ctx)
	healthy := 0
	for _, ok := range sources {
		if ok {
			healthy++
		}
	}
	status, code := "healthy", http.StatusOK
	switch {
	case len(sources) > 0 && healthy == 0:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case healthy < len(sources):
		status = "degraded"
	}
	a.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"sources":   sources,
		"timestamp": time.Now().UTC(),
	})
}

func statusFor(success bool, reason string) int {
	if success {
		return http.StatusOK
	}
	switch reason {
	case ReasonInvalidRequest:
		return http.StatusBadRequest
	case ReasonInternalError:
		return http.StatusInternalServerError
	case ReasonCanceled:
		return http.StatusRequestTimeout
	case ReasonNoSources, ReasonNoNearbySources:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		a.log.Error("", "error encoding response", map[string]interface{}{"error": err.Error()})
	}
}

func (a *API) sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	a.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
