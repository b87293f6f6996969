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

package http

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/shared/logger"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Second
	// DefaultMaxResponseSize is the maximum response body size (5MB)
	DefaultMaxResponseSize = 5 * 1024 * 1024
	// DefaultSearchPath is appended to the base URL for place searches
	DefaultSearchPath = "/search"

	userAgent = "placefusion-http-source/1.0"
)

// Connector fetches place facts from a JSON HTTP API. The API is queried
// with GET <base><search_path>?q=<query>[&lat=&lng=][&lang=] and answers
// with either a JSON array of places or {"results": [...]}.
type Connector struct {
	cfg             base.AdapterConfig
	client          *http.Client
	limiter         *rate.Limiter
	log             *logger.Logger
	baseURL         string
	searchPath      string
	healthPath      string
	language        string
	authType        string
	headers         map[string]string
	maxResponseSize int64
}

// NearbyConnector is a Connector whose API also answers radius searches
// at <base><nearby_path>?lat=&lng=&radius=
type NearbyConnector struct {
	*Connector
	nearbyPath string
}

// New builds an HTTP source from its configuration. When the nearby_path
// option is set the returned adapter also implements base.NearbySearcher.
//
// Options: search_path, nearby_path, health_path, language, auth_type
// (none, bearer, basic, api-key, query-key), headers, rate (requests per
// second), burst, max_response_size, tls_skip_verify.
func New(cfg *base.AdapterConfig, log *logger.Logger) (base.Adapter, error) {
	c, err := newConnector(cfg, log)
	if err != nil {
		return nil, err
	}
	if p := base.OptionString(cfg.Options, "nearby_path", ""); p != "" {
		return &NearbyConnector{Connector: c, nearbyPath: p}, nil
	}
	return c, nil
}

func newConnector(cfg *base.AdapterConfig, log *logger.Logger) (*Connector, error) {
	if cfg == nil {
		return nil, errors.New("http source: nil config")
	}
	if log == nil {
		log = logger.Discard("http-source")
	}

	parsed, err := url.Parse(cfg.ConnectionURL)
	if err != nil || cfg.ConnectionURL == "" {
		return nil, base.NewSourceError(cfg.Name, "connect", base.CategoryDataFormat, "connection_url must be a valid URL", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, base.NewSourceError(cfg.Name, "connect", base.CategoryDataFormat, "connection_url must use http or https scheme", nil)
	}

	c := &Connector{
		cfg:             *cfg,
		log:             log,
		baseURL:         strings.TrimSuffix(cfg.ConnectionURL, "/"),
		searchPath:      base.OptionString(cfg.Options, "search_path", DefaultSearchPath),
		healthPath:      base.OptionString(cfg.Options, "health_path", "/"),
		language:        base.OptionString(cfg.Options, "language", ""),
		authType:        base.OptionString(cfg.Options, "auth_type", "none"),
		headers:         make(map[string]string),
		maxResponseSize: DefaultMaxResponseSize,
	}

	if headers, ok := cfg.Options["headers"].(map[string]interface{}); ok {
		for key, val := range headers {
			if s, ok := val.(string); ok {
				c.headers[key] = s
			}
		}
	}

	size, err := base.OptionInt(cfg.Options, "max_response_size", DefaultMaxResponseSize)
	if err != nil {
		return nil, base.NewSourceError(cfg.Name, "connect", base.CategoryDataFormat, "invalid max_response_size", err)
	}
	if size > 0 {
		c.maxResponseSize = int64(size)
	}

	perSecond, err := base.OptionFloat(cfg.Options, "rate", 0)
	if err != nil {
		return nil, base.NewSourceError(cfg.Name, "connect", base.CategoryDataFormat, "invalid rate", err)
	}
	if perSecond > 0 {
		burst, err := base.OptionInt(cfg.Options, "burst", 1)
		if err != nil || burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}

	timeout := DefaultTimeout
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if base.OptionBool(cfg.Options, "tls_skip_verify", false) {
		tlsConfig.InsecureSkipVerify = true
		log.Warn("", "TLS verification disabled", map[string]interface{}{"source": cfg.Name})
	}
	c.client = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
			MaxIdleConns:    100,
			MaxConnsPerHost: 10,
			IdleConnTimeout: 90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	log.Info("", "http source configured", map[string]interface{}{
		"source":   cfg.Name,
		"base_url": c.baseURL,
		"auth":     c.authType,
		"rate":     perSecond,
		"timeout":  timeout.String(),
	})
	return c, nil
}

// Name implements base.Adapter
func (c *Connector) Name() string { return c.cfg.Name }

// Type implements base.Adapter
func (c *Connector) Type() string { return "http" }

// Fetch implements base.Adapter
func (c *Connector) Fetch(ctx context.Context, query string, coords *base.Coordinates) ([]base.SourceData, error) {
	params := url.Values{}
	params.Set("q", query)
	if coords != nil {
		params.Set("lat", formatFloat(coords.Lat))
		params.Set("lng", formatFloat(coords.Lng))
	}
	if c.language != "" {
		params.Set("lang", c.language)
	}
	return c.get(ctx, "fetch", c.searchPath, params)
}

// SearchNearby implements base.NearbySearcher
func (c *NearbyConnector) SearchNearby(ctx context.Context, center base.Coordinates, radiusMeters float64) ([]base.SourceData, error) {
	params := url.Values{}
	params.Set("lat", formatFloat(center.Lat))
	params.Set("lng", formatFloat(center.Lng))
	params.Set("radius", formatFloat(radiusMeters))
	return c.get(ctx, "nearby", c.nearbyPath, params)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (c *Connector) get(ctx context.Context, op, path string, params url.Values) ([]base.SourceData, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, base.NewSourceError(c.Name(), op, base.CategoryRateLimit, "client-side rate limit wait aborted", err)
		}
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	reqURL, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, base.NewSourceError(c.Name(), op, base.CategoryDataFormat, "invalid URL path", err)
	}
	if c.authType == "query-key" {
		params.Set(c.credential("param_name", "key"), c.credential("api_key", ""))
	}
	reqURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, base.NewSourceError(c.Name(), op, base.CategoryUnknown, "failed to create request", err)
	}
	c.applyAuth(req)
	c.applyHeaders(req)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, base.NewSourceError(c.Name(), op, base.Classify(err), "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		return nil, base.NewSourceError(c.Name(), op, base.CategoryNetwork, "failed to read response", err)
	}
	if int64(len(body)) > c.maxResponseSize {
		return nil, base.NewSourceError(c.Name(), op, base.CategoryDataFormat,
			fmt.Sprintf("response size exceeds limit of %d bytes", c.maxResponseSize), nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(body)
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		serr := base.NewStatusError(c.Name(), op, resp.StatusCode, msg)
		serr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
		return nil, serr
	}

	places, err := decodePlaces(body)
	if err != nil {
		return nil, base.NewSourceError(c.Name(), op, base.CategoryDataFormat, "failed to decode response", err)
	}

	latency := time.Since(start)
	now := time.Now()
	out := make([]base.SourceData, 0, len(places))
	for _, p := range places {
		out = append(out, base.SourceData{
			SourceID:    c.Name(),
			SourceName:  c.Name(),
			Reliability: c.cfg.Reliability,
			Latency:     latency,
			RetrievedAt: now,
			Place:       p.facts(),
			Raw:         p.raw,
		})
	}
	c.log.Debug("", "http source answered", map[string]interface{}{
		"source":  c.Name(),
		"op":      op,
		"results": len(out),
		"latency": latency.String(),
	})
	return out, nil
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Connector) credential(key, def string) string {
	if v := c.cfg.Credentials[key]; v != "" {
		return v
	}
	return def
}

func (c *Connector) applyAuth(req *http.Request) {
	switch c.authType {
	case "bearer":
		if token := c.credential("token", ""); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	case "basic":
		if username := c.credential("username", ""); username != "" {
			req.SetBasicAuth(username, c.credential("password", ""))
		}
	case "api-key":
		if key := c.credential("api_key", ""); key != "" {
			req.Header.Set(c.credential("header_name", "X-API-Key"), key)
		}
	}
}

func (c *Connector) applyHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for key, val := range c.headers {
		req.Header.Set(key, val)
	}
}

// HealthCheck implements base.Adapter
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return &base.HealthStatus{Healthy: false, Timestamp: time.Now(), Error: err.Error()}, nil
	}
	c.applyAuth(req)
	c.applyHeaders(req)

	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return &base.HealthStatus{Healthy: false, Latency: latency, Timestamp: time.Now(), Error: err.Error()}, nil
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return &base.HealthStatus{
		Healthy: resp.StatusCode >= 200 && resp.StatusCode < 400,
		Latency: latency,
		Details: map[string]string{
			"base_url":    c.baseURL,
			"status_code": strconv.Itoa(resp.StatusCode),
			"auth_type":   c.authType,
		},
		Timestamp: time.Now(),
	}, nil
}

// Close implements base.Adapter
func (c *Connector) Close() error {
	if t, ok := c.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// place is one element of an API answer. Coordinates may be nested or
// given as flat lat/lng fields.
type place struct {
	base.PlaceFacts
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`

	raw json.RawMessage
}

func (p place) facts() base.PlaceFacts {
	f := p.PlaceFacts
	if f.Coordinates == nil && p.Lat != nil && p.Lng != nil {
		f.Coordinates = &base.Coordinates{Lat: *p.Lat, Lng: *p.Lng}
	}
	return f
}

func decodePlaces(body []byte) ([]place, error) {
	var items []json.RawMessage
	if strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
	} else {
		var envelope struct {
			Results []json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		items = envelope.Results
	}

	out := make([]place, 0, len(items))
	for i, raw := range items {
		var p place
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		p.raw = raw
		out = append(out, p)
	}
	return out, nil
}
