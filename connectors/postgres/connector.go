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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
	"github.com/cjg3605-hash/tripradio-sub007/shared/logger"
)

const (
	// DefaultTable holds the curated places
	DefaultTable = "places"
	// DefaultLimit caps the rows returned per lookup
	DefaultLimit = 10

	metersPerDegree = 111320.0
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Connector serves place facts from a curated PostgreSQL table:
//
//	name text, aliases text[], lat double precision, lng double precision,
//	address text, country text, region text, description text,
//	categories text[], tags text[], significance text, established text
//
// Names match case-insensitively by substring or exactly against an alias.
type Connector struct {
	cfg   base.AdapterConfig
	db    *sql.DB
	log   *logger.Logger
	table string
	limit int
}

// New opens and pings the database named by cfg.ConnectionURL
func New(ctx context.Context, cfg *base.AdapterConfig, log *logger.Logger) (*Connector, error) {
	if cfg == nil {
		return nil, errors.New("postgres source: nil config")
	}
	db, err := sql.Open("postgres", cfg.ConnectionURL)
	if err != nil {
		return nil, base.NewSourceError(cfg.Name, "connect", base.CategoryDataFormat, "failed to open connection", err)
	}

	maxOpen, _ := base.OptionInt(cfg.Options, "max_open_conns", 10)
	maxIdle, _ := base.OptionInt(cfg.Options, "max_idle_conns", 2)
	lifetime, err := base.OptionDuration(cfg.Options, "conn_max_lifetime", 5*time.Minute)
	if err != nil {
		_ = db.Close()
		return nil, base.NewSourceError(cfg.Name, "connect", base.CategoryDataFormat, "invalid conn_max_lifetime", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, base.NewSourceError(cfg.Name, "connect", classify(err), "failed to ping database", err)
	}
	return NewWithDB(cfg, db, log)
}

// NewWithDB wraps an open database handle
func NewWithDB(cfg *base.AdapterConfig, db *sql.DB, log *logger.Logger) (*Connector, error) {
	if cfg == nil {
		return nil, errors.New("postgres source: nil config")
	}
	if log == nil {
		log = logger.Discard("postgres-source")
	}
	table := base.OptionString(cfg.Options, "table", DefaultTable)
	if !identifierPattern.MatchString(table) {
		return nil, base.NewSourceError(cfg.Name, "connect", base.CategoryDataFormat, fmt.Sprintf("invalid table name %q", table), nil)
	}
	limit, err := base.OptionInt(cfg.Options, "limit", DefaultLimit)
	if err != nil || limit <= 0 {
		limit = DefaultLimit
	}

	c := &Connector{cfg: *cfg, db: db, log: log, table: table, limit: limit}
	log.Info("", "postgres source ready", map[string]interface{}{
		"source": cfg.Name,
		"table":  table,
	})
	return c, nil
}

// Name implements base.Adapter
func (c *Connector) Name() string { return c.cfg.Name }

// Type implements base.Adapter
func (c *Connector) Type() string { return "postgres" }

const columns = "name, lat, lng, address, country, region, description, categories, tags, significance, established"

// Fetch implements base.Adapter. With coordinates, matches are ordered by
// distance to them; otherwise by name.
func (c *Connector) Fetch(ctx context.Context, query string, coords *base.Coordinates) ([]base.SourceData, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, base.NewSourceError(c.Name(), "fetch", base.CategoryDataFormat, "empty query", nil)
	}

	where := "WHERE name ILIKE '%' || $1 || '%' OR $1 = ANY(aliases)"
	var stmt string
	var args []interface{}
	if coords != nil {
		stmt = fmt.Sprintf("SELECT %s FROM %s %s ORDER BY (COALESCE(lat, 0) - $2)^2 + (COALESCE(lng, 0) - $3)^2, name LIMIT $4",
			columns, c.table, where)
		args = []interface{}{q, coords.Lat, coords.Lng, c.limit}
	} else {
		stmt = fmt.Sprintf("SELECT %s FROM %s %s ORDER BY name LIMIT $2", columns, c.table, where)
		args = []interface{}{q, c.limit}
	}
	return c.query(ctx, "fetch", stmt, args...)
}

// SearchNearby implements base.NearbySearcher. Rows inside the bounding
// box are filtered by great-circle distance.
func (c *Connector) SearchNearby(ctx context.Context, center base.Coordinates, radiusMeters float64) ([]base.SourceData, error) {
	dLat := radiusMeters / metersPerDegree
	dLng := 180.0
	if cos := math.Cos(center.Lat * math.Pi / 180); cos > 1e-6 {
		dLng = math.Min(radiusMeters/(metersPerDegree*cos), 180)
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE lat BETWEEN $1 AND $2 AND lng BETWEEN $3 AND $4",
		columns, c.table)

	rows, err := c.query(ctx, "nearby", stmt, center.Lat-dLat, center.Lat+dLat, center.Lng-dLng, center.Lng+dLng)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, r := range rows {
		if r.Place.Coordinates != nil && base.HaversineMeters(center, *r.Place.Coordinates) <= radiusMeters {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return base.HaversineMeters(center, *out[i].Place.Coordinates) < base.HaversineMeters(center, *out[j].Place.Coordinates)
	})
	return out, nil
}

func (c *Connector) query(ctx context.Context, op, stmt string, args ...interface{}) ([]base.SourceData, error) {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, base.NewSourceError(c.Name(), op, classify(err), "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	var out []base.SourceData
	for rows.Next() {
		var (
			name                                                string
			lat, lng                                            sql.NullFloat64
			address, country, region, description, significance sql.NullString
			established                                         sql.NullString
			categories, tags                                    []string
		)
		if err := rows.Scan(&name, &lat, &lng, &address, &country, &region, &description,
			pq.Array(&categories), pq.Array(&tags), &significance, &established); err != nil {
			return nil, base.NewSourceError(c.Name(), op, base.CategoryDataFormat, "failed to scan row", err)
		}

		p := base.PlaceFacts{
			Name:         name,
			Address:      address.String,
			Country:      country.String,
			Region:       region.String,
			Description:  description.String,
			Categories:   categories,
			Tags:         tags,
			Significance: significance.String,
			Established:  established.String,
		}
		if lat.Valid && lng.Valid {
			p.Coordinates = &base.Coordinates{Lat: lat.Float64, Lng: lng.Float64}
		}
		out = append(out, base.SourceData{
			SourceID:    c.Name(),
			SourceName:  c.Name(),
			Reliability: c.cfg.Reliability,
			Place:       p,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewSourceError(c.Name(), op, classify(err), "row iteration failed", err)
	}

	latency := time.Since(start)
	now := time.Now()
	for i := range out {
		out[i].Latency = latency
		out[i].RetrievedAt = now
	}
	c.log.Debug("", "postgres source answered", map[string]interface{}{
		"source":  c.Name(),
		"op":      op,
		"rows":    len(out),
		"latency": latency.String(),
	})
	return out, nil
}

// classify maps PostgreSQL error classes onto source error categories
func classify(err error) base.ErrorCategory {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch code := string(pqErr.Code); {
		case strings.HasPrefix(code, "28"):
			return base.CategoryAuthentication
		case strings.HasPrefix(code, "08"):
			return base.CategoryNetwork
		case code == "53300" || code == "57P03" || strings.HasPrefix(code, "57"):
			return base.CategoryServiceUnavailable
		case strings.HasPrefix(code, "42") || strings.HasPrefix(code, "22"):
			return base.CategoryDataFormat
		}
	}
	return base.Classify(err)
}

// HealthCheck implements base.Adapter
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	start := time.Now()
	err := c.db.PingContext(ctx)
	latency := time.Since(start)
	if err != nil {
		return &base.HealthStatus{
			Healthy:   false,
			Latency:   latency,
			Timestamp: time.Now(),
			Error:     err.Error(),
		}, nil
	}

	stats := c.db.Stats()
	return &base.HealthStatus{
		Healthy: true,
		Latency: latency,
		Details: map[string]string{
			"open_connections": strconv.Itoa(stats.OpenConnections),
			"in_use":           strconv.Itoa(stats.InUse),
			"idle":             strconv.Itoa(stats.Idle),
			"table":            c.table,
		},
		Timestamp: time.Now(),
	}, nil
}

// Close implements base.Adapter
func (c *Connector) Close() error {
	if err := c.db.Close(); err != nil {
		return base.NewSourceError(c.Name(), "close", base.CategoryUnknown, "failed to close connection", err)
	}
	return nil
}
