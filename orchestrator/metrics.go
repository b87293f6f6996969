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
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjg3605-hash/tripradio-sub007/orchestrator/scheduler"
)

// Metrics holds the Prometheus instruments updated per request. A nil
// *Metrics records nothing.
type Metrics struct {
	integrations *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	confidence   prometheus.Histogram
}

// NewMetrics creates the instruments and registers them on reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		integrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placefusion_integrations_total",
				Help: "Total number of integration requests by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "placefusion_integration_duration_milliseconds",
				Help:    "Integration duration in milliseconds",
				Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
			},
			[]string{"mode"},
		),
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placefusion_source_tasks_total",
				Help: "Total number of source tasks by source and outcome category",
			},
			[]string{"source", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "placefusion_source_task_duration_milliseconds",
				Help:    "Source task duration in milliseconds, retries included",
				Buckets: []float64{5, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"source"},
		),
		confidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "placefusion_record_confidence",
				Help:    "Confidence of freshly integrated records",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
	}
	for _, c := range []prometheus.Collector{m.integrations, m.duration, m.tasks, m.taskDuration, m.confidence} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeIntegration(outcome string, mode Mode, d time.Duration) {
	if m == nil {
		return
	}
	m.integrations.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(string(mode)).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) observeTask(source, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(source, outcome).Inc()
	m.taskDuration.WithLabelValues(source).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) observeConfidence(c float64) {
	if m == nil {
		return
	}
	m.confidence.Observe(c)
}

// StatsCollector exports pool, cache and breaker snapshots at scrape time
type StatsCollector struct {
	o *Orchestrator

	poolConns     *prometheus.Desc
	poolWaiting   *prometheus.Desc
	poolTimeouts  *prometheus.Desc
	cacheEntries  *prometheus.Desc
	cacheBytes    *prometheus.Desc
	cacheHitRatio *prometheus.Desc
	cacheEvicted  *prometheus.Desc
	breakerState  *prometheus.Desc
	breakerFails  *prometheus.Desc
}

// NewStatsCollector creates a collector reading from o
func NewStatsCollector(o *Orchestrator) *StatsCollector {
	return &StatsCollector{
		o:             o,
		poolConns:     prometheus.NewDesc("placefusion_pool_connections", "Pooled connections by source and state", []string{"source", "state"}, nil),
		poolWaiting:   prometheus.NewDesc("placefusion_pool_waiting", "Callers waiting for a connection", []string{"source"}, nil),
		poolTimeouts:  prometheus.NewDesc("placefusion_pool_acquire_timeouts_total", "Connection acquisitions that timed out", []string{"source"}, nil),
		cacheEntries:  prometheus.NewDesc("placefusion_cache_entries", "Entries in the smart cache", nil, nil),
		cacheBytes:    prometheus.NewDesc("placefusion_cache_bytes", "Stored payload bytes in the smart cache", nil, nil),
		cacheHitRatio: prometheus.NewDesc("placefusion_cache_hit_ratio", "Smart cache hit ratio", nil, nil),
		cacheEvicted:  prometheus.NewDesc("placefusion_cache_evictions_total", "Entries evicted for capacity", nil, nil),
		breakerState:  prometheus.NewDesc("placefusion_breaker_state", "Circuit breaker state (0 closed, 1 half-open, 2 open)", []string{"source"}, nil),
		breakerFails:  prometheus.NewDesc("placefusion_breaker_failures", "Consecutive failures counted by the breaker", []string{"source"}, nil),
	}
}

// Describe implements prometheus.Collector
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.poolConns, c.poolWaiting, c.poolTimeouts,
		c.cacheEntries, c.cacheBytes, c.cacheHitRatio, c.cacheEvicted,
		c.breakerState, c.breakerFails,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.o.pool != nil {
		for source, s := range c.o.pool.Stats() {
			ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(s.Active), source, "active")
			ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(s.Idle), source, "idle")
			ch <- prometheus.MustNewConstMetric(c.poolWaiting, prometheus.GaugeValue, float64(s.Waiting), source)
			ch <- prometheus.MustNewConstMetric(c.poolTimeouts, prometheus.CounterValue, float64(s.AcquireTimeouts), source)
		}
	}

	cs := c.o.cache.Stats()
	ch <- prometheus.MustNewConstMetric(c.cacheEntries, prometheus.GaugeValue, float64(cs.TotalEntries))
	ch <- prometheus.MustNewConstMetric(c.cacheBytes, prometheus.GaugeValue, float64(cs.TotalSize))
	ch <- prometheus.MustNewConstMetric(c.cacheHitRatio, prometheus.GaugeValue, cs.HitRate)
	ch <- prometheus.MustNewConstMetric(c.cacheEvicted, prometheus.CounterValue, float64(cs.Evictions))

	for _, b := range c.o.sched.Breakers().Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, breakerValue(b.State), b.Source)
		ch <- prometheus.MustNewConstMetric(c.breakerFails, prometheus.GaugeValue, float64(b.FailureCount), b.Source)
	}
}

func breakerValue(s scheduler.State) float64 {
	switch s {
	case scheduler.StateOpen:
		return 2
	case scheduler.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
