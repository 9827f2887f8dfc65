// Package metrics provides the Prometheus collectors for the crowdfund server.
package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crowdfund"

// Donation outcomes used as the "outcome" label.
const (
	OutcomeAccepted = "accepted"
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
)

// Metrics holds every collector exposed by the server.
// Each instance owns its registry, so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// Funding
	DonationsTotal   *prometheus.CounterVec
	DonatedAmount    prometheus.Counter
	ProjectsCreated  prometheus.Counter
	StateTransitions *prometheus.CounterVec

	// Points
	PointsAwarded prometheus.Counter
	PointsSpent   prometheus.Counter

	// Closing sweeper
	ClosingRunsTotal         prometheus.Counter
	ClosingRunDuration       prometheus.Histogram
	ClosingLastRunTime       prometheus.Gauge
	ClosingProjectsEvaluated prometheus.Gauge
	ClosingProjectsClosed    *prometheus.CounterVec

	// Read cache
	CacheRequests *prometheus.CounterVec

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on a fresh registry,
// together with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		DonationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donations_total",
			Help:      "Donation attempts by outcome.",
		}, []string{"outcome"}),
		DonatedAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donated_amount_total",
			Help:      "Sum of accepted donation amounts.",
		}),
		ProjectsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projects_created_total",
			Help:      "Projects created.",
		}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "project_state_transitions_total",
			Help:      "Project state changes by source and target state.",
		}, []string{"from", "to"}),

		PointsAwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_awarded_total",
			Help:      "Points credited to donors.",
		}),
		PointsSpent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_spent_total",
			Help:      "Points debited from donors.",
		}),

		ClosingRunsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "closing",
			Name:      "runs_total",
			Help:      "Completed closing sweeps.",
		}),
		ClosingRunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "closing",
			Name:      "run_duration_seconds",
			Help:      "Closing sweep duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		ClosingLastRunTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "closing",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last closing sweep.",
		}),
		ClosingProjectsEvaluated: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "closing",
			Name:      "projects_evaluated",
			Help:      "Planned projects evaluated by the last sweep.",
		}),
		ClosingProjectsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "closing",
			Name:      "projects_closed_total",
			Help:      "Projects closed by the sweeper, by final state.",
		}, []string{"state"}),

		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Read cache lookups by result.",
		}, []string{"result"}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterSQLStats exposes the connection pool statistics of db as the
// standard go_sql_* metrics.
func (m *Metrics) RegisterSQLStats(db *sql.DB) error {
	return m.registry.Register(collectors.NewDBStatsCollector(db, namespace))
}

// PoolStats is a point-in-time view of a database connection pool.
type PoolStats struct {
	Acquired int32
	Idle     int32
	Total    int32
	Max      int32
}

// RegisterPoolStats exposes a connection pool that is not a *sql.DB. stats is
// called on every scrape.
func (m *Metrics) RegisterPoolStats(stats func() PoolStats) error {
	gauges := []struct {
		name  string
		help  string
		value func(PoolStats) int32
	}{
		{"db_pool_acquired_connections", "Connections currently in use.", func(s PoolStats) int32 { return s.Acquired }},
		{"db_pool_idle_connections", "Idle connections in the pool.", func(s PoolStats) int32 { return s.Idle }},
		{"db_pool_total_connections", "Open connections in the pool.", func(s PoolStats) int32 { return s.Total }},
		{"db_pool_max_connections", "Maximum size of the pool.", func(s PoolStats) int32 { return s.Max }},
	}

	for _, g := range gauges {
		value := g.value
		err := m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      g.name,
			Help:      g.help,
		}, func() float64 { return float64(value(stats())) }))
		if err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the exposition handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordDonation records one donation attempt.
func (m *Metrics) RecordDonation(outcome string, amount, points int64) {
	m.DonationsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeAccepted {
		return
	}
	m.DonatedAmount.Add(float64(amount))
	if points > 0 {
		m.PointsAwarded.Add(float64(points))
	}
}

// RecordTransition records a project state change. Unchanged states are skipped.
func (m *Metrics) RecordTransition(from, to string) {
	if from == to {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordClosingRun records a finished closing sweep.
func (m *Metrics) RecordClosingRun(duration time.Duration, evaluated int) {
	m.ClosingRunsTotal.Inc()
	m.ClosingRunDuration.Observe(duration.Seconds())
	m.ClosingProjectsEvaluated.Set(float64(evaluated))
	m.ClosingLastRunTime.SetToCurrentTime()
}

// RecordCacheLookup records a read cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
