package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the HTTP API and the
// moderation pipeline.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     prometheus.Counter
	decisionsTotal  *prometheus.CounterVec
	actionStates    *prometheus.CounterVec
	pendingActions  prometheus.Gauge
	voteSessions    *prometheus.CounterVec
	wagerSessions   prometheus.Counter
	keywordHits     prometheus.Counter
	dbWriteErrors   prometheus.Counter
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnastymod",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gnastymod",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnastymod",
			Name:      "http_rate_limited_total",
			Help:      "Number of HTTP requests rejected due to rate limiting",
		}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnastymod",
			Name:      "decisions_total",
			Help:      "Message evaluations by outcome",
		}, []string{"outcome"}),
		actionStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnastymod",
			Name:      "action_transitions_total",
			Help:      "Deferred action state transitions",
		}, []string{"state"}),
		pendingActions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gnastymod",
			Name:      "pending_actions",
			Help:      "Deferred bans currently inside their grace period",
		}),
		voteSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnastymod",
			Name:      "vote_sessions_total",
			Help:      "Completed vote sessions by outcome",
		}, []string{"outcome"}),
		wagerSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnastymod",
			Name:      "wager_sessions_total",
			Help:      "Completed wager sessions",
		}),
		keywordHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnastymod",
			Name:      "keyword_hits_total",
			Help:      "Chat messages mentioning a notify keyword",
		}),
		dbWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnastymod",
			Name:      "db_write_errors_total",
			Help:      "Number of database write errors reported",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.rateLimited,
		m.decisionsTotal,
		m.actionStates,
		m.pendingActions,
		m.voteSessions,
		m.wagerSessions,
		m.keywordHits,
		m.dbWriteErrors,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records timing and status information.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

// IncRateLimited increments the rate limit counter.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// IncDecision counts one evaluation by outcome.
func (m *Metrics) IncDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(outcome).Inc()
}

// IncActionState counts one deferred action state transition.
func (m *Metrics) IncActionState(state string) {
	if m == nil {
		return
	}
	m.actionStates.WithLabelValues(state).Inc()
}

// SetPendingActions sets the pending deferred-ban gauge.
func (m *Metrics) SetPendingActions(n float64) {
	if m == nil {
		return
	}
	m.pendingActions.Set(n)
}

// IncVoteSession counts one completed vote session by outcome.
func (m *Metrics) IncVoteSession(outcome string) {
	if m == nil {
		return
	}
	m.voteSessions.WithLabelValues(outcome).Inc()
}

// IncWagerSession counts one completed wager session.
func (m *Metrics) IncWagerSession() {
	if m == nil {
		return
	}
	m.wagerSessions.Inc()
}

// IncKeywordHit counts one notify keyword mention.
func (m *Metrics) IncKeywordHit() {
	if m == nil {
		return
	}
	m.keywordHits.Inc()
}

// IncDBWriteErrors increments the DB write error counter.
func (m *Metrics) IncDBWriteErrors() {
	if m == nil {
		return
	}
	m.dbWriteErrors.Inc()
}
