// Package metrics holds the prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codearena"

var (
	// 5ms -> 60s
	gradingBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60}
	// 1ms -> 10s
	requestBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	submissions        *prometheus.CounterVec
	gradingDuration    *prometheus.HistogramVec
	gradingFailures    *prometheus.CounterVec
	leaderboardUpdates *prometheus.CounterVec
	bestEffortFailures *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New creates collectors on a private registry that also exposes Go and process metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Recorded submissions by status and scope",
		}, []string{"status", "scope"}),
		gradingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grading_duration_seconds",
			Help:      "Wall time to grade all test cases of a submission",
			Buckets:   gradingBuckets,
		}, []string{"outcome"}),
		gradingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grading_failures_total",
			Help:      "Submissions that could not be graded, by reason",
		}, []string{"reason"}),
		leaderboardUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaderboard_updates_total",
			Help:      "Leaderboard updates by result",
		}, []string{"result"}),
		bestEffortFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Failed best-effort side effects such as source archive and events",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   requestBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.submissions,
		m.gradingDuration,
		m.gradingFailures,
		m.leaderboardUpdates,
		m.bestEffortFailures,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSubmission(status string, contest bool) {
	if m == nil {
		return
	}
	scope := "practice"
	if contest {
		scope = "contest"
	}
	m.submissions.WithLabelValues(status, scope).Inc()
}

func (m *Metrics) ObserveGrading(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.gradingDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) GradingFailed(reason string) {
	if m == nil {
		return
	}
	m.gradingFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) LeaderboardUpdate(result string) {
	if m == nil {
		return
	}
	m.leaderboardUpdates.WithLabelValues(result).Inc()
}

func (m *Metrics) SideEffectFailed(kind string) {
	if m == nil {
		return
	}
	m.bestEffortFailures.WithLabelValues(kind).Inc()
}

// GinMiddleware records request count and latency per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
