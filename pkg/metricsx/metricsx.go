// Package metricsx exposes the service's Prometheus counters. A nil
// *Collector is valid and records nothing, so components can take one
// optionally.
package metricsx

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Auth attempt results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type Collector struct {
	sessionsCreated *prometheus.CounterVec
	sessionsRevoked prometheus.Counter
	sessionsReaped  prometheus.Counter
	reapFailures    prometheus.Counter
	reapDuration    prometheus.Histogram
	authAttempts    *prometheus.CounterVec
}

// NewCollector registers the metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_sessions_created_total",
			Help: "Sessions opened, by scheme.",
		}, []string{"scheme"}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_sessions_revoked_total",
			Help: "Sessions revoked.",
		}),
		sessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_sessions_reaped_total",
			Help: "Dead sessions purged by the reaper.",
		}),
		reapFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_sessions_reap_failures_total",
			Help: "Sessions the reaper failed to purge.",
		}),
		reapDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_reaper_run_seconds",
			Help:    "Duration of one reaper run.",
			Buckets: prometheus.DefBuckets,
		}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_auth_attempts_total",
			Help: "Login attempts, by scheme and result.",
		}, []string{"scheme", "result"}),
	}

	reg.MustRegister(
		c.sessionsCreated,
		c.sessionsRevoked,
		c.sessionsReaped,
		c.reapFailures,
		c.reapDuration,
		c.authAttempts,
	)
	return c
}

func (c *Collector) SessionCreated(scheme string) {
	if c == nil {
		return
	}
	c.sessionsCreated.WithLabelValues(scheme).Inc()
}

func (c *Collector) SessionsRevoked(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.sessionsRevoked.Add(float64(n))
}

// ReaperRun records one reaper pass.
func (c *Collector) ReaperRun(reaped, failed int, took time.Duration) {
	if c == nil {
		return
	}
	c.sessionsReaped.Add(float64(reaped))
	c.reapFailures.Add(float64(failed))
	c.reapDuration.Observe(took.Seconds())
}

func (c *Collector) AuthAttempt(scheme string, ok bool) {
	if c == nil {
		return
	}
	result := ResultFailure
	if ok {
		result = ResultSuccess
	}
	c.authAttempts.WithLabelValues(scheme, result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
