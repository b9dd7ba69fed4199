// Package metrics publishes Prometheus instruments for the authorization
// engine, the plug-in runtime, and the bundle build path.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheEvent identifies compiled-rule cache activity.
type CacheEvent string

const (
	// CacheEventHit records a lookup served from the cache.
	CacheEventHit CacheEvent = "hit"
	// CacheEventMiss records a lookup that required compilation.
	CacheEventMiss CacheEvent = "miss"
	// CacheEventInvalidate records an explicit invalidation.
	CacheEventInvalidate CacheEvent = "invalidate"
)

// CompileOutcome captures the result of a rule compilation.
type CompileOutcome string

const (
	CompileOutcomeOK    CompileOutcome = "ok"
	CompileOutcomeError CompileOutcome = "error"
)

// Recorder publishes Prometheus metrics for engine activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	authzDecisions   *prometheus.CounterVec
	authzDuration    *prometheus.HistogramVec
	ruleCacheEvents  *prometheus.CounterVec
	ruleCompiles     *prometheus.CounterVec
	ruleCompileTime  prometheus.Histogram
	ruleCompileSize  prometheus.Histogram
	twoFactorEvents  *prometheus.CounterVec
	simulations      prometheus.Counter
	pluginInvokes    *prometheus.CounterVec
	pluginDuration   *prometheus.HistogramVec
	bundleBuilds     *prometheus.CounterVec
	bundleBuildTime  prometheus.Histogram
	queueDepth       prometheus.Gauge
	downloadOutcomes *prometheus.CounterVec
}

// NewRecorder registers every instrument on the provided registry and
// returns the recorder plus its scrape handler.
func NewRecorder(registry *prometheus.Registry) *Recorder {
	r := &Recorder{
		gatherer: registry,
		authzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latchflow_authz_decisions_total",
			Help: "Authorization decisions by route, mode, outcome, and reason.",
		}, []string{"route", "method", "mode", "outcome", "reason", "role"}),
		authzDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "latchflow_authz_decision_seconds",
			Help:    "Authorization evaluation latency.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		}, []string{"mode"}),
		ruleCacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latchflow_authz_rule_cache_events_total",
			Help: "Compiled-rule cache hits, misses, and invalidations.",
		}, []string{"event"}),
		ruleCompiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latchflow_authz_rule_compiles_total",
			Help: "Rule compilations by outcome.",
		}, []string{"outcome"}),
		ruleCompileTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "latchflow_authz_rule_compile_seconds",
			Help:    "Rule compilation latency.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 10),
		}),
		ruleCompileSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "latchflow_authz_rule_compile_rules",
			Help:    "Rule count per compilation.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		twoFactorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latchflow_authz_two_factor_events_total",
			Help: "Admin two-factor post-check events.",
		}, []string{"event"}),
		simulations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latchflow_authz_simulations_total",
			Help: "Permission simulations run through the admin endpoint.",
		}),
		pluginInvokes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latchflow_plugin_invocations_total",
			Help: "Action invocations by capability and status.",
		}, []string{"capability", "status"}),
		pluginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "latchflow_plugin_invocation_seconds",
			Help:    "Action invocation latency by capability.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"capability"}),
		bundleBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latchflow_bundle_builds_total",
			Help: "Bundle build attempts by status (built, skipped, failed).",
		}, []string{"status"}),
		bundleBuildTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "latchflow_bundle_build_seconds",
			Help:    "Bundle build latency.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "latchflow_action_queue_depth",
			Help: "Messages waiting in the action queue (in-memory driver).",
		}),
		downloadOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latchflow_portal_downloads_total",
			Help: "Portal download attempts by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.authzDecisions, r.authzDuration, r.ruleCacheEvents,
		r.ruleCompiles, r.ruleCompileTime, r.ruleCompileSize,
		r.twoFactorEvents, r.simulations,
		r.pluginInvokes, r.pluginDuration,
		r.bundleBuilds, r.bundleBuildTime, r.queueDepth,
		r.downloadOutcomes,
	)
	r.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return r
}

// Handler exposes the scrape endpoint.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return r.handler
}

// CountDecision records one authorization decision.
func (r *Recorder) CountDecision(route, method, mode, outcome, reason, role string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.authzDecisions.WithLabelValues(route, method, mode, outcome, reason, role).Inc()
	r.authzDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// CountRuleCacheEvent records compiled-rule cache activity.
func (r *Recorder) CountRuleCacheEvent(event CacheEvent) {
	if r == nil {
		return
	}
	r.ruleCacheEvents.WithLabelValues(string(event)).Inc()
}

// ObserveRuleCompile records one compilation with its rule count.
func (r *Recorder) ObserveRuleCompile(outcome CompileOutcome, ruleCount int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.ruleCompiles.WithLabelValues(string(outcome)).Inc()
	r.ruleCompileTime.Observe(elapsed.Seconds())
	r.ruleCompileSize.Observe(float64(ruleCount))
}

// CountTwoFactorEvent records an admin 2FA post-check event
// (challenge_required, session_expired, challenge_satisfied).
func (r *Recorder) CountTwoFactorEvent(event string) {
	if r == nil {
		return
	}
	r.twoFactorEvents.WithLabelValues(event).Inc()
}

// CountSimulation records one run of the simulation endpoint.
func (r *Recorder) CountSimulation() {
	if r == nil {
		return
	}
	r.simulations.Inc()
}

// ObservePluginInvocation records one action execution.
func (r *Recorder) ObservePluginInvocation(capability, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.pluginInvokes.WithLabelValues(capability, status).Inc()
	r.pluginDuration.WithLabelValues(capability).Observe(elapsed.Seconds())
}

// ObserveBundleBuild records one scheduler-driven build attempt.
func (r *Recorder) ObserveBundleBuild(status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.bundleBuilds.WithLabelValues(status).Inc()
	r.bundleBuildTime.Observe(elapsed.Seconds())
}

// SetQueueDepth publishes the in-memory queue backlog.
func (r *Recorder) SetQueueDepth(depth int) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(depth))
}

// CountDownload records a portal download attempt outcome.
func (r *Recorder) CountDownload(outcome string) {
	if r == nil {
		return
	}
	r.downloadOutcomes.WithLabelValues(outcome).Inc()
}
