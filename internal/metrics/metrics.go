// package metrics exports sync, quota and resilience counters to Prometheus.
//
// A [Metrics] value owns its registry and implements the observer interfaces of the quota ledger, the
// resilience layer and the sync engine, so it is wired in by passing it as the observer to each.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/quota"
	"github.com/desertthunder/ytsync/internal/resilience"
	"github.com/desertthunder/ytsync/internal/tasks"
)

const namespace = "ytsync"

// Metrics holds every collector exported by ytsync.
type Metrics struct {
	registry *prometheus.Registry

	// quotaUsed is the units consumed today. Labels: none
	quotaUsed prometheus.Gauge
	// quotaLimit is the daily budget.
	quotaLimit prometheus.Gauge
	// quotaUnits counts units reserved. Labels: op
	quotaUnits *prometheus.CounterVec
	// quotaRejections counts reservations refused for lack of budget. Labels: op
	quotaRejections *prometheus.CounterVec
	// quotaLow counts days on which the remaining budget fell below the warn threshold.
	quotaLow prometheus.Counter

	// retries counts retried remote calls. Labels: op, kind
	retries *prometheus.CounterVec
	// rejections counts calls refused by an open breaker. Labels: op
	rejections *prometheus.CounterVec
	// breakerState is 0 closed, 1 open, 2 half-open. Labels: breaker
	breakerState *prometheus.GaugeVec
	// breakerTransitions counts state changes. Labels: breaker, to
	breakerTransitions *prometheus.CounterVec

	// syncs counts finished syncs. Labels: status
	syncs *prometheus.CounterVec
	// syncDuration measures sync wall time in seconds.
	syncDuration prometheus.Histogram
	// changes counts membership edits applied. Labels: change (added, removed, reordered, skipped)
	changes *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		quotaUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "used_units",
			Help:      "Quota units consumed today",
		}),
		quotaLimit: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "limit_units",
			Help:      "Daily quota budget",
		}),
		quotaUnits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "reserved_units_total",
			Help:      "Total quota units reserved by operation",
		}, []string{"op"}),
		quotaRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "rejections_total",
			Help:      "Total reservations refused because the daily budget was exhausted",
		}, []string{"op"}),
		quotaLow: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "low_warnings_total",
			Help:      "Total low budget warnings, at most one per day",
		}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "retries_total",
			Help:      "Total retried remote calls by error kind",
		}, []string{"op", "kind"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "circuit_rejections_total",
			Help:      "Total remote calls rejected by an open circuit",
		}, []string{"op"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"breaker"}),
		breakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Total circuit breaker state changes",
		}, []string{"breaker", "to"}),
		syncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total collection syncs by outcome",
		}, []string{"status"}),
		syncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Collection sync duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		changes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "changes_total",
			Help:      "Total membership changes applied by type",
		}, []string{"change"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) QuotaReserved(op string, cost int, usage models.QuotaUsage) {
	m.quotaUnits.WithLabelValues(op).Add(float64(cost))
	m.SetQuotaUsage(usage)
}

func (m *Metrics) QuotaRejected(op string) {
	m.quotaRejections.WithLabelValues(op).Inc()
}

// QuotaLow records a low budget warning. Register it with [quota.Ledger.OnWarning].
func (m *Metrics) QuotaLow(w quota.Warning) {
	m.quotaLow.Inc()
	m.SetQuotaUsage(models.QuotaUsage{Day: w.Day, Used: w.Used, Limit: w.Limit})
}

// SetQuotaUsage publishes a usage snapshot, e.g. the one read at startup.
func (m *Metrics) SetQuotaUsage(usage models.QuotaUsage) {
	m.quotaUsed.Set(float64(usage.Used))
	m.quotaLimit.Set(float64(usage.Limit))
}

func (m *Metrics) Retried(name string, kind resilience.Kind) {
	m.retries.WithLabelValues(name, kind.String()).Inc()
}

func (m *Metrics) Rejected(name string) {
	m.rejections.WithLabelValues(name).Inc()
}

func (m *Metrics) StateChanged(name string, from, to resilience.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
	m.breakerTransitions.WithLabelValues(name, to.String()).Inc()
}

func (m *Metrics) SyncFinished(r *tasks.SyncResult) {
	status := string(r.Status)
	if r.Err != nil {
		status = string(models.StatusFailed)
	}
	m.syncs.WithLabelValues(status).Inc()

	if d := r.Duration(); d > 0 {
		m.syncDuration.Observe(d.Seconds())
	}
	m.changes.WithLabelValues("added").Add(float64(r.Added))
	m.changes.WithLabelValues("removed").Add(float64(r.Removed))
	m.changes.WithLabelValues("reordered").Add(float64(r.Reordered))
	m.changes.WithLabelValues("skipped").Add(float64(r.Skipped))
}
