// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric unless a namespace is given.
const DefaultNamespace = "parimutuel_escrow"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger metrics
	PositionsLocked *prometheus.CounterVec
	StakeLocked     prometheus.Counter
	LockRejections  *prometheus.CounterVec

	// Settlement metrics
	OutcomesPosted   *prometheus.CounterVec
	SettlementErrors *prometheus.CounterVec

	// Redemption metrics
	Redemptions         *prometheus.CounterVec
	RedemptionRetries   prometheus.Counter
	PayoutLovelace      prometheus.Counter
	SelectionInputs     prometheus.Histogram
	SelectionEfficiency prometheus.Histogram
	DustSelections      prometheus.Counter

	// Treasury metrics
	Sweeps         *prometheus.CounterVec
	SweptLovelace  prometheus.Counter
	LiquidityAdded prometheus.Counter

	// Store metrics
	TransitionsApplied *prometheus.CounterVec
	ApplyDuration      prometheus.Histogram
	AuditFailures      prometheus.Counter

	// Health metrics
	LastTransition prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith creates a new Metrics instance registered with reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Ledger metrics
		PositionsLocked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "positions_locked_total",
			Help:      "Total number of positions locked by predicted outcome",
		}, []string{"outcome"}),
		StakeLocked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "lovelace_locked_total",
			Help:      "Total lovelace locked into pots",
		}),
		LockRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "lock_rejections_total",
			Help:      "Total number of rejected locks by error code",
		}, []string{"code"}),

		// Settlement metrics
		OutcomesPosted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "outcomes_posted_total",
			Help:      "Total number of outcomes posted by winning outcome",
		}, []string{"outcome"}),
		SettlementErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "settlement_errors_total",
			Help:      "Total number of settlement errors by reason",
		}, []string{"reason"}),

		// Redemption metrics
		Redemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redemption",
			Name:      "redemptions_total",
			Help:      "Total number of redemption attempts by status",
		}, []string{"status"}),
		RedemptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redemption",
			Name:      "retries_total",
			Help:      "Total number of redemption retries after a lost race",
		}),
		PayoutLovelace: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redemption",
			Name:      "payout_lovelace_total",
			Help:      "Total lovelace paid out to winners",
		}),
		SelectionInputs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "selection",
			Name:      "inputs",
			Help:      "Number of fund records consumed per withdrawal",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		SelectionEfficiency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "selection",
			Name:      "efficiency",
			Help:      "Target over total input per withdrawal",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 0.99, 1},
		}),
		DustSelections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "selection",
			Name:      "dust_total",
			Help:      "Total number of selections accepted with dust change",
		}),

		// Treasury metrics
		Sweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "sweeps_total",
			Help:      "Total number of sweeps by result",
		}, []string{"result"}),
		SweptLovelace: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "swept_lovelace_total",
			Help:      "Total lovelace swept to treasury",
		}),
		LiquidityAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "injected_lovelace_total",
			Help:      "Total lovelace injected into pots by operators",
		}),

		// Store metrics
		TransitionsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "transitions_applied_total",
			Help:      "Total number of ledger transitions applied by kind",
		}, []string{"kind"}),
		ApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "apply_duration_seconds",
			Help:      "Ledger transition apply duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		AuditFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "audit_failures_total",
			Help:      "Total number of audit entries that could not be written",
		}),

		// Health metrics
		LastTransition: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_transition_timestamp",
			Help:      "Unix timestamp of the last applied transition",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordLock records a locked position.
func (m *Metrics) RecordLock(outcome string, lovelace int64) {
	m.PositionsLocked.WithLabelValues(outcome).Inc()
	m.StakeLocked.Add(float64(lovelace))
}

// RecordLockRejected records a rejected lock.
func (m *Metrics) RecordLockRejected(code string) {
	m.LockRejections.WithLabelValues(code).Inc()
}

// RecordOutcome records a posted outcome.
func (m *Metrics) RecordOutcome(outcome string) {
	m.OutcomesPosted.WithLabelValues(outcome).Inc()
}

// RecordSettlementError records a settlement failure.
func (m *Metrics) RecordSettlementError(reason string) {
	m.SettlementErrors.WithLabelValues(reason).Inc()
}

// RecordRedemption records a redemption attempt.
// Selection statistics are observed only for successful redemptions.
func (m *Metrics) RecordRedemption(status string, payout int64, inputs int, efficiency float64, dust bool) {
	m.Redemptions.WithLabelValues(status).Inc()
	if status != "ok" {
		return
	}
	m.PayoutLovelace.Add(float64(payout))
	m.SelectionInputs.Observe(float64(inputs))
	m.SelectionEfficiency.Observe(efficiency)
	if dust {
		m.DustSelections.Inc()
	}
}

// RecordRetry records a redemption retry.
func (m *Metrics) RecordRetry() {
	m.RedemptionRetries.Inc()
}

// RecordSweep records a sweep.
func (m *Metrics) RecordSweep(lovelace int64) {
	if lovelace == 0 {
		m.Sweeps.WithLabelValues("empty").Inc()
		return
	}
	m.Sweeps.WithLabelValues("collected").Inc()
	m.SweptLovelace.Add(float64(lovelace))
}

// RecordInjection records injected liquidity.
func (m *Metrics) RecordInjection(lovelace int64) {
	m.LiquidityAdded.Add(float64(lovelace))
}

// RecordApply records an applied transition.
func (m *Metrics) RecordApply(kind string, seconds float64, unixSeconds int64) {
	m.TransitionsApplied.WithLabelValues(kind).Inc()
	m.ApplyDuration.Observe(seconds)
	m.LastTransition.Set(float64(unixSeconds))
}

// RecordAuditFailure records an audit entry that could not be written.
func (m *Metrics) RecordAuditFailure() {
	m.AuditFailures.Inc()
}
