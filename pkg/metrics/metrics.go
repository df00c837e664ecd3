// Package metrics exposes Prometheus instrumentation for the RM, TM, and
// WC services, generalized from the teacher's pkg/metrics/metrics.go (same
// Timer/Handler helpers, same init-time MustRegister pattern) onto the
// reservation-service domain's own counters and histograms.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RM metrics

	RMPrepareTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resvoy_rm_prepare_total",
			Help: "Total number of prepare calls by outcome",
		},
		[]string{"rm", "result"},
	)

	RMCommitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resvoy_rm_commit_total",
			Help: "Total number of commit calls by outcome",
		},
		[]string{"rm", "result"},
	)

	RMAbortTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resvoy_rm_abort_total",
			Help: "Total number of abort calls",
		},
		[]string{"rm"},
	)

	RMLockConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resvoy_rm_lock_conflicts_total",
			Help: "Total number of LOCK_CONFLICT errors returned at prepare",
		},
		[]string{"rm"},
	)

	RMCrudTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resvoy_rm_crud_total",
			Help: "Total number of CRUD calls by operation and error kind",
		},
		[]string{"rm", "op", "kind"},
	)

	RMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resvoy_rm_request_duration_seconds",
			Help:    "RM HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"rm", "op"},
	)

	RecoveredTransactions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resvoy_rm_recovered_prepared_total",
			Help: "Number of PREPARED transactions rebuilt at last startup recovery",
		},
		[]string{"rm"},
	)

	// TM metrics

	TMTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resvoy_tm_transactions_total",
			Help: "Total number of transactions by final outcome",
		},
		[]string{"outcome"},
	)

	TMPhase2RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resvoy_tm_phase2_retries_total",
			Help: "Total number of phase-2 (commit/abort) retry attempts by participant",
		},
		[]string{"rm"},
	)

	TMInDoubtTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resvoy_tm_in_doubt_total",
			Help: "Total number of commit calls that returned IN_DOUBT to the client",
		},
	)

	TMCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resvoy_tm_commit_duration_seconds",
			Help:    "Time taken to run the full 2PC protocol for a commit, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TMActiveTransactions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "resvoy_tm_active_transactions",
			Help: "Current number of ACTIVE transactions tracked by the TM",
		},
	)

	// WC metrics

	WCReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resvoy_wc_reservations_total",
			Help: "Total number of reservation requests by resource type and outcome",
		},
		[]string{"resource_type", "outcome"},
	)

	WCAutoAbortsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resvoy_wc_auto_aborts_total",
			Help: "Total number of transactions auto-aborted after a mid-transaction failure",
		},
	)

	WCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resvoy_wc_request_duration_seconds",
			Help:    "WC HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		RMPrepareTotal,
		RMCommitTotal,
		RMAbortTotal,
		RMLockConflictsTotal,
		RMCrudTotal,
		RMRequestDuration,
		RecoveredTransactions,
		TMTransactionsTotal,
		TMPhase2RetriesTotal,
		TMInDoubtTotal,
		TMCommitDuration,
		TMActiveTransactions,
		WCReservationsTotal,
		WCAutoAbortsTotal,
		WCRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler, served at /metrics on every
// service alongside its own API mux.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and recording it into a
// histogram once it completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time into a labeled histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
