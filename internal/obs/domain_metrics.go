package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// BillsCommittedTotal counts commit outcomes (committed, insufficient_stock, conflict_exhausted, error).
	BillsCommittedTotal *prometheus.CounterVec
	// CommitRetriesTotal counts transaction retries caused by concurrent writers.
	CommitRetriesTotal prometheus.Counter
	// BillNetAmount observes committed bill net totals in rupees.
	BillNetAmount prometheus.Histogram
	// ArchiveFailuresTotal counts receipt/ledger writes that failed after a commit.
	ArchiveFailuresTotal prometheus.Counter
	// LoginAttemptsTotal counts login outcomes.
	LoginAttemptsTotal *prometheus.CounterVec
	// ActiveSessions tracks the number of live till sessions.
	ActiveSessions prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
// It is safe to call more than once; only the first registerer is used.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BillsCommittedTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bills_committed_total",
			Help:      "Count of bill commit outcomes.",
		}, []string{"result"}))
		CommitRetriesTotal = registerOrReuse(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_commit_retries_total",
			Help:      "Bill commit transactions retried after a write conflict.",
		}))
		BillNetAmount = registerOrReuse(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bill_net_amount_rupees",
			Help:      "Distribution of committed bill net totals.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 50000},
		}))
		ArchiveFailuresTotal = registerOrReuse(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_archive_failures_total",
			Help:      "Receipt or ledger writes that failed after a successful commit.",
		}))
		LoginAttemptsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Count of login attempts by outcome.",
		}, []string{"result"}))
		ActiveSessions = registerOrReuse(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live till sessions.",
		}))
	})
}

// IncBillOutcome records a commit outcome when domain metrics are registered.
func IncBillOutcome(result string) {
	if BillsCommittedTotal != nil {
		BillsCommittedTotal.WithLabelValues(result).Inc()
	}
}

// IncCommitRetry records one commit retry when domain metrics are registered.
func IncCommitRetry() {
	if CommitRetriesTotal != nil {
		CommitRetriesTotal.Inc()
	}
}

// ObserveBillNet records a committed bill's net total when domain metrics are registered.
func ObserveBillNet(rupees float64) {
	if BillNetAmount != nil {
		BillNetAmount.Observe(rupees)
	}
}

// IncArchiveFailure records an archive failure when domain metrics are registered.
func IncArchiveFailure() {
	if ArchiveFailuresTotal != nil {
		ArchiveFailuresTotal.Inc()
	}
}

// IncLoginAttempt records a login outcome when domain metrics are registered.
func IncLoginAttempt(result string) {
	if LoginAttemptsTotal != nil {
		LoginAttemptsTotal.WithLabelValues(result).Inc()
	}
}

// SetActiveSessions updates the live session gauge when domain metrics are registered.
func SetActiveSessions(n int) {
	if ActiveSessions != nil {
		ActiveSessions.Set(float64(n))
	}
}
