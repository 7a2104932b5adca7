package resilience

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Breaker collectors are labelled by the guarded dependency, e.g. "docstore".
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "toko",
		Subsystem: "store_breaker",
		Name:      "state",
		Help:      "Breaker position per guarded dependency (0 closed, 1 open, 2 half-open).",
	}, []string{"target"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toko",
		Subsystem: "store_breaker",
		Name:      "transitions_total",
		Help:      "Breaker state changes per guarded dependency.",
	}, []string{"target", "from", "to"})
	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toko",
		Subsystem: "store_breaker",
		Name:      "opened_total",
		Help:      "Times the breaker tripped open and started rejecting store calls.",
	}, []string{"target"})
)

// RegisterMetrics adds the breaker collectors to reg, tolerating a repeat
// registration against the same registry.
func RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{BreakerState, BreakerTransitions, BreakerOpenedTotal} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
