package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CarbonMetrics counts carbon units moving through the engine.
type CarbonMetrics struct {
	creditsIssued  prometheus.Counter
	creditsMoved   *prometheus.CounterVec
	reserveGranted prometheus.Counter
	transitions    *prometheus.CounterVec
}

// NewCarbonMetrics registers the carbon engine counters on reg. A nil
// registerer yields a no-op recorder.
func NewCarbonMetrics(reg prometheus.Registerer) *CarbonMetrics {
	if reg == nil {
		return &CarbonMetrics{}
	}
	issued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carbon_credits_issued_total",
		Help: "Carbon credits issued from verified absorption.",
	})
	moved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carbon_credits_moved_total",
		Help: "Carbon credits leaving the available balance, by operation.",
	}, []string{"operation"})
	granted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carbon_reserve_granted_kg_total",
		Help: "Kilograms of CO2 granted from reserves to project phases.",
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_transitions_total",
		Help: "Lifecycle state transitions, by entity and target state.",
	}, []string{"entity", "to"})
	reg.MustRegister(issued, moved, granted, transitions)
	return &CarbonMetrics{
		creditsIssued:  issued,
		creditsMoved:   moved,
		reserveGranted: granted,
		transitions:    transitions,
	}
}

// AddIssued records newly issued credits.
func (m *CarbonMetrics) AddIssued(n int64) {
	if m == nil || m.creditsIssued == nil || n <= 0 {
		return
	}
	m.creditsIssued.Add(float64(n))
}

// AddSold records credits sold.
func (m *CarbonMetrics) AddSold(n int64) {
	m.addMoved("sell", n)
}

// AddRetired records credits retired.
func (m *CarbonMetrics) AddRetired(n int64) {
	m.addMoved("retire", n)
}

func (m *CarbonMetrics) addMoved(op string, n int64) {
	if m == nil || m.creditsMoved == nil || n <= 0 {
		return
	}
	m.creditsMoved.WithLabelValues(op).Add(float64(n))
}

// AddReserveGranted records kilograms granted from a reserve.
func (m *CarbonMetrics) AddReserveGranted(kg float64) {
	if m == nil || m.reserveGranted == nil || kg <= 0 {
		return
	}
	m.reserveGranted.Add(kg)
}

// IncTransition records a lifecycle transition.
func (m *CarbonMetrics) IncTransition(entity, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(entity), normalizeLabel(to)).Inc()
}
