package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCarbonMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCarbonMetrics(reg)

	m.AddIssued(1000)
	m.AddSold(300)
	m.AddSold(700)
	m.AddRetired(5)
	m.AddRetired(-2)
	m.AddReserveGranted(500.5)
	m.IncTransition("contract", "ACTIVE")

	if got := testutil.ToFloat64(m.creditsIssued); got != 1000 {
		t.Fatalf("expected issued=1000, got %v", got)
	}
	if got := testutil.ToFloat64(m.creditsMoved.WithLabelValues("sell")); got != 1000 {
		t.Fatalf("expected sell=1000, got %v", got)
	}
	if got := testutil.ToFloat64(m.creditsMoved.WithLabelValues("retire")); got != 5 {
		t.Fatalf("negative retirements are ignored; expected 5, got %v", got)
	}
	if got := testutil.ToFloat64(m.reserveGranted); got != 500.5 {
		t.Fatalf("expected granted=500.5, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("contract", "ACTIVE")); got != 1 {
		t.Fatalf("expected one contract transition, got %v", got)
	}
}

func TestNilCarbonMetricsIsNoop(t *testing.T) {
	var m *CarbonMetrics
	m.AddIssued(1)
	m.AddSold(1)
	m.AddRetired(1)
	m.AddReserveGranted(1)
	m.IncTransition("credit", "EXPIRED")

	empty := NewCarbonMetrics(nil)
	empty.AddSold(3)
}
