package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersInstruments(t *testing.T) {
	m := New()

	m.CallsPlacedTotal.WithLabelValues("camp1").Inc()
	m.CallsTerminalTotal.WithLabelValues("camp1", "completed").Inc()
	m.CallsInFlight.WithLabelValues("camp1").Set(2)

	if got := testutil.ToFloat64(m.CallsPlacedTotal.WithLabelValues("camp1")); got != 1 {
		t.Fatalf("calls placed: %v", got)
	}
	if got := testutil.ToFloat64(m.CallsInFlight.WithLabelValues("camp1")); got != 2 {
		t.Fatalf("in flight gauge: %v", got)
	}

	// Two Metrics instances must not collide (per-instance registry).
	_ = New()
}
