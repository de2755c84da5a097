package metrics

import "testing"

func TestInitIsIdempotentAndRecordsObservations(t *testing.T) {
	m1 := Init()
	m2 := Init()
	if m1 != m2 {
		t.Fatalf("expected Init to return the same instance across calls")
	}

	m1.EventsProcessed("ERC20:Transfer")
	m1.ObserveIndexingDuration("ERC20:Transfer", 0.01)
	m1.ReorgDetected("1", 3)
	m1.RevertRows("accounts", 2)
	m1.SettingsInfo("omnichain", "sqlite", "run")
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.EventsProcessed("x")
	m.ObserveIndexingDuration("x", 1)
	m.ReorgDetected("1", 1)
	m.RevertRows("t", 1)
	m.SettingsInfo("a", "b", "c")
}
