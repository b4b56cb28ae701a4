package timing

import "testing"

func TestTimerMetricsZeroUntilMarked(t *testing.T) {
	tm := NewTimer()
	m := tm.Metrics()
	if m.DNSLookup != 0 || m.TCPConnect != 0 {
		t.Fatalf("expected zero phase timings before marks, got %+v", m)
	}
	if m.TotalTime <= 0 {
		t.Fatalf("expected positive total time")
	}
}

func TestTimerMetricsCapturesPhases(t *testing.T) {
	tm := NewTimer()
	tm.StartDNS()
	tm.EndDNS()
	tm.StartTCP()
	tm.EndTCP()
	m := tm.Metrics()
	if m.DNSLookup < 0 || m.TCPConnect < 0 {
		t.Fatalf("expected non-negative phase timings, got %+v", m)
	}
}
