package statsfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotReflectsCounters(t *testing.T) {
	s := New()
	s.AddConnection()
	s.AddConnection()
	s.RemoveConnection()
	s.AddSentBytes(100)
	s.AddReceivedBytes(50)
	s.AddRequest()
	s.AddError()

	snap := s.Snapshot()
	if snap.ConnectionsTotal != 2 || snap.ConnectionsActive != 1 {
		t.Fatalf("unexpected connection counters: %+v", snap)
	}
	if snap.BytesSent != 100 || snap.BytesReceived != 50 {
		t.Fatalf("unexpected byte counters: %+v", snap)
	}
	if snap.RequestsTotal != 1 || snap.ErrorsTotal != 1 {
		t.Fatalf("unexpected request/error counters: %+v", snap)
	}
}

func TestSnapshotAveragesConnectLatency(t *testing.T) {
	s := New()
	if got := s.Snapshot().AvgConnectLatencyMs; got != 0 {
		t.Fatalf("expected zero average with no samples, got %v", got)
	}

	s.AddConnectLatency(10 * time.Millisecond)
	s.AddConnectLatency(30 * time.Millisecond)

	if got := s.Snapshot().AvgConnectLatencyMs; got != 20 {
		t.Fatalf("expected average of 20ms, got %v", got)
	}
}

func TestWriterCreatesDirAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "statistics.txt")
	s := New()
	s.AddConnection()

	w, err := NewWriter(s, path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.writeOnce()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected statistics file to exist: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty statistics file")
	}
}
