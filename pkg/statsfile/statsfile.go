// Package statsfile collects proxy-wide counters and periodically rewrites
// them to ./logs/statistics.txt, grounded on HydraDNS's internal/server
// atomic-counter DNSStats.
package statsfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Stats collects process-wide proxy counters. All methods are safe for
// concurrent use.
type Stats struct {
	connectionsTotal      atomic.Uint64
	connectionsActive     atomic.Int64
	bytesSent             atomic.Uint64
	bytesReceived         atomic.Uint64
	requestsTotal         atomic.Uint64
	errorsTotal           atomic.Uint64
	connectLatencyTotalNs atomic.Uint64
	connectLatencyCount   atomic.Uint64
}

// New creates an empty Stats collector.
func New() *Stats {
	return &Stats{}
}

func (s *Stats) AddConnection() {
	s.connectionsTotal.Add(1)
	s.connectionsActive.Add(1)
}

func (s *Stats) RemoveConnection() {
	s.connectionsActive.Add(-1)
}

func (s *Stats) AddSentBytes(n uint64)     { s.bytesSent.Add(n) }
func (s *Stats) AddReceivedBytes(n uint64) { s.bytesReceived.Add(n) }
func (s *Stats) AddRequest()               { s.requestsTotal.Add(1) }
func (s *Stats) AddError()                 { s.errorsTotal.Add(1) }

// AddConnectLatency records how long a successful TCP connect to a target
// took, for Snapshot's AvgConnectLatencyMs.
func (s *Stats) AddConnectLatency(d time.Duration) {
	if d > 0 {
		s.connectLatencyTotalNs.Add(uint64(d))
		s.connectLatencyCount.Add(1)
	}
}

// Snapshot is a point-in-time view of Stats.
type Snapshot struct {
	ConnectionsTotal    uint64
	ConnectionsActive   int64
	BytesSent           uint64
	BytesReceived       uint64
	RequestsTotal       uint64
	ErrorsTotal         uint64
	AvgConnectLatencyMs float64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	count := s.connectLatencyCount.Load()
	latencyNs := s.connectLatencyTotalNs.Load()
	avgConnectLatencyMs := 0.0
	if count > 0 {
		avgConnectLatencyMs = float64(latencyNs) / float64(count) / 1e6
	}

	return Snapshot{
		ConnectionsTotal:    s.connectionsTotal.Load(),
		ConnectionsActive:   s.connectionsActive.Load(),
		BytesSent:           s.bytesSent.Load(),
		BytesReceived:       s.bytesReceived.Load(),
		RequestsTotal:       s.requestsTotal.Load(),
		ErrorsTotal:         s.errorsTotal.Load(),
		AvgConnectLatencyMs: avgConnectLatencyMs,
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"connections_total=%d\nconnections_active=%d\nbytes_sent=%d\nbytes_received=%d\nrequests_total=%d\nerrors_total=%d\navg_connect_latency_ms=%.3f\n",
		s.ConnectionsTotal, s.ConnectionsActive, s.BytesSent, s.BytesReceived, s.RequestsTotal, s.ErrorsTotal, s.AvgConnectLatencyMs,
	)
}

// Writer periodically rewrites a snapshot of Stats to a file.
type Writer struct {
	stats *Stats
	path  string
}

// NewWriter creates a Writer targeting path (e.g. "./logs/statistics.txt"),
// creating its parent directory with 0700 permissions if missing.
func NewWriter(stats *Stats, path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create statistics directory: %w", err)
	}
	return &Writer{stats: stats, path: path}, nil
}

// Run rewrites the statistics file every tick until ctx-equivalent done is
// closed. It writes once immediately on entry.
func (w *Writer) Run(done <-chan struct{}, tick time.Duration) {
	w.writeOnce()
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			w.writeOnce()
		}
	}
}

func (w *Writer) writeOnce() {
	snap := w.stats.Snapshot()
	_ = os.WriteFile(w.path, []byte(snap.String()), 0600)
}
