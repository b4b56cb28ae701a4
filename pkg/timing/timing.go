// Package timing measures the connect-phase latencies the access log and
// management stats surface: how long DNS resolution and the TCP handshake
// to the target took for a given connection.
package timing

import (
	"fmt"
	"time"
)

// Metrics is the timing breakdown for one outbound connection attempt.
type Metrics struct {
	DNSLookup  time.Duration
	TCPConnect time.Duration
	TotalTime  time.Duration
}

// Timer accumulates the start/end marks for a single connection attempt.
type Timer struct {
	start    time.Time
	dnsStart time.Time
	dnsEnd   time.Time
	tcpStart time.Time
	tcpEnd   time.Time
}

// NewTimer starts a timing session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) StartDNS() { t.dnsStart = time.Now() }
func (t *Timer) EndDNS()   { t.dnsEnd = time.Now() }
func (t *Timer) StartTCP() { t.tcpStart = time.Now() }
func (t *Timer) EndTCP()   { t.tcpEnd = time.Now() }

// Metrics reports the elapsed phases measured so far.
func (t *Timer) Metrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}
	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		m.DNSLookup = t.dnsEnd.Sub(t.dnsStart)
	}
	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		m.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}
	return m
}

func (m Metrics) String() string {
	return fmt.Sprintf("dns=%v connect=%v total=%v", m.DNSLookup, m.TCPConnect, m.TotalTime)
}
