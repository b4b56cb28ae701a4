// Package transport dials the target side of a proxied connection: a plain
// TCP dial against one candidate IP, with the deadline and timing
// bookkeeping the connection state machine needs for its REQUEST_CONNECT
// and TRY_IPS states. There is no TLS here — this proxy only ever forwards
// plaintext HTTP and opaque CONNECT tunnels, so the teacher's TLS/HTTP2
// dialer collapsed to the one case this domain needs.
package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/ardakaracam/dohproxy/pkg/proxyerr"
	"github.com/ardakaracam/dohproxy/pkg/timing"
)

// Dialer opens target connections. A field rather than a bare function so
// tests can substitute a fake without touching real sockets.
type Dialer struct {
	Timeout time.Duration
	Dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

// New returns a Dialer using net.Dialer with the given per-attempt timeout.
func New(timeout time.Duration) *Dialer {
	d := &net.Dialer{Timeout: timeout}
	return &Dialer{Timeout: timeout, Dial: d.DialContext}
}

// DialIP connects to ip:port, recording TCP-connect timing on t if given.
func (d *Dialer) DialIP(ctx context.Context, ip net.IP, port int, t *timing.Timer) (net.Conn, error) {
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	if t != nil {
		t.StartTCP()
	}
	dialCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	conn, err := d.Dial(dialCtx, "tcp", addr)
	if t != nil {
		t.EndTCP()
	}
	if err != nil {
		return nil, proxyerr.WithStatus(proxyerr.TypeConnection, "transport.dial", "connect to target failed", err, 502)
	}
	return conn, nil
}
