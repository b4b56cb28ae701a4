package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestDialIPUsesInjectedDialer(t *testing.T) {
	called := false
	d := &Dialer{Timeout: time.Second, Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
		called = true
		if network != "tcp" || addr != "93.184.216.34:80" {
			t.Fatalf("unexpected dial target: %s %s", network, addr)
		}
		c1, c2 := net.Pipe()
		c2.Close()
		return c1, nil
	}}

	conn, err := d.DialIP(context.Background(), net.ParseIP("93.184.216.34"), 80, nil)
	if err != nil {
		t.Fatalf("DialIP: %v", err)
	}
	defer conn.Close()
	if !called {
		t.Fatalf("expected injected dialer to be invoked")
	}
}

func TestDialIPWrapsError(t *testing.T) {
	d := &Dialer{Timeout: time.Second, Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, net.UnknownNetworkError("boom")
	}}
	_, err := d.DialIP(context.Background(), net.ParseIP("127.0.0.1"), 80, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}
