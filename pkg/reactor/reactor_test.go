package reactor

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ardakaracam/dohproxy/pkg/accesslog"
	"github.com/ardakaracam/dohproxy/pkg/config"
	"github.com/ardakaracam/dohproxy/pkg/statsfile"
	"github.com/ardakaracam/dohproxy/pkg/timing"
)

// fakeDialer hands back a pre-connected pipe end regardless of the
// requested address, keeping the accept-to-forward path socket-free for
// the target leg while exercising a real client-facing listener.
type fakeDialer struct{ conn net.Conn }

func (f *fakeDialer) DialIP(ctx context.Context, ip net.IP, port int, t *timing.Timer) (net.Conn, error) {
	return f.conn, nil
}

type fakeResolver struct{ ip net.IP }

func (f *fakeResolver) Query(ctx context.Context, hostname string, qtype uint16) ([]net.IP, error) {
	return []net.IP{f.ip}, nil
}

func newTestReactor(t *testing.T) (*Reactor, net.Conn) {
	t.Helper()
	dir := t.TempDir()
	access, err := accesslog.Open(dir + "/access.txt")
	if err != nil {
		t.Fatalf("accesslog.Open: %v", err)
	}
	t.Cleanup(func() { access.Close() })

	targetSide, targetRemote := net.Pipe()
	t.Cleanup(func() { targetSide.Close() })

	cfg := config.Default()
	cfg.ConnectionTimeout = 2 * time.Second

	r, err := New(cfg, access, statsfile.New(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.dialer = &fakeDialer{conn: targetRemote}
	r.resolver = &fakeResolver{ip: net.ParseIP("93.184.216.34")}
	return r, targetSide
}

func TestAcceptedConnectionIsProxiedEndToEnd(t *testing.T) {
	r, targetSide := newTestReactor(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go r.acceptLoop(context.Background(), ln)

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	targetReader := bufio.NewReader(targetSide)
	line, err := targetReader.ReadString('\n')
	if err != nil {
		t.Fatalf("read forwarded request: %v", err)
	}
	if !strings.HasPrefix(line, "GET / HTTP/1.1") {
		t.Fatalf("unexpected forwarded request line: %q", line)
	}

	if got := r.stats.Snapshot().ConnectionsTotal; got != 1 {
		t.Fatalf("expected one accepted connection, got %d", got)
	}
}

func TestAcceptRejectsBlacklistedClient(t *testing.T) {
	r, _ := newTestReactor(t)
	cfg := *r.Config()
	cfg.ClientBlacklist = []string{"127.0.0.1"}
	r.SetConfig(cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go r.acceptLoop(context.Background(), ln)

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	if _, err := client.Read(buf); err == nil {
		t.Fatalf("expected blacklisted client's connection to be closed without a response")
	}
}

func TestAcceptEnforcesMaxClients(t *testing.T) {
	r, _ := newTestReactor(t)
	cfg := *r.Config()
	cfg.MaxClients = 1
	r.SetConfig(cfg)
	r.stats.AddConnection()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go r.acceptLoop(context.Background(), ln)

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	if _, err := client.Read(buf); err == nil {
		t.Fatalf("expected connection over max_clients to be rejected")
	}
	if got := r.stats.Snapshot().ConnectionsTotal; got != 1 {
		t.Fatalf("expected the rejected connection to not be counted, got %d", got)
	}
}

func TestMatchesList(t *testing.T) {
	if !matchesList("EXAMPLE.com", []string{"example.com"}) {
		t.Fatalf("expected case-insensitive match")
	}
	if matchesList("example.org", []string{"example.com"}) {
		t.Fatalf("expected no match")
	}
}
