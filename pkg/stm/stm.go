// Package stm implements the per-connection state machine that drives the
// proxy protocol: request parsing, DoH resolution, target connect, header
// rewriting and forwarding, and the CONNECT byte tunnel with its POP3
// disector. Each state is an explicit handler in a state->handler table
// (spec.md §4.7) so the machine is testable against a fake net.Conn (e.g.
// net.Pipe) without any live socket — the only thing that changed from the
// original single-threaded reactor design is that a handler now blocks on
// its own goroutine instead of yielding back to a select loop (see
// pkg/reactor and SPEC_FULL.md's reactor re-architecture note).
package stm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ardakaracam/dohproxy/pkg/accesslog"
	"github.com/ardakaracam/dohproxy/pkg/buffer"
	"github.com/ardakaracam/dohproxy/pkg/config"
	"github.com/ardakaracam/dohproxy/pkg/constants"
	"github.com/ardakaracam/dohproxy/pkg/doh"
	"github.com/ardakaracam/dohproxy/pkg/httpmsg"
	"github.com/ardakaracam/dohproxy/pkg/httpparse"
	"github.com/ardakaracam/dohproxy/pkg/netutil"
	"github.com/ardakaracam/dohproxy/pkg/pop3sniff"
	"github.com/ardakaracam/dohproxy/pkg/proxyerr"
	"github.com/ardakaracam/dohproxy/pkg/rewrite"
	"github.com/ardakaracam/dohproxy/pkg/statsfile"
	"github.com/ardakaracam/dohproxy/pkg/timing"
)

// State is one of the connection machine's named states.
type State int

const (
	RequestRead State = iota
	DoHConnect
	TryIPs
	RequestConnect
	RequestForward
	ReqBodyRead
	ReqBodyForward
	ResponseRead
	ResponseForward
	ResBodyRead
	ResBodyForward
	ConnectResponse
	TCPTunnel
	ClientCloseConnection
	TargetCloseConnection
	End
	ErrorState
)

func (s State) String() string {
	switch s {
	case RequestRead:
		return "REQUEST_READ"
	case DoHConnect:
		return "DOH_CONNECT"
	case TryIPs:
		return "TRY_IPS"
	case RequestConnect:
		return "REQUEST_CONNECT"
	case RequestForward:
		return "REQUEST_FORWARD"
	case ReqBodyRead:
		return "REQ_BODY_READ"
	case ReqBodyForward:
		return "REQ_BODY_FORWARD"
	case ResponseRead:
		return "RESPONSE_READ"
	case ResponseForward:
		return "RESPONSE_FORWARD"
	case ResBodyRead:
		return "RES_BODY_READ"
	case ResBodyForward:
		return "RES_BODY_FORWARD"
	case ConnectResponse:
		return "CONNECT_RESPONSE"
	case TCPTunnel:
		return "TCP_TUNNEL"
	case ClientCloseConnection:
		return "CLIENT_CLOSE_CONNECTION"
	case TargetCloseConnection:
		return "TARGET_CLOSE_CONNECTION"
	case End:
		return "END"
	case ErrorState:
		return "ERROR_STATE"
	default:
		return "UNKNOWN"
	}
}

// Dialer opens a connection to one resolved target address. *transport.Dialer
// satisfies this; tests substitute a fake.
type Dialer interface {
	DialIP(ctx context.Context, ip net.IP, port int, t *timing.Timer) (net.Conn, error)
}

// Resolver resolves a hostname to addresses of the given DNS type.
// *doh.Resolver satisfies this; tests substitute a fake.
type Resolver interface {
	Query(ctx context.Context, hostname string, qtype uint16) ([]net.IP, error)
}

// Logger is the narrow slice of *slog.Logger the STM needs, so tests can
// pass a no-op implementation.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Slot is one connection's complete state: both sockets, both ring
// buffers, both parsers, the POP3 sniffer, and the transient DoH/body
// bookkeeping a handler needs between states. Per the design note on the
// original's untyped "return-to-state" scratch pointer, ReturnState here is
// a typed field instead of a void* stash.
type Slot struct {
	ID         uuid.UUID
	Client     net.Conn
	ClientAddr string
	Target     net.Conn

	ctBuf *buffer.Ring // client -> target
	tcBuf *buffer.Ring // target -> client

	reqParser *httpparse.RequestParser
	resParser *httpparse.ResponseParser
	pop3      *pop3sniff.Sniffer

	dialer   Dialer
	resolver Resolver
	rewriter *rewrite.Rewriter
	access   *accesslog.Log
	stats    *statsfile.Stats
	log      Logger
	cfg      *config.Config

	req         *httpparse.Request
	target      *netutil.Target
	addrQueue   []net.IP
	addrFamily  uint16
	currentAddr net.IP
	forwardWire []byte
	bodyRemain  int

	// connectTimer accumulates DNS and TCP-connect marks across
	// handleDoHConnect and handleRequestConnect; connectMetrics is the
	// result read back once the target connection succeeds, for the
	// access log and pkg/statsfile.
	connectTimer   *timing.Timer
	connectMetrics timing.Metrics

	// ReturnState is where ErrorState sends control after writing the
	// prepared status line.
	ReturnState State
	pendingCode int
	listenPort  int
	localAddrs  []net.IP
}

// NewSlot builds a Slot ready to run RequestRead. localAddrs and
// listenPort feed the DoH TRY_IPS self-address check (spec.md §4.6 step 5).
func NewSlot(client net.Conn, clientAddr string, cfg *config.Config, dialer Dialer, resolver Resolver, rewriter *rewrite.Rewriter, access *accesslog.Log, stats *statsfile.Stats, log Logger, localAddrs []net.IP, listenPort int) *Slot {
	return &Slot{
		ID:         uuid.New(),
		Client:     client,
		ClientAddr: clientAddr,
		ctBuf:      buffer.New(constants.SlotBufferSize),
		tcBuf:      buffer.New(constants.SlotBufferSize),
		reqParser:  httpparse.NewRequestParser(),
		resParser:  httpparse.NewResponseParser(),
		pop3:       pop3sniff.New(),
		dialer:     dialer,
		resolver:   resolver,
		rewriter:   rewriter,
		access:     access,
		stats:      stats,
		log:        log,
		cfg:        cfg,
		listenPort: listenPort,
		localAddrs: localAddrs,
	}
}

// Run drives the slot through the state table until it reaches End,
// closing both sockets and decrementing the connection counter on exit.
func Run(slot *Slot) {
	state := RequestRead
	for state != End {
		h := handlers[state]
		if h == nil {
			slot.log.Error("stm: no handler for state", "state", state.String(), "conn", slot.ID)
			break
		}
		state = h(slot)
	}
	slot.cleanup()
}

func (s *Slot) cleanup() {
	if s.Client != nil {
		s.Client.Close()
	}
	if s.Target != nil {
		s.Target.Close()
	}
	s.stats.RemoveConnection()
}

type handlerFn func(*Slot) State

var handlers = map[State]handlerFn{
	RequestRead:            handleRequestRead,
	DoHConnect:             handleDoHConnect,
	TryIPs:                 handleTryIPs,
	RequestConnect:         handleRequestConnect,
	RequestForward:         handleRequestForward,
	ReqBodyRead:            handleReqBodyRead,
	ReqBodyForward:         handleReqBodyForward,
	ResponseRead:           handleResponseRead,
	ResponseForward:        handleResponseForward,
	ResBodyRead:            handleResBodyRead,
	ResBodyForward:         handleResBodyForward,
	ConnectResponse:        handleConnectResponse,
	TCPTunnel:              handleTCPTunnel,
	ClientCloseConnection:  handleClientClose,
	TargetCloseConnection:  handleTargetClose,
	ErrorState:             handleErrorState,
}

func (s *Slot) readDeadline(conn net.Conn) {
	if s.cfg != nil && s.cfg.ConnectionTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.cfg.ConnectionTimeout))
	}
}

// readUntilTerminal feeds conn's bytes through buf into parse until it
// returns a terminal httpmsg.Status, implementing the C1/C3/C4 "read
// through the ring buffer into the parser" data flow (spec.md §2).
func readUntilTerminal(conn net.Conn, buf *buffer.Ring, parse func([]byte) (int, httpmsg.Status)) (httpmsg.Status, error) {
	for {
		if buf.CanRead() {
			n, status := parse(buf.ReadPtr())
			buf.ReadAdv(n)
			buf.Compact()
			if status != httpmsg.Pending {
				return status, nil
			}
		}
		if !buf.CanWrite() {
			return httpmsg.Failed, proxyerr.WithStatus(proxyerr.TypeValidation, "stm.read", "message exceeds buffer capacity", nil, 413)
		}
		n, err := conn.Read(buf.WritePtr())
		if n > 0 {
			buf.WriteAdv(n)
		}
		if n == 0 && err != nil {
			return httpmsg.Pending, err
		}
	}
}

func handleRequestRead(slot *Slot) State {
	slot.reqParser.Reset()
	slot.connectTimer = nil
	slot.readDeadline(slot.Client)
	status, err := readUntilTerminal(slot.Client, slot.ctBuf, slot.reqParser.Parse)
	if err != nil {
		if err == io.EOF {
			return ClientCloseConnection
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			slot.log.Info("stm: idle timeout", "conn", slot.ID)
			return ClientCloseConnection
		}
		if pe, ok := err.(*proxyerr.Error); ok {
			slot.pendingCode = pe.StatusCode
			slot.ReturnState = RequestRead
			return ErrorState
		}
		slot.log.Error("stm: client read failed", "conn", slot.ID, "error", err)
		return ClientCloseConnection
	}
	if status == httpmsg.Failed {
		slot.pendingCode = proxyerr.StatusCode(slot.reqParser.Err())
		slot.ReturnState = RequestRead
		return ErrorState
	}

	req := slot.reqParser.Request()
	slot.req = req
	slot.stats.AddRequest()

	if req.Method == httpparse.TRACE {
		slot.pendingCode = http.StatusMethodNotAllowed
		slot.ReturnState = RequestRead
		return ErrorState
	}

	target, err := netutil.ParseRequestTarget(req.URL, req.Method == httpparse.CONNECT)
	if err != nil {
		slot.pendingCode = proxyerr.StatusCode(err)
		slot.ReturnState = RequestRead
		return ErrorState
	}
	if matchesList(target.Hostname, slot.cfg.TargetBlacklist) {
		slot.pendingCode = http.StatusForbidden
		slot.ReturnState = RequestRead
		return ErrorState
	}
	slot.target = target

	if slot.cfg.DisectorsEnabled {
		extractBasicAuth(slot, req)
	}

	if ip, ok := doh.IsLiteral(target.Hostname); ok {
		slot.addrQueue = []net.IP{ip}
		return TryIPs
	}
	slot.addrFamily = doh.TypeA
	return DoHConnect
}

func handleDoHConnect(slot *Slot) State {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultDoHTimeout)
	defer cancel()
	if slot.connectTimer == nil {
		slot.connectTimer = timing.NewTimer()
	}
	slot.connectTimer.StartDNS()
	ips, err := slot.resolver.Query(ctx, slot.target.Hostname, slot.addrFamily)
	slot.connectTimer.EndDNS()
	if err != nil {
		slot.log.Warn("stm: doh query failed", "conn", slot.ID, "host", slot.target.Hostname, "error", err)
		slot.pendingCode = proxyerr.StatusCode(err)
		slot.ReturnState = RequestRead
		return ErrorState
	}
	slot.addrQueue = ips
	return TryIPs
}

func handleTryIPs(slot *Slot) State {
	for len(slot.addrQueue) > 0 {
		ip := slot.addrQueue[0]
		slot.addrQueue = slot.addrQueue[1:]
		if netutil.IsSelfAddress(ip, slot.target.Port, slot.listenPort, slot.localAddrs) {
			slot.log.Warn("stm: rejected self-addressed target", "conn", slot.ID, "ip", ip.String())
			slot.pendingCode = http.StatusForbidden
			slot.ReturnState = RequestRead
			return ErrorState
		}
		slot.currentAddr = ip
		return RequestConnect
	}
	if slot.addrFamily == doh.TypeA {
		slot.addrFamily = doh.TypeAAAA
		return DoHConnect
	}
	slot.pendingCode = http.StatusBadGateway
	slot.ReturnState = RequestRead
	return ErrorState
}

func handleRequestConnect(slot *Slot) State {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultConnTimeout)
	defer cancel()
	if slot.connectTimer == nil {
		slot.connectTimer = timing.NewTimer()
	}
	conn, err := slot.dialer.DialIP(ctx, slot.currentAddr, slot.target.Port, slot.connectTimer)
	if err != nil {
		slot.log.Info("stm: connect attempt failed, trying next address", "conn", slot.ID, "ip", slot.currentAddr.String(), "error", err)
		return TryIPs
	}
	slot.Target = conn
	slot.connectMetrics = slot.connectTimer.Metrics()
	slot.stats.AddConnectLatency(slot.connectMetrics.TCPConnect)

	if slot.req.Method == httpparse.CONNECT {
		if _, err := slot.Client.Write([]byte("HTTP/1.1 200 OK\r\n\r\n")); err != nil {
			return ClientCloseConnection
		}
		slot.access.Request(slot.ClientAddr, slot.req.URL, slot.connectMetrics)
		return ConnectResponse
	}

	targetHost := slot.target.Hostname
	if slot.target.Port != 80 {
		targetHost = net.JoinHostPort(slot.target.Hostname, strconv.Itoa(slot.target.Port))
	}
	headers := slot.rewriter.RewriteRequest(slot.req.Headers, targetHost)
	startLine := fmt.Sprintf("%s %s %s", slot.req.MethodRaw, slot.target.Path, slot.req.Version)
	slot.forwardWire = rewrite.Serialize(startLine, headers)
	return RequestForward
}

func handleRequestForward(slot *Slot) State {
	if _, err := slot.Target.Write(slot.forwardWire); err != nil {
		return TargetCloseConnection
	}
	slot.access.Request(slot.ClientAddr, slot.req.URL, slot.connectMetrics)

	if slot.req.HasExpect {
		// Expect: 100-continue gives up on HTTP semantics and hands the
		// rest of the connection to the tunnel (documented limitation,
		// spec.md §4.7).
		return TCPTunnel
	}
	if slot.req.BodyLength > 0 {
		slot.bodyRemain = slot.req.BodyLength
		return ReqBodyRead
	}
	return ResponseRead
}

func handleReqBodyRead(slot *Slot) State {
	if slot.ctBuf.CanRead() {
		return ReqBodyForward
	}
	if slot.bodyRemain == 0 {
		return ResponseRead
	}
	slot.readDeadline(slot.Client)
	n, err := slot.Client.Read(slot.ctBuf.WritePtr())
	if n > 0 {
		slot.ctBuf.WriteAdv(n)
	}
	if n == 0 && err != nil {
		return ClientCloseConnection
	}
	return ReqBodyForward
}

func handleReqBodyForward(slot *Slot) State {
	data := slot.ctBuf.ReadPtr()
	if len(data) > slot.bodyRemain {
		data = data[:slot.bodyRemain]
	}
	n, err := slot.Target.Write(data)
	slot.ctBuf.ReadAdv(n)
	slot.bodyRemain -= n
	slot.ctBuf.Compact()
	if err != nil {
		return TargetCloseConnection
	}
	if slot.bodyRemain == 0 {
		return ResponseRead
	}
	return ReqBodyRead
}

func handleResponseRead(slot *Slot) State {
	slot.resParser.Reset()
	slot.resParser.IgnoreContentLength(slot.req.Method == httpparse.HEAD)
	slot.readDeadline(slot.Target)
	status, err := readUntilTerminal(slot.Target, slot.tcBuf, slot.resParser.Parse)
	if err != nil {
		if err == io.EOF {
			return TargetCloseConnection
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			slot.pendingCode = http.StatusGatewayTimeout
			slot.ReturnState = RequestRead
			return ErrorState
		}
		if pe, ok := err.(*proxyerr.Error); ok {
			slot.pendingCode = pe.StatusCode
			slot.ReturnState = RequestRead
			return ErrorState
		}
		slot.log.Error("stm: target read failed", "conn", slot.ID, "error", err)
		return TargetCloseConnection
	}
	if status == httpmsg.Failed {
		slot.pendingCode = http.StatusBadGateway
		slot.ReturnState = RequestRead
		return ErrorState
	}
	return ResponseForward
}

func handleResponseForward(slot *Slot) State {
	res := slot.resParser.Response()
	headers := slot.rewriter.RewriteResponse(res.Headers)
	startLine := fmt.Sprintf("%s %d %s", res.Version, res.StatusCode, res.Reason)
	wire := rewrite.Serialize(startLine, headers)
	if _, err := slot.Client.Write(wire); err != nil {
		return ClientCloseConnection
	}
	slot.stats.AddSentBytes(uint64(len(wire)))

	if res.BodyLength > 0 {
		slot.bodyRemain = res.BodyLength
		return ResBodyRead
	}
	return RequestRead
}

func handleResBodyRead(slot *Slot) State {
	if slot.tcBuf.CanRead() {
		return ResBodyForward
	}
	if slot.bodyRemain == 0 {
		return RequestRead
	}
	slot.readDeadline(slot.Target)
	n, err := slot.Target.Read(slot.tcBuf.WritePtr())
	if n > 0 {
		slot.tcBuf.WriteAdv(n)
	}
	if n == 0 && err != nil {
		return TargetCloseConnection
	}
	return ResBodyForward
}

func handleResBodyForward(slot *Slot) State {
	data := slot.tcBuf.ReadPtr()
	if len(data) > slot.bodyRemain {
		data = data[:slot.bodyRemain]
	}
	n, err := slot.Client.Write(data)
	slot.tcBuf.ReadAdv(n)
	slot.bodyRemain -= n
	slot.tcBuf.Compact()
	slot.stats.AddSentBytes(uint64(n))
	if err != nil {
		return ClientCloseConnection
	}
	if slot.bodyRemain == 0 {
		return RequestRead
	}
	return ResBodyRead
}

func handleConnectResponse(slot *Slot) State {
	return TCPTunnel
}

// tunnelDirection copies src to dst through buf, optionally feeding every
// byte to the slot's POP3 sniffer (client->target direction only, since
// USER/PASS are sent by the client).
func (slot *Slot) tunnelDirection(src, dst net.Conn, buf *buffer.Ring, sniff bool, countSent bool) error {
	for {
		if slot.cfg.ConnectionTimeout > 0 {
			src.SetReadDeadline(time.Now().Add(slot.cfg.ConnectionTimeout))
		}
		n, rerr := src.Read(buf.WritePtr())
		if n > 0 {
			buf.WriteAdv(n)
			chunk := buf.ReadPtr()
			if sniff && slot.cfg.DisectorsEnabled {
				slot.feedPOP3(chunk)
			}
			w, werr := dst.Write(chunk)
			buf.ReadAdv(w)
			buf.Compact()
			if countSent {
				slot.stats.AddSentBytes(uint64(w))
			} else {
				slot.stats.AddReceivedBytes(uint64(w))
			}
			if werr != nil {
				return werr
			}
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (slot *Slot) feedPOP3(chunk []byte) {
	for _, b := range chunk {
		switch slot.pop3.Feed(b) {
		case pop3sniff.Success:
			user, pass := slot.pop3.Credentials()
			slot.access.POP3Credentials(user, pass)
		case pop3sniff.FailedPassNoUser:
			slot.log.Info("stm: PASS without preceding USER in tunnel", "conn", slot.ID)
		}
	}
}

// handleTCPTunnel runs the two directions of a CONNECT tunnel concurrently
// — the Go-idiomatic substitute for the original's single-threaded
// active_fd dispatch (see SPEC_FULL.md's reactor re-architecture note) —
// and returns once either side closes or errors.
func handleTCPTunnel(slot *Slot) State {
	done := make(chan error, 2)
	go func() { done <- slot.tunnelDirection(slot.Client, slot.Target, slot.ctBuf, true, false) }()
	go func() { done <- slot.tunnelDirection(slot.Target, slot.Client, slot.tcBuf, false, true) }()
	<-done
	return End
}

func handleClientClose(slot *Slot) State {
	if slot.Target != nil {
		slot.Target.Close()
	}
	return End
}

func handleTargetClose(slot *Slot) State {
	if slot.Client != nil {
		slot.Client.Close()
	}
	return End
}

func handleErrorState(slot *Slot) State {
	line := fmt.Sprintf("HTTP/1.1 %d %s\r\n\r\n", slot.pendingCode, http.StatusText(slot.pendingCode))
	slot.Client.Write([]byte(line))
	slot.stats.AddError()
	slot.ctBuf.Reset()
	if slot.Target != nil {
		slot.Target.Close()
		slot.Target = nil
	}
	return slot.ReturnState
}

func matchesList(value string, list []string) bool {
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// extractBasicAuth inspects the first Authorization header only —
// Proxy-Authorization is intentionally ignored (spec.md §9 open question).
func extractBasicAuth(slot *Slot, req *httpparse.Request) {
	val, ok := req.Header("Authorization")
	if !ok {
		return
	}
	val = strings.TrimSpace(val)
	const prefix = "Basic "
	if !strings.HasPrefix(val, prefix) {
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(val[len(prefix):]))
	if err != nil {
		return
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return
	}
	slot.access.BasicCredentials(parts[0], parts[1])
}
