package mgmt

import (
	"log/slog"
	"net"

	"github.com/ardakaracam/dohproxy/pkg/statsfile"
)

// Server answers management datagrams on a UDP socket. HydraDNS's
// udp_server.go runs multiple SO_REUSEPORT sockets with a worker pool per
// socket to keep up with DNS query volume; this protocol has none of that
// traffic, so it narrows down to a single socket and a single read loop,
// since each datagram is answered synchronously and there is no per-client
// session state to shard across workers.
type Server struct {
	conn         net.PacketConn
	secret       [SecretSize]byte
	stats        *statsfile.Stats
	configString func() string
}

// NewServer binds addr and returns a Server ready to Serve. configString is
// called to answer GET_CONFIG requests with a textual snapshot of the
// live configuration.
func NewServer(addr string, secret [SecretSize]byte, stats *statsfile.Stats, configString func() string) (*Server, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{conn: conn, secret: secret, stats: stats, configString: configString}, nil
}

// Close releases the underlying socket.
func (s *Server) Close() error { return s.conn.Close() }

// Serve handles datagrams until the socket is closed.
func (s *Server) Serve() {
	buf := make([]byte, 2048)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		resp := s.handle(buf[:n])
		if resp != nil {
			s.conn.WriteTo(resp.Encode(), addr)
		}
	}
}

func (s *Server) handle(data []byte) *Frame {
	req, err := Decode(data)
	if err != nil {
		slog.Warn("mgmt: malformed frame", "error", err)
		return nil
	}
	if !Authenticate(req, s.secret) {
		return &Frame{IsResponse: true, Method: req.Method, Status: StatusUnauthorized}
	}

	resp := &Frame{IsResponse: true, Method: req.Method, Status: StatusOK}
	switch req.Method {
	case MethodAddConnection:
		s.stats.AddConnection()
	case MethodRemoveConnection:
		s.stats.RemoveConnection()
	case MethodAddSentBytes:
		n, err := DecodeUint64(req.Payload)
		if err != nil {
			resp.Status = StatusError
			break
		}
		s.stats.AddSentBytes(n)
	case MethodAddBytesReceived:
		n, err := DecodeUint64(req.Payload)
		if err != nil {
			resp.Status = StatusError
			break
		}
		s.stats.AddReceivedBytes(n)
	case MethodGetStats:
		resp.Payload = []byte(s.stats.Snapshot().String())
	case MethodGetConfig:
		if s.configString != nil {
			resp.Payload = []byte(s.configString())
		}
	default:
		resp.Status = StatusError
	}
	return resp
}
