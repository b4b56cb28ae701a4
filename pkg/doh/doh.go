// Package doh implements a from-scratch DNS-over-HTTPS client: binary DNS
// message construction and parsing (RFC 1035) wrapped in a plain HTTP/1.1
// POST (RFC 8484), built the way jroosing-HydraDNS hand-rolls its own DNS
// wire format rather than depending on a general-purpose DNS library.
package doh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/ardakaracam/dohproxy/pkg/constants"
	"github.com/ardakaracam/dohproxy/pkg/httpmsg"
	"github.com/ardakaracam/dohproxy/pkg/httpparse"
	"github.com/ardakaracam/dohproxy/pkg/proxyerr"
)

// Query types this client issues.
const (
	TypeA    uint16 = 1
	TypeAAAA uint16 = 28
	classIN  uint16 = 1
)

// Config is the process-wide DoH server configuration.
type Config struct {
	Host string
	IP   string
	Port int
	Path string
}

// DefaultConfig returns the built-in Cloudflare DoH endpoint.
func DefaultConfig() Config {
	return Config{
		Host: constants.DefaultDoHHost,
		IP:   constants.DefaultDoHIP,
		Port: constants.DefaultDoHPort,
		Path: constants.DefaultDoHPath,
	}
}

// Resolver issues DNS-over-HTTPS queries against a single configured
// server. It is safe for concurrent use: each Query dials its own
// connection, matching the spec's one-shot-connection DoH protocol (the
// proxy does not pool DoH connections).
type Resolver struct {
	cfg Config
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// New creates a Resolver for cfg.
func New(cfg Config) *Resolver {
	return &Resolver{
		cfg: cfg,
		dial: (&net.Dialer{}).DialContext,
	}
}

// IsLiteral reports whether target already names an IPv4/IPv6 literal, the
// shortcut that skips DoH entirely (protocol step 1).
func IsLiteral(target string) (net.IP, bool) {
	ip := net.ParseIP(target)
	return ip, ip != nil
}

// Query resolves hostname for the given record type via DoH and returns
// every address found. An empty, non-error result means the name exists
// but has no record of that type (the caller should try the other family).
func (r *Resolver) Query(ctx context.Context, hostname string, qtype uint16) ([]net.IP, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DefaultDoHTimeout)
	defer cancel()

	addr := net.JoinHostPort(r.cfg.IP, strconv.Itoa(r.cfg.Port))
	conn, err := r.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, proxyerr.WithStatus(proxyerr.TypeDNS, "doh.dial", "cannot reach DoH server", err, 502)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	query := buildQuery(hostname, qtype)
	req := buildHTTPRequest(query, r.cfg.Host, r.cfg.Port, r.cfg.Path)
	if _, err := conn.Write(req); err != nil {
		return nil, proxyerr.WithStatus(proxyerr.TypeDNS, "doh.write", "failed writing DoH request", err, 502)
	}

	resp, body, err := readHTTPResponse(conn)
	if err != nil {
		return nil, proxyerr.WithStatus(proxyerr.TypeDNS, "doh.read", "failed reading DoH response", err, 502)
	}
	if resp.StatusCode != 200 {
		return nil, proxyerr.WithStatus(proxyerr.TypeDNS, "doh.status", fmt.Sprintf("DoH server returned %d", resp.StatusCode), nil, 502)
	}

	return parseAnswer(body, qtype)
}

// buildQuery constructs a DNS query message: header with id=0, rd=1, qr=0,
// opcode=0, qdcount=1, followed by one QUESTION section.
func buildQuery(hostname string, qtype uint16) []byte {
	var b bytes.Buffer
	b.Write([]byte{0x00, 0x00}) // id = 0 (documented shortcoming, see design notes)
	b.Write([]byte{0x01, 0x00}) // flags: RD=1
	b.Write([]byte{0x00, 0x01}) // qdcount=1
	b.Write([]byte{0x00, 0x00}) // ancount=0
	b.Write([]byte{0x00, 0x00}) // nscount=0
	b.Write([]byte{0x00, 0x00}) // arcount=0

	for _, label := range strings.Split(hostname, ".") {
		if label == "" {
			continue
		}
		b.WriteByte(byte(len(label)))
		b.WriteString(label)
	}
	b.WriteByte(0x00)

	writeU16(&b, qtype)
	writeU16(&b, classIN)
	return b.Bytes()
}

func writeU16(b *bytes.Buffer, v uint16) {
	b.WriteByte(byte(v >> 8))
	b.WriteByte(byte(v))
}

// buildHTTPRequest wraps a DNS message in a POST per RFC 8484. The
// Content-Length is zero-padded to 4 digits (%04d), the fixed-width
// formatting inherited from the original protocol description: DNS
// queries are far shorter than 10000 bytes, and a longer message would
// simply get a wider field.
func buildHTTPRequest(dnsMsg []byte, host string, port int, path string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "POST %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s:%d\r\n", host, port)
	b.WriteString("Accept: application/dns-message\r\n")
	b.WriteString("Content-Type: application/dns-message\r\n")
	fmt.Fprintf(&b, "Content-Length: %04d\r\n", len(dnsMsg))
	b.WriteString("\r\n")
	b.Write(dnsMsg)
	return b.Bytes()
}

// readHTTPResponse reads a full HTTP response from conn, handling reads
// split across multiple recv calls for both the header section and the
// body, and returns the parsed response along with its body bytes.
func readHTTPResponse(conn net.Conn) (*httpparse.Response, []byte, error) {
	p := httpparse.NewResponseParser()
	buf := make([]byte, 4096)
	var acc []byte
	var consumed int
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
		}
		if err != nil && n == 0 {
			return nil, nil, err
		}
		c, status := p.Parse(acc[consumed:])
		consumed += c
		if status == httpmsg.Failed {
			return nil, nil, p.Err()
		}
		if status == httpmsg.Success {
			break
		}
		if err != nil {
			return nil, nil, err
		}
	}

	resp := p.Response()
	body := acc[consumed:]
	for len(body) < resp.BodyLength {
		n, err := conn.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if err != nil {
			if len(body) >= resp.BodyLength {
				break
			}
			return nil, nil, err
		}
	}
	if len(body) > resp.BodyLength {
		body = body[:resp.BodyLength]
	}
	return resp, body, nil
}

// parseAnswer walks the DNS header and answer section of a DoH response
// body, returning every address of the requested type.
func parseAnswer(body []byte, qtype uint16) ([]net.IP, error) {
	if len(body) < 12 {
		return nil, proxyerr.WithStatus(proxyerr.TypeDNS, "doh.parse", "response too short for a DNS header", nil, 502)
	}
	qdcount := int(u16(body, 4))
	ancount := int(u16(body, 6))

	off := 12
	for i := 0; i < qdcount; i++ {
		var err error
		off, err = skipName(body, off)
		if err != nil {
			return nil, err
		}
		off += 4 // qtype + qclass
	}

	var addrs []net.IP
	for i := 0; i < ancount; i++ {
		var err error
		off, err = skipName(body, off)
		if err != nil {
			return nil, err
		}
		if off+10 > len(body) {
			return nil, proxyerr.WithStatus(proxyerr.TypeDNS, "doh.parse", "truncated answer record", nil, 502)
		}
		rtype := u16(body, off)
		rdlen := int(u16(body, off+8))
		off += 10
		if off+rdlen > len(body) {
			return nil, proxyerr.WithStatus(proxyerr.TypeDNS, "doh.parse", "truncated rdata", nil, 502)
		}
		rdata := body[off : off+rdlen]
		off += rdlen

		if rtype != qtype {
			continue
		}
		switch qtype {
		case TypeA:
			if len(rdata) == 4 {
				addrs = append(addrs, net.IP(append([]byte(nil), rdata...)))
			}
		case TypeAAAA:
			if len(rdata) == 16 {
				addrs = append(addrs, net.IP(append([]byte(nil), rdata...)))
			}
		}
	}
	return addrs, nil
}

// skipName advances past a (possibly compressed) DNS name starting at off
// and returns the offset of the byte following it. A compression pointer
// is exactly two bytes regardless of what it points to.
func skipName(data []byte, off int) (int, error) {
	for {
		if off >= len(data) {
			return 0, proxyerr.WithStatus(proxyerr.TypeDNS, "doh.parse", "name runs past end of message", nil, 502)
		}
		l := data[off]
		switch {
		case l == 0:
			return off + 1, nil
		case l&0xC0 == 0xC0:
			if off+1 >= len(data) {
				return 0, proxyerr.WithStatus(proxyerr.TypeDNS, "doh.parse", "truncated compression pointer", nil, 502)
			}
			return off + 2, nil
		default:
			off += 1 + int(l)
		}
	}
}

func u16(b []byte, off int) uint16 {
	return uint16(b[off])<<8 | uint16(b[off+1])
}
