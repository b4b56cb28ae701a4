package doh

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"
)

func TestBuildQueryShape(t *testing.T) {
	q := buildQuery("example.com", TypeA)
	if len(q) < 12 {
		t.Fatalf("query too short")
	}
	if u16(q, 0) != 0 {
		t.Fatalf("expected id=0")
	}
	if u16(q, 2) != 0x0100 {
		t.Fatalf("expected RD flag set, got %#x", u16(q, 2))
	}
	if u16(q, 4) != 1 {
		t.Fatalf("expected qdcount=1")
	}
	// qname: 7"example"3"com"0
	name := q[12:]
	if name[0] != 7 || string(name[1:8]) != "example" {
		t.Fatalf("unexpected qname encoding: %v", name[:8])
	}
}

func TestIsLiteral(t *testing.T) {
	if ip, ok := IsLiteral("192.0.2.1"); !ok || ip == nil {
		t.Fatalf("expected literal IPv4 to be recognized")
	}
	if _, ok := IsLiteral("example.com"); ok {
		t.Fatalf("did not expect a hostname to parse as a literal")
	}
}

func TestSkipNameUncompressed(t *testing.T) {
	// "example" "com" NUL
	data := append([]byte{7}, []byte("example")...)
	data = append(data, 3)
	data = append(data, []byte("com")...)
	data = append(data, 0)
	off, err := skipName(data, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if off != len(data) {
		t.Fatalf("expected offset %d, got %d", len(data), off)
	}
}

func TestSkipNameCompressionPointer(t *testing.T) {
	data := []byte{0xC0, 0x0C, 'x'}
	off, err := skipName(data, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if off != 2 {
		t.Fatalf("expected pointer to consume exactly 2 bytes, got offset %d", off)
	}
}

// buildAResponse builds a minimal DNS response with one A answer.
func buildAResponse(ip net.IP) []byte {
	b := make([]byte, 0, 64)
	b = append(b, 0, 0) // id
	b = append(b, 0x81, 0x80) // qr=1, rd=1, ra=1
	b = append(b, 0, 1) // qdcount
	b = append(b, 0, 1) // ancount
	b = append(b, 0, 0) // nscount
	b = append(b, 0, 0) // arcount
	// question: example.com A IN
	b = append(b, 7)
	b = append(b, []byte("example")...)
	b = append(b, 3)
	b = append(b, []byte("com")...)
	b = append(b, 0)
	b = append(b, 0, 1) // qtype A
	b = append(b, 0, 1) // qclass IN
	// answer: pointer to offset 12, type A, class IN, ttl, rdlen 4, rdata
	b = append(b, 0xC0, 0x0C)
	b = append(b, 0, 1) // type A
	b = append(b, 0, 1) // class IN
	b = append(b, 0, 0, 0, 60) // ttl
	b = append(b, 0, 4) // rdlen
	b = append(b, ip.To4()...)
	return b
}

func TestParseAnswerExtractsAddress(t *testing.T) {
	body := buildAResponse(net.ParseIP("93.184.216.34"))
	addrs, err := parseAnswer(body, TypeA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(addrs) != 1 || !addrs[0].Equal(net.ParseIP("93.184.216.34")) {
		t.Fatalf("unexpected addrs: %v", addrs)
	}
}

func TestQueryRoundTripOverFakeServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		conn.Read(buf)
		body := buildAResponse(net.ParseIP("198.51.100.7"))
		resp := "HTTP/1.1 200 OK\r\nContent-Type: application/dns-message\r\nContent-Length: " +
			strconv.Itoa(len(body)) + "\r\n\r\n"
		conn.Write([]byte(resp))
		conn.Write(body)
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	r := New(Config{Host: "doh.test", IP: host, Port: port, Path: "/dns-query"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	addrs, err := r.Query(ctx, "example.com", TypeA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(addrs) != 1 || !addrs[0].Equal(net.ParseIP("198.51.100.7")) {
		t.Fatalf("unexpected addrs: %v", addrs)
	}
}
