package httpparse

import (
	"testing"

	"github.com/ardakaracam/dohproxy/pkg/httpmsg"
)

func TestParseRequestLineAndHeaders(t *testing.T) {
	p := NewRequestParser()
	raw := "get HTTP://Example.COM/Path HTTP/1.1\r\nHost: example.com\r\n\r\n"
	consumed, status := p.Parse([]byte(raw))
	if status != httpmsg.Success {
		t.Fatalf("expected Success, got %v (err=%v)", status, p.Err())
	}
	req := p.Request()
	if req.Method != GET {
		t.Fatalf("expected method GET, got %v", req.Method)
	}
	if req.MethodRaw != "GET" {
		t.Fatalf("expected raw method uppercased, got %q", req.MethodRaw)
	}
	if req.URL != "http://example.com/path" {
		t.Fatalf("expected target lowercased, got %q", req.URL)
	}
	if req.Version != "HTTP/1.1" {
		t.Fatalf("expected version preserved, got %q", req.Version)
	}
	if v, ok := req.Header("Host"); !ok || v != "example.com" {
		t.Fatalf("expected delegated header parse, got %q", v)
	}
	if consumed != len(raw) {
		t.Fatalf("expected full consumption, got %d of %d", consumed, len(raw))
	}
}

func TestUnknownMethodMapsToOther(t *testing.T) {
	p := NewRequestParser()
	_, status := p.Parse([]byte("PATCH /x HTTP/1.1\r\n\r\n"))
	if status != httpmsg.Success {
		t.Fatalf("expected Success, got %v", status)
	}
	if p.Request().Method != OTHER {
		t.Fatalf("expected OTHER for unrecognized method, got %v", p.Request().Method)
	}
}

func TestTargetTooLongFails(t *testing.T) {
	p := NewRequestParser()
	long := make([]byte, 8001)
	for i := range long {
		long[i] = 'a'
	}
	raw := "GET /" + string(long) + " HTTP/1.1\r\n\r\n"
	_, status := p.Parse([]byte(raw))
	if status != httpmsg.Failed {
		t.Fatalf("expected Failed for oversized target, got %v", status)
	}
	if p.Err() == nil {
		t.Fatalf("expected an error recorded")
	}
}

func TestRequestParserResetReuse(t *testing.T) {
	p := NewRequestParser()
	p.Parse([]byte("POST /a HTTP/1.1\r\n\r\n"))
	p.Reset()
	_, status := p.Parse([]byte("GET /b HTTP/1.1\r\n\r\n"))
	if status != httpmsg.Success {
		t.Fatalf("expected Success after reset, got %v", status)
	}
	if p.Request().Method != GET || p.Request().URL != "/b" {
		t.Fatalf("expected fresh parse after reset, got %+v", p.Request())
	}
}
