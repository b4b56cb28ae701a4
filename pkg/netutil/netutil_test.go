package netutil

import (
	"net"
	"testing"
)

func TestParseConnectTarget(t *testing.T) {
	tg, err := ParseRequestTarget("example.com:443", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tg.Hostname != "example.com" || tg.Port != 443 || tg.Protocol != "tcp" {
		t.Fatalf("unexpected target: %+v", tg)
	}
}

func TestParseAbsoluteFormTarget(t *testing.T) {
	tg, err := ParseRequestTarget("http://example.com/path?x=1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tg.Hostname != "example.com" || tg.Port != 80 || tg.Path != "/path?x=1" || tg.Protocol != "http" {
		t.Fatalf("unexpected target: %+v", tg)
	}
}

func TestParseAbsoluteFormTargetExplicitPort(t *testing.T) {
	tg, err := ParseRequestTarget("http://example.com:8000/", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tg.Port != 8000 {
		t.Fatalf("expected explicit port 8000, got %d", tg.Port)
	}
}

func TestParseRejectsRelativeTarget(t *testing.T) {
	if _, err := ParseRequestTarget("/just/a/path", false); err == nil {
		t.Fatalf("expected error for relative-form target on a forward proxy")
	}
}

func TestIsSelfAddress(t *testing.T) {
	local := []net.IP{net.ParseIP("10.0.0.5")}
	if !IsSelfAddress(net.ParseIP("10.0.0.5"), 8080, 8080, local) {
		t.Fatalf("expected self-address match")
	}
	if IsSelfAddress(net.ParseIP("10.0.0.5"), 9090, 8080, local) {
		t.Fatalf("expected no match when ports differ")
	}
	if IsSelfAddress(net.ParseIP("10.0.0.6"), 8080, 8080, local) {
		t.Fatalf("expected no match for a different address")
	}
}
