package proxyerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", fmt.Errorf("boom"), 500},
		{"with status", WithStatus(TypeProtocol, "parse", "chunked", nil, 501), 501},
		{"without status", New(TypeIO, "read", "eof", nil), 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Fatalf("StatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsType(t *testing.T) {
	err := WithStatus(TypeDNS, "lookup", "no such host", nil, 502)
	wrapped := fmt.Errorf("wrap: %w", err)
	if !IsType(wrapped, TypeDNS) {
		t.Fatalf("expected IsType to see through fmt.Errorf wrapping")
	}
	if IsType(wrapped, TypeIO) {
		t.Fatalf("expected IsType to reject mismatched type")
	}
}

func TestIsMatchesByType(t *testing.T) {
	a := New(TypeValidation, "op", "msg", nil)
	b := New(TypeValidation, "other-op", "other-msg", nil)
	if !errors.Is(a, b) {
		t.Fatalf("expected errors with the same Type to satisfy errors.Is")
	}
}
