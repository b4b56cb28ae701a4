package mgmt

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var secret [SecretSize]byte
	copy(secret[:], "0123456789abcdef0123456789abcdef")

	f := &Frame{IsResponse: false, Method: MethodAddSentBytes, Status: StatusOK, Secret: secret, Payload: EncodeUint64(42)}
	wire := f.Encode()

	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.IsResponse != false || got.Method != MethodAddSentBytes {
		t.Fatalf("unexpected header fields: %+v", got)
	}
	if !bytes.Equal(got.Secret[:], secret[:]) {
		t.Fatalf("secret mismatch")
	}
	n, err := DecodeUint64(got.Payload)
	if err != nil || n != 42 {
		t.Fatalf("unexpected payload: n=%d err=%v", n, err)
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	var secret, other [SecretSize]byte
	copy(secret[:], "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	copy(other[:], "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	f := &Frame{Secret: secret}
	if !Authenticate(f, secret) {
		t.Fatalf("expected matching secret to authenticate")
	}
	if Authenticate(f, other) {
		t.Fatalf("expected mismatched secret to fail")
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	if _, err := Decode([]byte{0, 0, 1, 2, 3}); err == nil {
		t.Fatalf("expected error for undersized frame")
	}
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	var secret [SecretSize]byte
	f := &Frame{Secret: secret}
	wire := f.Encode()
	wire[0] = 0x00 // version 0
	if _, err := Decode(wire); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
}

func TestResponseHandling(t *testing.T) {
	var secret [SecretSize]byte
	copy(secret[:], "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	f := &Frame{IsResponse: true, Method: MethodGetStats, Status: StatusOK, Secret: secret, Payload: []byte("ok")}
	wire := f.Encode()
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.IsResponse || got.Status != StatusOK || string(got.Payload) != "ok" {
		t.Fatalf("unexpected decoded response: %+v", got)
	}
}
