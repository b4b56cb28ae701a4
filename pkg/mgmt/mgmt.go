// Package mgmt implements the UDP management protocol: a small bit-packed
// frame authenticated by a shared secret, used to push counter updates and
// pull live stats/config from a running proxy. Per the design notes on
// bit-packed protocol records, fields are packed with explicit shifts and
// masks rather than relying on Go struct layout, which is not wire-stable.
package mgmt

import (
	"crypto/subtle"
	"fmt"
)

// SecretSize is the fixed shared-secret length every frame carries.
const SecretSize = 32

// Method identifies the requested management operation.
type Method uint8

const (
	MethodAddConnection Method = iota
	MethodRemoveConnection
	MethodAddSentBytes
	MethodAddBytesReceived
	MethodGetStats
	MethodGetConfig
)

// Status is the single-byte outcome carried by a response frame.
type Status uint8

const (
	StatusOK Status = iota
	StatusError
	StatusUnauthorized
)

const protocolVersion = 1

// Frame is one management datagram: a one-byte header (version:2 bits,
// is_response:1 bit, method:4 bits, reserved:1 bit), a one-byte status
// (meaningful only on responses), a fixed-size shared secret, and a
// variable-length payload.
type Frame struct {
	IsResponse bool
	Method     Method
	Status     Status
	Secret     [SecretSize]byte
	Payload    []byte
}

func header(isResponse bool, method Method) byte {
	var h byte
	h |= (protocolVersion & 0x03) << 6
	if isResponse {
		h |= 1 << 5
	}
	h |= (byte(method) & 0x0F) << 1
	return h
}

// Encode serializes f into its wire form.
func (f *Frame) Encode() []byte {
	out := make([]byte, 0, 2+SecretSize+len(f.Payload))
	out = append(out, header(f.IsResponse, f.Method), byte(f.Status))
	out = append(out, f.Secret[:]...)
	out = append(out, f.Payload...)
	return out
}

// Decode parses a wire frame. It does not itself check the secret against
// any expected value — callers authenticate separately with
// subtle.ConstantTimeCompare (see Authenticate).
func Decode(data []byte) (*Frame, error) {
	if len(data) < 2+SecretSize {
		return nil, fmt.Errorf("mgmt: frame too short: %d bytes", len(data))
	}
	h := data[0]
	version := h >> 6
	if version != protocolVersion {
		return nil, fmt.Errorf("mgmt: unsupported protocol version %d", version)
	}
	f := &Frame{
		IsResponse: h&(1<<5) != 0,
		Method:     Method((h >> 1) & 0x0F),
		Status:     Status(data[1]),
	}
	copy(f.Secret[:], data[2:2+SecretSize])
	if len(data) > 2+SecretSize {
		f.Payload = append([]byte(nil), data[2+SecretSize:]...)
	}
	return f, nil
}

// Authenticate reports whether f's secret matches expected, compared in
// constant time to avoid leaking the secret through timing.
func Authenticate(f *Frame, expected [SecretSize]byte) bool {
	return subtle.ConstantTimeCompare(f.Secret[:], expected[:]) == 1
}

// EncodeUint64 and DecodeUint64 are the payload codec used by every
// counter RPC (AddSentBytes/AddBytesReceived take a delta; the others
// ignore the payload).
func EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func DecodeUint64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("mgmt: payload too short for uint64: %d bytes", len(b))
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}
