// Package httpparse implements the HTTP request-line and status-line
// parsers that sit on top of pkg/httpmsg's header-section parser.
package httpparse

import (
	"github.com/ardakaracam/dohproxy/pkg/charclass"
	"github.com/ardakaracam/dohproxy/pkg/httpmsg"
	"github.com/ardakaracam/dohproxy/pkg/proxyerr"
)

// Method is one of the request methods the proxy recognizes by exact
// string match; anything else maps to OTHER.
type Method string

const (
	GET     Method = "GET"
	POST    Method = "POST"
	PUT     Method = "PUT"
	DELETE  Method = "DELETE"
	CONNECT Method = "CONNECT"
	HEAD    Method = "HEAD"
	OPTIONS Method = "OPTIONS"
	TRACE   Method = "TRACE"
	OTHER   Method = "OTHER"
)

var knownMethods = map[string]Method{
	"GET": GET, "POST": POST, "PUT": PUT, "DELETE": DELETE,
	"CONNECT": CONNECT, "HEAD": HEAD, "OPTIONS": OPTIONS, "TRACE": TRACE,
}

const maxTargetLen = 8000

// Request is an HTTP request line plus its header section.
type Request struct {
	Method     Method
	MethodRaw  string
	URL        string
	Version    string
	*httpmsg.Message
}

const (
	rqMethod charclass.State = iota
	rqMethodSP
	rqTarget
	rqTargetSP
	rqVersion
	rqVersionCR
	rqVersionCRLF
	rqUnexpected
)

type reqCtx struct {
	method  []byte
	target  []byte
	version []byte
	err     *proxyerr.Error
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

func reqDef() charclass.Def[*reqCtx] {
	d := make(charclass.Def[*reqCtx], rqUnexpected+1)
	d[rqMethod] = charclass.StateDef[*reqCtx]{
		Transitions: []charclass.Transition[*reqCtx]{
			{Byte: ' ', HasByte: true, Next: rqMethodSP},
			{Classes: charclass.ALPHA, Next: rqMethod, Action: func(c *reqCtx, b byte) {
				c.method = append(c.method, upper(b))
			}},
		},
		Any: &charclass.Transition[*reqCtx]{Next: rqUnexpected},
	}
	d[rqMethodSP] = charclass.StateDef[*reqCtx]{
		Transitions: []charclass.Transition[*reqCtx]{
			{Classes: charclass.VCHAR, Next: rqTarget, Action: func(c *reqCtx, b byte) {
				c.target = append(c.target, lower(b))
			}},
		},
		Any: &charclass.Transition[*reqCtx]{Next: rqUnexpected},
	}
	d[rqTarget] = charclass.StateDef[*reqCtx]{
		Transitions: []charclass.Transition[*reqCtx]{
			{Byte: ' ', HasByte: true, Next: rqTargetSP},
			{Classes: charclass.VCHAR, Next: rqTarget, Action: func(c *reqCtx, b byte) {
				if len(c.target) >= maxTargetLen {
					if c.err == nil {
						c.err = proxyerr.WithStatus(proxyerr.TypeProtocol, "httpparse.target", "target too long", nil, 414)
					}
					return
				}
				c.target = append(c.target, lower(b))
			}},
		},
		Any: &charclass.Transition[*reqCtx]{Next: rqUnexpected},
	}
	d[rqTargetSP] = charclass.StateDef[*reqCtx]{
		Transitions: []charclass.Transition[*reqCtx]{
			{Classes: charclass.VCHAR, Next: rqVersion, Action: func(c *reqCtx, b byte) {
				c.version = append(c.version, b)
			}},
		},
		Any: &charclass.Transition[*reqCtx]{Next: rqUnexpected},
	}
	d[rqVersion] = charclass.StateDef[*reqCtx]{
		Transitions: []charclass.Transition[*reqCtx]{
			{Byte: '\r', HasByte: true, Next: rqVersionCR},
			{Classes: charclass.VCHAR, Next: rqVersion, Action: func(c *reqCtx, b byte) {
				c.version = append(c.version, b)
			}},
		},
		Any: &charclass.Transition[*reqCtx]{Next: rqUnexpected},
	}
	d[rqVersionCR] = charclass.StateDef[*reqCtx]{
		Transitions: []charclass.Transition[*reqCtx]{
			{Byte: '\n', HasByte: true, Next: rqVersionCRLF},
		},
		Any: &charclass.Transition[*reqCtx]{Next: rqUnexpected},
	}
	d[rqVersionCRLF] = charclass.StateDef[*reqCtx]{}
	d[rqUnexpected] = charclass.StateDef[*reqCtx]{}
	return d
}

var sharedReqDef = reqDef()

// RequestParser parses a request line and then delegates to an embedded
// httpmsg.Parser for the header section.
type RequestParser struct {
	eng  *charclass.Engine[*reqCtx]
	c    *reqCtx
	line bool // still parsing the request line
	msg  *httpmsg.Parser
	req  *Request
}

// NewRequestParser creates a RequestParser ready to parse a request line.
func NewRequestParser() *RequestParser {
	p := &RequestParser{}
	p.Reset()
	return p
}

// Reset returns the parser to its initial state.
func (p *RequestParser) Reset() {
	p.eng = charclass.NewEngine(sharedReqDef, rqMethod)
	p.c = &reqCtx{}
	p.line = true
	p.msg = httpmsg.New()
	p.req = &Request{}
}

// Feed advances the parser by one byte.
func (p *RequestParser) Feed(b byte) httpmsg.Status {
	if p.line {
		if !p.eng.Feed(b, p.c) || p.c.err != nil {
			if p.c.err == nil {
				p.c.err = proxyerr.WithStatus(proxyerr.TypeProtocol, "httpparse.request_line", "malformed request line", nil, 400)
			}
			return httpmsg.Failed
		}
		if p.eng.State() != rqVersionCRLF {
			return httpmsg.Pending
		}
		p.line = false
		p.req.MethodRaw = string(p.c.method)
		if m, ok := knownMethods[p.req.MethodRaw]; ok {
			p.req.Method = m
		} else {
			p.req.Method = OTHER
		}
		p.req.URL = string(p.c.target)
		p.req.Version = string(p.c.version)
		return httpmsg.Pending
	}
	return p.msg.Feed(b)
}

// Parse feeds data and returns bytes consumed plus the terminal status, the
// same convention as httpmsg.Parser.Parse.
func (p *RequestParser) Parse(data []byte) (consumed int, status httpmsg.Status) {
	for i, b := range data {
		switch p.Feed(b) {
		case httpmsg.Success:
			p.req.Message = p.msg.Message()
			return i + 1, httpmsg.Success
		case httpmsg.Failed:
			return i + 1, httpmsg.Failed
		}
	}
	return len(data), httpmsg.Pending
}

// Request returns the parsed request. Valid once Parse/Feed has returned
// Success.
func (p *RequestParser) Request() *Request { return p.req }

// Err returns the error recorded for a Failed parse, from either the
// request-line state machine or the delegated header parser.
func (p *RequestParser) Err() error {
	if p.c.err != nil {
		return p.c.err
	}
	return p.msg.Err()
}
