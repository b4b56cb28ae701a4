package httpparse

import (
	"strconv"

	"github.com/ardakaracam/dohproxy/pkg/charclass"
	"github.com/ardakaracam/dohproxy/pkg/httpmsg"
	"github.com/ardakaracam/dohproxy/pkg/proxyerr"
)

// Response is an HTTP status line plus its header section.
type Response struct {
	Version    string
	StatusCode int
	Reason     string
	*httpmsg.Message
}

const (
	rsVersion charclass.State = iota
	rsVersionSP
	rsStatus
	rsStatusSP
	rsReason
	rsReasonCR
	rsReasonCRLF
	rsUnexpected
)

type resCtx struct {
	version []byte
	status  []byte
	reason  []byte
	err     *proxyerr.Error
}

func resDef() charclass.Def[*resCtx] {
	d := make(charclass.Def[*resCtx], rsUnexpected+1)
	d[rsVersion] = charclass.StateDef[*resCtx]{
		Transitions: []charclass.Transition[*resCtx]{
			{Byte: ' ', HasByte: true, Next: rsVersionSP},
			{Classes: charclass.VCHAR, Next: rsVersion, Action: func(c *resCtx, b byte) {
				c.version = append(c.version, b)
			}},
		},
		Any: &charclass.Transition[*resCtx]{Next: rsUnexpected},
	}
	d[rsVersionSP] = charclass.StateDef[*resCtx]{
		Transitions: []charclass.Transition[*resCtx]{
			{Classes: charclass.DIGIT, Next: rsStatus, Action: func(c *resCtx, b byte) {
				c.status = append(c.status, b)
			}},
		},
		Any: &charclass.Transition[*resCtx]{Next: rsUnexpected},
	}
	d[rsStatus] = charclass.StateDef[*resCtx]{
		Transitions: []charclass.Transition[*resCtx]{
			{Byte: ' ', HasByte: true, Next: rsStatusSP},
			{Classes: charclass.DIGIT, Next: rsStatus, Action: func(c *resCtx, b byte) {
				c.status = append(c.status, b)
			}},
		},
		Any: &charclass.Transition[*resCtx]{Next: rsUnexpected},
	}
	d[rsStatusSP] = charclass.StateDef[*resCtx]{
		Transitions: []charclass.Transition[*resCtx]{
			{Byte: '\r', HasByte: true, Next: rsReasonCR},
			{Classes: charclass.VCHAR | charclass.SP | charclass.HTAB, Next: rsReason, Action: func(c *resCtx, b byte) {
				c.reason = append(c.reason, b)
			}},
		},
		Any: &charclass.Transition[*resCtx]{Next: rsUnexpected},
	}
	d[rsReason] = charclass.StateDef[*resCtx]{
		Transitions: []charclass.Transition[*resCtx]{
			{Byte: '\r', HasByte: true, Next: rsReasonCR},
			{Classes: charclass.VCHAR | charclass.SP | charclass.HTAB, Next: rsReason, Action: func(c *resCtx, b byte) {
				c.reason = append(c.reason, b)
			}},
		},
		Any: &charclass.Transition[*resCtx]{Next: rsUnexpected},
	}
	d[rsReasonCR] = charclass.StateDef[*resCtx]{
		Transitions: []charclass.Transition[*resCtx]{
			{Byte: '\n', HasByte: true, Next: rsReasonCRLF},
		},
		Any: &charclass.Transition[*resCtx]{Next: rsUnexpected},
	}
	d[rsReasonCRLF] = charclass.StateDef[*resCtx]{}
	d[rsUnexpected] = charclass.StateDef[*resCtx]{}
	return d
}

var sharedResDef = resDef()

// ResponseParser parses a status line and then delegates to an embedded
// httpmsg.Parser for the header section.
type ResponseParser struct {
	eng  *charclass.Engine[*resCtx]
	c    *resCtx
	line bool
	msg  *httpmsg.Parser
	res  *Response
}

// NewResponseParser creates a ResponseParser ready to parse a status line.
func NewResponseParser() *ResponseParser {
	p := &ResponseParser{}
	p.Reset()
	return p
}

// Reset returns the parser to its initial state.
func (p *ResponseParser) Reset() {
	p.eng = charclass.NewEngine(sharedResDef, rsVersion)
	p.c = &resCtx{}
	p.line = true
	p.msg = httpmsg.New()
	p.res = &Response{}
}

// IgnoreContentLength is forwarded to the embedded header parser; the
// caller sets this for HEAD responses.
func (p *ResponseParser) IgnoreContentLength(v bool) { p.msg.IgnoreContentLength(v) }

// Feed advances the parser by one byte.
func (p *ResponseParser) Feed(b byte) httpmsg.Status {
	if p.line {
		if !p.eng.Feed(b, p.c) {
			if p.c.err == nil {
				p.c.err = proxyerr.WithStatus(proxyerr.TypeProtocol, "httpparse.status_line", "malformed status line", nil, 502)
			}
			return httpmsg.Failed
		}
		if p.eng.State() != rsReasonCRLF {
			return httpmsg.Pending
		}
		p.line = false
		p.res.Version = string(p.c.version)
		n, err := strconv.Atoi(string(p.c.status))
		if err != nil {
			p.c.err = proxyerr.WithStatus(proxyerr.TypeProtocol, "httpparse.status_line", "invalid status code", nil, 502)
			return httpmsg.Failed
		}
		p.res.StatusCode = n
		p.res.Reason = string(p.c.reason)
		return httpmsg.Pending
	}
	return p.msg.Feed(b)
}

// Parse feeds data and returns bytes consumed plus the terminal status.
func (p *ResponseParser) Parse(data []byte) (consumed int, status httpmsg.Status) {
	for i, b := range data {
		switch p.Feed(b) {
		case httpmsg.Success:
			p.res.Message = p.msg.Message()
			return i + 1, httpmsg.Success
		case httpmsg.Failed:
			return i + 1, httpmsg.Failed
		}
	}
	return len(data), httpmsg.Pending
}

// Response returns the parsed response. Valid once Parse/Feed has returned
// Success.
func (p *ResponseParser) Response() *Response { return p.res }

// Err returns the error recorded for a Failed parse.
func (p *ResponseParser) Err() error {
	if p.c.err != nil {
		return p.c.err
	}
	return p.msg.Err()
}
