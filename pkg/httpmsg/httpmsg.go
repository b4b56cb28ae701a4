// Package httpmsg implements the incremental HTTP header-section parser
// shared by the request and response parsers in pkg/httpparse. It consumes
// one byte at a time from a ring buffer and never copies the body — callers
// stream body bytes separately once the parser reports success.
package httpmsg

import (
	"strconv"

	"github.com/ardakaracam/dohproxy/pkg/charclass"
	"github.com/ardakaracam/dohproxy/pkg/proxyerr"
)

const (
	MaxHeaders     = 128
	MaxHeaderField = 512
)

// Status is the outcome of feeding a byte (or a run of bytes) to the parser.
type Status int

const (
	Pending Status = iota
	Success
	Failed
)

// Message holds the parsed header section. Headers are kept in insertion
// order and matched case-sensitively against well-known names by the
// parser itself; callers needing case-insensitive lookups (header
// rewriting) do their own scan.
type Message struct {
	Headers    [][2]string
	BodyLength int
	HasExpect  bool
}

// Header returns the first value stored under name (case-sensitive), and
// whether it was present.
func (m *Message) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if h[0] == name {
			return h[1], true
		}
	}
	return "", false
}

const (
	sHeadersBegin charclass.State = iota
	sHeaderName
	sHeaderValue
	sCR
	sCRLF
	sEndlineCR
	sEndlineCRLF
	sBody
	sUnexpected
)

type ctx struct {
	name                []byte
	value               []byte
	msg                 *Message
	ignoreContentLength bool
	droppedExtra        bool
	err                 *proxyerr.Error
}

func appendCapped(buf []byte, b byte, cap int) []byte {
	if len(buf) >= cap {
		return buf
	}
	return append(buf, b)
}

func trimOneLeadingSP(b []byte) []byte {
	if len(b) > 0 && b[0] == ' ' {
		return b[1:]
	}
	return b
}

func rtrimSP(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	return b[:i]
}

func finalizeHeader(c *ctx, b byte) {
	name := string(rtrimSP(trimOneLeadingSP(c.name)))
	value := string(trimOneLeadingSP(c.value))
	c.name = c.name[:0]
	c.value = c.value[:0]

	if len(c.msg.Headers) >= MaxHeaders {
		c.droppedExtra = true
	} else {
		c.msg.Headers = append(c.msg.Headers, [2]string{name, value})
	}

	switch name {
	case "Content-Length":
		if !c.ignoreContentLength {
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				c.err = proxyerr.WithStatus(proxyerr.TypeProtocol, "httpmsg.content_length", "invalid Content-Length", nil, 400)
				return
			}
			c.msg.BodyLength = n
		}
	case "Expect":
		c.msg.HasExpect = true
	case "Transfer-Encoding":
		if value == "chunked" {
			c.err = proxyerr.WithStatus(proxyerr.TypeProtocol, "httpmsg.transfer_encoding", "chunked transfer encoding not implemented", nil, 501)
		}
	}
}

func def() charclass.Def[*ctx] {
	beginTransitions := []charclass.Transition[*ctx]{
		{Byte: '\r', HasByte: true, Next: sEndlineCR},
		{Classes: charclass.VCHAR, Next: sHeaderName, Action: func(c *ctx, b byte) {
			c.name = appendCapped(c.name, b, MaxHeaderField)
		}},
	}
	d := make(charclass.Def[*ctx], sUnexpected+1)
	d[sHeadersBegin] = charclass.StateDef[*ctx]{
		Transitions: beginTransitions,
		Any:         &charclass.Transition[*ctx]{Next: sUnexpected},
	}
	d[sHeaderName] = charclass.StateDef[*ctx]{
		Transitions: []charclass.Transition[*ctx]{
			{Byte: ':', HasByte: true, Next: sHeaderValue},
			{Classes: charclass.VCHAR, Next: sHeaderName, Action: func(c *ctx, b byte) {
				c.name = appendCapped(c.name, b, MaxHeaderField)
			}},
		},
		Any: &charclass.Transition[*ctx]{Next: sUnexpected},
	}
	d[sHeaderValue] = charclass.StateDef[*ctx]{
		Transitions: []charclass.Transition[*ctx]{
			{Byte: '\r', HasByte: true, Next: sCR},
			{Classes: charclass.VCHAR | charclass.SP | charclass.HTAB, Next: sHeaderValue, Action: func(c *ctx, b byte) {
				c.value = appendCapped(c.value, b, MaxHeaderField)
			}},
		},
		Any: &charclass.Transition[*ctx]{Next: sUnexpected},
	}
	d[sCR] = charclass.StateDef[*ctx]{
		Transitions: []charclass.Transition[*ctx]{
			{Byte: '\n', HasByte: true, Next: sCRLF, Action: finalizeHeader},
		},
		Any: &charclass.Transition[*ctx]{Next: sUnexpected},
	}
	d[sCRLF] = charclass.StateDef[*ctx]{
		Transitions: beginTransitions,
		Any:         &charclass.Transition[*ctx]{Next: sUnexpected},
	}
	d[sEndlineCR] = charclass.StateDef[*ctx]{
		Transitions: []charclass.Transition[*ctx]{
			{Byte: '\n', HasByte: true, Next: sEndlineCRLF},
		},
		Any: &charclass.Transition[*ctx]{Next: sUnexpected},
	}
	d[sEndlineCRLF] = charclass.StateDef[*ctx]{}
	d[sBody] = charclass.StateDef[*ctx]{}
	d[sUnexpected] = charclass.StateDef[*ctx]{}
	return d
}

var sharedDef = def()

// Parser is a restartable incremental header-section parser.
type Parser struct {
	eng                 *charclass.Engine[*ctx]
	c                    *ctx
	ignoreContentLength bool
}

// New creates a Parser ready to parse a header section from the start.
func New() *Parser {
	p := &Parser{}
	p.Reset()
	return p
}

// IgnoreContentLength controls whether a Content-Length header updates
// message.BodyLength. The response parser sets this for HEAD requests.
func (p *Parser) IgnoreContentLength(v bool) {
	p.ignoreContentLength = v
	p.c.ignoreContentLength = v
}

// Reset clears all parse state and returns the parser to HEADERS_BEGIN.
func (p *Parser) Reset() {
	p.c = &ctx{msg: &Message{}, ignoreContentLength: p.ignoreContentLength}
	p.eng = charclass.NewEngine(sharedDef, sHeadersBegin)
}

// Feed advances the parser by one byte.
func (p *Parser) Feed(b byte) Status {
	if !p.eng.Feed(b, p.c) {
		if p.c.err == nil {
			p.c.err = proxyerr.WithStatus(proxyerr.TypeProtocol, "httpmsg.feed", "malformed header section", nil, 400)
		}
		return Failed
	}
	if p.c.err != nil {
		return Failed
	}
	switch p.eng.State() {
	case sEndlineCRLF:
		return Success
	case sUnexpected:
		if p.c.err == nil {
			p.c.err = proxyerr.WithStatus(proxyerr.TypeProtocol, "httpmsg.feed", "malformed header section", nil, 400)
		}
		return Failed
	default:
		return Pending
	}
}

// Parse feeds data to the parser and returns the number of bytes consumed
// before reaching a terminal status. On Success, consumed is the length of
// the header section including the terminating blank line; any remaining
// bytes in data belong to the body and were not inspected.
func (p *Parser) Parse(data []byte) (consumed int, status Status) {
	for i, b := range data {
		switch p.Feed(b) {
		case Success:
			return i + 1, Success
		case Failed:
			return i + 1, Failed
		}
	}
	return len(data), Pending
}

// Message returns the parsed message. Valid once Feed/Parse has returned
// Success; BodyLength and Headers are fully populated at that point.
func (p *Parser) Message() *Message { return p.c.msg }

// Err returns the error recorded for a Failed parse.
func (p *Parser) Err() error {
	if p.c.err == nil {
		return nil
	}
	return p.c.err
}

// DroppedExtraHeaders reports whether the 128-header cap caused any header
// past the limit to be silently discarded (see design notes on this choice).
func (p *Parser) DroppedExtraHeaders() bool { return p.c.droppedExtra }
