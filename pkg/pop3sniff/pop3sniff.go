// Package pop3sniff implements the read-only POP3 credential sniffer used
// by the TCP tunnel state to recover USER/PASS pairs from tunneled bytes
// without disturbing the bytes themselves.
package pop3sniff

import "github.com/ardakaracam/dohproxy/pkg/charclass"

// Event is the outcome of feeding a byte.
type Event int

const (
	None Event = iota
	UserSet
	Success
	FailedPassNoUser
)

const (
	sCommand charclass.State = iota
	sCommandVal
	sCommandCR
	sCommandCRLF
)

type ctx struct {
	cmd        []byte
	val        []byte
	user       string
	event      Event
	resultUser string
	resultPass string
}

func upperByte(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

func finalizeLine(c *ctx) {
	cmd := string(c.cmd)
	val := string(c.val)
	c.cmd = c.cmd[:0]
	c.val = c.val[:0]

	switch cmd {
	case "USER":
		c.user = val
		c.event = UserSet
	case "PASS":
		if c.user == "" {
			c.event = FailedPassNoUser
			return
		}
		c.resultUser = c.user
		c.resultPass = val
		c.event = Success
		c.user = ""
	}
}

func def() charclass.Def[*ctx] {
	commandTransitions := []charclass.Transition[*ctx]{
		{Byte: '\r', HasByte: true, Next: sCommandCR},
		{Byte: ' ', HasByte: true, Next: sCommandVal},
		{Classes: charclass.VCHAR, Next: sCommand, Action: func(c *ctx, b byte) {
			c.cmd = append(c.cmd, upperByte(b))
		}},
	}
	return charclass.Def[*ctx]{
		sCommand: {
			Transitions: commandTransitions,
			Any:         &charclass.Transition[*ctx]{Next: sCommand},
		},
		sCommandVal: {
			Transitions: []charclass.Transition[*ctx]{
				{Byte: '\r', HasByte: true, Next: sCommandCR},
				{Classes: charclass.VCHAR | charclass.SP | charclass.HTAB, Next: sCommandVal, Action: func(c *ctx, b byte) {
					c.val = append(c.val, b)
				}},
			},
			Any: &charclass.Transition[*ctx]{Next: sCommandVal},
		},
		sCommandCR: {
			Transitions: []charclass.Transition[*ctx]{
				{Byte: '\n', HasByte: true, Next: sCommandCRLF, Action: func(c *ctx, b byte) {
					finalizeLine(c)
				}},
			},
			Any: &charclass.Transition[*ctx]{Next: sCommand, Action: func(c *ctx, b byte) {
				c.cmd = c.cmd[:0]
				c.val = c.val[:0]
			}},
		},
		sCommandCRLF: {
			Transitions: commandTransitions,
			Any:         &charclass.Transition[*ctx]{Next: sCommand},
		},
	}
}

var sharedDef = def()

// Sniffer is a restartable, non-consuming line-oriented parser. Feed it a
// read-only copy of bytes as they pass through the tunnel; it never needs
// to see an end-of-buffer marker since POP3 commands are always CRLF
// terminated.
type Sniffer struct {
	eng *charclass.Engine[*ctx]
	c   *ctx
}

// New creates a Sniffer at its start state.
func New() *Sniffer {
	s := &Sniffer{}
	s.Reset()
	return s
}

// Reset clears all accumulated state and returns to the start state.
func (s *Sniffer) Reset() {
	s.eng = charclass.NewEngine(sharedDef, sCommand)
	s.c = &ctx{}
}

// Feed advances the sniffer by one byte and reports what happened on this
// byte. Only a line-terminating LF ever produces UserSet, Success, or
// FailedPassNoUser; every other byte returns None.
func (s *Sniffer) Feed(b byte) Event {
	s.eng.Feed(b, s.c)
	ev := s.c.event
	s.c.event = None
	return ev
}

// Credentials returns the user/pass pair captured by the line that most
// recently produced a Success event.
func (s *Sniffer) Credentials() (user, pass string) {
	return s.c.resultUser, s.c.resultPass
}
