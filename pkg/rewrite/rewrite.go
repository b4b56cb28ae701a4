// Package rewrite applies the header rewriting rules the proxy performs on
// every forwarded request and response: Host replacement, Via chaining,
// and Connection-listed header stripping (RFC 7230 §5.4, §5.7.1, §6.1).
package rewrite

import (
	"fmt"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Headers stored by pkg/httpmsg always have a single leading SP trimmed
// from their value (see httpmsg.finalizeHeader); Serialize re-adds nothing
// and expects rewritten values to carry their own leading SP, matching
// what a raw header line looks like after the colon.

// Rewriter applies the rewrite rules for one proxy instance.
type Rewriter struct {
	ViaHost string
}

// New creates a Rewriter that stamps viaHost into the Via chain.
func New(viaHost string) *Rewriter {
	return &Rewriter{ViaHost: viaHost}
}

func rtrimName(name string) string {
	return strings.TrimRight(name, " \t")
}

// connectionTokens returns the lowercased header names listed by every
// Connection header present in headers.
func connectionTokens(headers [][2]string) map[string]bool {
	tokens := map[string]bool{}
	for _, h := range headers {
		if h[0] != "Connection" {
			continue
		}
		for _, tok := range strings.Split(h[1], ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				tokens[strings.ToLower(tok)] = true
			}
		}
	}
	return tokens
}

// stripConnectionListed removes every header whose name is listed by a
// Connection header. The Connection header itself is left in place; the
// spec only mandates removing the headers it names.
func stripConnectionListed(headers [][2]string) [][2]string {
	tokens := connectionTokens(headers)
	if len(tokens) == 0 {
		return headers
	}
	out := make([][2]string, 0, len(headers))
	for _, h := range headers {
		if tokens[strings.ToLower(h[0])] {
			continue
		}
		out = append(out, h)
	}
	return out
}

// appendVia appends this proxy's hop to the Via chain, adding the header
// if absent.
func (rw *Rewriter) appendVia(headers [][2]string) [][2]string {
	hop := fmt.Sprintf(", 1.1 %s", rw.ViaHost)
	for i, h := range headers {
		if h[0] == "Via" {
			headers[i][1] = h[1] + hop
			return headers
		}
	}
	return append(headers, [2]string{"Via", " 1.1 " + rw.ViaHost})
}

// rtrimAllNames right-trims whitespace from every header name, per the
// rewriter's first universal rule.
func rtrimAllNames(headers [][2]string) [][2]string {
	out := make([][2]string, len(headers))
	for i, h := range headers {
		out[i] = [2]string{rtrimName(h[0]), h[1]}
	}
	return out
}

// RewriteRequest applies the request-side rules: Host replacement (or
// insertion), Via chaining, Connection-listed stripping. targetHost is the
// authority (host[:port]) of the resolved target.
func (rw *Rewriter) RewriteRequest(headers [][2]string, targetHost string) [][2]string {
	headers = rtrimAllNames(headers)

	replaced := false
	for i, h := range headers {
		if h[0] == "Host" {
			headers[i][1] = " " + targetHost
			replaced = true
			break
		}
	}
	if !replaced {
		headers = append(headers, [2]string{"Host", " " + targetHost})
	}

	headers = rw.appendVia(headers)
	return stripConnectionListed(headers)
}

// RewriteResponse applies the response-side rules: only Via and
// Connection-listed stripping apply.
func (rw *Rewriter) RewriteResponse(headers [][2]string) [][2]string {
	headers = rtrimAllNames(headers)
	headers = rw.appendVia(headers)
	return stripConnectionListed(headers)
}

// Serialize writes a start line (either a request line or a status line,
// caller-supplied) followed by headers and the terminating blank line, the
// exact bytes streamed into the forwarding side's write buffer.
func Serialize(startLine string, headers [][2]string) []byte {
	var b strings.Builder
	b.WriteString(startLine)
	b.WriteString("\r\n")
	for _, h := range headers {
		if !httpguts.ValidHeaderFieldName(strings.TrimSpace(h[0])) {
			continue
		}
		b.WriteString(h[0])
		b.WriteByte(':')
		b.WriteString(h[1])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
