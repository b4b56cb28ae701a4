// Package accesslog appends one line per request (and per sniffed
// credential pair) to ./logs/access.txt.
package accesslog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ardakaracam/dohproxy/pkg/timing"
)

// Log is an append-only access log sink, safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates the log's parent directory (0700 if missing) and opens path
// for appending.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create access log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open access log: %w", err)
	}
	return &Log{file: f}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error { return l.file.Close() }

func (l *Log) writeLine(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.file, line)
}

// Request records one proxied request: timestamp, client IP, URL, and the
// DNS/TCP-connect latency breakdown for the target it reached.
func (l *Log) Request(clientAddr, url string, m timing.Metrics) {
	l.writeLine(fmt.Sprintf("%s %s %s %s", time.Now().UTC().Format(time.RFC3339), clientAddr, url, m))
}

// POP3Credentials records a sniffed POP3 USER/PASS pair, matching the
// exact "POP3 <user> <pass>" format end-to-end scenario 3 expects.
func (l *Log) POP3Credentials(user, pass string) {
	l.writeLine(fmt.Sprintf("POP3 %s %s", user, pass))
}

// BasicCredentials records a decoded HTTP Basic credential pair taken from
// a request's Authorization header.
func (l *Log) BasicCredentials(user, pass string) {
	l.writeLine(fmt.Sprintf("BASIC %s %s", user, pass))
}
