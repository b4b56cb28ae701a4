package accesslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ardakaracam/dohproxy/pkg/timing"
)

func TestRequestAppendsLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "access.txt")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	l.Request("203.0.113.5:51000", "http://example.com/", timing.Metrics{TCPConnect: 12 * time.Millisecond})
	l.POP3Credentials("alice", "s3cret")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "203.0.113.5:51000") || !strings.Contains(lines[0], "http://example.com/") {
		t.Fatalf("unexpected request line: %q", lines[0])
	}
	if lines[1] != "POP3 alice s3cret" {
		t.Fatalf("unexpected credentials line: %q", lines[1])
	}
}

func TestOpenCreatesDirWithRestrictedPerms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "logs", "access.txt")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Close()

	info, err := os.Stat(filepath.Join(dir, "nested", "logs"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Fatalf("expected 0700 dir perms, got %v", info.Mode().Perm())
	}
}
