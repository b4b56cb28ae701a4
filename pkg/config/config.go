// Package config parses the proxy's CLI flags into an immutable snapshot.
// The flag set is deliberately small (stdlib flag, no viper) to match the
// spec's exact surface instead of adopting a config framework the
// original program never had.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ardakaracam/dohproxy/pkg/constants"
	"github.com/ardakaracam/dohproxy/pkg/doh"
)

// Config is the full, immutable snapshot produced by parsing CLI flags and
// consulted by every reactor-level handler (spec.md §5, "Shared
// resources"). pkg/reactor holds the live snapshot behind
// atomic.Pointer[Config] and Reactor.SetConfig swaps in a whole new
// *Config; nothing ever mutates a live Config in place.
type Config struct {
	ProxyAddr        string
	MgmtAddr         string
	ProxyPort        int
	MgmtPort         int
	DisectorsEnabled bool
	DoH              doh.Config

	// MaxClients caps concurrently accepted connections; 0 means unlimited.
	MaxClients int
	// ConnectionTimeout idles out a connection with no activity; <0 disables.
	ConnectionTimeout time.Duration
	// ViaHost is stamped into the Via chain; empty means fall back to the
	// machine's hostname (see pkg/rewrite callers).
	ViaHost string
	// ClientBlacklist rejects an accepted connection by peer IP before any
	// STM work begins.
	ClientBlacklist []string
	// TargetBlacklist rejects a resolved target by hostname with 403.
	TargetBlacklist []string
	// LogLevel is "debug", "info", "warn", or "error".
	LogLevel string
	// MgmtSecret authenticates the UDP management protocol (spec.md §1's
	// "32-byte shared secret"); it is hashed with sha256 down to the wire
	// size rather than required to be exactly 32 bytes on the command line.
	MgmtSecret string
}

// Default returns the built-in defaults the spec names.
func Default() Config {
	return Config{
		ProxyAddr:         "0.0.0.0",
		MgmtAddr:          "127.0.0.1",
		ProxyPort:         constants.DefaultProxyPort,
		MgmtPort:          constants.DefaultMgmtPort,
		DisectorsEnabled:  true,
		DoH:               doh.DefaultConfig(),
		MaxClients:        0,
		ConnectionTimeout: constants.DefaultIdleTimeout,
		LogLevel:          "info",
	}
}

// ExitCode mirrors the spec's documented process exit codes.
type ExitCode int

const (
	ExitOK       ExitCode = 0
	ExitArgError ExitCode = 1
	ExitIOError  ExitCode = 2
)

// Version is the proxy's reported version string for -v.
const Version = "1.0.0"

// ParseResult carries either a ready Config or a request to exit the
// process immediately (after -v/-h or an argument error) with the given
// code.
type ParseResult struct {
	Config     Config
	ShouldExit bool
	ExitCode   ExitCode
}

// Parse parses args (os.Args[1:] in production, a literal slice in tests)
// against the spec's exact flag set.
func Parse(args []string, out io.Writer) ParseResult {
	cfg := Default()
	fs := flag.NewFlagSet("forwardproxy", flag.ContinueOnError)
	fs.SetOutput(out)

	fs.StringVar(&cfg.ProxyAddr, "l", cfg.ProxyAddr, "proxy listen address")
	fs.StringVar(&cfg.MgmtAddr, "L", cfg.MgmtAddr, "management listen address")
	fs.IntVar(&cfg.ProxyPort, "p", cfg.ProxyPort, "proxy listen port")
	fs.IntVar(&cfg.MgmtPort, "o", cfg.MgmtPort, "management listen port")
	disableDisectors := fs.Bool("N", false, "disable protocol disectors (e.g. POP3 sniffing)")
	version := fs.Bool("v", false, "print version and exit")
	fs.StringVar(&cfg.DoH.IP, "doh-ip", cfg.DoH.IP, "DoH server IP")
	fs.IntVar(&cfg.DoH.Port, "doh-port", cfg.DoH.Port, "DoH server port")
	fs.StringVar(&cfg.DoH.Host, "doh-host", cfg.DoH.Host, "DoH server Host header value")
	fs.StringVar(&cfg.DoH.Path, "doh-path", cfg.DoH.Path, "DoH server request path")
	fs.StringVar(&cfg.MgmtSecret, "s", cfg.MgmtSecret, "shared secret authenticating the management protocol")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ParseResult{ShouldExit: true, ExitCode: ExitOK}
		}
		return ParseResult{ShouldExit: true, ExitCode: ExitArgError}
	}
	if *version {
		fmt.Fprintf(out, "forwardproxy version %s\n", Version)
		return ParseResult{ShouldExit: true, ExitCode: ExitOK}
	}
	cfg.DisectorsEnabled = !*disableDisectors
	return ParseResult{Config: cfg}
}

// ParseOrExit is the convenience entry point cmd/forwardproxy uses: on a
// ShouldExit result it writes nothing further and terminates the process.
func ParseOrExit(args []string) Config {
	res := Parse(args, os.Stderr)
	if res.ShouldExit {
		os.Exit(int(res.ExitCode))
	}
	return res.Config
}
