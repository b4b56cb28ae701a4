// Package constants defines magic numbers and default values used
// throughout the proxy.
package constants

import "time"

// Connection timeouts and limits.
const (
	DefaultIdleTimeout = 90 * time.Second
	DefaultConnTimeout = 10 * time.Second
	DefaultDoHTimeout  = 5 * time.Second
	ReactorTick        = 1 * time.Second
)

// Per-slot buffer sizing (spec: 5 MiB read/write buffer per connection).
const (
	SlotBufferSize = 5 * 1024 * 1024
)

// DoH defaults, overridable by CLI flags.
const (
	DefaultDoHHost = "cloudflare-dns.com"
	DefaultDoHIP   = "1.1.1.1"
	DefaultDoHPort = 443
	DefaultDoHPath = "/dns-query"
)

// Proxy server defaults.
const (
	DefaultProxyPort = 8080
	DefaultMgmtPort  = 9090
)

// On-disk defaults for the sinks the core treats as external collaborators.
const (
	DefaultAccessLogPath = "./logs/access.txt"
	DefaultStatsPath     = "./logs/statistics.txt"
)
