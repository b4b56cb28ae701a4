// Package netutil parses request targets and detects self-addressed
// requests, adapted from go-rawhttp's proxy URL parser to the forward
// proxy's absolute-form-URI and CONNECT-authority targets.
package netutil

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/ardakaracam/dohproxy/pkg/proxyerr"
)

// Target is the parsed form of a request's URL or CONNECT authority.
type Target struct {
	Protocol string // scheme for absolute-form requests, "tcp" for CONNECT
	Hostname string
	Port     int
	Path     string
}

const defaultHTTPPort = 80

// ParseRequestTarget parses the target of a proxied request. isConnect
// selects "host:port" authority-form parsing (RFC 7230 §5.3.3); otherwise
// the target is parsed as an absolute-form URI (RFC 7230 §5.3.2), which is
// what a forward proxy is required to receive.
func ParseRequestTarget(rawTarget string, isConnect bool) (*Target, error) {
	if isConnect {
		host, portStr, err := net.SplitHostPort(rawTarget)
		if err != nil {
			return nil, proxyerr.WithStatus(proxyerr.TypeValidation, "netutil.parse_target", "malformed CONNECT authority", err, 400)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, proxyerr.WithStatus(proxyerr.TypeValidation, "netutil.parse_target", "invalid CONNECT port", err, 400)
		}
		return &Target{Protocol: "tcp", Hostname: host, Port: port}, nil
	}

	u, err := url.Parse(rawTarget)
	if err != nil {
		return nil, proxyerr.WithStatus(proxyerr.TypeValidation, "netutil.parse_target", "invalid request target", err, 400)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, proxyerr.WithStatus(proxyerr.TypeValidation, "netutil.parse_target", "request target must be absolute-form", nil, 400)
	}
	host := u.Hostname()
	if host == "" {
		return nil, proxyerr.WithStatus(proxyerr.TypeValidation, "netutil.parse_target", "request target missing host", nil, 400)
	}

	port := defaultHTTPPort
	if portStr := u.Port(); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, proxyerr.WithStatus(proxyerr.TypeValidation, "netutil.parse_target", "invalid request target port", err, 400)
		}
	}

	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if path == "" {
		path = "/"
	}

	return &Target{Protocol: u.Scheme, Hostname: host, Port: port, Path: path}, nil
}

// LocalAddresses enumerates every IP address bound to this host's network
// interfaces, used by IsSelfAddress for loop prevention.
func LocalAddresses() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("enumerate local interfaces: %w", err)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ips = append(ips, ipNet.IP)
	}
	ips = append(ips, net.IPv4(127, 0, 0, 1), net.IPv6loopback)
	return ips, nil
}

// IsSelfAddress reports whether addr is one of this host's own addresses
// and port matches the proxy's listening port — the precise loop-prevention
// condition the DoH address-list walk enforces before connecting.
func IsSelfAddress(addr net.IP, port int, listenPort int, local []net.IP) bool {
	if port != listenPort {
		return false
	}
	for _, l := range local {
		if l.Equal(addr) {
			return true
		}
	}
	return false
}
