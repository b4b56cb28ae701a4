// Command forwardproxy runs the DoH-resolving HTTP forward proxy: the TCP
// reactor from pkg/reactor, the UDP management listener from pkg/mgmt, and
// the periodic statistics file writer from pkg/statsfile, wired together
// the way HydraDNS's cmd/hydradns wires its DNS server, API server, and
// cluster syncer around one signal-driven run() function.
package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ardakaracam/dohproxy/pkg/accesslog"
	"github.com/ardakaracam/dohproxy/pkg/config"
	"github.com/ardakaracam/dohproxy/pkg/constants"
	"github.com/ardakaracam/dohproxy/pkg/logging"
	"github.com/ardakaracam/dohproxy/pkg/mgmt"
	"github.com/ardakaracam/dohproxy/pkg/reactor"
	"github.com/ardakaracam/dohproxy/pkg/statsfile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(int(config.ExitIOError))
	}
}

func run() error {
	cfg := config.ParseOrExit(os.Args[1:])

	logger := logging.Configure(logging.Config{Verbose: cfg.LogLevel == "debug"})
	logger.Info("forwardproxy starting",
		"proxy_addr", net.JoinHostPort(cfg.ProxyAddr, strconv.Itoa(cfg.ProxyPort)),
		"mgmt_addr", net.JoinHostPort(cfg.MgmtAddr, strconv.Itoa(cfg.MgmtPort)),
		"disectors", cfg.DisectorsEnabled,
		"doh_host", cfg.DoH.Host,
	)

	access, err := accesslog.Open(constants.DefaultAccessLogPath)
	if err != nil {
		return fmt.Errorf("open access log: %w", err)
	}
	defer access.Close()

	stats := statsfile.New()
	statsWriter, err := statsfile.NewWriter(stats, constants.DefaultStatsPath)
	if err != nil {
		return fmt.Errorf("create statistics writer: %w", err)
	}
	statsDone := make(chan struct{})
	go statsWriter.Run(statsDone, constants.ReactorTick)
	defer close(statsDone)

	rx, err := reactor.New(cfg, access, stats, logger)
	if err != nil {
		return fmt.Errorf("build reactor: %w", err)
	}

	mgmtAddr := net.JoinHostPort(cfg.MgmtAddr, strconv.Itoa(cfg.MgmtPort))
	mgmtSrv, err := mgmt.NewServer(mgmtAddr, secretBytes(cfg.MgmtSecret), stats, func() string {
		return configString(rx.Config())
	})
	if err != nil {
		return fmt.Errorf("bind management listener: %w", err)
	}
	defer mgmtSrv.Close()
	go mgmtSrv.Serve()
	logger.Info("management listener ready", "addr", mgmtAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- rx.ListenAndServe(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("reactor exited: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	select {
	case <-errCh:
	case <-shutdownCtx.Done():
		logger.Warn("reactor did not stop within shutdown grace period")
	}
	return nil
}

// secretBytes hashes an operator-supplied secret string down to the wire
// size pkg/mgmt's frames carry. An empty secret hashes to a fixed value,
// which is fine for local/dev use but should always be overridden with -s
// in any deployment reachable from outside the host.
func secretBytes(secret string) [mgmt.SecretSize]byte {
	return sha256.Sum256([]byte(secret))
}

func configString(cfg *config.Config) string {
	return fmt.Sprintf(
		"proxy_port=%d\nmgmt_port=%d\ndisectors_enabled=%t\nmax_clients=%d\nconnection_timeout=%s\nvia_host=%s\nlog_level=%s\n",
		cfg.ProxyPort, cfg.MgmtPort, cfg.DisectorsEnabled, cfg.MaxClients, cfg.ConnectionTimeout, cfg.ViaHost, cfg.LogLevel,
	)
}
