package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/asyncexec"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/peerfactory"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/turnrest"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/webrtcpeer"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	api, err := webrtcpeer.NewAPI(cfg, logger)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	turnREST, err := turnrest.NewGeneratorFromConfig(cfg.TURNREST)
	if err != nil {
		logger.Error("failed to configure turn rest credentials", "err", err)
		os.Exit(2)
	}

	logger.Info("starting aero-webrtc-peer-factory",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", turnREST != nil,
		"peer_connection_connect_timeout", cfg.PeerConnectionConnectTimeout,
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ice server configuration; /readyz will fail", "err", err)
	}

	logStartupWarnings(logger, cfg)

	m := metrics.New()
	async := asyncexec.New(logger)
	gateway := webrtcpeer.NewGateway(api, async, webrtcpeer.GatewayOptions{
		ConnectTimeout: cfg.PeerConnectionConnectTimeout,
		Logger:         logger,
		Metrics:        m,
	})
	factory := peerfactory.New[webrtc.ICEServer, *webrtcpeer.Session](gateway, async, logger, cfg.ICEServers)
	factory.SetMetrics(m)

	// Build one PeerConnection up front so settings pion rejects are caught on
	// startup rather than on first use.
	if err := runStartupProbe(factory.CreatePeerConnection); err != nil {
		logger.Error("startup peer connection probe failed", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: builtAt}, httpserver.Options{
		Metrics:  m,
		TURNREST: turnREST,
		Async:    async,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownPeers := func() {
		if err := gateway.Close(); err != nil {
			logger.Warn("closing peer connections", "err", err)
		}
		async.Close()
	}

	select {
	case err := <-errCh:
		shutdownPeers()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	shutdownPeers()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info when
	// available (`go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
