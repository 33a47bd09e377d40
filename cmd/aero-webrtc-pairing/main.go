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

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/pairing"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/profile"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/turnrest"
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

	logger.Info("starting aero-webrtc-pairing",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"max_peers", cfg.MaxPeers,
		"room_connect_timeout", cfg.RoomConnectTimeout,
		"pair_block_ttl", cfg.PairBlockTTL,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"profile_lookup_enabled", cfg.ProfileLookupEnabled(),
		"profile_lookup_host", safeURLHost(cfg.ProfileLookupURL),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	logStartupSecurityWarnings(logger, cfg)

	m := metrics.New()

	engine := pairing.NewEngine(pairing.Config{
		MaxPeers:            cfg.MaxPeers,
		RoomConnectTimeout:  cfg.RoomConnectTimeout,
		PairBlockTTL:        cfg.PairBlockTTL,
		PairBlockMaxEntries: cfg.PairBlockMaxEntries,
		Logger:              logger.With("component", "pairing"),
		Metrics:             m,
	})
	defer engine.Close()

	var profiles profile.Lookup
	if cfg.ProfileLookupEnabled() {
		httpLookup, err := profile.NewHTTPLookup(cfg.ProfileLookupURL, &http.Client{Timeout: cfg.ProfileLookupTimeout})
		if err != nil {
			logger.Error("failed to configure profile lookup", "err", err)
			os.Exit(2)
		}
		profiles = profile.NewCachedLookup(httpLookup, cfg.ProfileCacheMaxEntries, cfg.ProfileCacheTTL, m)
	}

	var turn *turnrest.Generator
	if cfg.TURNREST.Enabled() {
		turn, err = turnrest.NewGenerator(turnrest.GeneratorConfig{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTLSeconds:     cfg.TURNREST.TTLSeconds,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			logger.Error("failed to configure turn rest credentials", "err", err)
			os.Exit(2)
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, httpserver.Deps{
		Stats:   engine.Stats,
		TURN:    turn,
		Metrics: m,
	})
	sig := signaling.NewServer(signaling.Config{
		Engine:                        engine,
		Logger:                        logger.With("component", "signaling"),
		Metrics:                       m,
		Origins:                       origin.NewPolicy(cfg.AllowedOrigins),
		Profiles:                      profiles,
		ProfileLookupTimeout:          cfg.ProfileLookupTimeout,
		SignalingWSIdleTimeout:        cfg.SignalingWSIdleTimeout,
		SignalingWSPingInterval:       cfg.SignalingWSPingInterval,
		MaxSignalingMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueDepth:                cfg.SignalingSendQueueDepth,
	})
	sig.RegisterRoutes(srv.Mux())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		closeSignaling(logger, sig, cfg)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			engine.Close()
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
	if err := sig.Close(shutdownCtx); err != nil {
		logger.Error("signaling shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		engine.Close()
		os.Exit(1)
	}
	logger.Info("shutdown complete", "stats", engine.Stats())
}

func closeSignaling(logger *slog.Logger, sig *signaling.Server, cfg config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := sig.Close(ctx); err != nil {
		logger.Error("signaling shutdown failed", "err", err)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// ldflags values win; VCS stamps cover `go run` and dev builds.
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
