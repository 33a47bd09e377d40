package main

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxPeers <= 0 {
		logger.Warn("startup security warning: MAX_PEERS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_peers_unlimited_in_prod",
			"max_peers", cfg.MaxPeers,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (relayed SDP is buffered per connection)",
			"warning_code", "signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.RoomConnectTimeout > 2*time.Minute {
		logger.Warn("startup security warning: ROOM_CONNECT_TIMEOUT is very large (half-open rooms keep both peers out of the queue)",
			"warning_code", "room_connect_timeout_large",
			"room_connect_timeout", cfg.RoomConnectTimeout,
			"mode", cfg.Mode,
		)
	}

	if cfg.TURNREST.Enabled() && !config.HasTURN(cfg.ICEServers) {
		logger.Warn("startup warning: TURN REST is enabled but no turn: or turns: URLs are configured; credentials will never be issued",
			"warning_code", "turn_rest_without_turn_urls",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.ProfileLookupEnabled() {
		if u, err := url.Parse(strings.TrimSpace(cfg.ProfileLookupURL)); err == nil && u.Scheme == "http" {
			logger.Warn("startup security warning: PROFILE_LOOKUP_URL uses plain http while --mode=prod",
				"warning_code", "profile_lookup_plain_http_in_prod",
				"profile_lookup_host", u.Host,
				"mode", cfg.Mode,
			)
		}
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}

func safeURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}
