package main

import (
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/iceserver"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
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

	if cfg.ICEConfigError() == nil && len(cfg.ICEServers) == 0 && cfg.Mode == config.ModeProd {
		logger.Warn("startup warning: no ICE servers configured while --mode=prod (clients behind NAT may fail to connect)",
			"warning_code", "no_ice_servers_in_prod",
			"mode", cfg.Mode,
		)
	}

	if !cfg.TURNREST.Enabled() {
		for i, server := range cfg.ICEServers {
			if iceserver.HasTURNURL(server) && server.HasCredentials() {
				logger.Warn("startup security warning: static TURN credentials are served to every client via /webrtc/ice (prefer TURN_REST_SHARED_SECRET)",
					"warning_code", "static_turn_credentials",
					"ice_server_index", i,
					"mode", cfg.Mode,
				)
				break
			}
		}
	}

	if cfg.TURNREST.Enabled() {
		ttl := time.Duration(cfg.TURNREST.TTLSeconds) * time.Second
		if ttl > 24*time.Hour {
			logger.Warn("startup security warning: TURN_REST_TTL_SECONDS is very large (leaked credentials stay valid longer)",
				"warning_code", "turn_rest_ttl_large",
				"turn_rest_ttl_seconds", cfg.TURNREST.TTLSeconds,
				"mode", cfg.Mode,
			)
		}
		if cfg.ICEPushRefreshBefore >= ttl {
			logger.Warn("startup warning: ICE_PUSH_REFRESH_BEFORE is not shorter than the TURN REST TTL (pushes fall back to the minimum interval)",
				"warning_code", "ice_push_refresh_exceeds_ttl",
				"ice_push_refresh_before", cfg.ICEPushRefreshBefore,
				"turn_rest_ttl_seconds", cfg.TURNREST.TTLSeconds,
			)
		}
	}

	if cfg.PeerConnectionConnectTimeout > 2*time.Minute {
		logger.Warn("startup security warning: PEER_CONNECTION_CONNECT_TIMEOUT is very large (increases half-open PeerConnection resource exposure)",
			"warning_code", "peer_connection_connect_timeout_large",
			"peer_connection_connect_timeout", cfg.PeerConnectionConnectTimeout,
			"mode", cfg.Mode,
		)
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
