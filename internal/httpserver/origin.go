package httpserver

import (
	"net"
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/config"
)

func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		originHeader := strings.TrimSpace(r.Header.Get("Origin"))
		if originHeader == "" {
			next(w, r)
			return
		}

		normalizedOrigin, ok := normalizeOriginHeader(originHeader)
		if !ok || !isOriginAllowed(normalizedOrigin, r.Host, s.cfg.AllowedOrigins) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", normalizedOrigin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
			if requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requestHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

func normalizeOriginHeader(raw string) (string, bool) {
	if raw == "null" {
		return raw, true
	}
	return config.NormalizeOrigin(raw)
}

// isOriginAllowed checks the configured allowlist. With no allowlist only
// same-host origins are accepted.
func isOriginAllowed(normalizedOrigin, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	scheme, originHost, ok := strings.Cut(normalizedOrigin, "://")
	if !ok {
		return false
	}
	return originHost == normalizeRequestHost(requestHost, scheme)
}

func normalizeRequestHost(requestHost, scheme string) string {
	host := strings.ToLower(strings.TrimSpace(requestHost))
	hostname, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port == "" {
		return hostname
	}
	return hostname + ":" + port
}
