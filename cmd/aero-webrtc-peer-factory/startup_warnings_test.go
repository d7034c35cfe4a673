package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/iceserver"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode:           config.ModeDev,
		AllowedOrigins: []string{"*"},
	})

	if _, ok := warningCodes(records())["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupWarnings_NoICEServersInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{Mode: config.ModeProd})
	if _, ok := warningCodes(records())["no_ice_servers_in_prod"]; !ok {
		t.Fatalf("expected warning_code=no_ice_servers_in_prod, got %#v", records())
	}

	logger, records = newRecordingLogger()
	logStartupWarnings(logger, config.Config{Mode: config.ModeDev})
	if len(warningCodes(records())) != 0 {
		t.Fatalf("expected no warnings in dev, got %#v", records())
	}
}

func TestStartupWarnings_StaticTURNCredentials(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode: config.ModeDev,
		ICEServers: []iceserver.Descriptor{
			{URLs: iceserver.MultiURL("stun:stun.example.com")},
			{URLs: iceserver.MultiURL("turn:turn.example.com"), Username: "u", Credential: "c"},
		},
	})

	rec, ok := warningCodes(records())["static_turn_credentials"]
	if !ok {
		t.Fatalf("expected warning_code=static_turn_credentials, got %#v", records())
	}
	if rec.attrs["ice_server_index"] != int64(1) {
		t.Fatalf("ice_server_index=%#v, want 1", rec.attrs["ice_server_index"])
	}
}

func TestStartupWarnings_TURNREST(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode: config.ModeDev,
		TURNREST: config.TurnRESTConfig{
			SharedSecret:   "secret",
			TTLSeconds:     7 * 24 * 3600,
			UsernamePrefix: "aero",
		},
		ICEPushRefreshBefore: 8 * 24 * time.Hour,
	})

	codes := warningCodes(records())
	for _, want := range []string{"turn_rest_ttl_large", "ice_push_refresh_exceeds_ttl"} {
		if _, ok := codes[want]; !ok {
			t.Fatalf("expected warning_code=%s, got %#v", want, records())
		}
	}
}

func TestStartupWarnings_ConnectTimeoutLarge(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode:                         config.ModeDev,
		PeerConnectionConnectTimeout: 10 * time.Minute,
	})

	if _, ok := warningCodes(records())["peer_connection_connect_timeout_large"]; !ok {
		t.Fatalf("expected warning_code=peer_connection_connect_timeout_large, got %#v", records())
	}
}
