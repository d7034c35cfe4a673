package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/asyncexec"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/iceserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/turnrest"
)

type pushedConfig struct {
	Type       string `json:"type"`
	ICEServers []struct {
		URLs     []string `json:"urls"`
		Username string   `json:"username"`
	} `json:"iceServers"`
	ExpiresAt int64 `json:"expiresAt"`
}

func readPush(t *testing.T, conn *websocket.Conn) pushedConfig {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg pushedConfig
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return msg
}

func dialICEWebSocket(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/webrtc/ice/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestICEWebSocket_PushesOnConnect(t *testing.T) {
	cfg := baseConfig()
	cfg.ICEServers = []iceserver.Descriptor{{URLs: iceserver.MultiURL("stun:stun.example.com:3478")}}
	m := metrics.New()

	_, baseURL := startTestServer(t, cfg, Options{Metrics: m})
	conn := dialICEWebSocket(t, baseURL)

	msg := readPush(t, conn)
	if msg.Type != "iceConfig" {
		t.Fatalf("type=%q, want iceConfig", msg.Type)
	}
	if len(msg.ICEServers) != 1 || msg.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected iceServers: %+v", msg.ICEServers)
	}
	if msg.ExpiresAt != 0 {
		t.Fatalf("expiresAt=%d, want 0 without TURN REST", msg.ExpiresAt)
	}
	if got := m.Get(metrics.EventICEConfigPushed); got != 1 {
		t.Fatalf("ice_config_pushed=%d, want 1", got)
	}
}

func TestICEWebSocket_RefreshesBeforeExpiry(t *testing.T) {
	cfg := baseConfig()
	cfg.ICEServers = []iceserver.Descriptor{{URLs: iceserver.MultiURL("turn:turn.example.com:3478")}}
	cfg.ICEPushRefreshBefore = time.Hour

	gen, err := turnrest.NewGenerator(turnrest.GeneratorConfig{
		SharedSecret:   "secret",
		TTLSeconds:     60,
		UsernamePrefix: "aero",
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	async := asyncexec.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(async.Close)

	_, baseURL := startTestServer(t, cfg, Options{TURNREST: gen, Async: async})
	conn := dialICEWebSocket(t, baseURL)

	first := readPush(t, conn)
	if first.ExpiresAt == 0 || first.ICEServers[0].Username == "" {
		t.Fatalf("expected minted credentials: %+v", first)
	}

	// The refresh window exceeds the TTL, so the next push is clamped to the
	// minimum interval.
	second := readPush(t, conn)
	if second.ICEServers[0].Username == first.ICEServers[0].Username {
		t.Fatalf("expected fresh credentials, got %q twice", first.ICEServers[0].Username)
	}
}

func TestICEWebSocket_ClosesOnICEConfigError(t *testing.T) {
	t.Setenv("AERO_ICE_SERVERS_JSON", `[{"urls":["turn:turn.example.com:3478"]}]`)
	cfg := loadConfig(t)

	_, baseURL := startTestServer(t, cfg, Options{})
	conn := dialICEWebSocket(t, baseURL)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("err=%v, want close %d", err, websocket.CloseTryAgainLater)
	}
}
