package httpserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/metrics"
)

const (
	wsWriteWait = 1 * time.Second

	// minICEPushInterval bounds how often a single client is pushed a fresh
	// config when credentials are about to expire.
	minICEPushInterval = 1 * time.Second

	maxICEClientMessageBytes = 512
)

type icePushMessage struct {
	Type string `json:"type"`
	iceResponse
}

// handleICEWebSocket pushes the ICE config on connect and again shortly
// before minted TURN REST credentials expire. Client messages are ignored.
func (s *Server) handleICEWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		// Origin is enforced by withOriginPolicy.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := &icePusher{srv: s, conn: conn}
	defer p.close()

	if !p.push() {
		return
	}

	conn.SetReadLimit(maxICEClientMessageBytes)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type icePusher struct {
	srv  *Server
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	cancel func() bool
}

// push sends the current config and schedules the next push. It reports
// whether the connection is still usable.
func (p *icePusher) push() bool {
	s := p.srv
	resp, err := s.iceConfig()
	if err != nil {
		s.log.Warn("ice config push unavailable", "err", err)
		p.writeClose(websocket.CloseTryAgainLater, errICEConfigUnavailable.Error())
		return false
	}

	payload, err := json.Marshal(icePushMessage{Type: "iceConfig", iceResponse: resp})
	if err != nil {
		p.writeClose(websocket.CloseInternalServerErr, "failed to encode ice config")
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}

	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.log.Debug("ice config push failed", "err", err)
		return false
	}
	s.opts.Metrics.Inc(metrics.EventICEConfigPushed)

	if resp.ExpiresAt == 0 || s.opts.Async == nil {
		return true
	}
	delay := time.Until(time.Unix(resp.ExpiresAt, 0)) - s.cfg.ICEPushRefreshBefore
	if delay < minICEPushInterval {
		delay = minICEPushInterval
	}
	p.cancel = s.opts.Async.After(delay, func() {
		if !p.push() {
			_ = p.conn.Close()
		}
	})
	return true
}

func (p *icePusher) writeClose(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (p *icePusher) close() {
	p.mu.Lock()
	p.closed = true
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = p.conn.Close()
}
