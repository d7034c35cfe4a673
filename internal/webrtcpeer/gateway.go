package webrtcpeer

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/iceserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/peerfactory"
)

var ErrGatewayClosed = errors.New("gateway closed")

type GatewayOptions struct {
	// ConnectTimeout closes sessions that have not reached the connected state
	// in time. Zero disables the timeout.
	ConnectTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Gateway builds pion ICE servers and PeerConnections for a
// peerfactory.Factory.
type Gateway struct {
	api     *webrtc.API
	async   peerfactory.AsyncExecutor
	opts    GatewayOptions
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	closed   bool
	sessions map[*Session]struct{}
}

var _ peerfactory.Gateway[webrtc.ICEServer, *Session] = (*Gateway)(nil)

func NewGateway(api *webrtc.API, async peerfactory.AsyncExecutor, opts GatewayOptions) *Gateway {
	if api == nil {
		api = webrtc.NewAPI()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		api:      api,
		async:    async,
		opts:     opts,
		log:      logger,
		metrics:  opts.Metrics,
		sessions: make(map[*Session]struct{}),
	}
}

// CreateICEServers keeps the URLs pion can use and returns them as a single
// entry. URLs that do not parse as STUN/TURN, and TURN URLs without
// credentials, are dropped. ok is false when nothing survives.
func (g *Gateway) CreateICEServers(urls []string, username, credential string) ([]webrtc.ICEServer, bool) {
	hasCreds := strings.TrimSpace(username) != "" && strings.TrimSpace(credential) != ""

	kept := make([]string, 0, len(urls))
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		uri, err := stun.ParseURI(url)
		if err != nil {
			g.log.Debug("dropping unsupported ice url", "url", url, "err", err)
			g.metrics.Inc(metrics.EventICEURLRejected)
			continue
		}
		if iceserver.IsTURNScheme(uri.Scheme) && !hasCreds {
			g.log.Debug("dropping turn url without credentials", "url", url)
			g.metrics.Inc(metrics.EventICEURLRejected)
			continue
		}
		kept = append(kept, url)
	}
	if len(kept) == 0 {
		return nil, false
	}

	server := webrtc.ICEServer{URLs: kept}
	if username != "" || credential != "" {
		server.Username = username
		server.Credential = credential
		server.CredentialType = webrtc.ICECredentialTypePassword
	}
	return []webrtc.ICEServer{server}, true
}

// CreatePeerConnection builds a PeerConnection and wraps it in a Session.
func (g *Gateway) CreatePeerConnection(cfg peerfactory.Configuration[webrtc.ICEServer]) (*Session, error) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return nil, ErrGatewayClosed
	}

	pc, err := g.api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, err
	}

	s := newSession(pc, g.async, g.log, g.metrics, g.forget)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = s.Close()
		return nil, ErrGatewayClosed
	}
	g.sessions[s] = struct{}{}
	g.mu.Unlock()

	s.start(g.opts.ConnectTimeout)
	return s, nil
}

// ActiveSessions returns the number of sessions that have not been closed.
func (g *Gateway) ActiveSessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Close closes every live session and rejects further PeerConnections.
func (g *Gateway) Close() error {
	g.mu.Lock()
	g.closed = true
	sessions := make([]*Session, 0, len(g.sessions))
	for s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Gateway) forget(s *Session) {
	g.mu.Lock()
	delete(g.sessions, s)
	g.mu.Unlock()
}
