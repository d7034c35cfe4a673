package webrtcpeer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/peerfactory"
)

// Session owns a server-side PeerConnection built by the Gateway.
//
// The connection is closed when it fails, when it is closed remotely, or when
// it does not connect before the gateway's connect timeout.
type Session struct {
	pc      *webrtc.PeerConnection
	async   peerfactory.AsyncExecutor
	log     *slog.Logger
	metrics *metrics.Metrics
	onClose func(*Session)

	mu            sync.Mutex
	cancelTimeout func() bool

	close sync.Once
	done  chan struct{}
	err   error
}

func newSession(pc *webrtc.PeerConnection, async peerfactory.AsyncExecutor, logger *slog.Logger, m *metrics.Metrics, onClose func(*Session)) *Session {
	return &Session{
		pc:      pc,
		async:   async,
		log:     logger,
		metrics: m,
		onClose: onClose,
		done:    make(chan struct{}),
	}
}

func (s *Session) start(connectTimeout time.Duration) {
	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.stopConnectTimer()
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.stopConnectTimer()
			// Never tear down pion from inside its own callback goroutine.
			s.runAsync(func() { _ = s.Close() })
		}
	})

	if connectTimeout <= 0 || s.async == nil {
		return
	}

	cancel := s.async.After(connectTimeout, func() {
		if s.pc.ConnectionState() == webrtc.PeerConnectionStateConnected {
			return
		}
		s.log.Info("closing peer connection that did not connect",
			"timeout", connectTimeout,
			"state", s.pc.ConnectionState().String(),
		)
		s.metrics.Inc(metrics.EventPeerConnectionConnectTimeout)
		_ = s.Close()
	})

	s.mu.Lock()
	s.cancelTimeout = cancel
	s.mu.Unlock()

	// The state may have changed before the timer was registered.
	if s.pc.ConnectionState() == webrtc.PeerConnectionStateConnected {
		s.stopConnectTimer()
	}
}

func (s *Session) stopConnectTimer() {
	s.mu.Lock()
	cancel := s.cancelTimeout
	s.cancelTimeout = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) runAsync(fn func()) {
	if s.async != nil {
		s.async.Execute(fn)
		return
	}
	go fn()
}

func (s *Session) PeerConnection() *webrtc.PeerConnection {
	return s.pc
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Close() error {
	s.close.Do(func() {
		s.stopConnectTimer()
		if s.onClose != nil {
			s.onClose(s)
		}
		s.err = s.pc.Close()
		close(s.done)
	})
	<-s.done
	return s.err
}
