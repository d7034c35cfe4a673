// Package peerfactory assembles a peer connection configuration from a list
// of ICE server descriptors and asks a platform gateway to build the
// connection.
package peerfactory

import (
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/iceserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/metrics"
)

// Configuration is handed to Gateway.CreatePeerConnection. ICEServers is never
// nil.
type Configuration[S any] struct {
	ICEServers []S `json:"iceServers"`
}

// Gateway constructs platform objects. S is the platform's ICE server entry
// and C its connection handle; the factory treats both as opaque.
type Gateway[S, C any] interface {
	// CreateICEServers returns the entries for one descriptor, or ok=false
	// when the platform does not support it.
	CreateICEServers(urls []string, username, credential string) (servers []S, ok bool)
	CreatePeerConnection(cfg Configuration[S]) (C, error)
}

// AsyncExecutor runs deferred work for the connections built by a gateway.
type AsyncExecutor interface {
	Execute(fn func())
	After(d time.Duration, fn func()) (cancel func() bool)
}

type Factory[S, C any] struct {
	gateway    Gateway[S, C]
	async      AsyncExecutor
	log        *slog.Logger
	iceServers []iceserver.Descriptor
	metrics    *metrics.Metrics
}

// New returns a Factory. iceServers may be nil. gateway must not be nil.
func New[S, C any](gateway Gateway[S, C], async AsyncExecutor, logger *slog.Logger, iceServers []iceserver.Descriptor) *Factory[S, C] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory[S, C]{
		gateway:    gateway,
		async:      async,
		log:        logger,
		iceServers: append([]iceserver.Descriptor(nil), iceServers...),
	}
}

// SetMetrics enables event counters. It must be called before the factory is
// shared between goroutines.
func (f *Factory[S, C]) SetMetrics(m *metrics.Metrics) {
	f.metrics = m
}

func (f *Factory[S, C]) Async() AsyncExecutor {
	return f.async
}

// Configuration flattens the per-descriptor gateway results in descriptor
// order. Descriptors the gateway rejects contribute nothing.
func (f *Factory[S, C]) Configuration() Configuration[S] {
	cfg := Configuration[S]{ICEServers: []S{}}
	if len(f.iceServers) == 0 {
		return cfg
	}

	for i, desc := range f.iceServers {
		if desc.URLs.IsZero() {
			f.log.Warn("skipping ice server without urls", "index", i)
			f.metrics.Inc(metrics.EventICEDescriptorMissingURLs)
			continue
		}

		servers, ok := f.gateway.CreateICEServers(desc.URLs.URLs(), desc.Username, desc.Credential)
		if !ok {
			f.log.Debug("ice server unsupported by platform", "index", i, "urls", desc.URLs.URLs())
			f.metrics.Inc(metrics.EventICEDescriptorUnsupported)
			continue
		}
		cfg.ICEServers = append(cfg.ICEServers, servers...)
	}
	return cfg
}

// CreatePeerConnection builds a fresh configuration and returns the gateway's
// connection handle and error unchanged.
func (f *Factory[S, C]) CreatePeerConnection() (C, error) {
	cfg := f.Configuration()

	conn, err := f.gateway.CreatePeerConnection(cfg)
	if err != nil {
		f.log.Warn("failed to create peer connection", "ice_servers", len(cfg.ICEServers), "err", err)
		f.metrics.Inc(metrics.EventPeerConnectionFailed)
		return conn, err
	}

	f.log.Debug("created peer connection",
		"ice_servers", len(cfg.ICEServers),
		"ice_descriptors", len(f.iceServers),
	)
	f.metrics.Inc(metrics.EventPeerConnectionCreated)
	return conn, nil
}
