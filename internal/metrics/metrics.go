package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Event names.
const (
	EventPeerConnectionCreated        = "peer_connection_created"
	EventPeerConnectionFailed         = "peer_connection_failed"
	EventPeerConnectionConnectTimeout = "peer_connection_connect_timeout"
	EventICEDescriptorUnsupported     = "ice_descriptor_unsupported"
	EventICEDescriptorMissingURLs     = "ice_descriptor_missing_urls"
	EventICEURLRejected               = "ice_url_rejected"
	EventICEConfigServed              = "ice_config_served"
	EventICEConfigPushed              = "ice_config_pushed"
	EventTURNRESTCredentialError      = "turn_rest_credential_error"
)

// Metrics is a concurrency-safe counter registry exported as a single
// Prometheus counter vector with an `event` label.
type Metrics struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
}

func New() *Metrics {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aero",
		Subsystem: "webrtc_peer_factory",
		Name:      "events_total",
		Help:      "Internal event counters.",
	}, []string{"event"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(events)

	return &Metrics{
		registry: registry,
		events:   events,
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Add(float64(delta))
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	var pb dto.Metric
	if err := m.events.WithLabelValues(name).Write(&pb); err != nil {
		return 0
	}
	return uint64(pb.GetCounter().GetValue())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
