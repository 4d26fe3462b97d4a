package peer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsInitOnce sync.Once
	sharedMetrics   *peerMetrics
)

type peerMetrics struct {
	connections *prometheus.CounterVec
	handshakes  *prometheus.CounterVec
	uploads     *prometheus.CounterVec
	uploadBytes prometheus.Counter
	slotsInUse  prometheus.Gauge
}

func newPeerMetrics() *peerMetrics {
	metricsInitOnce.Do(func() {
		pm := &peerMetrics{
			connections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dcnet_peer_connections_total",
				Help: "Peer connections by direction.",
			}, []string{"direction"}),
			handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dcnet_peer_handshakes_total",
				Help: "Peer handshake outcomes.",
			}, []string{"result"}),
			uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dcnet_peer_uploads_total",
				Help: "Started uploads by transfer type.",
			}, []string{"type"}),
			uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "dcnet_peer_upload_bytes_total",
				Help: "Bytes queued for upload.",
			}),
			slotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dcnet_peer_slots_in_use",
				Help: "Upload slots currently occupied.",
			}),
		}
		prometheus.MustRegister(pm.connections, pm.handshakes, pm.uploads, pm.uploadBytes, pm.slotsInUse)
		sharedMetrics = pm
	})
	return sharedMetrics
}
