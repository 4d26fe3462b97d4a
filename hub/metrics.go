package hub

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsInitOnce sync.Once
	sharedMetrics   *hubMetrics
)

type hubMetrics struct {
	users      *prometheus.GaugeVec
	share      *prometheus.GaugeVec
	state      *prometheus.GaugeVec
	reconnects *prometheus.CounterVec
}

func newHubMetrics() *hubMetrics {
	metricsInitOnce.Do(func() {
		hm := &hubMetrics{
			users: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dcnet_hub_users",
				Help: "Online users per hub.",
			}, []string{"hub"}),
			share: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dcnet_hub_share_bytes",
				Help: "Summed share size of users with a complete profile.",
			}, []string{"hub"}),
			state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dcnet_hub_state",
				Help: "Session state per hub as an ordinal.",
			}, []string{"hub"}),
			reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dcnet_hub_reconnects_total",
				Help: "Scheduled reconnect attempts per hub.",
			}, []string{"hub"}),
		}
		prometheus.MustRegister(hm.users, hm.share, hm.state, hm.reconnects)
		sharedMetrics = hm
	})
	return sharedMetrics
}

func (m *hubMetrics) setState(hub string, s State) {
	m.state.WithLabelValues(hub).Set(float64(s))
}
