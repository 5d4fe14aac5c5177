package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejections *prometheus.CounterVec
	Degraded   prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prefixd_ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter, by endpoint class",
		}, []string{"class"}),
		Degraded: f.NewGauge(prometheus.GaugeOpts{
			Name: "prefixd_ratelimit_degraded",
			Help: "1 while the shared limiter store is bypassed for the in-process fallback",
		}),
	}
}

func (m *Metrics) IncrementRejection(class string) {
	m.Rejections.WithLabelValues(class).Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if degraded {
		m.Degraded.Set(1)
		return
	}
	m.Degraded.Set(0)
}
