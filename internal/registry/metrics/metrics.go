package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks registry operations and escrow movements.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	TreasuryBalance   prometheus.Gauge
	FeesCollected     prometheus.Counter
	Refunded          prometheus.Counter
	Withdrawn         prometheus.Counter
	CacheLookups      *prometheus.CounterVec
}

// New registers the registry metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prefixd_registry_operations_total",
			Help: "Registry operations by name and result code",
		}, []string{"operation", "result"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prefixd_registry_operation_duration_seconds",
			Help:    "Time spent inside one registry unit of work",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		TreasuryBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "prefixd_treasury_balance",
			Help: "Treasury balance after the last committed escrow movement",
		}),
		FeesCollected: f.NewCounter(prometheus.CounterOpts{
			Name: "prefixd_fees_collected_total",
			Help: "Fees moved into the treasury by submissions and recoveries",
		}),
		Refunded: f.NewCounter(prometheus.CounterOpts{
			Name: "prefixd_fees_refunded_total",
			Help: "Fees returned from the treasury to owners",
		}),
		Withdrawn: f.NewCounter(prometheus.CounterOpts{
			Name: "prefixd_treasury_withdrawn_total",
			Help: "Amount withdrawn from the treasury by the admin",
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prefixd_prefix_cache_lookups_total",
			Help: "Prefix read cache lookups by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveOperation records the outcome of one operation. result is "ok" or an error code.
func (m *Metrics) ObserveOperation(op, result string, elapsed time.Duration) {
	m.Operations.WithLabelValues(op, result).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) SetTreasuryBalance(balance uint64) {
	m.TreasuryBalance.Set(float64(balance))
}

func (m *Metrics) AddFeesCollected(amount uint64) {
	m.FeesCollected.Add(float64(amount))
}

func (m *Metrics) AddRefunded(amount uint64) {
	m.Refunded.Add(float64(amount))
}

func (m *Metrics) AddWithdrawn(amount uint64) {
	m.Withdrawn.Add(float64(amount))
}

func (m *Metrics) IncCacheHit()  { m.CacheLookups.WithLabelValues("hit").Inc() }
func (m *Metrics) IncCacheMiss() { m.CacheLookups.WithLabelValues("miss").Inc() }
