package settlement

import (
	"github.com/prometheus/client_golang/prometheus"

	"chainquiz-service/internal/domain"
)

// Metrics exports the settlement queue state for scraping.
type Metrics struct {
	JobsByStatus   *prometheus.GaugeVec
	Settled        prometheus.Counter
	PoolShortfalls prometheus.Counter
}

// NewMetrics registers the settlement collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settlement_jobs",
			Help: "Settlement jobs by status.",
		}, []string{"status"}),
		Settled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_confirmed_total",
			Help: "Settlements confirmed since process start.",
		}),
		PoolShortfalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_pool_shortfalls_total",
			Help: "Attempts skipped because the funding pool could not cover the payout.",
		}),
	}
	reg.MustRegister(m.JobsByStatus, m.Settled, m.PoolShortfalls)
	return m
}

func (m *Metrics) SetJobCounts(counts map[domain.JobStatus]int) {
	for _, status := range []domain.JobStatus{domain.JobPending, domain.JobConfirmed, domain.JobFailed} {
		m.JobsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
