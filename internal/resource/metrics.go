package resource

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the resource pools.
type Metrics struct {
	PoolLimit          *prometheus.GaugeVec
	PoolInUse          *prometheus.GaugeVec
	AcquireFailures    *prometheus.CounterVec
	AdmissionsRejected prometheus.Counter
}

// NewMetrics creates and registers the pool metrics. Registration happens
// once per process; subsequent calls return the same set.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			PoolLimit: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "agentd_resource_pool_limit",
					Help: "Current concurrency limit per pool",
				},
				[]string{"pool"},
			),
			PoolInUse: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "agentd_resource_pool_in_use",
					Help: "Slots currently held per pool",
				},
				[]string{"pool"},
			),
			AcquireFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentd_resource_acquire_failures_total",
					Help: "Acquisitions that gave up before a slot freed",
				},
				[]string{"pool"},
			),
			AdmissionsRejected: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "agentd_resource_admissions_rejected_total",
					Help: "Requests rejected by the ingress rate limit",
				},
			),
		}
	})
	return globalMetrics
}
