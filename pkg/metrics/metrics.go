package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keva_requests_total",
			Help: "Total number of client requests by method and status",
		},
		[]string{"method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keva_request_duration_seconds",
			Help:    "Client request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Replica operation metrics
	ReplicaOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keva_replica_ops_total",
			Help: "Total number of volume operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	// Index metrics
	IndexKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keva_index_keys",
			Help: "Number of keys currently in the index",
		},
	)

	// Maintenance metrics
	RebalancedKeysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keva_rebalanced_keys_total",
			Help: "Total number of keys processed by rebalance, by outcome",
		},
		[]string{"outcome"},
	)

	RebuiltKeysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keva_rebuilt_keys_total",
			Help: "Total number of keys recovered by rebuild",
		},
	)
)

// Register registers all metrics with Prometheus
func Register() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ReplicaOpsTotal)
	prometheus.MustRegister(IndexKeys)
	prometheus.MustRegister(RebalancedKeysTotal)
	prometheus.MustRegister(RebuiltKeysTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
