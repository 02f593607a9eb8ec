// Package metrics exposes the admission/routing reject-reason,
// queue-depth, and boundary-position series consumed by the admin
// status surface (§6, §7). Label cardinality is kept low deliberately:
// per-pool and per-runtime, never per-request or per-API-key.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RejectsTotal counts admission rejections by pool and reason code,
	// matching the §7 taxonomy's metric-facing names.
	RejectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmcore_router_rejects_total",
			Help: "Admission rejections by pool and reject reason.",
		},
		[]string{"pool", "reason"},
	)

	// QueueDepth is the current in-flight count for one runtime's gate.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmcore_router_queue_depth",
			Help: "Current in-flight admissions for a pool's active runtime.",
		},
		[]string{"pool"},
	)

	// QueueCapacity is the configured capacity for one runtime's gate.
	QueueCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmcore_router_queue_capacity",
			Help: "Configured queue capacity for a pool's active runtime.",
		},
		[]string{"pool"},
	)

	// BucketBoundary reports the current token boundary for bucket index
	// i, so operators can watch adaptive bucketing move over time.
	BucketBoundary = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmcore_bucket_boundary_tokens",
			Help: "Current upper-bound token boundary for a bucket index.",
		},
		[]string{"bucket_index"},
	)

	// InstanceBudgetHeadroomRPM/TPM report advisory availability per
	// instance, for dashboards only — never consulted by admission.
	InstanceBudgetHeadroomRPM = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmcore_instance_budget_headroom_rpm",
			Help: "Advisory available requests-per-minute headroom for an instance.",
		},
		[]string{"instance_id"},
	)
	InstanceBudgetHeadroomTPM = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmcore_instance_budget_headroom_tpm",
			Help: "Advisory available tokens-per-minute headroom for an instance.",
		},
		[]string{"instance_id"},
	)

	// RuntimeState publishes one gauge per runtime, valued 0/1/2 for
	// ACTIVE/DRAINING/RETIRED, keyed by runtime ID so a dashboard can
	// chart a hot-swap's drain-then-retire sequence.
	RuntimeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmcore_router_runtime_state",
			Help: "Runtime lifecycle state: 0=ACTIVE, 1=DRAINING, 2=RETIRED.",
		},
		[]string{"runtime_id", "pool"},
	)
)

// Registry bundles every collector defined here for a single
// MustRegister call at process start.
var Registry = []prometheus.Collector{
	RejectsTotal,
	QueueDepth,
	QueueCapacity,
	BucketBoundary,
	InstanceBudgetHeadroomRPM,
	InstanceBudgetHeadroomTPM,
	RuntimeState,
}

// MustRegister registers every collector in Registry against reg.
func MustRegister(reg *prometheus.Registry) {
	for _, c := range Registry {
		reg.MustRegister(c)
	}
}
