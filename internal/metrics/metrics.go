// Package metrics defines the internal Prometheus collectors instrumenting
// the dispatcher, job queue, and GC sweeper. These are registered
// collectors only — no HTTP surface is exposed (the HTTP layer is out of
// scope per spec.md's Non-goals), so operators wire Gather() into
// whatever scrape path their deployment already exposes.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// DispatchActiveDirect tracks the dispatcher's guarded inline-execution counter.
	DispatchActiveDirect = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_dispatch_active_direct",
		Help: "Current number of in-flight direct (inline) pipeline executions.",
	})

	// DispatchRequestsTotal counts Submit outcomes by resolution path.
	DispatchRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_dispatch_requests_total",
		Help: "Total Submit calls, labeled by outcome.",
	}, []string{"outcome"})

	// QueueClaimsTotal counts successful ClaimNext leases.
	QueueClaimsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_queue_claims_total",
		Help: "Total jobs successfully claimed by any worker.",
	})

	// QueueJobsTotal counts jobs reaching a terminal state, labeled by status.
	QueueJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_queue_jobs_total",
		Help: "Total jobs reaching a terminal state, labeled by status.",
	}, []string{"status"})

	// GCDeletedTotal counts job documents removed by the sweeper (their
	// result documents are deleted too but not counted).
	GCDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_gc_deleted_total",
		Help: "Total terminal job documents deleted by the GC sweeper.",
	})
)

// Registry is a dedicated Prometheus registry carrying only this
// package's collectors, so embedding applications can choose whether to
// merge it into their own default registry.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		DispatchActiveDirect,
		DispatchRequestsTotal,
		QueueClaimsTotal,
		QueueJobsTotal,
		GCDeletedTotal,
	)
}
