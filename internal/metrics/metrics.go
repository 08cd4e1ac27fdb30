package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	InferenceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asinfer_inference_requests_total",
			Help: "Total inference requests received by the TCP service.",
		},
		[]string{"result"}, // cache_hit, computed, no_handler, timeout, error
	)

	InferenceLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asinfer_inference_latency_seconds",
			Help:    "End-to-end latency of an inference request.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 180},
		},
		[]string{"outcome"},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asinfer_cache_lookups_total",
			Help: "Result cache lookups by outcome.",
		},
		[]string{"outcome"}, // hit, miss_searched_no_path
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asinfer_queue_depth",
			Help: "Approximate depth of the per-tag processing queue.",
		},
		[]string{"tag"},
	)

	QueueEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asinfer_queue_enqueued_total",
			Help: "Entries enqueued to the processing queue.",
		},
		[]string{"tag"},
	)

	QueueDedupHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asinfer_queue_dedup_hits_total",
			Help: "Entries rejected by the queue dedup table as already-seen.",
		},
		[]string{"tag"},
	)

	GaoClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asinfer_gao_classifications_total",
			Help: "AS adjacency pairs classified by GaoInferencer, by relation.",
		},
		[]string{"relation"}, // sibling, p2c, p2p
	)

	ValleyFreeRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asinfer_valley_free_rejections_total",
			Help: "Candidate path-vector extensions rejected by the Valley-Free check.",
		},
		[]string{"reason"}, // loop, invalid_transition
	)

	DBWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asinfer_db_write_duration_seconds",
			Help:    "DB write latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)

	DBRowsAffectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asinfer_db_rows_affected_total",
			Help: "DB rows written or deleted.",
		},
		[]string{"table", "op"},
	)

	RelationshipConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asinfer_relationship_conflicts_total",
			Help: "Conflicting AS-relationship claims detected across sources.",
		},
		[]string{"source_a", "source_b"},
	)

	ParseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asinfer_parse_errors_total",
			Help: "Parse failures by stage.",
		},
		[]string{"stage", "reason"},
	)
)

var registerOnce sync.Once

// Register registers all collectors exactly once; repeated calls are a
// no-op so callers (including tests constructing the service more than
// once in a process) never hit a duplicate-registration panic.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			InferenceRequestsTotal,
			InferenceLatency,
			CacheLookupsTotal,
			QueueDepth,
			QueueEnqueuedTotal,
			QueueDedupHitsTotal,
			GaoClassificationsTotal,
			ValleyFreeRejectionsTotal,
			DBWriteDuration,
			DBRowsAffectedTotal,
			RelationshipConflictsTotal,
			ParseErrorsTotal,
		)
	})
}
