// Package obs is the observability surface: prometheus counters and a
// histogram registered via promauto, a circuit breaker guarding the KV
// store, and a minimal health checker, all wired into the build and
// query paths.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters and histograms exported by an Engine.
type Metrics struct {
	VectorInserts prometheus.Counter
	InsertBatches prometheus.Counter
	InsertErrors  prometheus.Counter
	KnnQueries    prometheus.Counter
	KnnErrors     prometheus.Counter
	KnnLatency    prometheus.Histogram
	FlushBatches  prometheus.Counter
	NodeMapResets prometheus.Counter
}

// NewMetrics registers and returns a fresh Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		VectorInserts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hnswdb_vector_inserts_total",
			Help: "Total vectors inserted across all tenants",
		}),
		InsertBatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hnswdb_insert_batches_total",
			Help: "Total InsertBatch calls",
		}),
		InsertErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hnswdb_insert_errors_total",
			Help: "Total InsertBatch calls that returned an error",
		}),
		KnnQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hnswdb_knn_queries_total",
			Help: "Total Knn queries",
		}),
		KnnErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hnswdb_knn_errors_total",
			Help: "Total Knn queries that returned an error",
		}),
		KnnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "hnswdb_knn_latency_seconds",
			Help: "Knn query latency",
		}),
		FlushBatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hnswdb_flush_batches_total",
			Help: "Total write_batch calls issued while flushing the synchronized node map",
		}),
		NodeMapResets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hnswdb_node_map_resets_total",
			Help: "Total times a tenant's synchronized node map was cleared for exceeding its soft cap",
		}),
	}
}
