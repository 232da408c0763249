package store

import "github.com/VictoriaMetrics/metrics"

var (
	docWrites      = metrics.NewCounter(`viewkit_store_writes_total`)
	docConflicts   = metrics.NewCounter(`viewkit_store_conflicts_total`)
	viewQueries    = metrics.NewCounter(`viewkit_store_queries_total`)
	indexedDocs    = metrics.NewCounter(`viewkit_store_indexed_docs_total`)
	mapFailures    = metrics.NewCounter(`viewkit_store_map_failures_total`)
	queryDurations = metrics.NewHistogram(`viewkit_store_query_duration_seconds`)
)
