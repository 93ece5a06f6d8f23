package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// PrometheusExporter exports metrics in Prometheus text format.
type PrometheusExporter struct {
	collector *Collector
	port      int
	server    *http.Server
}

// NewPrometheusExporter creates a new Prometheus exporter.
func NewPrometheusExporter(collector *Collector, port int) *PrometheusExporter {
	return &PrometheusExporter{
		collector: collector,
		port:      port,
	}
}

// Handler returns the mux serving /metrics and /health.
func (pe *PrometheusExporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", pe.handleMetrics)
	mux.HandleFunc("/health", pe.handleHealth)
	return mux
}

// Start starts the HTTP server for metrics export.
func (pe *PrometheusExporter) Start() error {
	pe.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", pe.port),
		Handler:           pe.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = pe.server.ListenAndServe()
	}()

	return nil
}

// Stop stops the HTTP server.
func (pe *PrometheusExporter) Stop() error {
	if pe.server != nil {
		return pe.server.Close()
	}
	return nil
}

// handleMetrics handles the /metrics endpoint.
func (pe *PrometheusExporter) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprint(w, pe.ExportMetrics())
}

// handleHealth handles the /health endpoint.
func (pe *PrometheusExporter) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

type metricWriter struct {
	strings.Builder
}

func (mw *metricWriter) header(name, help, kind string) {
	fmt.Fprintf(mw, "# HELP %s %s\n", name, help)
	fmt.Fprintf(mw, "# TYPE %s %s\n", name, kind)
}

func (mw *metricWriter) labelled(name, label string, values map[string]int64) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(mw, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func (mw *metricWriter) quantiles(name string, p50, p95, p99 float64) {
	fmt.Fprintf(mw, "%s{quantile=\"0.50\"} %f\n", name, p50)
	fmt.Fprintf(mw, "%s{quantile=\"0.95\"} %f\n", name, p95)
	fmt.Fprintf(mw, "%s{quantile=\"0.99\"} %f\n", name, p99)
}

// ExportMetrics exports all metrics in Prometheus text format.
func (pe *PrometheusExporter) ExportMetrics() string {
	snapshot := pe.collector.Snapshot()
	var output metricWriter

	output.header("catindex_mutations_total", "Total number of index mutations", "counter")
	fmt.Fprintf(&output, "catindex_mutations_total %d\n", snapshot.MutationsTotal)

	output.header("catindex_mutations_by_op_total", "Index mutations per operation", "counter")
	output.labelled("catindex_mutations_by_op_total", "op", snapshot.Mutations)

	output.header("catindex_mutation_latency_ms", "Mutation latency in milliseconds", "gauge")
	output.quantiles("catindex_mutation_latency_ms",
		snapshot.MutationLatencyP50, snapshot.MutationLatencyP95, snapshot.MutationLatencyP99)

	output.header("catindex_queries_total", "Total number of queries", "counter")
	fmt.Fprintf(&output, "catindex_queries_total %d\n", snapshot.QueriesTotal)

	output.header("catindex_query_latency_ms", "Query latency in milliseconds", "gauge")
	output.quantiles("catindex_query_latency_ms",
		snapshot.QueryLatencyP50, snapshot.QueryLatencyP95, snapshot.QueryLatencyP99)

	output.header("catindex_query_results_total", "Total results returned by queries", "counter")
	fmt.Fprintf(&output, "catindex_query_results_total %d\n", snapshot.QueryResultsTotal)

	// Index metrics
	output.header("catindex_index_entries", "Bucket memberships per index", "gauge")
	output.labelled("catindex_index_entries", "index", snapshot.IndexEntries)

	output.header("catindex_index_buckets", "Non-empty buckets per index", "gauge")
	output.labelled("catindex_index_buckets", "index", snapshot.IndexBuckets)

	output.header("catindex_index_categories", "Category leaves per index", "gauge")
	output.labelled("catindex_index_categories", "index", snapshot.IndexCategories)

	// Persistence metrics
	output.header("catindex_flushes_total", "Successful snapshot flushes", "counter")
	fmt.Fprintf(&output, "catindex_flushes_total %d\n", snapshot.FlushesTotal)

	output.header("catindex_flush_errors_total", "Failed snapshot flushes", "counter")
	fmt.Fprintf(&output, "catindex_flush_errors_total %d\n", snapshot.FlushErrors)

	output.header("catindex_rebuilds_total", "Full index rebuilds", "counter")
	fmt.Fprintf(&output, "catindex_rebuilds_total %d\n", snapshot.RebuildsTotal)

	output.header("catindex_check_anomalies_total", "Anomalies reported by consistency checks", "counter")
	fmt.Fprintf(&output, "catindex_check_anomalies_total %d\n", snapshot.AnomaliesTotal)

	fmt.Fprintf(&output, "# Exported at %s\n", snapshot.Timestamp.Format(time.RFC3339))

	return output.String()
}

// GetSnapshot returns the current metrics snapshot.
func (pe *PrometheusExporter) GetSnapshot() *Snapshot {
	return pe.collector.Snapshot()
}
