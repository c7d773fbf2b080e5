// Package metrics defines the abstract counters sink the CAS engine reports
// through. The core never reaches for a process-wide metrics registry
// (spec §9 "global mutable counters") — callers inject a Sink, and a
// Prometheus-backed implementation is provided for processes that want one.
package metrics

// Sink is the capability the engine uses to report operational counters.
// Implementations must be safe for concurrent use.
type Sink interface {
	// IncCounter increments a named counter by 1.
	IncCounter(name string, labels ...string)
	// AddCounter adds a non-negative delta to a named counter.
	AddCounter(name string, delta float64, labels ...string)
	// SetGauge sets a named gauge to an absolute value.
	SetGauge(name string, value float64, labels ...string)
	// ObserveHistogram records an observation (e.g. a duration in seconds) into a named histogram.
	ObserveHistogram(name string, value float64, labels ...string)
}

// Counter names the engine reports. Callers wire these into whatever label
// shape their Sink implementation expects; the engine only ever passes the
// name plus positional label values in the order documented here.
const (
	// CounterAPIRequests counts API invocations; labels: (operation, outcome).
	CounterAPIRequests = "cas_api_requests_total"
	// CounterBytesReceived counts bytes accepted from callers during writes; no labels.
	CounterBytesReceived = "cas_bytes_received_total"
	// CounterBytesSent counts bytes streamed back to callers during reads; no labels.
	CounterBytesSent = "cas_bytes_sent_total"
	// CounterBytesWritten counts bytes physically written to block files; no labels.
	CounterBytesWritten = "cas_bytes_written_total"
	// CounterBlocksWritten counts new blocks committed to the pool (new=true); no labels.
	CounterBlocksWritten = "cas_blocks_written_total"
	// CounterBlocksDeduped counts chunks that hit an existing block (new=false, dedup); no labels.
	CounterBlocksDeduped = "cas_blocks_deduped_total"
	// CounterBlockWriteErrors counts block file write failures; no labels.
	CounterBlockWriteErrors = "cas_block_write_errors_total"
	// CounterBlocksDeleted counts blocks released back to zero references; no labels.
	CounterBlocksDeleted = "cas_blocks_deleted_total"
	// GaugeBucketCount names a gauge for the current number of buckets; no
	// labels. The engine does not set it.
	GaugeBucketCount = "cas_bucket_count"
)
