package vecrag

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    ingestCounter     prometheus.Counter
//	    retrieveHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordIngest(count int, duration time.Duration, err error) {
//	    p.ingestCounter.Add(float64(count))
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordIngest is called after each ingest operation.
	// count is the number of chunks attempted, duration is the total
	// time taken, err is nil if successful.
	RecordIngest(count int, duration time.Duration, err error)

	// RecordRetrieve is called after each retrieval.
	// k is the number of results requested, results the number found.
	RecordRetrieve(k, results int, duration time.Duration, err error)

	// RecordDelete is called after each delete operation.
	// count is the number of chunks removed.
	RecordDelete(count int, duration time.Duration, err error)

	// RecordCompaction is called after each compaction attempt.
	// reclaimed is the number of ghost positions freed.
	RecordCompaction(reclaimed int, duration time.Duration, err error)

	// RecordSnapshotSave is called after each snapshot save.
	RecordSnapshotSave(sequence uint64, duration time.Duration, err error)

	// RecordSnapshotLoad is called after the startup load.
	// source is the tier the state came from: local, remote or empty.
	RecordSnapshotLoad(source string, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIngest(int, time.Duration, error)          {}
func (NoopMetricsCollector) RecordRetrieve(int, int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordDelete(int, time.Duration, error)          {}
func (NoopMetricsCollector) RecordCompaction(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordSnapshotSave(uint64, time.Duration, error) {}
func (NoopMetricsCollector) RecordSnapshotLoad(string, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	IngestCount        atomic.Int64
	IngestChunks       atomic.Int64
	IngestErrors       atomic.Int64
	IngestTotalNanos   atomic.Int64
	RetrieveCount      atomic.Int64
	RetrieveResults    atomic.Int64
	RetrieveErrors     atomic.Int64
	RetrieveTotalNanos atomic.Int64
	DeleteCount        atomic.Int64
	DeleteChunks       atomic.Int64
	DeleteErrors       atomic.Int64
	CompactionCount    atomic.Int64
	CompactionErrors   atomic.Int64
	ReclaimedTotal     atomic.Int64
	SaveCount          atomic.Int64
	SaveErrors         atomic.Int64
	LoadCount          atomic.Int64
	LoadErrors         atomic.Int64
}

// RecordIngest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIngest(count int, duration time.Duration, err error) {
	b.IngestCount.Add(1)
	b.IngestChunks.Add(int64(count))
	b.IngestTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.IngestErrors.Add(1)
	}
}

// RecordRetrieve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRetrieve(k, results int, duration time.Duration, err error) {
	b.RetrieveCount.Add(1)
	b.RetrieveResults.Add(int64(results))
	b.RetrieveTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RetrieveErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(count int, duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	b.DeleteChunks.Add(int64(count))
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordCompaction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompaction(reclaimed int, duration time.Duration, err error) {
	b.CompactionCount.Add(1)
	b.ReclaimedTotal.Add(int64(reclaimed))
	if err != nil {
		b.CompactionErrors.Add(1)
	}
}

// RecordSnapshotSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshotSave(sequence uint64, duration time.Duration, err error) {
	b.SaveCount.Add(1)
	if err != nil {
		b.SaveErrors.Add(1)
	}
}

// RecordSnapshotLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshotLoad(source string, duration time.Duration, err error) {
	b.LoadCount.Add(1)
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		IngestCount:      b.IngestCount.Load(),
		IngestChunks:     b.IngestChunks.Load(),
		IngestErrors:     b.IngestErrors.Load(),
		IngestAvgNanos:   avgNanos(b.IngestTotalNanos.Load(), b.IngestCount.Load()),
		RetrieveCount:    b.RetrieveCount.Load(),
		RetrieveResults:  b.RetrieveResults.Load(),
		RetrieveErrors:   b.RetrieveErrors.Load(),
		RetrieveAvgNanos: avgNanos(b.RetrieveTotalNanos.Load(), b.RetrieveCount.Load()),
		DeleteCount:      b.DeleteCount.Load(),
		DeleteChunks:     b.DeleteChunks.Load(),
		DeleteErrors:     b.DeleteErrors.Load(),
		CompactionCount:  b.CompactionCount.Load(),
		CompactionErrors: b.CompactionErrors.Load(),
		ReclaimedTotal:   b.ReclaimedTotal.Load(),
		SaveCount:        b.SaveCount.Load(),
		SaveErrors:       b.SaveErrors.Load(),
		LoadCount:        b.LoadCount.Load(),
		LoadErrors:       b.LoadErrors.Load(),
	}
}

func avgNanos(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	IngestCount      int64
	IngestChunks     int64
	IngestErrors     int64
	IngestAvgNanos   int64
	RetrieveCount    int64
	RetrieveResults  int64
	RetrieveErrors   int64
	RetrieveAvgNanos int64
	DeleteCount      int64
	DeleteChunks     int64
	DeleteErrors     int64
	CompactionCount  int64
	CompactionErrors int64
	ReclaimedTotal   int64
	SaveCount        int64
	SaveErrors       int64
	LoadCount        int64
	LoadErrors       int64
}
