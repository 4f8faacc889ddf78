package natstore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordFindOrInsert is called after each FindOrInsert. dedupHit reports
	// whether an existing row was returned.
	RecordFindOrInsert(dedupHit bool, duration time.Duration, err error)

	// RecordSet is called after each Set.
	RecordSet(duration time.Duration, err error)

	// RecordRemove is called after each Remove. freed reports whether the
	// value's bytes were released.
	RecordRemove(freed bool, duration time.Duration, err error)

	// RecordLookup is called after each Lookup and View.
	RecordLookup(found bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordFindOrInsert(bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordSet(time.Duration, error)                {}
func (NoopMetricsCollector) RecordRemove(bool, time.Duration, error)       {}
func (NoopMetricsCollector) RecordLookup(bool)                             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	FindOrInsertCount      atomic.Int64
	FindOrInsertErrors     atomic.Int64
	FindOrInsertTotalNanos atomic.Int64
	DedupHits              atomic.Int64
	SetCount               atomic.Int64
	SetErrors              atomic.Int64
	SetTotalNanos          atomic.Int64
	RemoveCount            atomic.Int64
	RemoveErrors           atomic.Int64
	Freed                  atomic.Int64
	LookupCount            atomic.Int64
	LookupMisses           atomic.Int64
}

// RecordFindOrInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFindOrInsert(dedupHit bool, duration time.Duration, err error) {
	b.FindOrInsertCount.Add(1)
	b.FindOrInsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FindOrInsertErrors.Add(1)
		return
	}
	if dedupHit {
		b.DedupHits.Add(1)
	}
}

// RecordSet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSet(duration time.Duration, err error) {
	b.SetCount.Add(1)
	b.SetTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SetErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(freed bool, duration time.Duration, err error) {
	b.RemoveCount.Add(1)
	if err != nil {
		b.RemoveErrors.Add(1)
		return
	}
	if freed {
		b.Freed.Add(1)
	}
}

// RecordLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLookup(found bool) {
	b.LookupCount.Add(1)
	if !found {
		b.LookupMisses.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		FindOrInsertCount:    b.FindOrInsertCount.Load(),
		FindOrInsertErrors:   b.FindOrInsertErrors.Load(),
		FindOrInsertAvgNanos: avg(b.FindOrInsertTotalNanos.Load(), b.FindOrInsertCount.Load()),
		DedupHits:            b.DedupHits.Load(),
		SetCount:             b.SetCount.Load(),
		SetErrors:            b.SetErrors.Load(),
		SetAvgNanos:          avg(b.SetTotalNanos.Load(), b.SetCount.Load()),
		RemoveCount:          b.RemoveCount.Load(),
		RemoveErrors:         b.RemoveErrors.Load(),
		Freed:                b.Freed.Load(),
		LookupCount:          b.LookupCount.Load(),
		LookupMisses:         b.LookupMisses.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	FindOrInsertCount    int64
	FindOrInsertErrors   int64
	FindOrInsertAvgNanos int64
	DedupHits            int64
	SetCount             int64
	SetErrors            int64
	SetAvgNanos          int64
	RemoveCount          int64
	RemoveErrors         int64
	Freed                int64
	LookupCount          int64
	LookupMisses         int64
}
