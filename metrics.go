package bcache

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
//	    hits   prometheus.Counter
//	    misses prometheus.Counter
//	}
//
//	func (p *PrometheusCollector) RecordAcquire(hit bool, d time.Duration, err error) {
//	    if hit {
//	        p.hits.Inc()
//	    } else {
//	        p.misses.Inc()
//	    }
//	}
type MetricsCollector interface {
	// RecordAcquire is called after each Acquire. hit reports whether the
	// block was already cached; err is nil if successful.
	RecordAcquire(hit bool, duration time.Duration, err error)

	// RecordEviction is called when a used slot is reassigned.
	RecordEviction()

	// RecordDeviceRead is called after each device read.
	RecordDeviceRead(duration time.Duration, err error)

	// RecordDeviceWrite is called after each device write.
	RecordDeviceWrite(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAcquire(bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordEviction()                          {}
func (NoopMetricsCollector) RecordDeviceRead(time.Duration, error)    {}
func (NoopMetricsCollector) RecordDeviceWrite(time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AcquireCount      atomic.Int64
	AcquireErrors     atomic.Int64
	AcquireTotalNanos atomic.Int64
	Hits              atomic.Int64
	Misses            atomic.Int64
	Evictions         atomic.Int64
	ReadCount         atomic.Int64
	ReadErrors        atomic.Int64
	ReadTotalNanos    atomic.Int64
	WriteCount        atomic.Int64
	WriteErrors       atomic.Int64
	WriteTotalNanos   atomic.Int64
}

// RecordAcquire implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAcquire(hit bool, duration time.Duration, err error) {
	b.AcquireCount.Add(1)
	b.AcquireTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AcquireErrors.Add(1)
		return
	}
	if hit {
		b.Hits.Add(1)
	} else {
		b.Misses.Add(1)
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction() {
	b.Evictions.Add(1)
}

// RecordDeviceRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDeviceRead(duration time.Duration, err error) {
	b.ReadCount.Add(1)
	b.ReadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ReadErrors.Add(1)
	}
}

// RecordDeviceWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDeviceWrite(duration time.Duration, err error) {
	b.WriteCount.Add(1)
	b.WriteTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AcquireCount:    b.AcquireCount.Load(),
		AcquireErrors:   b.AcquireErrors.Load(),
		AcquireAvgNanos: avg(b.AcquireTotalNanos.Load(), b.AcquireCount.Load()),
		Hits:            b.Hits.Load(),
		Misses:          b.Misses.Load(),
		Evictions:       b.Evictions.Load(),
		ReadCount:       b.ReadCount.Load(),
		ReadErrors:      b.ReadErrors.Load(),
		ReadAvgNanos:    avg(b.ReadTotalNanos.Load(), b.ReadCount.Load()),
		WriteCount:      b.WriteCount.Load(),
		WriteErrors:     b.WriteErrors.Load(),
		WriteAvgNanos:   avg(b.WriteTotalNanos.Load(), b.WriteCount.Load()),
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
	AcquireCount    int64
	AcquireErrors   int64
	AcquireAvgNanos int64
	Hits            int64
	Misses          int64
	Evictions       int64
	ReadCount       int64
	ReadErrors      int64
	ReadAvgNanos    int64
	WriteCount      int64
	WriteErrors     int64
	WriteAvgNanos   int64
}

// HitRatio returns hits over successful acquires, or 0 before the first.
func (s BasicMetricsStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
