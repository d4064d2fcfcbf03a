package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety. Exported to Prometheus by
// PrometheusCollector.
type Metrics struct {
	// Counters
	auctionsCreated atomic.Uint64
	bidsAccepted    atomic.Uint64
	bidsRejected    atomic.Uint64
	refunds         atomic.Uint64
	settlements     atomic.Uint64
	cancellations   atomic.Uint64
	feedUpdates     atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32 // websocket subscribers
	halted            atomic.Int32 // 1 = halted, 0 = running
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordLatency records the duration of one service operation.
func (m *Metrics) RecordLatency(latencyNs int64) {
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

func (m *Metrics) RecordAuctionCreated() { m.auctionsCreated.Add(1) }
func (m *Metrics) RecordBidAccepted()    { m.bidsAccepted.Add(1) }
func (m *Metrics) RecordBidRejected()    { m.bidsRejected.Add(1) }
func (m *Metrics) RecordRefund()         { m.refunds.Add(1) }
func (m *Metrics) RecordSettlement()     { m.settlements.Add(1) }
func (m *Metrics) RecordCancellation()   { m.cancellations.Add(1) }
func (m *Metrics) RecordFeedUpdate()     { m.feedUpdates.Add(1) }

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetHalted sets the engine halt state.
func (m *Metrics) SetHalted(halted bool) {
	if halted {
		m.halted.Store(1)
	} else {
		m.halted.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	AuctionsCreated   uint64
	BidsAccepted      uint64
	BidsRejected      uint64
	Refunds           uint64
	Settlements       uint64
	Cancellations     uint64
	FeedUpdates       uint64
	ErrorsTotal       uint64
	Operations        uint64
	AvgLatencyNs      int64
	ActiveConnections int32
	Halted            bool
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		AuctionsCreated:   m.auctionsCreated.Load(),
		BidsAccepted:      m.bidsAccepted.Load(),
		BidsRejected:      m.bidsRejected.Load(),
		Refunds:           m.refunds.Load(),
		Settlements:       m.settlements.Load(),
		Cancellations:     m.cancellations.Load(),
		FeedUpdates:       m.feedUpdates.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		Operations:        count,
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		Halted:            m.halted.Load() == 1,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.auctionsCreated.Store(0)
	m.bidsAccepted.Store(0)
	m.bidsRejected.Store(0)
	m.refunds.Store(0)
	m.settlements.Store(0)
	m.cancellations.Store(0)
	m.feedUpdates.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.halted.Store(0)
}
