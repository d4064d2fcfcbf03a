package infra

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordLatency(t *testing.T) {
	m := &Metrics{}

	m.RecordLatency(1000)
	m.RecordLatency(2000)
	m.RecordLatency(3000)

	snap := m.Snapshot()

	if snap.Operations != 3 {
		t.Errorf("Expected 3 operations, got %d", snap.Operations)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatencyNs)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := &Metrics{}

	m.RecordAuctionCreated()
	m.RecordBidAccepted()
	m.RecordBidAccepted()
	m.RecordBidRejected()
	m.RecordRefund()
	m.RecordSettlement()
	m.RecordCancellation()
	m.RecordFeedUpdate()

	snap := m.Snapshot()
	if snap.AuctionsCreated != 1 || snap.BidsAccepted != 2 || snap.BidsRejected != 1 {
		t.Errorf("Unexpected counters: %+v", snap)
	}
	if snap.Refunds != 1 || snap.Settlements != 1 || snap.Cancellations != 1 || snap.FeedUpdates != 1 {
		t.Errorf("Unexpected counters: %+v", snap)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := &Metrics{}

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.ActiveConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.ActiveConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
}

func TestMetrics_Halted(t *testing.T) {
	m := &Metrics{}

	if m.Snapshot().Halted {
		t.Error("Expected running initially")
	}

	m.SetHalted(true)
	if !m.Snapshot().Halted {
		t.Error("Expected halted")
	}

	m.SetHalted(false)
	if m.Snapshot().Halted {
		t.Error("Expected running")
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordLatency(1000)
	m.RecordError()
	m.IncrementConnections()

	m.Reset()
	snap := m.Snapshot()

	if snap.Operations != 0 {
		t.Error("Expected 0 operations after reset")
	}
	if snap.ErrorsTotal != 0 {
		t.Error("Expected 0 errors after reset")
	}
	if snap.ActiveConnections != 0 {
		t.Error("Expected 0 connections after reset")
	}
}

func TestPrometheusCollector(t *testing.T) {
	m := &Metrics{}
	m.RecordBidAccepted()
	m.RecordBidRejected()
	m.RecordBidRejected()
	m.SetHalted(true)

	c := NewPrometheusCollector("auction", m)
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	expected := `
# HELP auction_bids_total Bids by outcome.
# TYPE auction_bids_total counter
auction_bids_total{outcome="accepted"} 1
auction_bids_total{outcome="rejected"} 2
# HELP auction_engine_halted 1 when the engine halted on an invariant violation.
# TYPE auction_engine_halted gauge
auction_engine_halted 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "auction_bids_total", "auction_engine_halted"); err != nil {
		t.Errorf("Unexpected metrics: %v", err)
	}
}
