package infra

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exposes a Metrics instance to a Prometheus registry.
// Values are read from the atomic counters at scrape time.
type PrometheusCollector struct {
	m *Metrics

	auctionsCreated *prometheus.Desc
	bids            *prometheus.Desc
	refunds         *prometheus.Desc
	settlements     *prometheus.Desc
	cancellations   *prometheus.Desc
	feedUpdates     *prometheus.Desc
	errors          *prometheus.Desc
	avgLatency      *prometheus.Desc
	connections     *prometheus.Desc
	halted          *prometheus.Desc
}

// NewPrometheusCollector creates a collector for m under the given namespace.
func NewPrometheusCollector(namespace string, m *Metrics) *PrometheusCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &PrometheusCollector{
		m:               m,
		auctionsCreated: desc("auctions_created_total", "Auctions created."),
		bids:            desc("bids_total", "Bids by outcome.", "outcome"),
		refunds:         desc("refunds_total", "Displaced bids refunded."),
		settlements:     desc("settlements_total", "Auctions settled."),
		cancellations:   desc("cancellations_total", "Auctions cancelled."),
		feedUpdates:     desc("price_feed_updates_total", "Price feed changes."),
		errors:          desc("errors_total", "Failed operations other than rejected bids."),
		avgLatency:      desc("operation_latency_avg_seconds", "Average service operation latency."),
		connections:     desc("ws_subscribers", "Connected websocket subscribers."),
		halted:          desc("engine_halted", "1 when the engine halted on an invariant violation."),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.auctionsCreated
	ch <- c.bids
	ch <- c.refunds
	ch <- c.settlements
	ch <- c.cancellations
	ch <- c.feedUpdates
	ch <- c.errors
	ch <- c.avgLatency
	ch <- c.connections
	ch <- c.halted
}

// Collect implements prometheus.Collector.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.auctionsCreated, s.AuctionsCreated)
	counter(c.bids, s.BidsAccepted, "accepted")
	counter(c.bids, s.BidsRejected, "rejected")
	counter(c.refunds, s.Refunds)
	counter(c.settlements, s.Settlements)
	counter(c.cancellations, s.Cancellations)
	counter(c.feedUpdates, s.FeedUpdates)
	counter(c.errors, s.ErrorsTotal)

	halted := 0.0
	if s.Halted {
		halted = 1
	}
	ch <- prometheus.MustNewConstMetric(c.avgLatency, prometheus.GaugeValue, float64(s.AvgLatencyNs)/1e9)
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.ActiveConnections))
	ch <- prometheus.MustNewConstMetric(c.halted, prometheus.GaugeValue, halted)
}
