// Package metrics exposes node metrics to Prometheus. Metrics implements the
// observation hooks of storage, the sequencer and the failure detector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "flolog"

// Metrics holds every collector of one node.
type Metrics struct {
	registry *prometheus.Registry

	storageOpDur   *prometheus.HistogramVec
	storageBytes   *prometheus.CounterVec
	batchOps       prometheus.Histogram
	tokensIssued   prometheus.Counter
	tokenStreams   prometheus.Histogram
	roundDur       prometheus.Histogram
	roundsTotal    *prometheus.CounterVec
	failedNodes    prometheus.Gauge
	wrongEpochPeer prometheus.Gauge
	epoch          prometheus.Gauge
	trimmed        *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		storageOpDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "op_duration_seconds",
			Help:      "Latency of storage operations",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 9),
		}, []string{"op"}),

		storageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "bytes_total",
			Help:      "Bytes moved by storage operations",
		}, []string{"op"}),

		batchOps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "batch_ops",
			Help:      "Operations per committed batch",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}),

		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "tokens_issued_total",
			Help:      "Global addresses issued",
		}),

		tokenStreams: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "token_streams",
			Help:      "Streams per issued token",
			Buckets:   []float64{0, 1, 2, 4, 8, 16},
		}),

		roundDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "round_duration_seconds",
			Help:      "Duration of failure detection rounds",
			Buckets:   prometheus.ExponentialBuckets(1e-3, 2, 12),
		}),

		roundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "rounds_total",
			Help:      "Failure detection rounds by outcome",
		}, []string{"outcome"}),

		failedNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "failed_nodes",
			Help:      "Peers classified failed in the last round",
		}),

		wrongEpochPeer: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "wrong_epoch_nodes",
			Help:      "Peers that answered at another epoch in the last round",
		}),

		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "layout",
			Name:      "epoch",
			Help:      "Committed layout epoch",
		}),

		trimmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "trimmed_addresses_total",
			Help:      "Addresses reclaimed by prefix trims",
		}, []string{"log"}),
	}
	m.registry.MustRegister(
		m.storageOpDur, m.storageBytes, m.batchOps,
		m.tokensIssued, m.tokenStreams,
		m.roundDur, m.roundsTotal, m.failedNodes, m.wrongEpochPeer, m.epoch, m.trimmed,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry to serve.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.storageOpDur.WithLabelValues("write").Observe(elapsed.Seconds())
	m.storageBytes.WithLabelValues("write").Add(float64(bytes))
}

func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.storageOpDur.WithLabelValues("read").Observe(elapsed.Seconds())
	m.storageBytes.WithLabelValues("read").Add(float64(bytes))
}

func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	m.storageOpDur.WithLabelValues("batch").Observe(elapsed.Seconds())
	m.storageBytes.WithLabelValues("batch").Add(float64(bytes))
	m.batchOps.Observe(float64(numOps))
}

func (m *Metrics) ObserveIssue(streams int) {
	m.tokensIssued.Inc()
	m.tokenStreams.Observe(float64(streams))
}

func (m *Metrics) ObserveRound(elapsed time.Duration, failed, wrongEpoch int, ok bool) {
	m.roundDur.Observe(elapsed.Seconds())
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.roundsTotal.WithLabelValues(outcome).Inc()
	m.failedNodes.Set(float64(failed))
	m.wrongEpochPeer.Set(float64(wrongEpoch))
}

func (m *Metrics) ObserveEpoch(epoch uint64) { m.epoch.Set(float64(epoch)) }

// EmitTrimRange counts addresses reclaimed from log.
func (m *Metrics) EmitTrimRange(log string, minAddr, maxAddr uint64) {
	if maxAddr < minAddr {
		return
	}
	m.trimmed.WithLabelValues(log).Add(float64(maxAddr - minAddr + 1))
}
