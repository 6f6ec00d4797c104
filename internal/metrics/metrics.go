// Package metrics implements the storage engine's MetricsHook seams
// (partition.MetricsHook, index.MetricsHook) on top of
// github.com/prometheus/client_golang, the same registerer-based wiring
// iris uses for its own WAL/journal/index layers.
package metrics

import (
	"time"

	"github.com/nesdb/nesdb/index"
	"github.com/prometheus/client_golang/prometheus"
)

// Hooks bundles the partition- and index-facing MetricsHook implementations
// that share one Prometheus registerer.
type Hooks struct {
	writeLatency *prometheus.HistogramVec
	writeBytes   prometheus.Counter
	readLatency  *prometheus.HistogramVec
	readBytes    prometheus.Counter
	flushLatency *prometheus.HistogramVec
	flushBytes   *prometheus.CounterVec
	addLatency   prometheus.Histogram
	addTotal     prometheus.Counter

	Partition partitionHook
	Index     indexHook
}

// New registers the engine's metric families on reg and returns a Hooks
// bundle. Pass reg=nil to use prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, namespace string) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWithPrefix(namespace+"_", reg)

	h := &Hooks{
		writeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nesdb_write_latency_seconds",
			Help:    "Latency of partition writes, by component.",
			Buckets: prometheus.DefBuckets,
		}, []string{"component"}),
		writeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nesdb_partition_write_bytes_total",
			Help: "Total payload bytes written to partitions.",
		}),
		readLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nesdb_read_latency_seconds",
			Help:    "Latency of partition reads, by component.",
			Buckets: prometheus.DefBuckets,
		}, []string{"component"}),
		readBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nesdb_partition_read_bytes_total",
			Help: "Total payload bytes read from partitions.",
		}),
		flushLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nesdb_flush_latency_seconds",
			Help:    "Latency of buffer flush+fsync, by component.",
			Buckets: prometheus.DefBuckets,
		}, []string{"component"}),
		flushBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nesdb_flush_bytes_total",
			Help: "Total bytes flushed, by component.",
		}, []string{"component"}),
		addLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nesdb_index_add_latency_seconds",
			Help:    "Latency of index entry appends.",
			Buckets: prometheus.DefBuckets,
		}),
		addTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nesdb_index_entries_added_total",
			Help: "Total index entries appended.",
		}),
	}

	factory.MustRegister(
		h.writeLatency, h.writeBytes, h.readLatency, h.readBytes,
		h.flushLatency, h.flushBytes, h.addLatency, h.addTotal,
	)

	h.Partition = partitionHook{h: h}
	h.Index = indexHook{h: h}
	return h
}

type partitionHook struct{ h *Hooks }

func (p partitionHook) ObserveWrite(elapsed time.Duration, bytes int) {
	p.h.writeLatency.WithLabelValues("partition").Observe(elapsed.Seconds())
	p.h.writeBytes.Add(float64(bytes))
}

func (p partitionHook) ObserveRead(elapsed time.Duration, bytes int) {
	p.h.readLatency.WithLabelValues("partition").Observe(elapsed.Seconds())
	p.h.readBytes.Add(float64(bytes))
}

func (p partitionHook) ObserveFlush(elapsed time.Duration, bytes int) {
	p.h.flushLatency.WithLabelValues("partition").Observe(elapsed.Seconds())
	p.h.flushBytes.WithLabelValues("partition").Add(float64(bytes))
}

type indexHook struct{ h *Hooks }

func (i indexHook) ObserveAdd(elapsed time.Duration, entries int) {
	i.h.addLatency.Observe(elapsed.Seconds())
	i.h.addTotal.Add(float64(entries))
}

func (i indexHook) ObserveFlush(elapsed time.Duration, entries int) {
	i.h.flushLatency.WithLabelValues("index").Observe(elapsed.Seconds())
	i.h.flushBytes.WithLabelValues("index").Add(float64(entries * index.EntrySize))
}
