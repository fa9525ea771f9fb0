package multimap

// metrics.go is a thin abstraction over Prometheus so a Shard can be
// used with or without metrics. Passing WithMetrics(reg) registers
// labeled collectors on reg; otherwise a no-op sink is used and the hot
// path does not pay for metric updates.
//
// ┌──────────────────────────────────┐
// │ Metric                      │Type│
// ├──────────────────────────────┼────┤
// │ multimap_keys                │Gge │
// │ multimap_values_added_total  │Ctr │
// │ multimap_values_removed_total│Ctr │
// │ multimap_blocks_total        │Gge │
// │ multimap_store_buffer_bytes  │Gge │
// │ multimap_gets_total          │Ctr │
// └──────────────────────────────────┘

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink abstracts away the concrete backend (Prometheus vs noop).
type metricsSink interface {
	incGets()
	incValuesAdded(n uint64)
	incValuesRemoved(n uint64)
	setKeys(n float64)
	setBlocks(n float64)
	setStoreBufferBytes(n float64)
}

type noopMetrics struct{}

func (noopMetrics) incGets()                 {}
func (noopMetrics) incValuesAdded(uint64)     {}
func (noopMetrics) incValuesRemoved(uint64)   {}
func (noopMetrics) setKeys(float64)           {}
func (noopMetrics) setBlocks(float64)         {}
func (noopMetrics) setStoreBufferBytes(float64) {}

type promMetrics struct {
	gets           prometheus.Counter
	valuesAdded    prometheus.Counter
	valuesRemoved  prometheus.Counter
	keys           prometheus.Gauge
	blocks         prometheus.Gauge
	storeBuffer    prometheus.Gauge
}

func newPromMetrics(prefix string, reg *prometheus.Registry) *promMetrics {
	pm := &promMetrics{
		gets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "multimap",
			Name:        "gets_total",
			Help:        "Number of get/getUnique lookups.",
			ConstLabels: prometheus.Labels{"shard": prefix},
		}),
		valuesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "multimap",
			Name:        "values_added_total",
			Help:        "Number of values appended.",
			ConstLabels: prometheus.Labels{"shard": prefix},
		}),
		valuesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "multimap",
			Name:        "values_removed_total",
			Help:        "Number of values marked deleted.",
			ConstLabels: prometheus.Labels{"shard": prefix},
		}),
		keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "multimap",
			Name:        "keys",
			Help:        "Number of live keys.",
			ConstLabels: prometheus.Labels{"shard": prefix},
		}),
		blocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "multimap",
			Name:        "blocks_total",
			Help:        "Number of committed-plus-buffered blocks.",
			ConstLabels: prometheus.Labels{"shard": prefix},
		}),
		storeBuffer: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "multimap",
			Name:        "store_buffer_bytes",
			Help:        "Bytes buffered in memory awaiting an implicit flush.",
			ConstLabels: prometheus.Labels{"shard": prefix},
		}),
	}
	reg.MustRegister(pm.gets, pm.valuesAdded, pm.valuesRemoved, pm.keys, pm.blocks, pm.storeBuffer)
	return pm
}

func (m *promMetrics) incGets()                            { m.gets.Inc() }
func (m *promMetrics) incValuesAdded(n uint64)              { m.valuesAdded.Add(float64(n)) }
func (m *promMetrics) incValuesRemoved(n uint64)            { m.valuesRemoved.Add(float64(n)) }
func (m *promMetrics) setKeys(n float64)                    { m.keys.Set(n) }
func (m *promMetrics) setBlocks(n float64)                  { m.blocks.Set(n) }
func (m *promMetrics) setStoreBufferBytes(n float64)        { m.storeBuffer.Set(n) }

func newMetricsSink(prefix string, reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(prefix, reg)
}
