package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nixstate/sharedstate/internal/hasher"
	"github.com/nixstate/sharedstate/internal/metrics"
	"github.com/nixstate/sharedstate/internal/registry"
	"github.com/nixstate/sharedstate/internal/store"
)

const metricsNamespace = "sharedstate"

// syncTimeout bounds how long a /metrics scrape will wait for an actor's
// mailbox round trip before giving up, so a stopped or overloaded actor
// can never hang a scrape forever.
const syncTimeout = 2 * time.Second

// newCollectors builds the Prometheus collectors backing /metrics: gauges
// and a counter sampled from the live actors.
func newCollectors(reg *registry.Registry, st *store.Store, h *hasher.Hasher, latency *metrics.LatencyTracker) []prometheus.Collector {
	sessions := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "sessions",
		Help:      "Number of currently connected sessions.",
	}, func() float64 {
		n, ok := syncCount(reg.Count)
		if !ok {
			return 0
		}
		return float64(n)
	})

	storeSize := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "store_size",
		Help:      "Number of keys currently held in the shared state store.",
	}, func() float64 {
		n, ok := syncCount(st.Size)
		if !ok {
			return 0
		}
		return float64(n)
	})

	hasherDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "hasher_queue_depth",
		Help:      "Number of hash jobs submitted but not yet delivered in submission order.",
	}, func() float64 {
		return float64(h.QueueDepth())
	})

	broadcasts := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "broadcasts_total",
		Help:      "Total number of change broadcasts fanned out to sessions.",
	}, func() float64 {
		return float64(reg.BroadcastCount())
	})

	writeLatency := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "write_latency_ms",
		Help:      "Rolling average session socket write latency, in milliseconds.",
	}, latency.AverageMillis)

	return []prometheus.Collector{sessions, storeSize, hasherDepth, broadcasts, writeLatency}
}

// syncCount turns an async done-callback call (the shape every actor here
// exposes for reads) into a bounded, blocking round trip.
func syncCount(send func(done func(int)) error) (int, bool) {
	result := make(chan int, 1)
	if err := send(func(n int) { result <- n }); err != nil {
		return 0, false
	}
	select {
	case n := <-result:
		return n, true
	case <-time.After(syncTimeout):
		return 0, false
	}
}
