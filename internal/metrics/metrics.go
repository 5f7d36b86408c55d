// File: internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crosslane/bridge-coordinator/internal/events"
)

// Metrics exposes bridge counters to Prometheus. Counters are fed from
// the event bus, so instrumented components stay unaware of Prometheus.
type Metrics struct {
	registry *prometheus.Registry

	transfersCompleted prometheus.Counter
	transfersFailed    prometheus.Counter
	locksDetected      prometheus.Counter
	relaysCompleted    prometheus.Counter
	relaysFailed       prometheus.Counter
	relayLatency       prometheus.Histogram
	feesEarned         prometheus.Counter
	securityEvents     *prometheus.CounterVec
	nodeUnhealthy      prometheus.Counter
	nodeRecovered      prometheus.Counter
	bridgePaused       prometheus.Gauge

	wg sync.WaitGroup
}

// NewMetrics creates and registers the bridge instruments
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		transfersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_transfers_completed_total",
			Help: "Transfers that locked on the source chain and minted on the destination",
		}),
		transfersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_transfers_failed_total",
			Help: "Transfers that failed at any stage",
		}),
		locksDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_locks_detected_total",
			Help: "AssetLocked events discovered by the relayer scan",
		}),
		relaysCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relays_completed_total",
			Help: "Relay tasks minted and confirmed on the destination chain",
		}),
		relaysFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relays_failed_total",
			Help: "Relay tasks that exhausted their retry budget",
		}),
		relayLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_relay_latency_seconds",
			Help:    "Time from task pickup to confirmed mint",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		feesEarned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relayer_fees_earned_wei_total",
			Help: "Cumulative relayer fees in wei",
		}),
		securityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_security_events_total",
			Help: "Security gate audit events by type and severity",
		}, []string{"event_type", "severity"}),
		nodeUnhealthy: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_node_unhealthy_total",
			Help: "RPC endpoints marked unhealthy",
		}),
		nodeRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_node_recovered_total",
			Help: "RPC endpoints recovered after being unhealthy",
		}),
		bridgePaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_paused",
			Help: "1 while the security gate rejects all transfers",
		}),
	}

	registry.MustRegister(
		m.transfersCompleted, m.transfersFailed, m.locksDetected,
		m.relaysCompleted, m.relaysFailed, m.relayLatency, m.feesEarned,
		m.securityEvents, m.nodeUnhealthy, m.nodeRecovered, m.bridgePaused,
	)
	return m
}

// Start subscribes to the bus and keeps the instruments current. The
// loop exits when the bus closes.
func (m *Metrics) Start(bus *events.Bus) {
	ch := bus.Subscribe(
		events.TypeTransferCompleted, events.TypeTransferFailed,
		events.TypeLockDetected, events.TypeRelayCompleted, events.TypeRelayFailed,
		events.TypeSecurityEvent, events.TypeBridgePaused, events.TypeBridgeResumed,
		events.TypeNodeUnhealthy, events.TypeNodeRecovered,
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for event := range ch {
			m.observe(event)
		}
	}()
}

// Wait blocks until the consumption loop has drained, after the bus
// closed.
func (m *Metrics) Wait() {
	m.wg.Wait()
}

func (m *Metrics) observe(event events.Event) {
	switch event.Type {
	case events.TypeTransferCompleted:
		m.transfersCompleted.Inc()
	case events.TypeTransferFailed:
		m.transfersFailed.Inc()
	case events.TypeLockDetected:
		m.locksDetected.Inc()
	case events.TypeRelayCompleted:
		m.relaysCompleted.Inc()
		if latencyMs, ok := event.Payload["latency_ms"].(float64); ok {
			m.relayLatency.Observe(latencyMs / 1000)
		}
		if fee, ok := event.Payload["fee"].(string); ok {
			if parsed, err := strconv.ParseFloat(fee, 64); err == nil {
				m.feesEarned.Add(parsed)
			}
		}
	case events.TypeRelayFailed:
		m.relaysFailed.Inc()
	case events.TypeSecurityEvent:
		eventType, _ := event.Payload["event_type"].(string)
		severity, _ := event.Payload["severity"].(string)
		m.securityEvents.WithLabelValues(eventType, severity).Inc()
	case events.TypeBridgePaused:
		m.bridgePaused.Set(1)
	case events.TypeBridgeResumed:
		m.bridgePaused.Set(0)
	case events.TypeNodeUnhealthy:
		m.nodeUnhealthy.Inc()
	case events.TypeNodeRecovered:
		m.nodeRecovered.Inc()
	}
}

// Handler returns the scrape endpoint for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
