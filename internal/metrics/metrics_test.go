// File: internal/metrics/metrics_test.go
package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/crosslane/bridge-coordinator/internal/events"
)

func TestMetricsTrackBusEvents(t *testing.T) {
	m := NewMetrics()
	bus := events.NewBus(32)
	m.Start(bus)

	bus.Publish(events.TypeTransferCompleted, nil)
	bus.Publish(events.TypeTransferCompleted, nil)
	bus.Publish(events.TypeTransferFailed, nil)
	bus.Publish(events.TypeLockDetected, nil)
	bus.Publish(events.TypeRelayCompleted, map[string]interface{}{
		"fee":        "1000",
		"latency_ms": float64(2500),
	})
	bus.Publish(events.TypeRelayFailed, nil)
	bus.Publish(events.TypeSecurityEvent, map[string]interface{}{
		"event_type": "rate_limit_exceeded",
		"severity":   "medium",
	})
	bus.Publish(events.TypeBridgePaused, nil)
	bus.Publish(events.TypeNodeUnhealthy, nil)

	bus.Close()
	m.Wait()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.transfersCompleted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transfersFailed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.locksDetected))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.relaysCompleted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.relaysFailed))
	assert.Equal(t, float64(1000), testutil.ToFloat64(m.feesEarned))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.securityEvents.WithLabelValues("rate_limit_exceeded", "medium")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.bridgePaused))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.nodeUnhealthy))
}

func TestPauseGaugeResets(t *testing.T) {
	m := NewMetrics()
	bus := events.NewBus(32)
	m.Start(bus)

	bus.Publish(events.TypeBridgePaused, nil)
	bus.Publish(events.TypeBridgeResumed, nil)
	bus.Close()
	m.Wait()

	assert.Equal(t, float64(0), testutil.ToFloat64(m.bridgePaused))
}

func TestHandlerServesScrape(t *testing.T) {
	m := NewMetrics()

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "bridge_transfers_completed_total")
}
