// File: internal/events/bus_test.go
package events

import (
	"testing"
	"time"
)

func receiveOne(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ch := bus.Subscribe(TypeLockDetected)
	bus.Publish(TypeLockDetected, map[string]interface{}{"tx_hash": "0xabc"})

	event := receiveOne(t, ch)
	if event.Type != TypeLockDetected {
		t.Errorf("expected %s, got %s", TypeLockDetected, event.Type)
	}
	if event.Payload["tx_hash"] != "0xabc" {
		t.Errorf("unexpected payload: %v", event.Payload)
	}
	if event.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestSubscribersOnlySeeTheirTypes(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ch := bus.Subscribe(TypeRelayCompleted)
	bus.Publish(TypeRelayFailed, nil)
	bus.Publish(TypeRelayCompleted, nil)

	event := receiveOne(t, ch)
	if event.Type != TypeRelayCompleted {
		t.Errorf("received event of wrong type %s", event.Type)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected second event %s", extra.Type)
	default:
	}
}

func TestOneChannelManyTypes(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ch := bus.Subscribe(TypeBridgePaused, TypeBridgeResumed)
	bus.Publish(TypeBridgePaused, nil)
	bus.Publish(TypeBridgeResumed, nil)

	first := receiveOne(t, ch)
	second := receiveOne(t, ch)
	if first.Type != TypeBridgePaused || second.Type != TypeBridgeResumed {
		t.Errorf("got %s then %s", first.Type, second.Type)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	ch := bus.Subscribe(TypeSecurityEvent)

	// The second publish overflows the buffer; it must return anyway
	done := make(chan struct{})
	go func() {
		bus.Publish(TypeSecurityEvent, nil)
		bus.Publish(TypeSecurityEvent, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	receiveOne(t, ch)
	select {
	case <-ch:
		t.Error("overflow event should have been dropped")
	default:
	}
}

func TestCloseClosesChannelsOnce(t *testing.T) {
	bus := NewBus(8)

	// Same channel registered under two types must be closed exactly once
	ch := bus.Subscribe(TypeTransferCompleted, TypeTransferFailed)
	bus.Close()
	bus.Close()

	if _, open := <-ch; open {
		t.Error("expected channel to be closed")
	}

	// Publishing after close is a no-op
	bus.Publish(TypeTransferCompleted, nil)
}
