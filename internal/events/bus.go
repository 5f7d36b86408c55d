// File: internal/events/bus.go
package events

import (
	"sync"
	"time"


	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// Type identifies an event category on the bus
type Type string

const (
	TypeNodeUnhealthy     Type = "node:unhealthy"
	TypeNodeRecovered     Type = "node:recovered"
	TypeBridgePaused      Type = "bridge:paused"
	TypeBridgeResumed     Type = "bridge:resumed"
	TypeSecurityEvent     Type = "security:event"
	TypeMultiSigApproved  Type = "multisig:approved"
	TypeLockDetected      Type = "lock:detected"
	TypeRelayCompleted    Type = "relay:completed"
	TypeRelayFailed       Type = "relay:failed"
	TypeTransferCompleted Type = "transfer:completed"
	TypeTransferFailed    Type = "transfer:failed"
)

// Event is one typed notification
type Event struct {
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Bus fans events out to subscribers over buffered channels. Publishing
// never blocks: a subscriber that falls behind drops events rather than
// stalling the component that emitted them.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]chan Event
	logger      *utils.Logger
	bufferSize  int
	closed      bool
}

// NewBus creates a new event bus
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Bus{
		subscribers: make(map[Type][]chan Event),
		logger:      utils.GetLogger(),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers interest in the given event types and returns the
// channel events will be delivered on.
func (b *Bus) Subscribe(types ...Type) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}
	return ch
}

// Publish delivers an event to every subscriber of its type
func (b *Bus) Publish(eventType Type, payload map[string]interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("Event dropped, subscriber buffer full", "type", eventType)
		}
	}
}

// Close closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan Event]bool)
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			if !seen[ch] {
				close(ch)
				seen[ch] = true
			}
		}
	}
	b.subscribers = make(map[Type][]chan Event)
}
