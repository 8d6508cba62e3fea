package monitor

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarg/ucmwatch/internal/metrics"
)

// Default per-subscriber queue depth. Small on purpose: a stalled SSE client
// only ever costs this many buffered events before drops begin.
const defaultQueueSize = 32

// Default replay ring size when the caller passes zero.
const defaultRingSize = 256

// EventBus provides pub-sub event distribution for SSE subscribers.
// It maintains a ring buffer for replay on reconnect.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan Event
	nextID      uint64
	seq         atomic.Uint64
	queueSize   int

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

// NewEventBus creates an event bus with the given replay ring size and
// per-subscriber queue depth (0 means the default).
func NewEventBus(ringSize, queueSize int) *EventBus {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &EventBus{
		subscribers: make(map[uint64]chan Event),
		queueSize:   queueSize,
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a new subscriber and returns a channel and cancel function.
func (eb *EventBus) Subscribe() (<-chan Event, func()) {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	ch := make(chan Event, eb.queueSize)
	eb.subscribers[id] = ch
	eb.mu.Unlock()

	cancel := func() {
		eb.mu.Lock()
		delete(eb.subscribers, id)
		eb.mu.Unlock()
	}
	return ch, cancel
}

// ReplaySince returns buffered events after the given event ID. An empty or
// unknown ID (overwritten by ring wrap) replays everything available so the
// client doesn't silently miss events.
func (eb *EventBus) ReplaySince(lastEventID string) []Event {
	eb.ringMu.RLock()
	defer eb.ringMu.RUnlock()

	var all, after []Event
	found := lastEventID == ""

	for i := 0; i < eb.ringSize; i++ {
		idx := (eb.ringHead + i) % eb.ringSize
		e := eb.ring[idx]
		if e.ID == "" {
			continue
		}
		all = append(all, e)
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		after = append(after, e)
	}

	if !found {
		return all
	}
	return after
}

// Publish serializes the payload and delivers the event to every subscriber.
// Enqueue is non-blocking: full queues drop the event for that subscriber
// only, so a slow SSE client can never stall the correlator.
func (eb *EventBus) Publish(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	seq := eb.seq.Add(1)
	event := Event{
		ID:        fmt.Sprintf("%d-%d", time.Now().UnixMilli(), seq),
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	metrics.SSEEventsPublishedTotal.Inc()

	eb.ringMu.Lock()
	eb.ring[eb.ringHead] = event
	eb.ringHead = (eb.ringHead + 1) % eb.ringSize
	eb.ringMu.Unlock()

	eb.mu.RLock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Drop if subscriber is slow
		}
	}
	eb.mu.RUnlock()
}
