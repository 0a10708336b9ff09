package stream

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	TypeReady               = "ready"
	TypeDecision            = "action.decision"
	TypeConfirmationPending = "confirmation.pending"
	TypeBreakerState        = "breaker.state"
)

type Event struct {
	Type string          `json:"type"`
	At   string          `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(eventType string, data interface{}) Event {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	return Event{Type: eventType, At: time.Now().UTC().Format(time.RFC3339Nano), Data: raw}
}

// NewDecisionEvent announces the outcome of one action request.
func NewDecisionEvent(tool, actorID, decision, status, correlationID string) Event {
	return NewEvent(TypeDecision, map[string]string{
		"toolName":      tool,
		"actorId":       actorID,
		"decision":      decision,
		"status":        status,
		"correlationId": correlationID,
	})
}

// NewConfirmationEvent announces that an action is parked awaiting human
// approval.
func NewConfirmationEvent(intentID, tool string, expiresAt time.Time) Event {
	return NewEvent(TypeConfirmationPending, map[string]string{
		"intentId":  intentID,
		"toolName":  tool,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
}

// NewBreakerEvent announces a circuit state transition.
func NewBreakerEvent(name, from, to string) Event {
	return NewEvent(TypeBreakerState, map[string]string{
		"name": name,
		"from": from,
		"to":   to,
	})
}

// Hub fans events out to websocket subscribers. Slow subscribers lose
// events rather than block publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]struct{}{}}
}

func (h *Hub) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, exists := h.subs[ch]
	if exists {
		delete(h.subs, ch)
	}
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
