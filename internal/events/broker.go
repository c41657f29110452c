// Package events fans order change notifications out to stream subscribers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TopicAll receives every event regardless of order.
const TopicAll = "orders"

// Event types published by the sync engine.
const (
	TypeOrderSaved      = "order.saved"
	TypeShippingCreated = "order.shipping.created"
	TypeShippingUpdated = "order.shipping.updated"
	TypeOrderDiscovered = "order.discovered"
	TypeSyncCompleted   = "sync.completed"
)

type Event struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	OrderID string         `json:"orderId,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// New stamps an event with an id and the current time.
func New(typ, orderID string, data map[string]any) Event {
	return Event{ID: uuid.NewString(), Type: typ, OrderID: orderID, Data: data, At: time.Now().UTC()}
}

type Broker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(topic string, evt Event)
}

// Emit publishes evt on the firehose topic and on its order's topic.
func Emit(b Broker, evt Event) {
	if b == nil {
		return
	}
	b.Publish(TopicAll, evt)
	if evt.OrderID != "" {
		b.Publish(evt.OrderID, evt)
	}
}

// Memory is an in-process broker. Slow subscribers lose events rather
// than blocking publishers.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Memory) Subscribe(topic string) chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *Memory) Publish(topic string, evt Event) {
	b.mu.Lock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
