package api

import (
	"context"
	"sync"

	"wastetrack/internal/events"
)

type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans events out to live subscribers of one assignment.
type EventBroker interface {
	Subscribe(assignmentID string) chan SSEEvent
	Unsubscribe(assignmentID string, ch chan SSEEvent)
	Publish(assignmentID string, evt SSEEvent)
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // assignmentId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(assignmentID string) chan SSEEvent {
	ch := make(chan SSEEvent, 16)
	b.mu.Lock()
	if b.subs[assignmentID] == nil {
		b.subs[assignmentID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[assignmentID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(assignmentID string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[assignmentID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, assignmentID)
	}
	close(ch)
}

// Publish never blocks; slow subscribers miss events.
func (b *Broker) Publish(assignmentID string, evt SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[assignmentID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// BrokerSink forwards tracker events to live subscribers.
func BrokerSink(b EventBroker) events.Sink {
	return events.SinkFunc(func(_ context.Context, evt events.Event) error {
		data := make(map[string]any, len(evt.Data)+2)
		for k, v := range evt.Data {
			data[k] = v
		}
		data["eventId"] = evt.ID
		data["ts"] = evt.TS
		b.Publish(evt.AssignmentID, SSEEvent{Type: evt.Type, Data: data})
		return nil
	})
}
