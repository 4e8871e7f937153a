package api

import (
	"context"
	"testing"
	"time"

	"wastetrack/internal/events"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	aid := "a1"
	ch := b.Subscribe(aid)

	evt := SSEEvent{Type: "test.event", Data: map[string]any{"x": 1}}
	b.Publish(aid, evt)
	b.Publish("other", SSEEvent{Type: "ignored"})

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["x"].(int) != 1 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(aid, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// second unsubscribe is a no-op
	b.Unsubscribe(aid, ch)
	if len(b.subs) != 0 {
		t.Fatalf("subscriptions leaked: %d", len(b.subs))
	}
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("a1")
	defer b.Unsubscribe("a1", ch)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("a1", SSEEvent{Type: "tick"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBrokerSink(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("a1")
	defer b.Unsubscribe("a1", ch)

	evt := events.New(events.CheckpointCovered, "a1", time.Now(), map[string]any{"index": 3})
	if err := BrokerSink(b).Publish(context.Background(), evt); err != nil {
		t.Fatal(err)
	}
	got := <-ch
	if got.Type != events.CheckpointCovered || got.Data["index"] != 3 || got.Data["eventId"] != evt.ID {
		t.Fatalf("unexpected event: %+v", got)
	}
	if _, ok := evt.Data["eventId"]; ok {
		t.Fatal("sink mutated the source event")
	}
}
