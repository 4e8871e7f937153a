package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeChannel struct {
	declared  []string
	published []amqp.Publishing
	keys      []string
	bindErr   error
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = append(f.declared, "exchange:"+name+":"+kind)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.declared = append(f.declared, "queue:"+name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return f.bindErr
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestAMQPPublisherDeclaresTopology(t *testing.T) {
	ch := &fakeChannel{}
	if _, err := newAMQPPublisher(ch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.declared) != 2 || ch.declared[0] != "exchange:wastetrack.events:fanout" || ch.declared[1] != "queue:coverage_events" {
		t.Fatalf("unexpected topology: %v", ch.declared)
	}
}

func TestAMQPPublisherBindError(t *testing.T) {
	ch := &fakeChannel{bindErr: errors.New("boom")}
	if _, err := newAMQPPublisher(ch); err == nil {
		t.Fatal("expected error")
	}
}

func TestAMQPPublisherPublish(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch)
	if err != nil {
		t.Fatal(err)
	}
	evt := New(CheckpointCovered, "a1", time.Unix(1715003456, 0), map[string]any{"index": 3})
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(ch.published) != 1 || ch.keys[0] != CheckpointCovered {
		t.Fatalf("unexpected publish: %v %v", ch.keys, ch.published)
	}
	msg := ch.published[0]
	if msg.ContentType != "application/json" || msg.MessageId != evt.ID {
		t.Fatalf("bad headers: %+v", msg)
	}
	var got Event
	if err := json.Unmarshal(msg.Body, &got); err != nil {
		t.Fatal(err)
	}
	if got.AssignmentID != "a1" || got.Data["index"].(float64) != 3 {
		t.Fatalf("bad body: %+v", got)
	}
}
