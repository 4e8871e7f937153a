package api

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so that every API
// replica sees events produced by any other.
type RedisBroker struct {
	rdb *redis.Client

	mu   sync.Mutex
	subs map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisBroker{rdb: rdb, subs: map[chan SSEEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(assignmentID string) chan SSEEvent {
	ch := make(chan SSEEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, chanName(assignmentID))
	// wait for the subscription confirmation
	if _, err := ps.Receive(ctx); err != nil {
		log.Printf("redis subscribe %s: %v", assignmentID, err)
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt SSEEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the Redis subscription; ch is closed once its reader
// goroutine drains.
func (b *RedisBroker) Unsubscribe(_ string, ch chan SSEEvent) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(assignmentID string, evt SSEEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("redis publish %s: %v", evt.Type, err)
		return
	}
	if err := b.rdb.Publish(ctx, chanName(assignmentID), data).Err(); err != nil {
		log.Printf("redis publish %s: %v", evt.Type, err)
	}
}

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func chanName(assignmentID string) string { return "wastetrack:assignment:" + assignmentID }
