// Package webhooks delivers coverage events to an HTTP endpoint with an
// HMAC signature, retrying failed deliveries with exponential backoff.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"wastetrack/internal/events"
)

type Delivery struct {
	ID        string
	EventType string
	Payload   []byte
	Attempts  int
	NextAt    time.Time
	LastError string
}

type Target struct {
	URL    string
	Secret string
	// Events limits deliveries to these types; empty means all.
	Events []string
}

func (t Target) wants(typ string) bool {
	if len(t.Events) == 0 {
		return true
	}
	for _, e := range t.Events {
		if e == typ {
			return true
		}
	}
	return false
}

// Worker queues events in memory and posts them to a single target.
type Worker struct {
	Target      Target
	HTTP        *http.Client
	MaxAttempts int
	MaxQueue    int

	mu      sync.Mutex
	pending []*Delivery
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

func NewWorker(t Target, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Worker{
		Target:      t,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: maxAttempts,
		MaxQueue:    10000,
		stop:        make(chan struct{}),
		now:         time.Now,
	}
}

// Publish enqueues evt for delivery. It never blocks on the network.
func (w *Worker) Publish(_ context.Context, evt events.Event) error {
	if !w.Target.wants(evt.Type) {
		return nil
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) >= w.MaxQueue {
		log.Printf("webhook queue full, dropping %s %s", evt.Type, evt.ID)
		return nil
	}
	w.pending = append(w.pending, &Delivery{ID: evt.ID, EventType: evt.Type, Payload: body, NextAt: w.now()})
	return nil
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

// Stop ends the delivery loop. Undelivered events are discarded.
func (w *Worker) Stop() { w.once.Do(func() { close(w.stop) }) }

// Pending reports how many deliveries are queued.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Worker) due() []*Delivery {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	var due, rest []*Delivery
	for _, d := range w.pending {
		if !d.NextAt.After(now) && len(due) < 50 {
			due = append(due, d)
		} else {
			rest = append(rest, d)
		}
	}
	w.pending = rest
	return due
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var retry []*Delivery
	for _, d := range w.due() {
		code, err := w.send(ctx, d)
		if err == nil && code >= 200 && code < 300 {
			continue
		}
		d.Attempts++
		d.LastError = http.StatusText(code)
		if err != nil {
			d.LastError = err.Error()
		}
		if d.Attempts >= w.MaxAttempts {
			log.Printf("webhook %s %s failed after %d attempts: %s", d.EventType, d.ID, d.Attempts, d.LastError)
			continue
		}
		d.NextAt = w.now().Add(nextBackoff(d.Attempts - 1))
		retry = append(retry, d)
	}
	if len(retry) > 0 {
		w.mu.Lock()
		w.pending = append(w.pending, retry...)
		w.mu.Unlock()
	}
}

func (w *Worker) send(ctx context.Context, d *Delivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Target.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", d.EventType)
	req.Header.Set("X-Event-Id", d.ID)
	if w.Target.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(w.Target.Secret, d.Payload))
	}
	resp, err := w.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
