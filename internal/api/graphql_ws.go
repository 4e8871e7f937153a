package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wastetrack/internal/events"
)

// Minimal graphql-transport-ws style protocol streaming assignment events.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// subscription fields and the event types each one carries; nil means all.
var wsFields = map[string]map[string]bool{
	"coverageEvents":      nil,
	"checkpointCovered":   {events.CheckpointCovered: true},
	"assignmentCompleted": {events.AssignmentCompleted: true},
}

// wsField picks the requested field from the subscription query.
func wsField(query string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "checkpointcovered"):
		return "checkpointCovered"
	case strings.Contains(q, "assignmentcompleted"):
		return "assignmentCompleted"
	default:
		return "coverageEvents"
	}
}

func wsError(id, msg string) []wsMessage {
	pl, _ := json.Marshal([]map[string]string{{"message": msg}})
	return []wsMessage{{Type: "error", ID: id, Payload: pl}, {Type: "complete", ID: id}}
}

// LiveWSHandler handles /v1/live/ws
func (s *Server) LiveWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		assignmentID string
		ch           chan SSEEvent
	}
	subs := map[string]sub{}
	done := make(chan struct{})
	defer close(done)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// gorilla connections allow one concurrent writer
	var wmu sync.Mutex
	write := func(msgs ...wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		for _, m := range msgs {
			if err := conn.WriteJSON(m); err != nil {
				return err
			}
		}
		return nil
	}

	acked := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			if acked {
				continue
			}
			acked = true
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			if !acked {
				_ = write(wsError(msg.ID, "connection_init required")...)
				continue
			}
			if _, dup := subs[msg.ID]; dup || msg.ID == "" {
				_ = write(wsError(msg.ID, "subscription id missing or in use")...)
				continue
			}
			var pl subscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			aid, _ := pl.Variables["assignmentId"].(string)
			if aid == "" {
				_ = write(wsError(msg.ID, "assignmentId required")...)
				continue
			}
			a, err := s.Store.LoadAssignment(r.Context(), aid)
			if err != nil {
				_ = write(wsError(msg.ID, "assignment not found")...)
				continue
			}
			if !s.getPrincipal(r).CanTrack(a.CollectorID) {
				_ = write(wsError(msg.ID, "forbidden")...)
				continue
			}
			field := wsField(pl.Query)
			ch := s.Broker.Subscribe(aid)
			subs[msg.ID] = sub{assignmentID: aid, ch: ch}
			go func(id string, c chan SSEEvent, field string) {
				allow := wsFields[field]
				for evt := range c {
					if allow != nil && !allow[evt.Type] {
						continue
					}
					data := map[string]any{"type": evt.Type}
					for k, v := range evt.Data {
						data[k] = v
					}
					payload, _ := json.Marshal(map[string]any{"data": map[string]any{field: data}})
					if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
						return
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch, field)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.assignmentID, s0.ch)
				delete(subs, msg.ID)
			}
		}
	}
	for id, s0 := range subs {
		s.Broker.Unsubscribe(s0.assignmentID, s0.ch)
		delete(subs, id)
	}
}
