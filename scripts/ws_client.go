// Package main runs a demo WebSocket client for assignment coverage events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var base string

func post(path string, body any, out any) {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		log.Fatalf("POST %s: %s", path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatal(err)
		}
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base = fmt.Sprintf("http://localhost:%s", port)

	points := []map[string]float64{{"lat": 13.0827, "lng": 80.2707}, {"lat": 13.0830, "lng": 80.2710}}
	var rt, col, asg struct {
		ID string `json:"id"`
	}
	post("/v1/routes", map[string]any{"name": "Demo ward", "points": points}, &rt)
	post("/v1/collectors", map[string]any{"name": "Demo collector", "mobile": "9000000000"}, &col)
	post("/v1/assignments", map[string]any{"routeId": rt.ID, "collectorId": col.ID}, &asg)
	log.Printf("Assignment ID: %s", asg.ID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/live/ws"}
	hdr := http.Header{}
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	payload := map[string]any{
		"query":     "subscription($assignmentId: ID!) { coverageEvents(assignmentId: $assignmentId) }",
		"variables": map[string]any{"assignmentId": asg.ID},
	}
	pl, _ := json.Marshal(payload)
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Walk both checkpoints to trigger coverage and completion events
	time.Sleep(500 * time.Millisecond)
	for _, p := range points {
		post("/v1/assignments/"+asg.ID+"/position", map[string]any{"latitude": p["lat"], "longitude": p["lng"]}, nil)
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
