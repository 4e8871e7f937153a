// Command collector-sim drives a collector along an assigned route, sending
// GPS fixes to the API over HTTP or to the MQTT broker.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"

	"wastetrack/internal/geo"
	"wastetrack/internal/ingest"
	"wastetrack/internal/model"
)

type options struct {
	api          string
	assignmentID string
	mode         string
	broker       string
	interval     time.Duration
	steps        int
	role         string
	collectorID  string
}

func main() {
	_ = godotenv.Load()
	var o options
	flag.StringVar(&o.api, "api", envOr("API_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&o.assignmentID, "assignment", "", "assignment id to drive (required)")
	flag.StringVar(&o.mode, "mode", "http", "transport: http or mqtt")
	flag.StringVar(&o.broker, "broker", envOr("MQTT_BROKER", "tcp://localhost:1883"), "MQTT broker URL")
	flag.DurationVar(&o.interval, "interval", 2*time.Second, "time between fixes")
	flag.IntVar(&o.steps, "steps", 3, "fixes between consecutive checkpoints")
	flag.StringVar(&o.role, "role", "admin", "X-Role header for HTTP mode")
	flag.StringVar(&o.collectorID, "collector", "", "X-Collector-Id header for HTTP mode")
	flag.Parse()
	if o.assignmentID == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	route, err := fetchRoute(ctx, o)
	if err != nil {
		log.Fatalf("load route: %v", err)
	}
	path := walk(route.Points, o.steps)
	log.Printf("[%s] driving route %q: %d checkpoints, %d fixes", o.assignmentID, route.Name, len(route.Points), len(path))

	var send func(context.Context, model.GeoPoint) error
	switch o.mode {
	case "http":
		send = func(ctx context.Context, p model.GeoPoint) error { return postPosition(ctx, o, p) }
	case "mqtt":
		client, err := ingest.Connect(ingest.Options{Broker: o.broker, ClientID: "collector-sim-" + o.assignmentID})
		if err != nil {
			log.Fatalf("mqtt: %v", err)
		}
		defer client.Disconnect(250)
		topic := strings.Replace(ingest.DefaultTopic, "+", o.assignmentID, 1)
		send = func(_ context.Context, p model.GeoPoint) error { return publishPosition(client, topic, o.assignmentID, p) }
	default:
		log.Fatalf("unknown mode %q", o.mode)
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for i, p := range path {
		if err := send(ctx, p); err != nil {
			log.Printf("[%s] fix %d: %v", o.assignmentID, i+1, err)
		} else {
			log.Printf("[%s] fix %d/%d: %.6f, %.6f", o.assignmentID, i+1, len(path), p.Lat, p.Lng)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	log.Printf("[%s] route completed", o.assignmentID)
}

// walk returns the fixes a collector reports: the first checkpoint, then
// steps evenly spaced fixes per leg ending on each following checkpoint.
func walk(points []model.Checkpoint, steps int) []model.GeoPoint {
	if len(points) == 0 {
		return nil
	}
	out := []model.GeoPoint{points[0].Point()}
	for i := 1; i < len(points); i++ {
		out = append(out, geo.Interpolate(points[i-1].Point(), points[i].Point(), steps)...)
	}
	return out
}

func fetchRoute(ctx context.Context, o options) (model.Route, error) {
	var a model.Assignment
	if err := getJSON(ctx, o, "/v1/assignments/"+o.assignmentID, &a); err != nil {
		return model.Route{}, err
	}
	var rt model.Route
	if err := getJSON(ctx, o, "/v1/routes/"+a.RouteID, &rt); err != nil {
		return model.Route{}, err
	}
	return rt, nil
}

func getJSON(ctx context.Context, o options, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.api+path, nil)
	if err != nil {
		return err
	}
	setHeaders(req, o)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func postPosition(ctx context.Context, o options, p model.GeoPoint) error {
	body, _ := json.Marshal(map[string]any{
		"latitude":  p.Lat,
		"longitude": p.Lng,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.api+"/v1/assignments/"+o.assignmentID+"/position", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	setHeaders(req, o)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	var res struct {
		NewlyCovered  []int  `json:"newlyCovered"`
		PointsCovered int    `json:"pointsCovered"`
		TotalPoints   int    `json:"totalPoints"`
		Status        string `json:"status"`
		Detail        string `json:"detail"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&res)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, res.Detail)
	}
	if len(res.NewlyCovered) > 0 {
		log.Printf("[%s] covered %v (%d/%d, %s)", o.assignmentID, res.NewlyCovered, res.PointsCovered, res.TotalPoints, res.Status)
	}
	return nil
}

func publishPosition(client mqtt.Client, topic, assignmentID string, p model.GeoPoint) error {
	payload, _ := json.Marshal(map[string]any{
		"assignmentId": assignmentID,
		"latitude":     p.Lat,
		"longitude":    p.Lng,
		"timestamp":    time.Now().Unix(),
	})
	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

func setHeaders(req *http.Request, o options) {
	if o.role != "" {
		req.Header.Set("X-Role", o.role)
	}
	if o.collectorID != "" {
		req.Header.Set("X-Collector-Id", o.collectorID)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
