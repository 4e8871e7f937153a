// Package ingest receives collector device fixes over MQTT.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"wastetrack/internal/geo"
	"wastetrack/internal/metrics"
	"wastetrack/internal/model"
)

const DefaultTopic = "wastetrack/assignments/+/position"

type positionApplier interface {
	Apply(ctx context.Context, upd model.PositionUpdate) (model.CoverageResult, error)
}

// positionMessage is a device fix. lat/lng are accepted as aliases;
// timestamp is a unix epoch in seconds or milliseconds.
type positionMessage struct {
	AssignmentID string   `json:"assignmentId"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Lat          *float64 `json:"lat"`
	Lng          *float64 `json:"lng"`
	Timestamp    *float64 `json:"timestamp"`
}

type Options struct {
	Broker   string
	ClientID string
}

func Connect(opts Options) (mqtt.Client, error) {
	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(co)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}

type PositionSubscriber struct {
	client  mqtt.Client
	tracker positionApplier
	topic   string
	timeout time.Duration
}

func NewPositionSubscriber(client mqtt.Client, tracker positionApplier, topic string) *PositionSubscriber {
	if topic == "" {
		topic = DefaultTopic
	}
	return &PositionSubscriber{client: client, tracker: tracker, topic: topic, timeout: 5 * time.Second}
}

func (s *PositionSubscriber) Start() error {
	token := s.client.Subscribe(s.topic, 1, s.handleMessage)
	token.Wait()
	return token.Error()
}

func (s *PositionSubscriber) Stop() {
	if token := s.client.Unsubscribe(s.topic); token.Wait() && token.Error() != nil {
		log.Printf("mqtt unsubscribe: %v", token.Error())
	}
}

func (s *PositionSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var raw positionMessage
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
		metrics.IngestMessages.WithLabelValues("malformed").Inc()
		log.Printf("invalid position message on %s: %v", msg.Topic(), err)
		return
	}
	if raw.AssignmentID == "" {
		raw.AssignmentID = assignmentFromTopic(msg.Topic())
	}
	upd, err := raw.update()
	if err != nil {
		metrics.IngestMessages.WithLabelValues("invalid").Inc()
		log.Printf("validation error on %s: %v", msg.Topic(), err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	res, err := s.tracker.Apply(ctx, upd)
	if err != nil {
		metrics.IngestMessages.WithLabelValues("rejected").Inc()
		log.Printf("apply position for %s: %v", raw.AssignmentID, err)
		return
	}
	metrics.IngestMessages.WithLabelValues("applied").Inc()
	if len(res.NewlyCovered) > 0 {
		log.Printf("assignment %s covered %v (%d/%d)", res.AssignmentID, res.NewlyCovered, res.PointsCovered, res.TotalPoints)
	}
}

// assignmentFromTopic extracts the id segment of wastetrack/assignments/{id}/position.
func assignmentFromTopic(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "assignments" {
			return parts[i+1]
		}
	}
	return ""
}

func (m positionMessage) update() (model.PositionUpdate, error) {
	if m.AssignmentID == "" {
		return model.PositionUpdate{}, fmt.Errorf("assignmentId: required")
	}
	lat, lng := m.Latitude, m.Longitude
	if lat == nil {
		lat = m.Lat
	}
	if lng == nil {
		lng = m.Lng
	}
	if lat == nil || lng == nil {
		return model.PositionUpdate{}, fmt.Errorf("latitude and longitude are required")
	}
	if err := geo.ValidPoint(*lat, *lng); err != nil {
		return model.PositionUpdate{}, err
	}
	upd := model.PositionUpdate{AssignmentID: m.AssignmentID, Lat: *lat, Lng: *lng}
	if m.Timestamp != nil {
		if *m.Timestamp < 0 {
			return model.PositionUpdate{}, fmt.Errorf("timestamp: must not be negative")
		}
		if *m.Timestamp > 0 {
			upd.TS = model.EpochTime(*m.Timestamp)
		}
	}
	return upd, nil
}
