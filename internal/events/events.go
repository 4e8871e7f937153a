// Package events defines the domain events emitted while tracking coverage
// and the sinks that carry them out of the process.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	PositionUpdated     = "position.updated"
	CheckpointCovered   = "checkpoint.covered"
	AssignmentCompleted = "assignment.completed"
	AssignmentCancelled = "assignment.cancelled"
)

type Event struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	AssignmentID string         `json:"assignmentId"`
	TS           time.Time      `json:"ts"`
	Data         map[string]any `json:"data"`
}

func New(typ, assignmentID string, ts time.Time, data map[string]any) Event {
	return Event{ID: "evt_" + uuid.New().String(), Type: typ, AssignmentID: assignmentID, TS: ts.UTC(), Data: data}
}

// Sink receives events after the state change they describe is stored.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt Event) error

func (f SinkFunc) Publish(ctx context.Context, evt Event) error { return f(ctx, evt) }
