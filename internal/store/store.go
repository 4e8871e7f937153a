package store

import (
	"context"
	"errors"

	"wastetrack/internal/model"
)

// Store is the persistence interface used by the API server and the tracker.
type Store interface {
	// Routes
	CreateRoute(ctx context.Context, in model.RouteInput) (model.Route, error)
	GetRoute(ctx context.Context, routeID string) (model.Route, error)
	ListRoutes(ctx context.Context, cursor string, limit int) ([]model.Route, string, error)
	UpdateRoute(ctx context.Context, routeID string, in model.RouteInput) (model.Route, error)
	DeleteRoute(ctx context.Context, routeID string) error

	// Collectors
	CreateCollector(ctx context.Context, in model.CollectorInput) (model.Collector, error)
	GetCollector(ctx context.Context, id string) (model.Collector, error)
	ListCollectors(ctx context.Context, cursor string, limit int) ([]model.Collector, string, error)

	// Assignments
	CreateAssignment(ctx context.Context, req model.AssignmentRequest) (model.Assignment, error)
	ListAssignments(ctx context.Context, f model.AssignmentFilter, cursor string, limit int) ([]model.Assignment, string, error)
	CancelAssignment(ctx context.Context, id string) (model.Assignment, error)

	// Coverage state. SaveAssignment merges with coverage.Reconcile and
	// returns the record as stored.
	LoadAssignment(ctx context.Context, id string) (model.Assignment, error)
	SaveAssignment(ctx context.Context, a model.Assignment) (model.Assignment, error)
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrRouteChanged means a save was computed against checkpoints that have
	// since been edited; the caller must reload and evaluate again.
	ErrRouteChanged = errors.New("route changed")
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxLimit {
		return defaultLimit
	}
	return limit
}
