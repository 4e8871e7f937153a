package model

import "time"

// Core domain types for route coverage tracking

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Checkpoint is one ordered point of a route. Its identity is its index.
type Checkpoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Checkpoint) Point() GeoPoint { return GeoPoint{Lat: c.Lat, Lng: c.Lng} }

type Route struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Points      []Checkpoint `json:"points"`
	TotalPoints int          `json:"totalPoints"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type RouteInput struct {
	Name   string       `json:"name"`
	Points []Checkpoint `json:"points"`
}

type Collector struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Mobile    string    `json:"mobile"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
}

type CollectorInput struct {
	Name    string `json:"name"`
	Mobile  string `json:"mobile"`
	Address string `json:"address"`
}

type AssignmentStatus string

const (
	StatusAssigned   AssignmentStatus = "assigned"
	StatusInProgress AssignmentStatus = "in_progress"
	StatusCompleted  AssignmentStatus = "completed"
	StatusCancelled  AssignmentStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s AssignmentStatus) Valid() bool {
	switch s {
	case StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Assignment struct {
	ID              string           `json:"id"`
	CollectorID     string           `json:"collectorId"`
	RouteID         string           `json:"routeId"`
	AssignedAt      time.Time        `json:"assignedAt"`
	Status          AssignmentStatus `json:"status"`
	CoveredPoints   []int            `json:"coveredPoints"`
	PointsCovered   int              `json:"pointsCovered"`
	TotalPoints     int              `json:"totalPoints"`
	CurrentPosition *GeoPoint        `json:"currentPosition,omitempty"`
	LastUpdated     *time.Time       `json:"lastUpdated,omitempty"`
}

type AssignmentRequest struct {
	CollectorID string `json:"collectorId"`
	RouteID     string `json:"routeId"`
}

type AssignmentFilter struct {
	CollectorID string
	RouteID     string
	Status      AssignmentStatus
}

// PositionUpdate is a single GPS fix reported for an assignment.
type PositionUpdate struct {
	AssignmentID string    `json:"assignmentId"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	TS           time.Time `json:"ts"`
}

// EpochTime converts a device epoch to UTC. Values above 1e12 are
// milliseconds, anything smaller is seconds.
func EpochTime(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}

// CoverageResult is returned to callers after a position update is applied.
type CoverageResult struct {
	AssignmentID      string           `json:"assignmentId"`
	CoveredPoints     []int            `json:"coveredPoints"`
	NewlyCovered      []int            `json:"newlyCovered"`
	PreviouslyCovered int              `json:"previouslyCovered"`
	PointsCovered     int              `json:"pointsCovered"`
	TotalPoints       int              `json:"totalPoints"`
	Status            AssignmentStatus `json:"status"`
	CurrentPosition   GeoPoint         `json:"currentPosition"`
	LastUpdated       time.Time        `json:"lastUpdated"`
}
