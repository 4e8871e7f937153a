// Package coverage decides which route checkpoints a GPS fix visits and
// derives assignment status from accumulated coverage.
package coverage

import (
	"sort"

	"wastetrack/internal/geo"
	"wastetrack/internal/model"
)

// DefaultRadius is the coverage radius in meters.
const DefaultRadius = 50.0

// Set is a set of checkpoint indices.
type Set map[int]struct{}

// NewSet builds a set from a list of indices.
func NewSet(idx []int) Set {
	s := make(Set, len(idx))
	for _, i := range idx {
		s[i] = struct{}{}
	}
	return s
}

// Add marks index i covered.
func (s Set) Add(i int) { s[i] = struct{}{} }

// Has reports whether i is in the set.
func (s Set) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// Len is the number of covered indices.
func (s Set) Len() int { return len(s) }

// Union adds every index of o to s.
func (s Set) Union(o Set) {
	for i := range o {
		s[i] = struct{}{}
	}
}

// Sorted returns the indices in ascending order. Never nil.
func (s Set) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Evaluator measures fixes against route checkpoints. A zero Radius means DefaultRadius.
type Evaluator struct {
	Radius float64
}

// Outcome of one evaluation.
type Outcome struct {
	Covered    []int
	Newly      []int
	Previously int
}

// Evaluate returns the union of prior and every checkpoint within Radius of pos.
// Checkpoints already in prior are not re-measured and nothing is ever removed.
func (e Evaluator) Evaluate(points []model.Checkpoint, prior []int, pos model.GeoPoint) Outcome {
	radius := e.Radius
	if radius <= 0 {
		radius = DefaultRadius
	}
	set := NewSet(prior)
	out := Outcome{Previously: set.Len(), Newly: []int{}}
	for i, cp := range points {
		if set.Has(i) {
			continue
		}
		if geo.Distance(pos, cp.Point()) <= radius {
			out.Newly = append(out.Newly, i)
		}
	}
	for _, i := range out.Newly {
		set.Add(i)
	}
	out.Covered = set.Sorted()
	return out
}

// Transition derives the next status. Terminal states never move.
// A route with no checkpoints is never completed.
func Transition(current model.AssignmentStatus, pointsCovered, totalPoints int) model.AssignmentStatus {
	switch current {
	case model.StatusCancelled, model.StatusCompleted:
		return current
	}
	if totalPoints > 0 && pointsCovered >= totalPoints {
		return model.StatusCompleted
	}
	return model.StatusInProgress
}

// Reconcile merges an incoming assignment state into the stored one.
// Every store applies it on save so that concurrent or replayed writes
// can only grow coverage and never rewind status or position.
func Reconcile(stored, incoming model.Assignment) model.Assignment {
	out := stored
	set := NewSet(stored.CoveredPoints)
	set.Union(NewSet(incoming.CoveredPoints))
	out.CoveredPoints = set.Sorted()
	out.PointsCovered = set.Len()
	if incoming.TotalPoints > 0 {
		out.TotalPoints = incoming.TotalPoints
	}
	if incoming.LastUpdated != nil && (stored.LastUpdated == nil || !incoming.LastUpdated.Before(*stored.LastUpdated)) {
		out.LastUpdated = incoming.LastUpdated
		out.CurrentPosition = incoming.CurrentPosition
	}
	out.Status = mergeStatus(stored.Status, incoming.Status, out.PointsCovered, out.TotalPoints)
	return out
}

func mergeStatus(stored, incoming model.AssignmentStatus, covered, total int) model.AssignmentStatus {
	switch stored {
	case model.StatusCancelled, model.StatusCompleted:
		return stored
	}
	switch incoming {
	case model.StatusCancelled, model.StatusCompleted:
		return incoming
	}
	if stored == model.StatusAssigned && incoming == model.StatusAssigned && covered == 0 {
		return model.StatusAssigned
	}
	return Transition(model.StatusInProgress, covered, total)
}
