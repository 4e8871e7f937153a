package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"wastetrack/internal/coverage"
	"wastetrack/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu          sync.Mutex
	routes      map[string]model.Route      // id -> route
	routeIDs    []string                    // insertion order
	collectors  map[string]model.Collector  // id -> collector
	collIDs     []string                    // insertion order
	assignments map[string]model.Assignment // id -> assignment
	asgIDs      []string                    // insertion order
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		routes:      map[string]model.Route{},
		collectors:  map[string]model.Collector{},
		assignments: map[string]model.Assignment{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreateRoute(ctx context.Context, in model.RouteInput) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	r := model.Route{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Points:      copyPoints(in.Points),
		TotalPoints: len(in.Points),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.routes[r.ID] = r
	m.routeIDs = append(m.routeIDs, r.ID)
	return copyRoute(r), nil
}

func (m *Memory) GetRoute(ctx context.Context, routeID string) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	return copyRoute(r), nil
}

func (m *Memory) ListRoutes(ctx context.Context, cursor string, limit int) ([]model.Route, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, next := paginate(m.routeIDs, cursor, clampLimit(limit), func(string) bool { return true })
	out := make([]model.Route, 0, len(page))
	for _, id := range page {
		out = append(out, copyRoute(m.routes[id]))
	}
	return out, next, nil
}

func (m *Memory) UpdateRoute(ctx context.Context, routeID string, in model.RouteInput) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	if !samePoints(r.Points, in.Points) {
		for _, a := range m.assignments {
			if a.RouteID == routeID && a.PointsCovered > 0 && a.Status != model.StatusCancelled {
				return model.Route{}, fmt.Errorf("%w: route %s has recorded coverage", ErrConflict, routeID)
			}
		}
		for id, a := range m.assignments {
			if a.RouteID == routeID && a.Status == model.StatusAssigned {
				a.TotalPoints = len(in.Points)
				m.assignments[id] = a
			}
		}
	}
	r.Name = in.Name
	r.Points = copyPoints(in.Points)
	r.TotalPoints = len(in.Points)
	r.UpdatedAt = m.now()
	m.routes[routeID] = r
	return copyRoute(r), nil
}

func (m *Memory) DeleteRoute(ctx context.Context, routeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[routeID]; !ok {
		return ErrNotFound
	}
	for _, a := range m.assignments {
		if a.RouteID == routeID {
			return fmt.Errorf("%w: route %s is assigned", ErrConflict, routeID)
		}
	}
	delete(m.routes, routeID)
	m.routeIDs = removeID(m.routeIDs, routeID)
	return nil
}

func (m *Memory) CreateCollector(ctx context.Context, in model.CollectorInput) (model.Collector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := model.Collector{ID: uuid.New().String(), Name: in.Name, Mobile: in.Mobile, Address: in.Address, CreatedAt: m.now()}
	m.collectors[c.ID] = c
	m.collIDs = append(m.collIDs, c.ID)
	return c, nil
}

func (m *Memory) GetCollector(ctx context.Context, id string) (model.Collector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collectors[id]
	if !ok {
		return model.Collector{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListCollectors(ctx context.Context, cursor string, limit int) ([]model.Collector, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, next := paginate(m.collIDs, cursor, clampLimit(limit), func(string) bool { return true })
	out := make([]model.Collector, 0, len(page))
	for _, id := range page {
		out = append(out, m.collectors[id])
	}
	return out, next, nil
}

func (m *Memory) CreateAssignment(ctx context.Context, req model.AssignmentRequest) (model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[req.RouteID]
	if !ok {
		return model.Assignment{}, fmt.Errorf("route %s: %w", req.RouteID, ErrNotFound)
	}
	if _, ok := m.collectors[req.CollectorID]; !ok {
		return model.Assignment{}, fmt.Errorf("collector %s: %w", req.CollectorID, ErrNotFound)
	}
	a := model.Assignment{
		ID:            uuid.New().String(),
		CollectorID:   req.CollectorID,
		RouteID:       req.RouteID,
		AssignedAt:    m.now(),
		Status:        model.StatusAssigned,
		CoveredPoints: []int{},
		TotalPoints:   r.TotalPoints,
	}
	m.assignments[a.ID] = a
	m.asgIDs = append(m.asgIDs, a.ID)
	return copyAssignment(a), nil
}

func (m *Memory) ListAssignments(ctx context.Context, f model.AssignmentFilter, cursor string, limit int) ([]model.Assignment, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match := func(id string) bool {
		a := m.assignments[id]
		return (f.CollectorID == "" || a.CollectorID == f.CollectorID) &&
			(f.RouteID == "" || a.RouteID == f.RouteID) &&
			(f.Status == "" || a.Status == f.Status)
	}
	page, next := paginate(m.asgIDs, cursor, clampLimit(limit), match)
	out := make([]model.Assignment, 0, len(page))
	for _, id := range page {
		out = append(out, copyAssignment(m.assignments[id]))
	}
	return out, next, nil
}

func (m *Memory) CancelAssignment(ctx context.Context, id string) (model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return model.Assignment{}, ErrNotFound
	}
	if a.Status == model.StatusCompleted {
		return model.Assignment{}, fmt.Errorf("%w: assignment %s already completed", ErrConflict, id)
	}
	a.Status = model.StatusCancelled
	m.assignments[id] = a
	return copyAssignment(a), nil
}

func (m *Memory) LoadAssignment(ctx context.Context, id string) (model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return model.Assignment{}, ErrNotFound
	}
	return copyAssignment(a), nil
}

func (m *Memory) SaveAssignment(ctx context.Context, in model.Assignment) (model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.assignments[in.ID]
	if !ok {
		return model.Assignment{}, ErrNotFound
	}
	if r, ok := m.routes[cur.RouteID]; ok && r.TotalPoints != in.TotalPoints {
		return model.Assignment{}, fmt.Errorf("%w: route %s has %d checkpoints, update saw %d", ErrRouteChanged, r.ID, r.TotalPoints, in.TotalPoints)
	}
	merged := coverage.Reconcile(cur, copyAssignment(in))
	m.assignments[in.ID] = merged
	return copyAssignment(merged), nil
}

// paginate walks ids after cursor and returns up to limit matching ids.
// next is the last returned id when the page is full.
func paginate(ids []string, cursor string, limit int, match func(string) bool) ([]string, string) {
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []string{}
	for i := start; i < len(ids) && len(out) < limit; i++ {
		if match(ids[i]) {
			out = append(out, ids[i])
		}
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1]
	}
	return out, next
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func samePoints(a, b []model.Checkpoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func copyPoints(p []model.Checkpoint) []model.Checkpoint {
	out := make([]model.Checkpoint, len(p))
	copy(out, p)
	return out
}

func copyRoute(r model.Route) model.Route {
	r.Points = copyPoints(r.Points)
	return r
}

func copyAssignment(a model.Assignment) model.Assignment {
	cp := make([]int, len(a.CoveredPoints))
	copy(cp, a.CoveredPoints)
	a.CoveredPoints = cp
	if a.CurrentPosition != nil {
		p := *a.CurrentPosition
		a.CurrentPosition = &p
	}
	if a.LastUpdated != nil {
		t := *a.LastUpdated
		a.LastUpdated = &t
	}
	return a
}
