// Package tracker applies GPS fixes to assignments: it evaluates coverage,
// advances status, persists the result and emits events.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"wastetrack/internal/coverage"
	"wastetrack/internal/events"
	"wastetrack/internal/geo"
	"wastetrack/internal/metrics"
	"wastetrack/internal/model"
	"wastetrack/internal/store"
)

var (
	ErrInvalidPosition    = errors.New("invalid position")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrAssignmentClosed   = errors.New("assignment cancelled")
	// ErrPersistence marks failures the caller may retry.
	ErrPersistence = errors.New("persistence failure")
)

// MaxClockSkew bounds how far ahead of the server clock a device timestamp may be.
const MaxClockSkew = 2 * time.Minute

// recompute bounds how often an update is re-evaluated after its route changed
// between load and save.
const recompute = 3

type Tracker struct {
	store   store.Store
	locks   *KeyedMutex
	sinks   []events.Sink
	retries int
	backoff func(attempt int) time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	radius float64
}

type Option func(*Tracker)

func WithRadius(m float64) Option { return func(t *Tracker) { t.radius = m } }

// WithSaveRetries sets how many times a failed save is retried.
func WithSaveRetries(n int) Option { return func(t *Tracker) { t.retries = n } }

func WithSink(s events.Sink) Option { return func(t *Tracker) { t.sinks = append(t.sinks, s) } }

func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(t *Tracker) { t.backoff = fn }
}

func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

func New(s store.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:   s,
		locks:   NewKeyedMutex(),
		retries: 3,
		backoff: nextBackoff,
		now:     func() time.Time { return time.Now().UTC() },
		radius:  coverage.DefaultRadius,
	}
	for _, o := range opts {
		o(t)
	}
	if t.radius <= 0 {
		t.radius = coverage.DefaultRadius
	}
	return t
}

// AddSink registers another event sink. Not safe to call concurrently with Apply.
func (t *Tracker) AddSink(s events.Sink) { t.sinks = append(t.sinks, s) }

func (t *Tracker) Radius() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.radius
}

// SetRadius changes the coverage radius for subsequent updates.
func (t *Tracker) SetRadius(m float64) {
	if m <= 0 {
		return
	}
	t.mu.Lock()
	t.radius = m
	t.mu.Unlock()
}

// Apply processes one position update for an assignment.
func (t *Tracker) Apply(ctx context.Context, upd model.PositionUpdate) (model.CoverageResult, error) {
	start := time.Now()
	res, err := t.apply(ctx, upd)
	metrics.EvaluateDuration.Observe(time.Since(start).Seconds())
	metrics.PositionUpdates.WithLabelValues(outcome(err)).Inc()
	return res, err
}

func (t *Tracker) apply(ctx context.Context, upd model.PositionUpdate) (model.CoverageResult, error) {
	if err := geo.ValidPoint(upd.Lat, upd.Lng); err != nil {
		return model.CoverageResult{}, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	if upd.AssignmentID == "" {
		return model.CoverageResult{}, fmt.Errorf("%w: empty id", ErrAssignmentNotFound)
	}
	now := t.now()
	if upd.TS.After(now.Add(MaxClockSkew)) {
		return model.CoverageResult{}, fmt.Errorf("%w: timestamp %s is ahead of server time", ErrInvalidPosition, upd.TS.Format(time.RFC3339))
	}
	recorded := upd.TS
	if recorded.IsZero() {
		recorded = now
	}
	pos := model.GeoPoint{Lat: upd.Lat, Lng: upd.Lng}

	unlock := t.locks.Lock(upd.AssignmentID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		res, err := t.evaluate(ctx, upd.AssignmentID, pos, now, recorded)
		if !errors.Is(err, store.ErrRouteChanged) {
			return res, err
		}
		if attempt >= recompute {
			return model.CoverageResult{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		log.Printf("assignment %s: route changed during update, re-evaluating", upd.AssignmentID)
	}
}

// evaluate runs one load, evaluate, save cycle. The caller holds the
// assignment lock. lastUpdated is the server receive time; recorded is the
// device time and only travels on events.
func (t *Tracker) evaluate(ctx context.Context, id string, pos model.GeoPoint, now, recorded time.Time) (model.CoverageResult, error) {
	a, err := t.store.LoadAssignment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.CoverageResult{}, fmt.Errorf("%w: %s", ErrAssignmentNotFound, id)
	}
	if err != nil {
		return model.CoverageResult{}, fmt.Errorf("%w: load assignment: %v", ErrPersistence, err)
	}
	if a.Status == model.StatusCancelled {
		return model.CoverageResult{}, fmt.Errorf("%w: %s", ErrAssignmentClosed, a.ID)
	}
	route, err := t.store.GetRoute(ctx, a.RouteID)
	if errors.Is(err, store.ErrNotFound) {
		return model.CoverageResult{}, fmt.Errorf("load route %s: %w", a.RouteID, err)
	}
	if err != nil {
		return model.CoverageResult{}, fmt.Errorf("%w: load route %s: %v", ErrPersistence, a.RouteID, err)
	}
	total := len(route.Points)
	if a.TotalPoints != total {
		log.Printf("assignment %s: stored totalPoints %d differs from route %s checkpoints %d", a.ID, a.TotalPoints, route.ID, total)
	}

	out := coverage.Evaluator{Radius: t.Radius()}.Evaluate(route.Points, a.CoveredPoints, pos)
	next := a
	next.CoveredPoints = out.Covered
	next.PointsCovered = len(out.Covered)
	next.TotalPoints = total
	next.Status = coverage.Transition(a.Status, next.PointsCovered, total)
	next.CurrentPosition = &pos
	next.LastUpdated = &now

	saved, err := t.save(ctx, next)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return model.CoverageResult{}, fmt.Errorf("%w: %s", ErrAssignmentNotFound, a.ID)
	case errors.Is(err, store.ErrRouteChanged):
		return model.CoverageResult{}, err
	case err != nil:
		return model.CoverageResult{}, fmt.Errorf("%w: save assignment: %v", ErrPersistence, err)
	}

	res := model.CoverageResult{
		AssignmentID:      saved.ID,
		CoveredPoints:     saved.CoveredPoints,
		NewlyCovered:      out.Newly,
		PreviouslyCovered: out.Previously,
		PointsCovered:     saved.PointsCovered,
		TotalPoints:       saved.TotalPoints,
		Status:            saved.Status,
		CurrentPosition:   pos,
		LastUpdated:       now,
	}
	if saved.CurrentPosition != nil {
		res.CurrentPosition = *saved.CurrentPosition
	}
	if saved.LastUpdated != nil {
		res.LastUpdated = *saved.LastUpdated
	}

	metrics.CheckpointsCovered.Add(float64(len(out.Newly)))
	completed := a.Status != model.StatusCompleted && saved.Status == model.StatusCompleted
	if completed {
		metrics.AssignmentsCompleted.Inc()
	}
	t.emit(ctx, saved, route, out.Newly, completed, pos, now, recorded)
	return res, nil
}

// Cancel marks an assignment cancelled. Later position updates are rejected.
func (t *Tracker) Cancel(ctx context.Context, id string) (model.Assignment, error) {
	unlock := t.locks.Lock(id)
	defer unlock()
	a, err := t.store.CancelAssignment(ctx, id)
	if err != nil {
		return model.Assignment{}, err
	}
	evt := events.New(events.AssignmentCancelled, a.ID, t.now(), map[string]any{
		"assignmentId":  a.ID,
		"pointsCovered": a.PointsCovered,
		"totalPoints":   a.TotalPoints,
	})
	for _, s := range t.sinks {
		if err := s.Publish(ctx, evt); err != nil {
			log.Printf("publish %s for %s: %v", evt.Type, a.ID, err)
		}
	}
	return a, nil
}

// save retries the same computed record; the store merge makes repeats harmless.
func (t *Tracker) save(ctx context.Context, a model.Assignment) (model.Assignment, error) {
	var err error
	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return model.Assignment{}, ctx.Err()
			case <-time.After(t.backoff(attempt)):
			}
		}
		var saved model.Assignment
		saved, err = t.store.SaveAssignment(ctx, a)
		if err == nil {
			return saved, nil
		}
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrRouteChanged) {
			return model.Assignment{}, err
		}
		log.Printf("save assignment %s attempt %d failed: %v", a.ID, attempt+1, err)
	}
	return model.Assignment{}, err
}

func (t *Tracker) emit(ctx context.Context, a model.Assignment, route model.Route, newly []int, completed bool, pos model.GeoPoint, ts, recorded time.Time) {
	if len(t.sinks) == 0 {
		return
	}
	evts := []events.Event{events.New(events.PositionUpdated, a.ID, ts, map[string]any{
		"assignmentId":  a.ID,
		"lat":           pos.Lat,
		"lng":           pos.Lng,
		"recordedAt":    recorded.Format(time.RFC3339Nano),
		"pointsCovered": a.PointsCovered,
		"totalPoints":   a.TotalPoints,
		"status":        string(a.Status),
	})}
	for _, i := range newly {
		cp := route.Points[i]
		evts = append(evts, events.New(events.CheckpointCovered, a.ID, ts, map[string]any{
			"assignmentId": a.ID,
			"index":        i,
			"lat":          cp.Lat,
			"lng":          cp.Lng,
		}))
	}
	if completed {
		evts = append(evts, events.New(events.AssignmentCompleted, a.ID, ts, map[string]any{
			"assignmentId":  a.ID,
			"collectorId":   a.CollectorID,
			"routeId":       a.RouteID,
			"pointsCovered": a.PointsCovered,
			"totalPoints":   a.TotalPoints,
		}))
	}
	for _, evt := range evts {
		for _, s := range t.sinks {
			if err := s.Publish(ctx, evt); err != nil {
				log.Printf("publish %s for %s: %v", evt.Type, a.ID, err)
			}
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, ErrInvalidPosition):
		return "invalid"
	case errors.Is(err, ErrAssignmentNotFound):
		return "not_found"
	case errors.Is(err, ErrAssignmentClosed):
		return "rejected"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "error"
	}
}

func nextBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		attempt = 5
	}
	return 50 * time.Millisecond * time.Duration(1<<attempt)
}
