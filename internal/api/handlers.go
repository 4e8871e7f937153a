package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wastetrack/internal/model"
)

func listParams(r *http.Request) (string, int) {
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return cursor, limit
}

// splitID returns the id and any trailing segments of prefix/{id}/....
func splitID(path, prefix string) (string, []string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", nil
	}
	parts := strings.Split(rest, "/")
	return parts[0], parts[1:]
}

// RoutesIndexHandler handles GET/POST /v1/routes
func (s *Server) RoutesIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/routes" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		cursor, limit := listParams(r)
		items, next, err := s.Store.ListRoutes(r.Context(), cursor, limit)
		if err != nil {
			writeError(w, r, "List routes", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	case http.MethodPost:
		if !s.getPrincipal(r).IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var in model.RouteInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateRouteInput(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid route", err.Error(), r.URL.Path)
			return
		}
		rt, err := s.Store.CreateRoute(r.Context(), in)
		if err != nil {
			writeError(w, r, "Create route", err)
			return
		}
		writeJSON(w, http.StatusCreated, rt)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RouteByIDHandler handles GET/PUT/DELETE /v1/routes/{id}
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, rest := splitID(r.URL.Path, "/v1/routes/")
	if id == "" || len(rest) > 0 {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rt, err := s.Store.GetRoute(r.Context(), id)
		if err != nil {
			writeError(w, r, "Get route", err)
			return
		}
		writeJSON(w, http.StatusOK, rt)
	case http.MethodPut:
		if !s.getPrincipal(r).IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var in model.RouteInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateRouteInput(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid route", err.Error(), r.URL.Path)
			return
		}
		rt, err := s.Store.UpdateRoute(r.Context(), id, in)
		if err != nil {
			writeError(w, r, "Update route", err)
			return
		}
		writeJSON(w, http.StatusOK, rt)
	case http.MethodDelete:
		if !s.getPrincipal(r).IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		if err := s.Store.DeleteRoute(r.Context(), id); err != nil {
			writeError(w, r, "Delete route", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// CollectorsIndexHandler handles GET/POST /v1/collectors
func (s *Server) CollectorsIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/collectors" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		cursor, limit := listParams(r)
		items, next, err := s.Store.ListCollectors(r.Context(), cursor, limit)
		if err != nil {
			writeError(w, r, "List collectors", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	case http.MethodPost:
		if !s.getPrincipal(r).IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var in model.CollectorInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateCollectorInput(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid collector", err.Error(), r.URL.Path)
			return
		}
		c, err := s.Store.CreateCollector(r.Context(), in)
		if err != nil {
			writeError(w, r, "Create collector", err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// CollectorByIDHandler handles GET /v1/collectors/{id} and GET /v1/collectors/{id}/assignments
func (s *Server) CollectorByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, rest := splitID(r.URL.Path, "/v1/collectors/")
	if id == "" || len(rest) > 1 || (len(rest) == 1 && rest[0] != "assignments") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	c, err := s.Store.GetCollector(r.Context(), id)
	if err != nil {
		writeError(w, r, "Get collector", err)
		return
	}
	if len(rest) == 0 {
		writeJSON(w, http.StatusOK, c)
		return
	}
	if !s.getPrincipal(r).CanTrack(c.ID) {
		writeProblem(w, http.StatusForbidden, "Forbidden", "not authorized for collector assignments", r.URL.Path)
		return
	}
	cursor, limit := listParams(r)
	items, next, err := s.Store.ListAssignments(r.Context(), model.AssignmentFilter{CollectorID: c.ID}, cursor, limit)
	if err != nil {
		writeError(w, r, "List assignments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// AssignmentsIndexHandler handles GET/POST /v1/assignments
func (s *Server) AssignmentsIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/assignments" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		if err := validateStatus(q.Get("status")); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid filter", err.Error(), r.URL.Path)
			return
		}
		f := model.AssignmentFilter{
			CollectorID: q.Get("collectorId"),
			RouteID:     q.Get("routeId"),
			Status:      model.AssignmentStatus(q.Get("status")),
		}
		if pr := s.getPrincipal(r); !pr.IsAdmin() {
			if pr.CollectorID == "" || (f.CollectorID != "" && f.CollectorID != pr.CollectorID) {
				writeProblem(w, http.StatusForbidden, "Forbidden", "collectors may only list their own assignments", r.URL.Path)
				return
			}
			f.CollectorID = pr.CollectorID
		}
		cursor, limit := listParams(r)
		items, next, err := s.Store.ListAssignments(r.Context(), f, cursor, limit)
		if err != nil {
			writeError(w, r, "List assignments", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	case http.MethodPost:
		if !s.getPrincipal(r).IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var req model.AssignmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateAssignmentRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid assignment", err.Error(), r.URL.Path)
			return
		}
		a, err := s.Store.CreateAssignment(r.Context(), req)
		if err != nil {
			writeError(w, r, "Create assignment", err)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// AssignmentByIDHandler handles GET /v1/assignments/{id} plus the
// /position, /cancel and /events/stream sub-resources.
func (s *Server) AssignmentByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, rest := splitID(r.URL.Path, "/v1/assignments/")
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	switch {
	case len(rest) == 0:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		a, err := s.Store.LoadAssignment(r.Context(), id)
		if err != nil {
			writeError(w, r, "Get assignment", err)
			return
		}
		if !s.getPrincipal(r).CanTrack(a.CollectorID) {
			writeProblem(w, http.StatusForbidden, "Forbidden", "assignment belongs to another collector", r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, a)
	case len(rest) == 1 && rest[0] == "position":
		s.positionHandler(w, r, id)
	case len(rest) == 1 && rest[0] == "cancel":
		s.cancelHandler(w, r, id)
	case len(rest) == 2 && rest[0] == "events" && rest[1] == "stream":
		s.streamHandler(w, r, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

type positionRequest struct {
	Latitude  *float64        `json:"latitude"`
	Longitude *float64        `json:"longitude"`
	Lat       *float64        `json:"lat"`
	Lng       *float64        `json:"lng"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func (p positionRequest) update(id string) (model.PositionUpdate, error) {
	lat, lng := p.Latitude, p.Longitude
	if lat == nil {
		lat = p.Lat
	}
	if lng == nil {
		lng = p.Lng
	}
	if lat == nil || lng == nil {
		return model.PositionUpdate{}, errors.New("latitude and longitude are required")
	}
	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return model.PositionUpdate{}, err
	}
	return model.PositionUpdate{AssignmentID: id, Lat: *lat, Lng: *lng, TS: ts}, nil
}

// parseTimestamp accepts RFC3339 strings or unix epochs; values above 1e12
// are read as milliseconds. Absent means "now" at the tracker.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp: %w", err)
		}
		return ts.UTC(), nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil || n < 0 {
		return time.Time{}, errors.New("timestamp: expected RFC3339 string or unix epoch")
	}
	return model.EpochTime(n), nil
}

// positionHandler handles POST /v1/assignments/{id}/position
func (s *Server) positionHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body positionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	upd, err := body.update(id)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid position", err.Error(), r.URL.Path)
		return
	}
	if pr := s.getPrincipal(r); !pr.IsAdmin() {
		a, err := s.Store.LoadAssignment(r.Context(), id)
		if err != nil {
			writeError(w, r, "Update position", err)
			return
		}
		if !pr.CanTrack(a.CollectorID) {
			writeProblem(w, http.StatusForbidden, "Forbidden", "assignment belongs to another collector", r.URL.Path)
			return
		}
	}
	if !s.limits.Allow(id) {
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "position updates for this assignment are rate limited", r.URL.Path)
		return
	}
	res, err := s.Tracker.Apply(r.Context(), upd)
	if err != nil {
		writeError(w, r, "Update position", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		model.CoverageResult
	}{true, res})
}

// cancelHandler handles POST /v1/assignments/{id}/cancel
func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.getPrincipal(r).IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	a, err := s.Tracker.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, "Cancel assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// streamHandler handles GET /v1/assignments/{id}/events/stream. It sends a
// snapshot on connect and on every snapshot tick, live events as they are
// published, and heartbeats in between.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a, err := s.Store.LoadAssignment(r.Context(), id)
	if err != nil {
		writeError(w, r, "Stream assignment", err)
		return
	}
	if !s.getPrincipal(r).CanTrack(a.CollectorID) {
		writeProblem(w, http.StatusForbidden, "Forbidden", "not authorized for assignment events", r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	writeSSE(w, "snapshot", a)
	flusher.Flush()

	heartbeat := time.NewTicker(positive(s.Cfg.Stream.Heartbeat, 15*time.Second))
	defer heartbeat.Stop()
	snapshot := time.NewTicker(positive(s.Cfg.Stream.SnapshotInterval, 30*time.Second))
	defer snapshot.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, evt.Type, evt.Data)
		case <-heartbeat.C:
			writeSSE(w, "heartbeat", map[string]any{"assignmentId": id, "ts": time.Now().UTC().Format(time.RFC3339)})
		case <-snapshot.C:
			cur, err := s.loadForStream(ctx, id)
			if err != nil {
				writeSSE(w, "error", map[string]any{"assignmentId": id, "message": err.Error()})
				break
			}
			writeSSE(w, "snapshot", cur)
		}
		flusher.Flush()
	}
}

func (s *Server) loadForStream(ctx context.Context, id string) (model.Assignment, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Store.LoadAssignment(ctx, id)
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	b, _ := json.Marshal(v)
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", b)
}

func positive(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
