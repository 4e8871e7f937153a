package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"wastetrack/internal/config"
	"wastetrack/internal/model"
	"wastetrack/internal/store"
	"wastetrack/internal/tracker"
)

func testConfig() config.Config {
	return config.Config{
		Port:     "8080",
		Coverage: config.CoverageConfig{RadiusM: 20, SaveRetries: 3},
		Rate:     config.RateConfig{RPS: 100, Burst: 100},
		Stream:   config.StreamConfig{Heartbeat: time.Second, SnapshotInterval: time.Second},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(testConfig())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func do(t *testing.T, h http.HandlerFunc, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return v
}

var wardPoints = []model.Checkpoint{{Lat: 13.0827, Lng: 80.2707}, {Lat: 13.0830, Lng: 80.2710}}

// seedAssignment creates a route, a collector and an assignment over HTTP.
func seedAssignment(t *testing.T, s *Server) model.Assignment {
	t.Helper()
	rr := do(t, s.RoutesIndexHandler, http.MethodPost, "/v1/routes", model.RouteInput{Name: "Ward 12", Points: wardPoints})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create route: %d %s", rr.Code, rr.Body.String())
	}
	rt := decode[model.Route](t, rr)
	rr = do(t, s.CollectorsIndexHandler, http.MethodPost, "/v1/collectors", model.CollectorInput{Name: "Ravi", Mobile: "9000000001", Address: "12 Anna Salai"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create collector: %d %s", rr.Code, rr.Body.String())
	}
	c := decode[model.Collector](t, rr)
	rr = do(t, s.AssignmentsIndexHandler, http.MethodPost, "/v1/assignments", model.AssignmentRequest{CollectorID: c.ID, RouteID: rt.ID})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create assignment: %d %s", rr.Code, rr.Body.String())
	}
	return decode[model.Assignment](t, rr)
}

type positionResponse struct {
	Success bool `json:"success"`
	model.CoverageResult
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	if rr := do(t, s.HealthHandler, http.MethodGet, "/healthz", nil); rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	if rr := do(t, s.ReadyHandler, http.MethodGet, "/readyz", nil); rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestRoutesCRUD(t *testing.T) {
	s := newTestServer(t)

	if rr := do(t, s.RoutesIndexHandler, http.MethodPost, "/v1/routes", model.RouteInput{Name: "x"}, "X-Role", "collector"); rr.Code != http.StatusForbidden {
		t.Fatalf("collector create: %d", rr.Code)
	}
	if rr := do(t, s.RoutesIndexHandler, http.MethodPost, "/v1/routes", model.RouteInput{Name: " "}); rr.Code != http.StatusBadRequest {
		t.Fatalf("blank name: %d", rr.Code)
	}
	bad := model.RouteInput{Name: "bad", Points: []model.Checkpoint{{Lat: 95, Lng: 0}}}
	if rr := do(t, s.RoutesIndexHandler, http.MethodPost, "/v1/routes", bad); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad point: %d", rr.Code)
	}

	rr := do(t, s.RoutesIndexHandler, http.MethodPost, "/v1/routes", model.RouteInput{Name: "Ward 12", Points: wardPoints})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d", rr.Code)
	}
	rt := decode[model.Route](t, rr)
	if rt.TotalPoints != 2 {
		t.Fatalf("totalPoints: %d", rt.TotalPoints)
	}

	rr = do(t, s.RouteByIDHandler, http.MethodGet, "/v1/routes/"+rt.ID, nil)
	if rr.Code != 200 || decode[model.Route](t, rr).Name != "Ward 12" {
		t.Fatalf("get: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, s.RoutesIndexHandler, http.MethodGet, "/v1/routes?limit=5", nil)
	page := decode[struct {
		Items []model.Route `json:"items"`
	}](t, rr)
	if rr.Code != 200 || len(page.Items) != 1 {
		t.Fatalf("list: %d %+v", rr.Code, page)
	}

	upd := model.RouteInput{Name: "Ward 12 North", Points: append(wardPoints, model.Checkpoint{Lat: 13.0840, Lng: 80.2720})}
	rr = do(t, s.RouteByIDHandler, http.MethodPut, "/v1/routes/"+rt.ID, upd)
	if rr.Code != 200 || decode[model.Route](t, rr).TotalPoints != 3 {
		t.Fatalf("update: %d %s", rr.Code, rr.Body.String())
	}

	if rr := do(t, s.RouteByIDHandler, http.MethodDelete, "/v1/routes/"+rt.ID, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	if rr := do(t, s.RouteByIDHandler, http.MethodGet, "/v1/routes/"+rt.ID, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted: %d", rr.Code)
	}
}

func TestRouteDeleteWithAssignmentConflicts(t *testing.T) {
	s := newTestServer(t)
	a := seedAssignment(t, s)
	if rr := do(t, s.RouteByIDHandler, http.MethodDelete, "/v1/routes/"+a.RouteID, nil); rr.Code != http.StatusConflict {
		t.Fatalf("delete referenced route: %d", rr.Code)
	}
}

func TestCollectorsAndAssignmentsListing(t *testing.T) {
	s := newTestServer(t)
	a := seedAssignment(t, s)

	if rr := do(t, s.CollectorsIndexHandler, http.MethodPost, "/v1/collectors", model.CollectorInput{Name: "Anu", Mobile: "abc"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad mobile: %d", rr.Code)
	}
	if rr := do(t, s.CollectorByIDHandler, http.MethodGet, "/v1/collectors/"+a.CollectorID, nil); rr.Code != 200 {
		t.Fatalf("get collector: %d", rr.Code)
	}
	rr := do(t, s.CollectorByIDHandler, http.MethodGet, "/v1/collectors/"+a.CollectorID+"/assignments", nil,
		"X-Role", "collector", "X-Collector-Id", a.CollectorID)
	page := decode[struct {
		Items []model.Assignment `json:"items"`
	}](t, rr)
	if rr.Code != 200 || len(page.Items) != 1 || page.Items[0].ID != a.ID {
		t.Fatalf("collector assignments: %d %+v", rr.Code, page)
	}
	if rr := do(t, s.CollectorByIDHandler, http.MethodGet, "/v1/collectors/"+a.CollectorID+"/assignments", nil,
		"X-Role", "collector", "X-Collector-Id", "someone-else"); rr.Code != http.StatusForbidden {
		t.Fatalf("other collector: %d", rr.Code)
	}

	if rr := do(t, s.AssignmentsIndexHandler, http.MethodGet, "/v1/assignments?status=bogus", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter: %d", rr.Code)
	}
	rr = do(t, s.AssignmentsIndexHandler, http.MethodGet, "/v1/assignments?status=assigned&routeId="+a.RouteID, nil)
	page = decode[struct {
		Items []model.Assignment `json:"items"`
	}](t, rr)
	if len(page.Items) != 1 {
		t.Fatalf("filtered list: %+v", page)
	}
	if rr := do(t, s.AssignmentsIndexHandler, http.MethodPost, "/v1/assignments", model.AssignmentRequest{CollectorID: a.CollectorID, RouteID: "nope"}); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown route: %d", rr.Code)
	}
}

func TestPositionUpdatesCoverRoute(t *testing.T) {
	s := newTestServer(t)
	a := seedAssignment(t, s)
	path := "/v1/assignments/" + a.ID + "/position"

	rr := do(t, s.AssignmentByIDHandler, http.MethodPost, path, `{"latitude":13.0827,"longitude":80.2707,"timestamp":1715003456}`)
	if rr.Code != 200 {
		t.Fatalf("first fix: %d %s", rr.Code, rr.Body.String())
	}
	res := decode[positionResponse](t, rr)
	if !res.Success || !reflect.DeepEqual(res.CoveredPoints, []int{0}) || res.Status != model.StatusInProgress {
		t.Fatalf("first fix: %+v", res)
	}
	// lastUpdated is when the server received the fix, not the device clock
	if time.Since(res.LastUpdated) > time.Minute {
		t.Fatalf("lastUpdated should be receive time, got %v", res.LastUpdated)
	}

	rr = do(t, s.AssignmentByIDHandler, http.MethodPost, path, `{"lat":13.0830,"lng":80.2710}`)
	res = decode[positionResponse](t, rr)
	if rr.Code != 200 || res.Status != model.StatusCompleted || res.PointsCovered != 2 || !reflect.DeepEqual(res.NewlyCovered, []int{1}) {
		t.Fatalf("second fix: %d %+v", rr.Code, res)
	}

	rr = do(t, s.AssignmentByIDHandler, http.MethodGet, "/v1/assignments/"+a.ID, nil)
	got := decode[model.Assignment](t, rr)
	if got.Status != model.StatusCompleted || got.CurrentPosition == nil || got.CurrentPosition.Lat != 13.0830 {
		t.Fatalf("stored assignment: %+v", got)
	}
}

func TestPositionErrors(t *testing.T) {
	s := newTestServer(t)
	a := seedAssignment(t, s)
	path := "/v1/assignments/" + a.ID + "/position"

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"latitude out of range", path, `{"latitude":91,"longitude":0}`, http.StatusBadRequest},
		{"missing longitude", path, `{"latitude":1}`, http.StatusBadRequest},
		{"malformed json", path, `{`, http.StatusBadRequest},
		{"bad timestamp", path, `{"latitude":1,"longitude":1,"timestamp":"yesterday"}`, http.StatusBadRequest},
		{"timestamp ahead of server", path, `{"latitude":1,"longitude":1,"timestamp":"2999-01-01T00:00:00Z"}`, http.StatusBadRequest},
		{"unknown assignment", "/v1/assignments/missing/position", `{"latitude":1,"longitude":1}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rr := do(t, s.AssignmentByIDHandler, http.MethodPost, tc.path, tc.body); rr.Code != tc.want {
				t.Fatalf("got %d want %d: %s", rr.Code, tc.want, rr.Body.String())
			}
		})
	}

	if rr := do(t, s.AssignmentByIDHandler, http.MethodPost, "/v1/assignments/"+a.ID+"/cancel", nil, "X-Role", "collector"); rr.Code != http.StatusForbidden {
		t.Fatalf("collector cancel: %d", rr.Code)
	}
	if rr := do(t, s.AssignmentByIDHandler, http.MethodPost, "/v1/assignments/"+a.ID+"/cancel", nil); rr.Code != 200 {
		t.Fatalf("cancel: %d", rr.Code)
	}
	if rr := do(t, s.AssignmentByIDHandler, http.MethodPost, path, `{"latitude":13.0827,"longitude":80.2707}`); rr.Code != http.StatusConflict {
		t.Fatalf("update after cancel: %d", rr.Code)
	}
}

func TestPositionCollectorOwnership(t *testing.T) {
	s := newTestServer(t)
	a := seedAssignment(t, s)
	path := "/v1/assignments/" + a.ID + "/position"
	body := `{"latitude":13.0827,"longitude":80.2707}`

	if rr := do(t, s.AssignmentByIDHandler, http.MethodPost, path, body, "X-Role", "collector", "X-Collector-Id", "other"); rr.Code != http.StatusForbidden {
		t.Fatalf("foreign collector: %d", rr.Code)
	}
	if rr := do(t, s.AssignmentByIDHandler, http.MethodPost, path, body, "X-Role", "collector", "X-Collector-Id", a.CollectorID); rr.Code != 200 {
		t.Fatalf("own collector: %d %s", rr.Code, rr.Body.String())
	}
}

func TestFutureTimestampDoesNotPinPosition(t *testing.T) {
	s := newTestServer(t)
	a := seedAssignment(t, s)
	path := "/v1/assignments/" + a.ID + "/position"

	if rr := do(t, s.AssignmentByIDHandler, http.MethodPost, path, `{"latitude":1,"longitude":1,"timestamp":32503680000000}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("future fix: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, s.AssignmentByIDHandler, http.MethodPost, path, `{"latitude":13.0827,"longitude":80.2707,"timestamp":1715003456000}`); rr.Code != 200 {
		t.Fatalf("fix: %d %s", rr.Code, rr.Body.String())
	}
	got := decode[model.Assignment](t, do(t, s.AssignmentByIDHandler, http.MethodGet, "/v1/assignments/"+a.ID, nil))
	if got.CurrentPosition == nil || got.CurrentPosition.Lat != 13.0827 || !reflect.DeepEqual(got.CoveredPoints, []int{0}) {
		t.Fatalf("stored assignment: %+v", got)
	}
}

func TestAssignmentReadsScopedToCollector(t *testing.T) {
	s := newTestServer(t)
	mine := seedAssignment(t, s)
	theirs := seedAssignment(t, s)
	as := func(id string) []string { return []string{"X-Role", "collector", "X-Collector-Id", id} }

	rr := do(t, s.AssignmentsIndexHandler, http.MethodGet, "/v1/assignments", nil, as(mine.CollectorID)...)
	page := decode[struct {
		Items []model.Assignment `json:"items"`
	}](t, rr)
	if rr.Code != 200 || len(page.Items) != 1 || page.Items[0].ID != mine.ID {
		t.Fatalf("collector list: %d %+v", rr.Code, page)
	}
	if rr := do(t, s.AssignmentsIndexHandler, http.MethodGet, "/v1/assignments?collectorId="+theirs.CollectorID, nil, as(mine.CollectorID)...); rr.Code != http.StatusForbidden {
		t.Fatalf("foreign collector filter: %d", rr.Code)
	}
	if rr := do(t, s.AssignmentsIndexHandler, http.MethodGet, "/v1/assignments", nil, "X-Role", "collector"); rr.Code != http.StatusForbidden {
		t.Fatalf("collector without id: %d", rr.Code)
	}

	if rr := do(t, s.AssignmentByIDHandler, http.MethodGet, "/v1/assignments/"+theirs.ID, nil, as(mine.CollectorID)...); rr.Code != http.StatusForbidden {
		t.Fatalf("foreign assignment: %d", rr.Code)
	}
	if rr := do(t, s.AssignmentByIDHandler, http.MethodGet, "/v1/assignments/"+mine.ID, nil, as(mine.CollectorID)...); rr.Code != 200 {
		t.Fatalf("own assignment: %d", rr.Code)
	}

	rr = do(t, s.AssignmentsIndexHandler, http.MethodGet, "/v1/assignments", nil)
	page = decode[struct {
		Items []model.Assignment `json:"items"`
	}](t, rr)
	if len(page.Items) != 2 {
		t.Fatalf("admin list: %+v", page)
	}
}

func TestRateLimitChargedAfterOwnership(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateConfig{RPS: 0.001, Burst: 1}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	a := seedAssignment(t, s)
	path := "/v1/assignments/" + a.ID + "/position"
	for i := 0; i < 3; i++ {
		if rr := do(t, s.AssignmentByIDHandler, http.MethodPost, path, `{"latitude":1,"longitude":1}`, "X-Role", "collector", "X-Collector-Id", "intruder"); rr.Code != http.StatusForbidden {
			t.Fatalf("foreign post %d: %d", i, rr.Code)
		}
		if rr := do(t, s.AssignmentByIDHandler, http.MethodPost, path, `{`); rr.Code != http.StatusBadRequest {
			t.Fatalf("malformed post %d: %d", i, rr.Code)
		}
	}
	if rr := do(t, s.AssignmentByIDHandler, http.MethodPost, path, `{"latitude":1,"longitude":1}`, "X-Role", "collector", "X-Collector-Id", a.CollectorID); rr.Code != 200 {
		t.Fatalf("owner post: %d %s", rr.Code, rr.Body.String())
	}
}

func TestPositionRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateConfig{RPS: 0.001, Burst: 2}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	a := seedAssignment(t, s)
	path := "/v1/assignments/" + a.ID + "/position"
	for i := 0; i < 2; i++ {
		if rr := do(t, s.AssignmentByIDHandler, http.MethodPost, path, `{"latitude":1,"longitude":1}`); rr.Code != 200 {
			t.Fatalf("request %d: %d", i, rr.Code)
		}
	}
	rr := do(t, s.AssignmentByIDHandler, http.MethodPost, path, `{"latitude":1,"longitude":1}`)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rr.Code)
	}
	// other assignments have their own bucket
	if rr := do(t, s.AssignmentByIDHandler, http.MethodPost, "/v1/assignments/other/position", `{"latitude":1,"longitude":1}`); rr.Code != http.StatusNotFound {
		t.Fatalf("other assignment: %d", rr.Code)
	}
}

type failingStore struct{ *store.Memory }

func (failingStore) SaveAssignment(context.Context, model.Assignment) (model.Assignment, error) {
	return model.Assignment{}, errors.New("connection refused")
}

func TestPositionPersistenceFailureIs503(t *testing.T) {
	fs := failingStore{store.NewMemory()}
	cfg := testConfig()
	s := NewServerWith(cfg, fs, tracker.New(fs, tracker.WithSaveRetries(0)), NewBroker())
	a := seedAssignment(t, s)
	rr := do(t, s.AssignmentByIDHandler, http.MethodPost, "/v1/assignments/"+a.ID+"/position", `{"latitude":13.0827,"longitude":80.2707}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %s", rr.Code, rr.Body.String())
	}
	if decode[Problem](t, rr).Status != http.StatusServiceUnavailable {
		t.Fatalf("problem body: %s", rr.Body.String())
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 6, 13, 50, 56, 0, time.UTC)
	for _, raw := range []string{`1715003456`, `1715003456000`, `"2024-05-06T13:50:56Z"`, `"2024-05-06T19:20:56+05:30"`} {
		got, err := parseTimestamp(json.RawMessage(raw))
		if err != nil || !got.Equal(want) {
			t.Fatalf("%s: got %v, %v", raw, got, err)
		}
	}
	if got, err := parseTimestamp(nil); err != nil || !got.IsZero() {
		t.Fatalf("absent: %v %v", got, err)
	}
	if _, err := parseTimestamp(json.RawMessage(`-5`)); err == nil {
		t.Fatal("expected error for negative epoch")
	}
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
	mu   sync.Mutex
	hdr  http.Header
	buf  bytes.Buffer
	code int
}

func (r *sseRecorder) Header() http.Header {
	if r.hdr == nil {
		r.hdr = http.Header{}
	}
	return r.hdr
}
func (r *sseRecorder) WriteHeader(c int) { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}
func (r *sseRecorder) Flush() {}

func (r *sseRecorder) contains(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Contains(r.buf.String(), s)
}

func (r *sseRecorder) waitFor(t *testing.T, s string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.contains(s) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Fatalf("SSE did not contain %q. Body: %s", s, r.buf.String())
}

func TestAssignmentEventsSSE(t *testing.T) {
	s := newTestServer(t)
	a := seedAssignment(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/assignments/"+a.ID+"/events/stream", nil).WithContext(ctx)
	rec := &sseRecorder{}
	done := make(chan struct{})
	go func() {
		s.AssignmentByIDHandler(rec, req)
		close(done)
	}()

	rec.waitFor(t, "event: snapshot")
	if _, err := s.Tracker.Apply(context.Background(), model.PositionUpdate{AssignmentID: a.ID, Lat: 13.0827, Lng: 80.2707}); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, "event: position.updated")
	rec.waitFor(t, "event: checkpoint.covered")
	rec.waitFor(t, "event: heartbeat")

	cancel()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("handler did not exit after cancel")
	}
}

func TestAssignmentEventsSSEUnknown(t *testing.T) {
	s := newTestServer(t)
	if rr := do(t, s.AssignmentByIDHandler, http.MethodGet, "/v1/assignments/nope/events/stream", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown stream: %d", rr.Code)
	}
}

func TestOpenAPIAndDocs(t *testing.T) {
	s := newTestServer(t)
	doc, err := openAPILoad()
	if err != nil {
		t.Fatalf("openapi: %v", err)
	}
	paths := doc["paths"].(map[string]any)
	for _, p := range []string{"/v1/assignments/{id}/position", "/v1/routes", "/v1/live/ws"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("openapi missing %s", p)
		}
	}
	if rr := do(t, s.OpenAPIHandler, http.MethodGet, "/openapi.yaml", nil); rr.Code != 200 {
		t.Fatalf("openapi handler: %d", rr.Code)
	}
	rr := do(t, s.DocsHandler, http.MethodGet, "/docs", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), "SwaggerUIBundle") {
		t.Fatalf("docs: %d", rr.Code)
	}
	rr = do(t, s.DebugJSON, http.MethodGet, "/debug/info", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), `"coverageRadiusM":20`) {
		t.Fatalf("debug: %d %s", rr.Code, rr.Body.String())
	}
}
