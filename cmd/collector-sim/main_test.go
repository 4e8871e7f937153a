package main

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"wastetrack/internal/model"
)

func TestWalkEndsOnEveryCheckpoint(t *testing.T) {
	pts := []model.Checkpoint{{Lat: 13.0827, Lng: 80.2707}, {Lat: 13.0830, Lng: 80.2710}, {Lat: 13.0840, Lng: 80.2700}}
	path := walk(pts, 3)
	if len(path) != 7 {
		t.Fatalf("fixes: got %d want 7", len(path))
	}
	for i, idx := range []int{0, 3, 6} {
		got, want := path[idx], pts[i]
		if math.Abs(got.Lat-want.Lat) > 1e-9 || math.Abs(got.Lng-want.Lng) > 1e-9 {
			t.Fatalf("fix %d: got %+v want %+v", idx, got, want)
		}
	}
	if walk(nil, 3) != nil {
		t.Fatal("empty route should yield no fixes")
	}
}

func TestPostPosition(t *testing.T) {
	var got map[string]any
	var role string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/assignments/a1/position" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		role = r.Header.Get("X-Role")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "newlyCovered": []int{0}, "pointsCovered": 1, "totalPoints": 2, "status": "in_progress"})
	}))
	defer ts.Close()

	o := options{api: ts.URL, assignmentID: "a1", role: "collector"}
	if err := postPosition(context.Background(), o, model.GeoPoint{Lat: 13.0827, Lng: 80.2707}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got["latitude"] != 13.0827 || got["longitude"] != 80.2707 || got["timestamp"] == nil {
		t.Fatalf("body: %+v", got)
	}
	if role != "collector" {
		t.Fatalf("role header: %q", role)
	}

	o.assignmentID = "missing"
	if err := postPosition(context.Background(), o, model.GeoPoint{}); err == nil {
		t.Fatal("expected error for 404")
	}
}
