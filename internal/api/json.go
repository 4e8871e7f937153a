package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"wastetrack/internal/store"
	"wastetrack/internal/tracker"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps store and tracker errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, action string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tracker.ErrInvalidPosition):
		status = http.StatusBadRequest
	case errors.Is(err, tracker.ErrAssignmentNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tracker.ErrAssignmentClosed), errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, tracker.ErrPersistence):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	}
	writeProblem(w, status, fmt.Sprintf("%s failed", action), err.Error(), r.URL.Path)
}
