package api

import (
	"net/http"
	"strings"
)

type Principal struct {
	Role        string // admin, collector
	CollectorID string
}

// getPrincipal reads the caller's role from trusted headers set by the
// gateway in front of the service. An absent role means admin.
func (s *Server) getPrincipal(r *http.Request) Principal {
	role := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Role")))
	if role == "" {
		role = "admin"
	}
	return Principal{Role: role, CollectorID: r.Header.Get("X-Collector-Id")}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanTrack reports whether the principal may report positions for, or watch,
// an assignment held by collectorID.
func (p Principal) CanTrack(collectorID string) bool {
	if p.IsAdmin() {
		return true
	}
	return p.Role == "collector" && p.CollectorID != "" && p.CollectorID == collectorID
}
