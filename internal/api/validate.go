package api

import (
	"fmt"
	"strings"

	"wastetrack/internal/geo"
	"wastetrack/internal/model"
)

func validateRouteInput(in *model.RouteInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return fmt.Errorf("name: required")
	}
	for i, p := range in.Points {
		if err := geo.ValidPoint(p.Lat, p.Lng); err != nil {
			return fmt.Errorf("points[%d]: %w", i, err)
		}
	}
	return nil
}

func validateCollectorInput(in *model.CollectorInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Mobile = strings.TrimSpace(in.Mobile)
	if in.Name == "" {
		return fmt.Errorf("name: required")
	}
	if in.Mobile == "" {
		return fmt.Errorf("mobile: required")
	}
	for _, c := range in.Mobile {
		if !(c >= '0' && c <= '9') && c != '+' && c != '-' && c != ' ' {
			return fmt.Errorf("mobile: invalid character %q", c)
		}
	}
	return nil
}

func validateAssignmentRequest(req *model.AssignmentRequest) error {
	if strings.TrimSpace(req.CollectorID) == "" {
		return fmt.Errorf("collectorId: required")
	}
	if strings.TrimSpace(req.RouteID) == "" {
		return fmt.Errorf("routeId: required")
	}
	return nil
}

func validateStatus(s string) error {
	if s == "" || model.AssignmentStatus(s).Valid() {
		return nil
	}
	return fmt.Errorf("status: unknown value %q", s)
}
