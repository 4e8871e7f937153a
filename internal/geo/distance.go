// Package geo holds great-circle helpers shared by the tracker and tools.
package geo

import (
	"errors"
	"fmt"
	"math"

	"wastetrack/internal/model"
)

// EarthRadius is the mean Earth radius in meters.
const EarthRadius = 6371000.0

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Distance returns the haversine distance in meters between a and b.
func Distance(a, b model.GeoPoint) float64 {
	return haversineMeters(a.Lat, a.Lng, b.Lat, b.Lng)
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadius * c
}

// ValidPoint checks that lat/lng are finite and within WGS84 bounds.
func ValidPoint(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return fmt.Errorf("%w: not a finite number", ErrInvalidCoordinate)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude must be between -90 and 90", ErrInvalidCoordinate)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrInvalidCoordinate)
	}
	return nil
}

// Interpolate returns n evenly spaced points from a to b, excluding a and including b.
func Interpolate(a, b model.GeoPoint, n int) []model.GeoPoint {
	if n <= 0 {
		n = 1
	}
	out := make([]model.GeoPoint, 0, n)
	for i := 1; i <= n; i++ {
		f := float64(i) / float64(n)
		out = append(out, model.GeoPoint{Lat: a.Lat + (b.Lat-a.Lat)*f, Lng: a.Lng + (b.Lng-a.Lng)*f})
	}
	return out
}
