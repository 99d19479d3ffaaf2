package spatial

import (
	"github.com/golang/geo/s2"
)

// Constants
const (
	// EarthRadiusMeters is the WGS84 equatorial radius used for all
	// great-circle distance calculations
	EarthRadiusMeters = 6378137.0
)

// HaversineDistance calculates the great-circle distance between two points
// in meters. The s2 chord-angle distance is numerically equivalent to the
// haversine formula; a point's distance to itself is exactly 0.
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}
