// Package geo holds the spherical-earth math used to pair nearby requests.
package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean earth radius used for every distance the
// matcher compares against its radius.
const EarthRadiusMeters = 6371008.8

func ValidCoordinates(lng, lat float64) bool {
	if math.IsNaN(lng) || math.IsNaN(lat) {
		return false
	}

	return lng >= -180 && lng <= 180 && lat >= -90 && lat <= 90
}

// Distance returns the great-circle distance in meters between two points.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)

	return a.Distance(b).Radians() * EarthRadiusMeters
}

// Tolerance absorbs floating point rounding when a distance is compared with a
// radius, so a point placed exactly on the radius counts as inside.
const Tolerance = 1e-6

// Within reports whether a distance in meters lies inside radius.
func Within(distance, radius float64) bool {
	return distance <= radius+Tolerance
}

// Box is a lat/lng rectangle. When WrapsLng is set the longitude bounds are
// not usable and every longitude has to be considered.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
	WrapsLng       bool
}

// BoundingBox returns a rectangle containing every point within radius meters
// of (lat, lng).
func BoundingBox(lat, lng, radius float64) Box {
	dLat := radius / EarthRadiusMeters * 180 / math.Pi

	box := Box{
		MinLat: math.Max(-90, lat-dLat),
		MaxLat: math.Min(90, lat+dLat),
	}

	// near a pole the circle may cover all longitudes
	if box.MinLat <= -90 || box.MaxLat >= 90 {
		box.MinLng, box.MaxLng, box.WrapsLng = -180, 180, true
		return box
	}

	maxAbsLat := math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat))
	dLng := dLat / math.Cos(maxAbsLat*math.Pi/180)

	box.MinLng = lng - dLng
	box.MaxLng = lng + dLng
	if box.MinLng < -180 || box.MaxLng > 180 {
		box.MinLng, box.MaxLng, box.WrapsLng = -180, 180, true
	}

	return box
}

// MoveNorth returns the point reached by travelling meters due north (or south
// for a negative value) along the meridian of (lat, lng).
func MoveNorth(lat, lng, meters float64) (float64, float64) {
	return lat + meters/EarthRadiusMeters*180/math.Pi, lng
}
