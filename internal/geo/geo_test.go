package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidCoordinates(t *testing.T) {
	testCases := []struct {
		name     string
		lng, lat float64
		expected bool
	}{
		{name: "origin", lng: 0, lat: 0, expected: true},
		{name: "bounds inclusive", lng: 180, lat: -90, expected: true},
		{name: "negative bounds inclusive", lng: -180, lat: 90, expected: true},
		{name: "longitude too large", lng: 180.0001, lat: 0, expected: false},
		{name: "latitude too small", lng: 0, lat: -90.5, expected: false},
		{name: "nan", lng: math.NaN(), lat: 0, expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ValidCoordinates(tc.lng, tc.lat))
		})
	}
}

func TestDistance(t *testing.T) {
	// (77.000, 12.900) to (77.001, 12.901) is roughly 155m
	d := Distance(12.900, 77.000, 12.901, 77.001)
	assert.InDelta(t, 155, d, 5)

	assert.Zero(t, Distance(10, 10, 10, 10))
	assert.InDelta(t, Distance(1, 2, 3, 4), Distance(3, 4, 1, 2), 1e-9)
}

func TestMoveNorth(t *testing.T) {
	lat, lng := MoveNorth(12.9, 77, 3000)

	assert.Equal(t, 77.0, lng)
	assert.InDelta(t, 3000, Distance(12.9, 77, lat, lng), 1e-6)
}

func TestBoundingBoxContainsCircle(t *testing.T) {
	lat, lng, radius := 12.9, 77.0, 3000.0
	box := BoundingBox(lat, lng, radius)

	assert.False(t, box.WrapsLng)

	for bearing := 0.0; bearing < 360; bearing += 15 {
		rad := bearing * math.Pi / 180
		dLat := radius * math.Cos(rad) / EarthRadiusMeters * 180 / math.Pi
		dLng := radius * math.Sin(rad) / (EarthRadiusMeters * math.Cos(lat*math.Pi/180)) * 180 / math.Pi

		pLat, pLng := lat+dLat*0.999, lng+dLng*0.999
		assert.True(t, pLat >= box.MinLat && pLat <= box.MaxLat, "lat at bearing %v", bearing)
		assert.True(t, pLng >= box.MinLng && pLng <= box.MaxLng, "lng at bearing %v", bearing)
	}
}

func TestBoundingBoxWraps(t *testing.T) {
	assert.True(t, BoundingBox(89.99, 0, 5000).WrapsLng)
	assert.True(t, BoundingBox(0, 179.99, 5000).WrapsLng)
}

func TestWithin(t *testing.T) {
	lat, lng := MoveNorth(12.9, 77.0, 3000)
	assert.True(t, Within(Distance(12.9, 77.0, lat, lng), 3000))

	lat, lng = MoveNorth(12.9, 77.0, 3001)
	assert.False(t, Within(Distance(12.9, 77.0, lat, lng), 3000))
}
