package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	// Central Park South to the Met, roughly 2.4 km
	cps := Point{Latitude: 40.7653, Longitude: -73.9762}
	met := Point{Latitude: 40.7794, Longitude: -73.9632}

	distance, err := Distance(cps, met)
	require.NoError(t, err)
	assert.InDelta(t, 1920, distance, 60, "Distance should be approximately 1.9km")

	same, err := Distance(cps, cps)
	require.NoError(t, err)
	assert.Equal(t, 0.0, same)

	_, err = Distance(cps, Point{Latitude: 200, Longitude: -300})
	assert.Error(t, err, "Should return error for invalid coordinates")
}

func TestDistanceToPath(t *testing.T) {
	path := []Point{
		{Latitude: 40.7680, Longitude: -73.9820},
		{Latitude: 40.7680, Longitude: -73.9700},
	}

	// ~111m north of the middle of the segment
	off := Point{Latitude: 40.7690, Longitude: -73.9760}
	d, err := DistanceToPath(off, path)
	require.NoError(t, err)
	assert.InDelta(t, 111, d, 5)

	on := Point{Latitude: 40.7680, Longitude: -73.9760}
	d, err = DistanceToPath(on, path)
	require.NoError(t, err)
	assert.Less(t, d, 1.0)

	// Past the end of the segment the distance is to the endpoint
	beyond := Point{Latitude: 40.7680, Longitude: -73.9600}
	d, err = DistanceToPath(beyond, path)
	require.NoError(t, err)
	expected, _ := Distance(beyond, path[1])
	assert.InDelta(t, expected, d, 2)

	_, err = DistanceToPath(on, nil)
	assert.Error(t, err)
}

func TestPolylineRoundTrip(t *testing.T) {
	// Canonical example from Google's polyline documentation
	points, err := DecodePolyline("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.InDelta(t, 38.5, points[0].Latitude, 1e-5)
	assert.InDelta(t, -120.2, points[0].Longitude, 1e-5)
	assert.InDelta(t, 43.252, points[2].Latitude, 1e-5)

	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", EncodePolyline(points))

	empty, err := DecodePolyline("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLocation(t *testing.T) {
	assert.True(t, Location{}.IsZero())

	loc := NewLocation(40.7687, -73.9652, time.Unix(1700000000, 0))
	assert.False(t, loc.IsZero())
	assert.Equal(t, "40.768700,-73.965200", loc.String())
}
