package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/twpayne/go-polyline"
)

// Earth's radius in meters
const earthRadius = 6371000

var errInvalidCoordinates = errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")

// Valid reports whether p is a usable coordinate
func (p Point) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// String formats the point as "lat,lng" the way routing APIs expect it
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Latitude, p.Longitude)
}

// Distance calculates great-circle distance between two points using Haversine formula
func Distance(p1, p2 Point) (float64, error) {
	if !p1.Valid() || !p2.Valid() {
		return 0, errInvalidCoordinates
	}

	if p1 == p2 {
		return 0, nil
	}

	lat1 := p1.Latitude * math.Pi / 180
	lon1 := p1.Longitude * math.Pi / 180
	lat2 := p2.Latitude * math.Pi / 180
	lon2 := p2.Longitude * math.Pi / 180

	dlat := lat2 - lat1
	dlon := lon2 - lon1

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c, nil
}

// DistanceToPath returns the minimum distance in meters from p to any vertex or
// segment of path. Segments are treated as locally flat, which is accurate at walking scale.
func DistanceToPath(p Point, path []Point) (float64, error) {
	if !p.Valid() {
		return 0, errInvalidCoordinates
	}
	if len(path) == 0 {
		return 0, errors.New("path has no points")
	}
	if len(path) == 1 {
		return Distance(p, path[0])
	}

	minDistance := math.Inf(1)
	for i := 0; i < len(path)-1; i++ {
		d := pointToSegment(p, path[i], path[i+1])
		if d < minDistance {
			minDistance = d
		}
	}
	return minDistance, nil
}

// pointToSegment projects onto an equirectangular plane centred on p
func pointToSegment(p, a, b Point) float64 {
	cosLat := math.Cos(p.Latitude * math.Pi / 180)
	toXY := func(q Point) (float64, float64) {
		x := (q.Longitude - p.Longitude) * math.Pi / 180 * earthRadius * cosLat
		y := (q.Latitude - p.Latitude) * math.Pi / 180 * earthRadius
		return x, y
	}

	ax, ay := toXY(a)
	bx, by := toXY(b)
	dx, dy := bx-ax, by-ay

	lengthSq := dx*dx + dy*dy
	if lengthSq == 0 {
		return math.Hypot(ax, ay)
	}

	// p is the origin, so the projection parameter is -(a·d)/|d|²
	t := -(ax*dx + ay*dy) / lengthSq
	t = math.Max(0, math.Min(1, t))

	return math.Hypot(ax+t*dx, ay+t*dy)
}

// DecodePolyline decodes a Google encoded polyline into points
func DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, nil
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}

	points := make([]Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		points = append(points, Point{Latitude: c[0], Longitude: c[1]})
	}
	return points, nil
}

// EncodePolyline encodes points as a Google polyline string
func EncodePolyline(points []Point) string {
	coords := make([][]float64, 0, len(points))
	for _, p := range points {
		coords = append(coords, []float64{p.Latitude, p.Longitude})
	}
	return string(polyline.EncodeCoords(coords))
}
