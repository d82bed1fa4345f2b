package geo

import "time"

// Point represents a geographic coordinate
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Location is a single position fix from the location source.
// Immutable once produced.
type Location struct {
	Point
	Timestamp time.Time `json:"timestamp"`
}

// NewLocation creates a Location fix
func NewLocation(lat, lng float64, ts time.Time) Location {
	return Location{
		Point:     Point{Latitude: lat, Longitude: lng},
		Timestamp: ts,
	}
}

// IsZero reports whether the location has never been set
func (l Location) IsZero() bool {
	return l.Timestamp.IsZero() && l.Latitude == 0 && l.Longitude == 0
}
