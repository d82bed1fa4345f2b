package routing

import (
	"fmt"
	"io"

	kml "github.com/twpayne/go-kml"

	"github.com/dpup/crosswalk/server/internal/lib/geo"
)

// Path returns the geometry of the first leg, falling back to the overview polyline
func Path(result *RouteResult) ([]geo.Point, error) {
	if result == nil {
		return nil, nil
	}

	var path []geo.Point
	if len(result.Legs) > 0 {
		for i, step := range result.Legs[0].Steps {
			if step.Polyline == "" {
				continue
			}
			points, err := geo.DecodePolyline(step.Polyline)
			if err != nil {
				return nil, fmt.Errorf("failed to decode step %d: %w", i, err)
			}
			// Consecutive steps share their boundary point
			if len(path) > 0 && len(points) > 0 && path[len(path)-1] == points[0] {
				points = points[1:]
			}
			path = append(path, points...)
		}
	}

	if len(path) == 0 && result.OverviewPolyline != "" {
		return geo.DecodePolyline(result.OverviewPolyline)
	}
	return path, nil
}

// WriteKML writes the route geometry and the origin as KML placemarks
func WriteKML(w io.Writer, name string, origin geo.Point, result *RouteResult) error {
	path, err := Path(result)
	if err != nil {
		return err
	}

	coords := make([]kml.Coordinate, 0, len(path))
	for _, p := range path {
		coords = append(coords, kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude})
	}

	children := []kml.Element{kml.Name(name)}
	if origin != (geo.Point{}) && origin.Valid() {
		children = append(children, kml.Placemark(
			kml.Name("Origin"),
			kml.Point(kml.Coordinates(kml.Coordinate{Lon: origin.Longitude, Lat: origin.Latitude})),
		))
	}
	if len(coords) > 0 {
		routeName := name
		if step, ok := result.FirstStep(); ok {
			routeName = step.Instruction
		}
		children = append(children, kml.Placemark(
			kml.Name(routeName),
			kml.LineString(kml.Tessellate(true), kml.Coordinates(coords...)),
		))
	}

	if err := kml.KML(kml.Document(children...)).WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}
