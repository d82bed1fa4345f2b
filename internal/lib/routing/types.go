package routing

import (
	"errors"
	"strings"

	"github.com/dpup/crosswalk/server/internal/lib/geo"
)

// TravelModeWalking is the only travel mode requested
const TravelModeWalking = "walking"

var (
	ErrNoDestination = errors.New("destination is empty")
	ErrNoOrigin      = errors.New("origin is unknown")
)

// RouteRequest asks for a walking route from the user's position to a free-text destination
type RouteRequest struct {
	Origin          geo.Location `json:"origin"`
	DestinationText string       `json:"destination"`
}

// Validate reports whether the request can be sent
func (r RouteRequest) Validate() error {
	if strings.TrimSpace(r.DestinationText) == "" {
		return ErrNoDestination
	}
	if r.Origin.IsZero() {
		return ErrNoOrigin
	}
	return nil
}

// Step is one maneuver of a leg
type Step struct {
	Instruction     string    `json:"instruction"`      // Markup stripped
	HTMLInstruction string    `json:"html_instruction"` // As returned by the provider
	Polyline        string    `json:"polyline"`         // Encoded polyline, opaque to the pipeline
	DistanceMeters  int       `json:"distance_meters"`
	DurationSeconds int       `json:"duration_seconds"`
	Start           geo.Point `json:"start"`
	End             geo.Point `json:"end"`
}

// Leg is the portion of a route between two waypoints
type Leg struct {
	StartAddress    string `json:"start_address"`
	EndAddress      string `json:"end_address"`
	DistanceMeters  int    `json:"distance_meters"`
	DurationSeconds int    `json:"duration_seconds"`
	Steps           []Step `json:"steps"`
}

// RouteResult is a computed route
type RouteResult struct {
	Summary          string `json:"summary"`
	OverviewPolyline string `json:"overview_polyline"`
	Legs             []Leg  `json:"legs"`
}

// StepCount returns the number of steps in the first leg
func (r *RouteResult) StepCount() int {
	if r == nil || len(r.Legs) == 0 {
		return 0
	}
	return len(r.Legs[0].Steps)
}

// FirstStep returns the first step of the first leg
func (r *RouteResult) FirstStep() (Step, bool) {
	if r.StepCount() == 0 {
		return Step{}, false
	}
	return r.Legs[0].Steps[0], true
}
