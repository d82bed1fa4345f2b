package alerts

import (
	"time"
)

// Category identifies which detector produced a Detection
type Category string

const (
	CategoryTrafficLight Category = "trafficLightColor"
	CategoryVehicle      Category = "vehiclePresence"
)

// Categories lists every detection category in submission order
var Categories = []Category{CategoryTrafficLight, CategoryVehicle}

// Detection is a single labelled result from the inference service
type Detection struct {
	Category   Category `json:"category"`
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
}

// Alert is an audible event the frame pipeline decided to announce
type Alert struct {
	Category   Category
	Label      string
	Confidence float64
	Phrase     string
	FiredAt    time.Time
}

// Decision is the outcome of observing one category's detections
type Decision int

const (
	// DecisionIgnored means no qualifying detection was present
	DecisionIgnored Decision = iota
	// DecisionSuppressed means a detection was present but withheld
	DecisionSuppressed
	// DecisionFired means an alert should be played
	DecisionFired
)

func (d Decision) String() string {
	switch d {
	case DecisionIgnored:
		return "ignored"
	case DecisionSuppressed:
		return "suppressed"
	case DecisionFired:
		return "fired"
	default:
		return "unknown"
	}
}

// Policy selects how a category re-arms after firing
type Policy int

const (
	// PolicyRepeat re-fires the same label once the suppression window elapses
	PolicyRepeat Policy = iota
	// PolicyOnChange fires only when the dominant label changes, and never
	// more often than the suppression window
	PolicyOnChange
)

// CategoryPolicy configures suppression for one category
type CategoryPolicy struct {
	Policy Policy
	Window time.Duration
}
