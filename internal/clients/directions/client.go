package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dpup/crosswalk/server/internal/lib/failure"
	"github.com/dpup/crosswalk/server/internal/lib/geo"
	"github.com/dpup/crosswalk/server/internal/lib/routing"
)

const statusOK = "OK"

// HTTPDoer is the subset of *http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides walking directions from the Google Directions API
type Client struct {
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
}

// NewClient creates a new Google Directions API client
func NewClient(apiKey string) *Client {
	return NewClientWithHTTPDoer(apiKey, "https://maps.googleapis.com", &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with a custom transport, used by tests
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: doer,
	}
}

// Route computes a walking route from the request's origin to its destination text.
// Any status other than OK is returned as a *failure.RouteStatusError.
func (c *Client) Route(ctx context.Context, request routing.RouteRequest) (*routing.RouteResult, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("invalid route request: %w", err)
	}

	params := url.Values{}
	params.Set("origin", request.Origin.Point.String())
	params.Set("destination", request.DestinationText)
	params.Set("mode", routing.TravelModeWalking)
	params.Set("key", c.apiKey)

	requestURL := fmt.Sprintf("%s/maps/api/directions/json?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, failure.Transient("failed to execute request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 429 {
		return nil, failure.Transient("rate limit exceeded")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, failure.Transient("API error %d: %s", resp.StatusCode, string(body))
	}

	var response DirectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, failure.Malformed("failed to decode response", err)
	}

	if response.Status != statusOK {
		return nil, &failure.RouteStatusError{Status: response.Status, Message: response.ErrorMessage}
	}
	if len(response.Routes) == 0 {
		return nil, &failure.RouteStatusError{Status: "ZERO_RESULTS", Message: "no routes found in response"}
	}

	return processRoute(response.Routes[0]), nil
}

// processRoute converts a Directions API route to a RouteResult
func processRoute(route DirectionsRoute) *routing.RouteResult {
	result := &routing.RouteResult{
		Summary:          route.Summary,
		OverviewPolyline: route.OverviewPolyline.Points,
	}

	for _, leg := range route.Legs {
		converted := routing.Leg{
			StartAddress:    leg.StartAddress,
			EndAddress:      leg.EndAddress,
			DistanceMeters:  leg.Distance.Value,
			DurationSeconds: leg.Duration.Value,
		}
		for _, step := range leg.Steps {
			converted.Steps = append(converted.Steps, routing.Step{
				Instruction:     routing.StripMarkup(step.HTMLInstructions),
				HTMLInstruction: step.HTMLInstructions,
				Polyline:        step.Polyline.Points,
				DistanceMeters:  step.Distance.Value,
				DurationSeconds: step.Duration.Value,
				Start:           step.StartLocation.point(),
				End:             step.EndLocation.point(),
			})
		}
		result.Legs = append(result.Legs, converted)
	}

	return result
}

// DirectionsResponse represents the API response structure
type DirectionsResponse struct {
	Status       string            `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Routes       []DirectionsRoute `json:"routes"`
}

// DirectionsRoute represents a single route in the response
type DirectionsRoute struct {
	Summary          string             `json:"summary"`
	OverviewPolyline DirectionsPolyline `json:"overview_polyline"`
	Legs             []DirectionsLeg    `json:"legs"`
}

// DirectionsLeg represents one leg of a route
type DirectionsLeg struct {
	StartAddress string           `json:"start_address"`
	EndAddress   string           `json:"end_address"`
	Distance     DirectionsValue  `json:"distance"`
	Duration     DirectionsValue  `json:"duration"`
	Steps        []DirectionsStep `json:"steps"`
}

// DirectionsStep represents a single maneuver
type DirectionsStep struct {
	HTMLInstructions string             `json:"html_instructions"`
	Polyline         DirectionsPolyline `json:"polyline"`
	Distance         DirectionsValue    `json:"distance"`
	Duration         DirectionsValue    `json:"duration"`
	StartLocation    DirectionsLatLng   `json:"start_location"`
	EndLocation      DirectionsLatLng   `json:"end_location"`
	TravelMode       string             `json:"travel_mode"`
}

// DirectionsPolyline holds an encoded polyline
type DirectionsPolyline struct {
	Points string `json:"points"`
}

// DirectionsValue is a distance (meters) or duration (seconds) with display text
type DirectionsValue struct {
	Value int    `json:"value"`
	Text  string `json:"text"`
}

// DirectionsLatLng is a coordinate pair
type DirectionsLatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (l DirectionsLatLng) point() geo.Point {
	return geo.Point{Latitude: l.Lat, Longitude: l.Lng}
}
