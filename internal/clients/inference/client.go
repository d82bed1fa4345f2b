package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dpup/crosswalk/server/internal/lib/alerts"
	"github.com/dpup/crosswalk/server/internal/lib/failure"
)

// HTTPDoer is the subset of *http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Endpoint describes one categorized detector
type Endpoint struct {
	Category    alerts.Category
	Path        string
	ResultField string // JSON field carrying the predictions, e.g. "trafficPrediction"
}

// DefaultEndpoints returns the traffic-light and vehicle detectors
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Category: alerts.CategoryTrafficLight, Path: "/", ResultField: "trafficPrediction"},
		{Category: alerts.CategoryVehicle, Path: "/car", ResultField: "carPrediction"},
	}
}

// Result is the outcome of one categorized call
type Result struct {
	Category   alerts.Category
	Detections []alerts.Detection
	Err        error
	Duration   time.Duration
}

// Client submits encoded frames to the inference service
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	endpoints  []Endpoint
}

// NewClient creates a new inference service client
func NewClient(baseURL string, endpoints []Endpoint, timeout time.Duration) *Client {
	return NewClientWithHTTPDoer(baseURL, endpoints, &http.Client{
		Timeout: timeout,
	})
}

// NewClientWithHTTPDoer creates a client with a custom transport, used by tests
func NewClientWithHTTPDoer(baseURL string, endpoints []Endpoint, doer HTTPDoer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: doer,
		endpoints:  endpoints,
	}
}

// Endpoints returns the configured detectors
func (c *Client) Endpoints() []Endpoint {
	return c.endpoints
}

// DetectAll calls every endpoint concurrently with the same frame. A failure in
// one category does not affect the others. onResult, if set, is called from the
// calling goroutine of each endpoint as soon as that endpoint completes.
// Results are returned in endpoint order.
func (c *Client) DetectAll(ctx context.Context, frame []byte, onResult func(Result)) []Result {
	results := make([]Result, len(c.endpoints))

	var g errgroup.Group
	for i, endpoint := range c.endpoints {
		g.Go(func() error {
			start := time.Now()
			detections, err := c.Detect(ctx, endpoint, frame)
			results[i] = Result{
				Category:   endpoint.Category,
				Detections: detections,
				Err:        err,
				Duration:   time.Since(start),
			}
			if onResult != nil {
				onResult(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Detect submits frame to a single endpoint as multipart field "image"
func (c *Client) Detect(ctx context.Context, endpoint Endpoint, frame []byte) ([]alerts.Detection, error) {
	body, contentType, err := encodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, failure.Transient("failed to execute request: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Transient("failed to read response: %v", err)
	}

	if resp.StatusCode == 429 {
		return nil, failure.Transient("rate limit exceeded")
	}
	if resp.StatusCode >= 400 {
		return nil, failure.Transient("API error %d: %s", resp.StatusCode, errorMessage(data))
	}

	return decodeDetections(endpoint, data)
}

func encodeFrame(frame []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="camera-frame.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(frame); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// decodeDetections reads the endpoint's result field, which may hold a single
// prediction object or a list of them
func decodeDetections(endpoint Endpoint, data []byte) ([]alerts.Detection, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, failure.Malformed("failed to decode response", err)
	}

	raw, ok := lookupField(envelope, endpoint.ResultField)
	if !ok {
		return nil, failure.Malformed("missing result field", fmt.Errorf("no %q in response", endpoint.ResultField))
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var predictions []Prediction
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &predictions); err != nil {
			return nil, failure.Malformed("failed to decode predictions", err)
		}
	} else {
		var single Prediction
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, failure.Malformed("failed to decode prediction", err)
		}
		predictions = []Prediction{single}
	}

	detections := make([]alerts.Detection, 0, len(predictions))
	for _, p := range predictions {
		label := p.Label
		if label == "" {
			label = p.Status
		}
		if label == "" {
			continue
		}
		detections = append(detections, alerts.Detection{
			Category:   endpoint.Category,
			Label:      label,
			Confidence: p.Confidence,
		})
	}
	return detections, nil
}

// lookupField matches field names case-insensitively, as encoding/json does
func lookupField(envelope map[string]json.RawMessage, field string) (json.RawMessage, bool) {
	if raw, ok := envelope[field]; ok {
		return raw, true
	}
	for key, raw := range envelope {
		if strings.EqualFold(key, field) {
			return raw, true
		}
	}
	return nil, false
}

func errorMessage(data []byte) string {
	var body ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(data))
}

// Prediction is a single detector output
type Prediction struct {
	Label      string    `json:"label"`
	Status     string    `json:"status"` // Traffic-light detector reports its color here
	Confidence float64   `json:"confidence"`
	Location   *Location `json:"location,omitempty"`
}

// Location is the detection's position within the frame
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ErrorResponse is the error body returned by the inference service
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
