package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dpup/crosswalk/server/internal/audio"
	"github.com/dpup/crosswalk/server/internal/lib/alerts"
	"github.com/dpup/crosswalk/server/internal/lib/failure"
)

// HTTPDoer is the subset of *http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls a self-hosted text-to-speech endpoint that answers
// POST /tts {"text": ...} with audio bytes
type Client struct {
	httpClient HTTPDoer
	baseURL    string
}

// NewClient creates a new text-to-speech client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return NewClientWithHTTPDoer(baseURL, &http.Client{
		Timeout: timeout,
	})
}

// NewClientWithHTTPDoer creates a client with a custom transport, used by tests
func NewClientWithHTTPDoer(baseURL string, doer HTTPDoer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: doer,
	}
}

// Synthesize requests audio for text
func (c *Client) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	jsonBody, err := json.Marshal(TTSRequest{Text: text})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/tts", bytes.NewBuffer(jsonBody))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return audio.Clip{}, failure.Transient("failed to execute request: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, failure.Transient("failed to read response: %v", err)
	}

	if resp.StatusCode == 429 {
		return audio.Clip{}, failure.Transient("rate limit exceeded")
	}
	if resp.StatusCode >= 400 {
		var errBody TTSErrorResponse
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			return audio.Clip{}, failure.Transient("API error %d: %s", resp.StatusCode, errBody.Error)
		}
		return audio.Clip{}, failure.Transient("API error %d: %s", resp.StatusCode, string(data))
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		// An error payload delivered with a success status
		return audio.Clip{}, failure.Malformed("unexpected JSON body", fmt.Errorf("%s", strings.TrimSpace(string(data))))
	}
	if len(data) == 0 {
		return audio.Clip{}, failure.Malformed("empty audio", fmt.Errorf("no bytes for %q", text))
	}

	return audio.Clip{
		ID:          alerts.HashText(text),
		Text:        text,
		Data:        data,
		ContentType: contentType,
	}, nil
}

// TTSRequest is the request body of the /tts endpoint
type TTSRequest struct {
	Text string `json:"text"`
}

// TTSErrorResponse is the error body of the /tts endpoint
type TTSErrorResponse struct {
	Error string `json:"error"`
}
