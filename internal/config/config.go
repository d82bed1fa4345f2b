package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dpup/crosswalk/server/internal/lib/alerts"
)

// Config represents the complete assistant configuration. Sections are loaded
// from prefab's config under the "crosswalk" key on top of DefaultConfig.
type Config struct {
	Camera     CameraConfig     `koanf:"camera"`
	Frames     FramesConfig     `koanf:"frames"`
	Inference  InferenceConfig  `koanf:"inference"`
	Alerts     AlertsConfig     `koanf:"alerts"`
	Navigation NavigationConfig `koanf:"navigation"`
	Location   LocationConfig   `koanf:"location"`
	Speech     SpeechConfig     `koanf:"speech"`
	Audio      AudioConfig      `koanf:"audio"`
}

// CameraConfig holds capture device settings
type CameraConfig struct {
	Device    string   `koanf:"device"`
	Width     int      `koanf:"width"`
	Height    int      `koanf:"height"`
	FrameRate int      `koanf:"frame_rate"`
	Command   []string `koanf:"command"` // Optional override of the ffmpeg command line
}

// FramesConfig holds sampler and encoder settings
type FramesConfig struct {
	CaptureInterval time.Duration `koanf:"capture_interval"`
	MaxWidth        int           `koanf:"max_width"`
	JPEGQuality     int           `koanf:"jpeg_quality"`
}

// InferenceConfig holds the detection service settings
type InferenceConfig struct {
	BaseURL     string        `koanf:"base_url"`
	TrafficPath string        `koanf:"traffic_path"`
	VehiclePath string        `koanf:"vehicle_path"`
	Timeout     time.Duration `koanf:"timeout"`
}

// AlertsConfig holds detection deduplication settings
type AlertsConfig struct {
	SuppressionWindow  time.Duration `koanf:"suppression_window"`
	MinConfidence      float64       `koanf:"min_confidence"`
	TrafficLightPolicy string        `koanf:"traffic_light_policy"` // "repeat" or "on_change"
	VehiclePolicy      string        `koanf:"vehicle_policy"`
}

// NavigationConfig holds route recomputation settings
type NavigationConfig struct {
	Debounce           time.Duration `koanf:"debounce"`
	DiscardStaleRoutes bool          `koanf:"discard_stale_routes"`
	Destination        string        `koanf:"destination"` // Initial destination, may be set later over HTTP
	RouteTimeout       time.Duration `koanf:"route_timeout"`
	DirectionsBaseURL  string        `koanf:"directions_base_url"`
	GoogleMapsAPIKey   string        `koanf:"google_maps_api_key"`
}

// LocationConfig holds the location watch policy
type LocationConfig struct {
	HighAccuracy bool          `koanf:"high_accuracy"`
	MaxCachedAge time.Duration `koanf:"max_cached_age"`
	Timeout      time.Duration `koanf:"timeout"`
}

// SpeechConfig holds text-to-speech settings
type SpeechConfig struct {
	Provider        string        `koanf:"provider"` // "openai" or "http"
	BaseURL         string        `koanf:"base_url"`
	Timeout         time.Duration `koanf:"timeout"`
	OpenAIAPIKey    string        `koanf:"openai_api_key"`
	Model           string        `koanf:"model"`
	Voice           string        `koanf:"voice"`
	CacheTTL        time.Duration `koanf:"cache_ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// AudioConfig holds playback settings
type AudioConfig struct {
	PlayerCommand []string `koanf:"player_command"`
}

const (
	SpeechProviderOpenAI = "openai"
	SpeechProviderHTTP   = "http"

	PolicyRepeat   = "repeat"
	PolicyOnChange = "on_change"
)

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			Device:    "/dev/video0",
			Width:     640,
			Height:    480,
			FrameRate: 15,
		},
		Frames: FramesConfig{
			CaptureInterval: 3 * time.Second,
			MaxWidth:        640,
			JPEGQuality:     80,
		},
		Inference: InferenceConfig{
			BaseURL:     "http://localhost:5000",
			TrafficPath: "/",
			VehiclePath: "/car",
			Timeout:     10 * time.Second,
		},
		Alerts: AlertsConfig{
			SuppressionWindow:  3 * time.Second,
			MinConfidence:      0.5,
			TrafficLightPolicy: PolicyRepeat,
			VehiclePolicy:      PolicyOnChange,
		},
		Navigation: NavigationConfig{
			Debounce:           3 * time.Second,
			DiscardStaleRoutes: true,
			RouteTimeout:       15 * time.Second,
			DirectionsBaseURL:  "https://maps.googleapis.com",
		},
		Location: LocationConfig{
			HighAccuracy: true,
			MaxCachedAge: 0,
			Timeout:      20 * time.Second,
		},
		Speech: SpeechConfig{
			Provider:        SpeechProviderOpenAI,
			BaseURL:         "http://localhost:5000",
			Timeout:         15 * time.Second,
			Model:           "tts-1",
			Voice:           "alloy",
			CacheTTL:        24 * time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		Audio: AudioConfig{
			PlayerCommand: []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-"},
		},
	}
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error

	positive := map[string]time.Duration{
		"frames.capture_interval":   c.Frames.CaptureInterval,
		"inference.timeout":         c.Inference.Timeout,
		"alerts.suppression_window": c.Alerts.SuppressionWindow,
		"navigation.debounce":       c.Navigation.Debounce,
		"navigation.route_timeout":  c.Navigation.RouteTimeout,
		"location.timeout":          c.Location.Timeout,
		"speech.timeout":            c.Speech.Timeout,
		"speech.cache_ttl":          c.Speech.CacheTTL,
		"speech.cleanup_interval":   c.Speech.CleanupInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Location.MaxCachedAge < 0 {
		errs = append(errs, fmt.Errorf("location.max_cached_age must not be negative, got %s", c.Location.MaxCachedAge))
	}

	if c.Alerts.MinConfidence < 0 || c.Alerts.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("alerts.min_confidence must be within [0,1], got %v", c.Alerts.MinConfidence))
	}
	if _, err := ParsePolicy(c.Alerts.TrafficLightPolicy); err != nil {
		errs = append(errs, fmt.Errorf("alerts.traffic_light_policy: %w", err))
	}
	if _, err := ParsePolicy(c.Alerts.VehiclePolicy); err != nil {
		errs = append(errs, fmt.Errorf("alerts.vehicle_policy: %w", err))
	}

	if c.Frames.JPEGQuality < 1 || c.Frames.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("frames.jpeg_quality must be within [1,100], got %d", c.Frames.JPEGQuality))
	}

	if err := validateURL(c.Inference.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("inference.base_url: %w", err))
	}
	if err := validateURL(c.Navigation.DirectionsBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("navigation.directions_base_url: %w", err))
	}

	switch c.Speech.Provider {
	case SpeechProviderOpenAI:
	case SpeechProviderHTTP:
		if err := validateURL(c.Speech.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("speech.base_url: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("speech.provider must be %q or %q, got %q",
			SpeechProviderOpenAI, SpeechProviderHTTP, c.Speech.Provider))
	}

	if len(c.Audio.PlayerCommand) == 0 {
		errs = append(errs, errors.New("audio.player_command must not be empty"))
	}
	if len(c.Camera.Command) == 0 && c.Camera.Device == "" {
		errs = append(errs, errors.New("camera.device must be set"))
	}

	return errors.Join(errs...)
}

// Policies returns the per-category suppression policies
func (c AlertsConfig) Policies() map[alerts.Category]alerts.CategoryPolicy {
	traffic, _ := ParsePolicy(c.TrafficLightPolicy)
	vehicle, _ := ParsePolicy(c.VehiclePolicy)
	return map[alerts.Category]alerts.CategoryPolicy{
		alerts.CategoryTrafficLight: {Policy: traffic, Window: c.SuppressionWindow},
		alerts.CategoryVehicle:      {Policy: vehicle, Window: c.SuppressionWindow},
	}
}

// ParsePolicy converts a policy name to an alerts.Policy
func ParsePolicy(name string) (alerts.Policy, error) {
	switch name {
	case PolicyRepeat:
		return alerts.PolicyRepeat, nil
	case PolicyOnChange:
		return alerts.PolicyOnChange, nil
	default:
		return alerts.PolicyRepeat, fmt.Errorf("unknown policy %q", name)
	}
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return nil
}
