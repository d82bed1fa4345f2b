package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/dpup/prefab"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dpup/crosswalk/server/internal/audio"
	"github.com/dpup/crosswalk/server/internal/cache"
	"github.com/dpup/crosswalk/server/internal/camera"
	"github.com/dpup/crosswalk/server/internal/clients/directions"
	"github.com/dpup/crosswalk/server/internal/clients/inference"
	"github.com/dpup/crosswalk/server/internal/clients/speech"
	"github.com/dpup/crosswalk/server/internal/config"
	"github.com/dpup/crosswalk/server/internal/lib/alerts"
	"github.com/dpup/crosswalk/server/internal/location"
	"github.com/dpup/crosswalk/server/internal/metrics"
	"github.com/dpup/crosswalk/server/internal/services"
)

func main() {
	// A missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	logger, err := newLogger(os.Getenv("CROSSWALK_ENV"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	appConfig := loadConfig(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Shared audio output
	player, err := audio.NewExecPlayer(appConfig.Audio.PlayerCommand)
	if err != nil {
		logger.Fatal("Failed to create audio player", zap.Error(err))
	}
	dispatcher := audio.NewDispatcher(player, logger, m)

	clipCache := cache.NewClipCache(appConfig.Speech.CacheTTL, logger)
	synthesizer := speech.NewCachedSynthesizer(newSynthesizer(appConfig.Speech, logger), clipCache, logger, m)
	speaker := services.NewSpeaker(synthesizer, dispatcher, logger)

	// Frame pipeline
	cameraSource := camera.NewFFmpegSource(camera.FFmpegOptions{
		Device:    appConfig.Camera.Device,
		Width:     appConfig.Camera.Width,
		Height:    appConfig.Camera.Height,
		FrameRate: appConfig.Camera.FrameRate,
		Command:   appConfig.Camera.Command,
	}, logger)
	inferenceClient := inference.NewClient(appConfig.Inference.BaseURL, []inference.Endpoint{
		{Category: alerts.CategoryTrafficLight, Path: appConfig.Inference.TrafficPath, ResultField: "trafficPrediction"},
		{Category: alerts.CategoryVehicle, Path: appConfig.Inference.VehiclePath, ResultField: "carPrediction"},
	}, appConfig.Inference.Timeout)
	for _, endpoint := range inferenceClient.Endpoints() {
		logger.Info("Detector", zap.String("category", string(endpoint.Category)), zap.String("path", endpoint.Path))
	}
	frames := services.NewFramePipeline(
		cameraSource,
		camera.NewEncoder(appConfig.Frames.MaxWidth, appConfig.Frames.JPEGQuality),
		inferenceClient,
		alerts.NewDetectionDeduplicator(appConfig.Alerts.Policies(), appConfig.Alerts.MinConfidence),
		speaker,
		appConfig.Frames.CaptureInterval,
		logger,
		m,
	)

	// Navigation pipeline
	directionsClient := directions.NewClientWithHTTPDoer(
		appConfig.Navigation.GoogleMapsAPIKey,
		appConfig.Navigation.DirectionsBaseURL,
		&http.Client{Timeout: appConfig.Navigation.RouteTimeout},
	)
	navigator := services.NewNavigator(directionsClient, speaker, alerts.NewInstructionDeduplicator(), services.NavigatorOptions{
		Debounce:           appConfig.Navigation.Debounce,
		RouteTimeout:       appConfig.Navigation.RouteTimeout,
		DiscardStaleRoutes: appConfig.Navigation.DiscardStaleRoutes,
	}, logger, m)
	if appConfig.Navigation.Destination != "" {
		navigator.SetDestination(appConfig.Navigation.Destination)
	}
	locationSource := location.NewWebSocketSource(logger)

	session := services.NewSession(services.SessionComponents{
		Frames:    frames,
		Navigator: navigator,
		Locations: locationSource,
		WatchOptions: location.WatchOptions{
			HighAccuracy: appConfig.Location.HighAccuracy,
			MaxCachedAge: appConfig.Location.MaxCachedAge,
			Timeout:      appConfig.Location.Timeout,
		},
		Dispatcher:      dispatcher,
		ClipCache:       clipCache,
		CleanupInterval: appConfig.Speech.CleanupInterval,
	}, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Start(ctx); err != nil {
		logger.Fatal("Failed to start session", zap.Error(err))
	}
	go func() {
		for err := range session.Errors() {
			logger.Warn("Pipeline disabled for the rest of the session", zap.Error(err))
		}
	}()

	logger.Info("Crosswalk assistant starting",
		zap.String("session_id", session.ID()),
		zap.String("camera", appConfig.Camera.Device),
		zap.String("inference", appConfig.Inference.BaseURL),
		zap.String("speech", appConfig.Speech.Provider))

	status := services.NewStatusHandler(session, navigator, logger)

	// Server configuration (port, etc.) is loaded from prefab.yaml/env vars
	server := prefab.New(
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
		prefab.WithHTTPHandlerFunc("/v1/location", locationSource.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/v1/status", status.Status),
		prefab.WithHTTPHandlerFunc("/v1/destination", status.Destination),
		prefab.WithHTTPHandlerFunc("/v1/route.kml", status.RouteKML),
		prefab.WithHTTPHandlerFunc("/healthz", status.Healthz),
		prefab.WithHTTPHandlerFunc("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP),
	)

	// Blocks until shutdown
	serverErr := server.Start()
	session.Stop()
	if serverErr != nil {
		logger.Fatal("Server failed", zap.Error(serverErr))
	}
}

// newLogger builds a development logger when env is "development" and a
// production JSON logger otherwise
func newLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newSynthesizer picks the speech backend named in config
func newSynthesizer(cfg config.SpeechConfig, logger *zap.Logger) speech.Synthesizer {
	if cfg.Provider == config.SpeechProviderHTTP {
		logger.Info("Using HTTP speech service", zap.String("base_url", cfg.BaseURL))
		return speech.NewClient(cfg.BaseURL, cfg.Timeout)
	}
	logger.Info("Using OpenAI speech", zap.String("model", cfg.Model), zap.String("voice", cfg.Voice))
	return speech.NewOpenAISynthesizer(cfg.OpenAIAPIKey, cfg.Model, cfg.Voice)
}

// loadConfig layers prefab's config (prefab.yaml plus PF__ environment
// variables) over the defaults. API keys may also come from the plain
// environment.
func loadConfig(logger *zap.Logger) *config.Config {
	appConfig := config.DefaultConfig()

	if err := prefab.Config.Unmarshal("crosswalk", appConfig); err != nil {
		logger.Fatal("Failed to unmarshal crosswalk config", zap.Error(err))
	}

	if appConfig.Navigation.GoogleMapsAPIKey == "" {
		appConfig.Navigation.GoogleMapsAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	}
	if appConfig.Speech.OpenAIAPIKey == "" {
		appConfig.Speech.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := appConfig.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if appConfig.Speech.Provider == config.SpeechProviderOpenAI && appConfig.Speech.OpenAIAPIKey == "" {
		logger.Fatal("OpenAI API key is required for OpenAI speech")
	}
	if appConfig.Navigation.GoogleMapsAPIKey == "" {
		logger.Warn("No Google Maps API key configured, route requests will be rejected")
	}
	return appConfig
}

// homepageHandler serves a plain index of the endpoints at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>crosswalk</title>
    <style>
        body { font-family: 'Courier New', Consolas, monospace; background: #000; color: #0f0; padding: 20px; line-height: 1.4; }
        a { color: #0ff; text-decoration: none; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">crosswalk</span>

Spoken traffic light, vehicle and walking direction alerts for pedestrians.

<span class="header">Endpoints:</span>
  <a href="/v1/status">GET  /v1/status</a>       - Session, pipeline and audio state
  POST /v1/destination                      - Set or clear the walking destination
  <a href="/v1/route.kml">GET  /v1/route.kml</a>    - Current route as KML
  GET  /v1/location     (websocket)         - Location device stream
  <a href="/healthz">GET  /healthz</a>
  <a href="/metrics">GET  /metrics</a>
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		zap.L().Error("Failed to write homepage HTML", zap.Error(err))
	}
}
