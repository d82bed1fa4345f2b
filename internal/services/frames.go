package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dpup/crosswalk/server/internal/camera"
	"github.com/dpup/crosswalk/server/internal/clients/inference"
	"github.com/dpup/crosswalk/server/internal/lib/alerts"
	"github.com/dpup/crosswalk/server/internal/lib/failure"
	"github.com/dpup/crosswalk/server/internal/lib/recovery"
	"github.com/dpup/crosswalk/server/internal/metrics"
)

// Detector runs every categorized detector over one encoded frame, calling
// onResult as each category completes
type Detector interface {
	DetectAll(ctx context.Context, frame []byte, onResult func(inference.Result)) []inference.Result
}

// FrameEncoder turns a camera frame into an upload payload
type FrameEncoder interface {
	Encode(frame camera.Frame) ([]byte, error)
}

// FramePipeline samples the camera on a fixed interval and turns detections
// into spoken alerts. At most one inference round-trip is outstanding; ticks
// that fire while one is in flight are skipped.
type FramePipeline struct {
	source    camera.Source
	encoder   FrameEncoder
	detector  Detector
	dedup     *alerts.DetectionDeduplicator
	announcer Announcer
	interval  time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics

	inFlight atomic.Bool
	wg       sync.WaitGroup

	mu         sync.Mutex
	lastResult map[alerts.Category][]alerts.Detection
	lastError  string
}

// NewFramePipeline creates a frame pipeline
func NewFramePipeline(
	source camera.Source,
	encoder FrameEncoder,
	detector Detector,
	dedup *alerts.DetectionDeduplicator,
	announcer Announcer,
	interval time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) *FramePipeline {
	return &FramePipeline{
		source:     source,
		encoder:    encoder,
		detector:   detector,
		dedup:      dedup,
		announcer:  announcer,
		interval:   interval,
		logger:     logger.With(zap.String("component", "frames")),
		metrics:    m,
		lastResult: make(map[alerts.Category][]alerts.Detection),
	}
}

// Run samples until ctx is cancelled or the camera fails. A camera failure
// is returned as a *failure.DeviceError and sampling stops for good. The
// camera is released before Run returns.
func (p *FramePipeline) Run(ctx context.Context) error {
	defer recovery.Recover(ctx, "Frame pipeline")

	p.dedup.Reset()
	if err := p.source.Start(ctx); err != nil {
		return p.stopped(err)
	}
	defer p.source.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		p.wg.Wait()
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Frame pipeline started", zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Frame pipeline stopped")
			return nil
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				return p.stopped(err)
			}
		}
	}
}

func (p *FramePipeline) stopped(err error) error {
	p.mu.Lock()
	p.lastError = err.Error()
	p.mu.Unlock()

	if failure.IsDevice(err) {
		return err
	}
	return failure.NewDeviceError("camera", err)
}

// tick samples one frame and submits it unless a request is already in flight.
// It only returns an error when the camera is gone.
func (p *FramePipeline) tick(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.metrics.Ticks.WithLabelValues("skipped").Inc()
		p.logger.Debug("Skipping tick, inference in flight")
		return nil
	}

	frame, err := p.source.Latest()
	if err != nil {
		p.inFlight.Store(false)
		if failure.IsDevice(err) {
			return err
		}
		p.logger.Warn("Failed to read camera frame", zap.Error(err))
		return nil
	}

	payload, err := p.encoder.Encode(frame)
	if err != nil {
		p.inFlight.Store(false)
		if errors.Is(err, camera.ErrNoFrame) {
			p.metrics.Ticks.WithLabelValues("no_frame").Inc()
			p.logger.Debug("Camera has no frame yet")
			return nil
		}
		p.logger.Warn("Failed to encode frame", zap.Error(err))
		return nil
	}

	p.metrics.Ticks.WithLabelValues("sampled").Inc()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		defer recovery.Recover(ctx, "Frame inference")

		p.detector.DetectAll(ctx, payload, func(result inference.Result) {
			p.apply(ctx, result)
		})
	}()
	return nil
}

// apply handles one category's result as soon as it arrives
func (p *FramePipeline) apply(ctx context.Context, result inference.Result) {
	category := string(result.Category)
	p.metrics.InferenceLatency.WithLabelValues(category).Observe(result.Duration.Seconds())

	if result.Err != nil {
		p.metrics.InferenceCalls.WithLabelValues(category, failure.Classify(result.Err).String()).Inc()
		if ctx.Err() == nil {
			p.logger.Warn("Inference failed, skipping cycle",
				zap.String("category", category),
				zap.Error(result.Err))
		}
		return
	}
	p.metrics.InferenceCalls.WithLabelValues(category, "ok").Inc()

	p.mu.Lock()
	p.lastResult[result.Category] = result.Detections
	p.mu.Unlock()

	alert, decision := p.dedup.Observe(result.Category, result.Detections)
	switch decision {
	case alerts.DecisionFired:
		p.metrics.Alerts.WithLabelValues(category, decision.String()).Inc()
		p.logger.Info("Alert",
			zap.String("category", category),
			zap.String("label", alert.Label),
			zap.Float64("confidence", alert.Confidence))
		if err := p.announcer.Speak(ctx, alert.Phrase, SourceAlert); err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("Failed to announce alert", zap.String("phrase", alert.Phrase), zap.Error(err))
			}
			return
		}
		p.dedup.Commit(alert)
	case alerts.DecisionSuppressed:
		p.metrics.Alerts.WithLabelValues(category, decision.String()).Inc()
		p.logger.Debug("Alert suppressed", zap.String("category", category))
	}
}

// FrameStatus is a snapshot of the frame pipeline
type FrameStatus struct {
	InFlight   bool                `json:"in_flight"`
	LastLabels map[string]string   `json:"last_alert_labels"`
	Detections map[string][]string `json:"last_detections"`
	LastError  string              `json:"last_error,omitempty"`
}

// Status returns a snapshot of the frame pipeline
func (p *FramePipeline) Status() FrameStatus {
	status := FrameStatus{
		InFlight:   p.inFlight.Load(),
		LastLabels: make(map[string]string),
		Detections: make(map[string][]string),
	}
	for category, label := range p.dedup.LastLabels() {
		status.LastLabels[string(category)] = label
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for category, detections := range p.lastResult {
		labels := make([]string, 0, len(detections))
		for _, d := range detections {
			labels = append(labels, d.Label)
		}
		status.Detections[string(category)] = labels
	}
	status.LastError = p.lastError
	return status
}
