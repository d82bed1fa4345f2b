package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dpup/crosswalk/server/internal/audio"
	"github.com/dpup/crosswalk/server/internal/cache"
	"github.com/dpup/crosswalk/server/internal/lib/failure"
	"github.com/dpup/crosswalk/server/internal/location"
	"github.com/dpup/crosswalk/server/internal/metrics"
)

var (
	ErrSessionStarted = errors.New("session already started")
	ErrSessionStopped = errors.New("session stopped")
)

// SessionComponents are the parts a session runs
type SessionComponents struct {
	Frames          *FramePipeline
	Navigator       *Navigator
	Locations       location.Source
	WatchOptions    location.WatchOptions
	Dispatcher      *audio.Dispatcher
	ClipCache       *cache.ClipCache
	CleanupInterval time.Duration
}

// Session runs both pipelines and the shared audio output for one user.
// A device failure stops only the pipeline that owns the device and is
// reported once on Errors.
type Session struct {
	id        string
	parts     SessionComponents
	logger    *zap.Logger
	metrics   *metrics.Metrics
	errs      chan error
	startedAt time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopped  bool
	failures []string
}

// NewSession creates a session
func NewSession(parts SessionComponents, logger *zap.Logger, m *metrics.Metrics) *Session {
	id := uuid.New().String()
	return &Session{
		id:      id,
		parts:   parts,
		logger:  logger.With(zap.String("component", "session"), zap.String("session_id", id)),
		metrics: m,
		errs:    make(chan error, 4),
	}
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Errors delivers device failures. It is closed once Stop returns.
func (s *Session) Errors() <-chan error {
	return s.errs
}

// Start launches the pipelines and returns immediately
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSessionStopped
	}
	if s.cancel != nil {
		return ErrSessionStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group = &errgroup.Group{}
	s.startedAt = time.Now()

	if s.parts.ClipCache != nil && s.parts.CleanupInterval > 0 {
		s.parts.ClipCache.StartPeriodicCleanup(ctx, s.parts.CleanupInterval)
	}

	s.group.Go(func() error {
		return s.parts.Dispatcher.Run(ctx)
	})

	if s.parts.Frames != nil {
		s.group.Go(func() error {
			if err := s.parts.Frames.Run(ctx); err != nil {
				s.report("camera", err)
			}
			return nil
		})
	}

	if s.parts.Navigator != nil && s.parts.Locations != nil {
		s.group.Go(func() error {
			return s.navigate(ctx)
		})
	}

	s.logger.Info("Session started")
	return nil
}

// navigate watches the location device and feeds the navigator
func (s *Session) navigate(ctx context.Context) error {
	sub, err := s.parts.Locations.Watch(ctx, s.parts.WatchOptions)
	if err != nil {
		s.report("location", err)
		return nil
	}

	var forwarder sync.WaitGroup
	forwarder.Add(1)
	go func() {
		defer forwarder.Done()
		for err := range sub.Errors {
			s.report("location", err)
		}
	}()

	err = s.parts.Navigator.Run(ctx, sub.Locations)
	sub.Stop()
	forwarder.Wait()
	return err
}

// report records a pipeline failure and forwards it to Errors
func (s *Session) report(device string, err error) {
	if !failure.IsDevice(err) {
		err = failure.NewDeviceError(device, err)
	}
	s.metrics.DeviceErrors.WithLabelValues(device).Inc()
	s.logger.Error("Pipeline stopped", zap.String("device", device), zap.Error(err))

	s.mu.Lock()
	s.failures = append(s.failures, err.Error())
	s.mu.Unlock()

	select {
	case s.errs <- err:
	default:
		s.logger.Warn("Error channel full, dropping", zap.Error(err))
	}
}

// Stop cancels both pipelines, releases the devices and waits for every
// goroutine to exit. Pending audio is discarded.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, group := s.cancel, s.group
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		if err := group.Wait(); err != nil {
			s.logger.Warn("Session goroutine returned an error", zap.Error(err))
		}
	}
	close(s.errs)
	s.logger.Info("Session stopped")
}

// SessionStatus is a snapshot of the whole session
type SessionStatus struct {
	ID         string                `json:"id"`
	StartedAt  time.Time             `json:"started_at"`
	Running    bool                  `json:"running"`
	Frames     *FrameStatus          `json:"frames,omitempty"`
	Navigation *NavigatorStatus      `json:"navigation,omitempty"`
	Audio      audio.DispatcherStats `json:"audio"`
	Device     *bool                 `json:"location_device_connected,omitempty"`
	Cache      *cache.CacheStats     `json:"cache,omitempty"`
	Failures   []string              `json:"failures,omitempty"`
}

// Status returns a snapshot of the session
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	status := SessionStatus{
		ID:        s.id,
		StartedAt: s.startedAt,
		Running:   s.cancel != nil && !s.stopped,
		Failures:  append([]string(nil), s.failures...),
	}
	s.mu.Unlock()

	if s.parts.Frames != nil {
		frames := s.parts.Frames.Status()
		status.Frames = &frames
	}
	if s.parts.Navigator != nil {
		nav := s.parts.Navigator.Status()
		status.Navigation = &nav
	}
	status.Audio = s.parts.Dispatcher.Stats()
	if device, ok := s.parts.Locations.(interface{ Connected() bool }); ok {
		connected := device.Connected()
		status.Device = &connected
	}
	if s.parts.ClipCache != nil {
		stats := s.parts.ClipCache.Stats()
		status.Cache = &stats
	}
	return status
}
