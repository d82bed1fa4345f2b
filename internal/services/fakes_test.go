package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dpup/crosswalk/server/internal/audio"
	"github.com/dpup/crosswalk/server/internal/camera"
	"github.com/dpup/crosswalk/server/internal/clients/inference"
	"github.com/dpup/crosswalk/server/internal/lib/alerts"
	"github.com/dpup/crosswalk/server/internal/lib/geo"
	"github.com/dpup/crosswalk/server/internal/lib/routing"
	"github.com/dpup/crosswalk/server/internal/location"
)

// fakeCamera serves a fixed frame, or fails with latestErr
type fakeCamera struct {
	mu        sync.Mutex
	startErr  error
	latestErr error
	frame     camera.Frame
	started   bool
	closed    bool
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{
		frame: camera.Frame{Data: []byte("jpeg"), Width: 640, Height: 480, CapturedAt: time.Now()},
	}
}

func (c *fakeCamera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return c.startErr
}

func (c *fakeCamera) Latest() (camera.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latestErr != nil {
		return camera.Frame{}, c.latestErr
	}
	return c.frame, nil
}

func (c *fakeCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeCamera) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// passEncoder hands frame bytes through untouched
type passEncoder struct{}

func (passEncoder) Encode(frame camera.Frame) ([]byte, error) {
	if frame.Empty() {
		return nil, camera.ErrNoFrame
	}
	return frame.Data, nil
}

// fakeDetector answers every frame with respond, optionally blocking first
type fakeDetector struct {
	calls   int32
	gate    chan struct{}
	respond func(call int) []inference.Result
}

func (d *fakeDetector) DetectAll(ctx context.Context, frame []byte, onResult func(inference.Result)) []inference.Result {
	call := int(atomic.AddInt32(&d.calls, 1))
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil
		}
	}
	var results []inference.Result
	if d.respond != nil {
		results = d.respond(call)
	}
	for _, r := range results {
		onResult(r)
	}
	return results
}

func (d *fakeDetector) Calls() int {
	return int(atomic.LoadInt32(&d.calls))
}

func detected(category alerts.Category, label string, confidence float64) inference.Result {
	return inference.Result{
		Category:   category,
		Detections: []alerts.Detection{{Category: category, Label: label, Confidence: confidence}},
	}
}

// recordingAnnouncer remembers everything it was asked to say
type recordingAnnouncer struct {
	mu     sync.Mutex
	spoken []string
	fail   int // Number of upcoming calls to fail
}

func (a *recordingAnnouncer) Speak(ctx context.Context, text, source string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail > 0 {
		a.fail--
		return errors.New("speech unavailable")
	}
	a.spoken = append(a.spoken, text)
	return nil
}

func (a *recordingAnnouncer) Spoken() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.spoken...)
}

func (a *recordingAnnouncer) FailNext(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = n
}

// routeCall is one request seen by fakeRouter
type routeCall struct {
	req routing.RouteRequest
	at  time.Time
}

// fakeRouter answers with respond, which may block
type fakeRouter struct {
	mu      sync.Mutex
	calls   []routeCall
	started chan routing.RouteRequest
	respond func(ctx context.Context, call int, req routing.RouteRequest) (*routing.RouteResult, error)
}

func newFakeRouter(respond func(ctx context.Context, call int, req routing.RouteRequest) (*routing.RouteResult, error)) *fakeRouter {
	return &fakeRouter{started: make(chan routing.RouteRequest, 16), respond: respond}
}

func (r *fakeRouter) Route(ctx context.Context, req routing.RouteRequest) (*routing.RouteResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, routeCall{req: req, at: time.Now()})
	call := len(r.calls)
	r.mu.Unlock()

	r.started <- req
	return r.respond(ctx, call, req)
}

func (r *fakeRouter) Calls() []routeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]routeCall(nil), r.calls...)
}

func routeWith(instructions ...string) *routing.RouteResult {
	steps := make([]routing.Step, 0, len(instructions))
	for _, text := range instructions {
		steps = append(steps, routing.Step{Instruction: text})
	}
	return &routing.RouteResult{
		Summary: "7th Ave",
		Legs:    []routing.Leg{{Steps: steps}},
	}
}

func at(lat, lng float64) geo.Location {
	return geo.NewLocation(lat, lng, time.Now())
}

// fakeLocationSource replays locations and errors pushed by the test
type fakeLocationSource struct {
	locations chan geo.Location
	errs      chan error
	watchErr  error
}

func newFakeLocationSource() *fakeLocationSource {
	return &fakeLocationSource{
		locations: make(chan geo.Location),
		errs:      make(chan error, 1),
	}
}

func (f *fakeLocationSource) Watch(ctx context.Context, opts location.WatchOptions) (*location.Subscription, error) {
	if f.watchErr != nil {
		return nil, f.watchErr
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan geo.Location)
	errs := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(errs)
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-f.errs:
				errs <- err
				return
			case loc := <-f.locations:
				select {
				case out <- loc:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return location.NewSubscription(out, errs, cancel, done), nil
}

// recordingSubmitter collects clips handed to the audio output
type recordingSubmitter struct {
	mu    sync.Mutex
	clips []audio.Clip
}

func (s *recordingSubmitter) Submit(clip audio.Clip) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips = append(s.clips, clip)
	return false
}

func (s *recordingSubmitter) Clips() []audio.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Clip(nil), s.clips...)
}
