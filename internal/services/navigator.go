package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dpup/crosswalk/server/internal/lib/alerts"
	"github.com/dpup/crosswalk/server/internal/lib/failure"
	"github.com/dpup/crosswalk/server/internal/lib/geo"
	"github.com/dpup/crosswalk/server/internal/lib/recovery"
	"github.com/dpup/crosswalk/server/internal/lib/routing"
	"github.com/dpup/crosswalk/server/internal/metrics"
)

// RouteFinder computes walking routes
type RouteFinder interface {
	Route(ctx context.Context, req routing.RouteRequest) (*routing.RouteResult, error)
}

// NavState is the navigator's position in its request cycle
type NavState int

const (
	NavIdle NavState = iota
	NavAwaitingLocation
	NavDebouncing
	NavRequesting
)

func (s NavState) String() string {
	switch s {
	case NavIdle:
		return "idle"
	case NavAwaitingLocation:
		return "awaiting_location"
	case NavDebouncing:
		return "debouncing"
	case NavRequesting:
		return "requesting"
	default:
		return "unknown"
	}
}

// NavigatorOptions tunes the navigator
type NavigatorOptions struct {
	Debounce           time.Duration
	RouteTimeout       time.Duration
	DiscardStaleRoutes bool
}

// Navigator turns a location stream into spoken turn-by-turn instructions.
// Every location restarts the debounce timer; a route is only requested once
// the user has been still for the full debounce period. Requests already in
// flight are never cancelled by new locations.
type Navigator struct {
	router    RouteFinder
	announcer Announcer
	dedup     *alerts.InstructionDeduplicator
	opts      NavigatorOptions
	logger    *zap.Logger
	metrics   *metrics.Metrics

	wake chan struct{}

	mu          sync.RWMutex
	pendingDest *string
	status      navStatus
}

type navStatus struct {
	state       NavState
	destination string
	origin      geo.Location
	route       *routing.RouteResult
	routeOrigin geo.Location
	instruction string
	generation  uint64
	lastError   string
	updatedAt   time.Time
}

type routeOutcome struct {
	generation  uint64
	origin      geo.Location
	destination string
	result      *routing.RouteResult
	err         error
}

// NewNavigator creates a navigator
func NewNavigator(
	router RouteFinder,
	announcer Announcer,
	dedup *alerts.InstructionDeduplicator,
	opts NavigatorOptions,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Navigator {
	return &Navigator{
		router:    router,
		announcer: announcer,
		dedup:     dedup,
		opts:      opts,
		logger:    logger.With(zap.String("component", "navigator")),
		metrics:   m,
		wake:      make(chan struct{}, 1),
	}
}

// SetDestination changes the free-text destination. An empty string clears
// it. Safe to call before or while Run is active.
func (n *Navigator) SetDestination(text string) {
	text = strings.TrimSpace(text)

	n.mu.Lock()
	n.pendingDest = &text
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Run consumes locations until ctx is cancelled or the location stream
// closes. Outstanding route requests are abandoned on return.
func (n *Navigator) Run(ctx context.Context, locations <-chan geo.Location) error {
	defer recovery.Recover(ctx, "Navigator")

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	var (
		origin      geo.Location
		destination string
		timer       *time.Timer
		timerC      <-chan time.Time
		issued      uint64
		outstanding int
	)
	results := make(chan routeOutcome)

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}
	defer stopTimer()

	request := func() {
		issued++
		outstanding++
		req := routing.RouteRequest{Origin: origin, DestinationText: destination}
		generation := issued

		n.logger.Debug("Requesting route",
			zap.Uint64("generation", generation),
			zap.String("origin", origin.Point.String()),
			zap.String("destination", destination))

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer recovery.Recover(ctx, "Route request")

			reqCtx, reqCancel := context.WithTimeout(ctx, n.opts.RouteTimeout)
			defer reqCancel()

			result, err := n.router.Route(reqCtx, req)
			select {
			case results <- routeOutcome{
				generation:  generation,
				origin:      req.Origin,
				destination: req.DestinationText,
				result:      result,
				err:         err,
			}:
			case <-ctx.Done():
			}
		}()
	}

	// settle picks the resting state once nothing else is driving it
	settle := func() NavState {
		switch {
		case destination == "":
			return NavIdle
		case timerC != nil:
			return NavDebouncing
		case outstanding > 0:
			return NavRequesting
		case origin.IsZero():
			return NavAwaitingLocation
		default:
			return NavIdle
		}
	}

	n.takeDestination(&destination)
	n.setState(settle(), func(s *navStatus) { s.destination = destination })

	n.logger.Info("Navigator started", zap.Duration("debounce", n.opts.Debounce))

	for {
		select {
		case <-ctx.Done():
			n.setState(NavIdle, nil)
			n.logger.Info("Navigator stopped")
			return nil

		case loc, ok := <-locations:
			if !ok {
				n.setState(NavIdle, nil)
				n.logger.Info("Location stream ended, navigator stopped")
				return nil
			}
			origin = loc
			if destination != "" {
				stopTimer()
				timer = time.NewTimer(n.opts.Debounce)
				timerC = timer.C
			}
			n.setState(settle(), func(s *navStatus) { s.origin = loc })

		case <-timerC:
			timer, timerC = nil, nil
			if destination != "" && !origin.IsZero() {
				request()
			}
			n.setState(settle(), func(s *navStatus) { s.generation = issued })

		case <-n.wake:
			previous := destination
			if !n.takeDestination(&destination) || destination == previous {
				continue
			}
			if destination == "" {
				stopTimer()
				n.logger.Info("Destination cleared")
				n.setState(NavIdle, func(s *navStatus) {
					s.destination = ""
					s.route = nil
				})
				continue
			}
			n.logger.Info("Destination set", zap.String("destination", destination))
			if !origin.IsZero() && timerC == nil {
				request()
			}
			n.setState(settle(), func(s *navStatus) {
				s.destination = destination
				s.route = nil
				s.generation = issued
			})

		case outcome := <-results:
			outstanding--
			if n.opts.DiscardStaleRoutes && outcome.generation < issued {
				n.metrics.StaleRoutes.Inc()
				n.logger.Debug("Discarding stale route",
					zap.Uint64("generation", outcome.generation),
					zap.Uint64("latest", issued))
				n.setState(settle(), nil)
				continue
			}
			if outcome.destination != destination {
				n.logger.Debug("Discarding route for previous destination",
					zap.String("destination", outcome.destination))
				n.setState(settle(), nil)
				continue
			}
			n.apply(ctx, outcome)
			n.setState(settle(), nil)
		}
	}
}

// apply handles a route response. Failures and empty routes leave the current
// route and the last spoken instruction untouched.
func (n *Navigator) apply(ctx context.Context, outcome routeOutcome) {
	if outcome.err != nil {
		kind := failure.Classify(outcome.err)
		n.metrics.RouteRequests.WithLabelValues(kind.String()).Inc()
		if ctx.Err() == nil {
			n.logger.Warn("Route request failed", zap.String("kind", kind.String()), zap.Error(outcome.err))
		}
		n.update(func(s *navStatus) { s.lastError = outcome.err.Error() })
		return
	}

	instruction, ok := routing.ExtractInstruction(outcome.result)
	if !ok {
		n.metrics.RouteRequests.WithLabelValues("no_steps").Inc()
		n.logger.Warn("Route has no steps", zap.String("destination", outcome.destination))
		return
	}
	n.metrics.RouteRequests.WithLabelValues("ok").Inc()

	n.update(func(s *navStatus) {
		s.route = outcome.result
		s.routeOrigin = outcome.origin
		s.instruction = instruction
		s.lastError = ""
	})

	if !n.dedup.Actionable(instruction) {
		n.logger.Debug("Instruction unchanged", zap.String("instruction", instruction))
		return
	}

	if err := n.announcer.Speak(ctx, instruction, SourceNavigation); err != nil {
		if ctx.Err() == nil {
			n.logger.Warn("Failed to speak instruction", zap.String("instruction", instruction), zap.Error(err))
		}
		return
	}
	n.dedup.MarkSpoken(instruction)
	n.metrics.Instructions.Inc()
	n.logger.Info("Instruction", zap.String("instruction", instruction))
}

// takeDestination moves a pending destination into dst
func (n *Navigator) takeDestination(dst *string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pendingDest == nil {
		return false
	}
	*dst = *n.pendingDest
	n.pendingDest = nil
	return true
}

// setState records state plus any extra changes made by update
func (n *Navigator) setState(state NavState, update func(*navStatus)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status.state = state
	if update != nil {
		update(&n.status)
	}
	n.status.updatedAt = time.Now()
}

func (n *Navigator) update(fn func(*navStatus)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn(&n.status)
	n.status.updatedAt = time.Now()
}

// NavigatorStatus is a snapshot of the navigator
type NavigatorStatus struct {
	State       string        `json:"state"`
	Destination string        `json:"destination,omitempty"`
	Origin      *geo.Location `json:"origin,omitempty"`
	Instruction string        `json:"instruction,omitempty"`
	LastSpoken  string        `json:"last_spoken,omitempty"`
	StepCount   int           `json:"step_count"`
	Generation  uint64        `json:"generation"`
	OffRouteM   *float64      `json:"off_route_meters,omitempty"` // Distance from the latest fix to the route path
	LastError   string        `json:"last_error,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Status returns a snapshot of the navigator
func (n *Navigator) Status() NavigatorStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()

	status := NavigatorStatus{
		State:       n.status.state.String(),
		Destination: n.status.destination,
		Instruction: n.status.instruction,
		LastSpoken:  n.dedup.Last(),
		StepCount:   n.status.route.StepCount(),
		Generation:  n.status.generation,
		LastError:   n.status.lastError,
		UpdatedAt:   n.status.updatedAt,
	}
	if !n.status.origin.IsZero() {
		origin := n.status.origin
		status.Origin = &origin
		if path, err := routing.Path(n.status.route); err == nil && len(path) > 0 {
			if d, err := geo.DistanceToPath(origin.Point, path); err == nil {
				status.OffRouteM = &d
			}
		}
	}
	return status
}

// State returns the current state
func (n *Navigator) State() NavState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status.state
}

// Route returns the most recent route and the origin it was requested from
func (n *Navigator) Route() (*routing.RouteResult, geo.Location, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.status.route == nil {
		return nil, geo.Location{}, false
	}
	return n.status.route, n.status.routeOrigin, true
}
