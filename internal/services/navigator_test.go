package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dpup/crosswalk/server/internal/lib/alerts"
	"github.com/dpup/crosswalk/server/internal/lib/failure"
	"github.com/dpup/crosswalk/server/internal/lib/geo"
	"github.com/dpup/crosswalk/server/internal/lib/routing"
	"github.com/dpup/crosswalk/server/internal/metrics"
)

type navHarness struct {
	nav       *Navigator
	router    *fakeRouter
	announcer *recordingAnnouncer
	metrics   *metrics.Metrics
	locations chan geo.Location
	cancel    context.CancelFunc
	done      chan error
}

func startNavigator(t *testing.T, router *fakeRouter, opts NavigatorOptions, destination string) *navHarness {
	t.Helper()
	if opts.RouteTimeout == 0 {
		opts.RouteTimeout = time.Second
	}

	h := &navHarness{
		router:    router,
		announcer: &recordingAnnouncer{},
		metrics:   metrics.New(nil),
		locations: make(chan geo.Location),
		done:      make(chan error, 1),
	}
	h.nav = NewNavigator(router, h.announcer, alerts.NewInstructionDeduplicator(), opts, zap.NewNop(), h.metrics)
	if destination != "" {
		h.nav.SetDestination(destination)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.nav.Run(ctx, h.locations) }()

	t.Cleanup(h.stop)
	return h
}

func (h *navHarness) stop() {
	h.cancel()
	<-h.done
}

func (h *navHarness) send(t *testing.T, loc geo.Location) time.Time {
	t.Helper()
	select {
	case h.locations <- loc:
		return time.Now()
	case <-time.After(time.Second):
		t.Fatal("navigator did not accept location")
		return time.Time{}
	}
}

func waitRouteStarted(t *testing.T, r *fakeRouter) routing.RouteRequest {
	t.Helper()
	select {
	case req := <-r.started:
		return req
	case <-time.After(time.Second):
		t.Fatal("route was not requested")
		return routing.RouteRequest{}
	}
}

func staticRouter(result *routing.RouteResult, err error) *fakeRouter {
	return newFakeRouter(func(context.Context, int, routing.RouteRequest) (*routing.RouteResult, error) {
		return result, err
	})
}

func TestNavigator_DebounceRequestsOnceAfterLastLocation(t *testing.T) {
	debounce := 100 * time.Millisecond
	router := staticRouter(routeWith("Head north on 7th Ave"), nil)
	h := startNavigator(t, router, NavigatorOptions{Debounce: debounce}, "Central Park")

	h.send(t, at(40.7580, -73.9855))
	time.Sleep(20 * time.Millisecond)
	h.send(t, at(40.7581, -73.9855))
	time.Sleep(20 * time.Millisecond)
	last := h.send(t, at(40.7582, -73.9855))

	assert.Equal(t, NavDebouncing, h.nav.State())

	req := waitRouteStarted(t, router)
	assert.Equal(t, 40.7582, req.Origin.Latitude)
	assert.Equal(t, "Central Park", req.DestinationText)

	// No second request once the user stays put
	time.Sleep(2 * debounce)
	calls := router.Calls()
	require.Len(t, calls, 1)
	assert.GreaterOrEqual(t, calls[0].at.Sub(last), debounce-5*time.Millisecond)

	require.Eventually(t, func() bool { return len(h.announcer.Spoken()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Head north on 7th Ave"}, h.announcer.Spoken())
	require.Eventually(t, func() bool { return h.nav.State() == NavIdle }, time.Second, 5*time.Millisecond)
}

func TestNavigator_NoDestinationNeverRequests(t *testing.T) {
	router := staticRouter(routeWith("Head north"), nil)
	h := startNavigator(t, router, NavigatorOptions{Debounce: 10 * time.Millisecond}, "")

	h.send(t, at(40.7580, -73.9855))
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, router.Calls())
	assert.Equal(t, NavIdle, h.nav.State())
	require.NotNil(t, h.nav.Status().Origin)
}

func TestNavigator_AwaitsLocationWhenOnlyDestinationKnown(t *testing.T) {
	router := staticRouter(routeWith("Head north"), nil)
	h := startNavigator(t, router, NavigatorOptions{Debounce: 10 * time.Millisecond}, "Central Park")

	require.Eventually(t, func() bool { return h.nav.State() == NavAwaitingLocation }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Central Park", h.nav.Status().Destination)
	assert.Empty(t, router.Calls())
}

func TestNavigator_SetDestinationWithKnownOriginRequestsImmediately(t *testing.T) {
	router := staticRouter(routeWith("Head north"), nil)
	h := startNavigator(t, router, NavigatorOptions{Debounce: time.Hour}, "")

	h.send(t, at(40.7580, -73.9855))
	h.nav.SetDestination("  Central Park ")

	req := waitRouteStarted(t, router)
	assert.Equal(t, "Central Park", req.DestinationText)
	require.Eventually(t, func() bool { return len(h.announcer.Spoken()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestNavigator_IdenticalInstructionSpokenOnce(t *testing.T) {
	router := staticRouter(routeWith("Head north on 7th Ave", "Turn left"), nil)
	h := startNavigator(t, router, NavigatorOptions{Debounce: 10 * time.Millisecond}, "Central Park")

	h.send(t, at(40.7580, -73.9855))
	waitRouteStarted(t, router)
	require.Eventually(t, func() bool { return h.nav.Status().Instruction != "" }, time.Second, 5*time.Millisecond)

	h.send(t, at(40.7581, -73.9855))
	waitRouteStarted(t, router)
	require.Eventually(t, func() bool { return h.nav.State() == NavIdle }, time.Second, 5*time.Millisecond)

	assert.Len(t, router.Calls(), 2)
	assert.Equal(t, []string{"Head north on 7th Ave"}, h.announcer.Spoken())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Instructions))
}

func TestNavigator_ZeroStepRouteKeepsLastSpoken(t *testing.T) {
	router := newFakeRouter(func(_ context.Context, call int, _ routing.RouteRequest) (*routing.RouteResult, error) {
		if call == 1 {
			return routeWith("Head north on 7th Ave"), nil
		}
		return &routing.RouteResult{Legs: []routing.Leg{{}}}, nil
	})
	h := startNavigator(t, router, NavigatorOptions{Debounce: 10 * time.Millisecond}, "Central Park")

	h.send(t, at(40.7580, -73.9855))
	waitRouteStarted(t, router)
	require.Eventually(t, func() bool { return len(h.announcer.Spoken()) == 1 }, time.Second, 5*time.Millisecond)

	h.send(t, at(40.7581, -73.9855))
	waitRouteStarted(t, router)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.RouteRequests.WithLabelValues("no_steps")) == 1
	}, time.Second, 5*time.Millisecond)

	status := h.nav.Status()
	assert.Equal(t, "Head north on 7th Ave", status.LastSpoken)
	assert.Equal(t, 1, status.StepCount)
	assert.Len(t, h.announcer.Spoken(), 1)
}

func TestNavigator_RouteFailurePreservesState(t *testing.T) {
	router := newFakeRouter(func(_ context.Context, call int, _ routing.RouteRequest) (*routing.RouteResult, error) {
		if call == 1 {
			return routeWith("Head north on 7th Ave"), nil
		}
		return nil, &failure.RouteStatusError{Status: "OVER_QUERY_LIMIT"}
	})
	h := startNavigator(t, router, NavigatorOptions{Debounce: 10 * time.Millisecond}, "Central Park")

	h.send(t, at(40.7580, -73.9855))
	waitRouteStarted(t, router)
	require.Eventually(t, func() bool { return len(h.announcer.Spoken()) == 1 }, time.Second, 5*time.Millisecond)

	h.send(t, at(40.7581, -73.9855))
	waitRouteStarted(t, router)
	require.Eventually(t, func() bool { return h.nav.Status().LastError != "" }, time.Second, 5*time.Millisecond)

	route, origin, ok := h.nav.Route()
	require.True(t, ok)
	assert.Equal(t, 1, route.StepCount())
	assert.Equal(t, 40.7580, origin.Latitude)
	assert.Equal(t, "Head north on 7th Ave", h.nav.Status().LastSpoken)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RouteRequests.WithLabelValues("transient")))
}

func TestNavigator_SpeechFailureRetriesSameInstruction(t *testing.T) {
	router := staticRouter(routeWith("Head north on 7th Ave"), nil)
	h := startNavigator(t, router, NavigatorOptions{Debounce: 10 * time.Millisecond}, "Central Park")
	h.announcer.FailNext(1)

	h.send(t, at(40.7580, -73.9855))
	waitRouteStarted(t, router)
	require.Eventually(t, func() bool { return h.nav.State() == NavIdle && h.nav.Status().Instruction != "" }, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.announcer.Spoken())
	assert.Empty(t, h.nav.Status().LastSpoken)

	h.send(t, at(40.7581, -73.9855))
	waitRouteStarted(t, router)
	require.Eventually(t, func() bool { return len(h.announcer.Spoken()) == 1 }, time.Second, 5*time.Millisecond)
}

// slowFirstRouter holds the first request until release is closed
func slowFirstRouter(release chan struct{}) *fakeRouter {
	return newFakeRouter(func(ctx context.Context, call int, _ routing.RouteRequest) (*routing.RouteResult, error) {
		if call == 1 {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return routeWith("Head north on 7th Ave"), nil
		}
		return routeWith("Turn left onto W 57th St"), nil
	})
}

func TestNavigator_DiscardsStaleRoute(t *testing.T) {
	release := make(chan struct{})
	router := slowFirstRouter(release)
	h := startNavigator(t, router, NavigatorOptions{Debounce: 10 * time.Millisecond, DiscardStaleRoutes: true}, "Central Park")

	h.send(t, at(40.7580, -73.9855))
	waitRouteStarted(t, router)
	require.Eventually(t, func() bool { return h.nav.State() == NavRequesting }, time.Second, 5*time.Millisecond)

	h.send(t, at(40.7640, -73.9790))
	waitRouteStarted(t, router)
	require.Eventually(t, func() bool { return len(h.announcer.Spoken()) == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return testutil.ToFloat64(h.metrics.StaleRoutes) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"Turn left onto W 57th St"}, h.announcer.Spoken())
	route, _, ok := h.nav.Route()
	require.True(t, ok)
	assert.Equal(t, "Turn left onto W 57th St", route.Legs[0].Steps[0].Instruction)
}

func TestNavigator_AppliesLateRouteWhenGuardDisabled(t *testing.T) {
	release := make(chan struct{})
	router := slowFirstRouter(release)
	h := startNavigator(t, router, NavigatorOptions{Debounce: 10 * time.Millisecond}, "Central Park")

	h.send(t, at(40.7580, -73.9855))
	waitRouteStarted(t, router)
	h.send(t, at(40.7640, -73.9790))
	waitRouteStarted(t, router)
	require.Eventually(t, func() bool { return len(h.announcer.Spoken()) == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return len(h.announcer.Spoken()) == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"Turn left onto W 57th St", "Head north on 7th Ave"}, h.announcer.Spoken())
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.StaleRoutes))
}

func TestNavigator_ClearingDestinationDropsRoute(t *testing.T) {
	router := staticRouter(routeWith("Head north"), nil)
	h := startNavigator(t, router, NavigatorOptions{Debounce: 10 * time.Millisecond}, "Central Park")

	h.send(t, at(40.7580, -73.9855))
	waitRouteStarted(t, router)
	require.Eventually(t, func() bool { _, _, ok := h.nav.Route(); return ok }, time.Second, 5*time.Millisecond)

	h.nav.SetDestination("")
	require.Eventually(t, func() bool { _, _, ok := h.nav.Route(); return !ok }, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.nav.Status().Destination)
	assert.Equal(t, NavIdle, h.nav.State())
}

func TestNavigator_StopsWhenLocationStreamCloses(t *testing.T) {
	nav := NewNavigator(staticRouter(nil, errors.New("unused")), &recordingAnnouncer{},
		alerts.NewInstructionDeduplicator(), NavigatorOptions{Debounce: time.Hour}, zap.NewNop(), metrics.New(nil))

	locations := make(chan geo.Location)
	close(locations)

	assert.NoError(t, nav.Run(context.Background(), locations))
}
