package location

import (
	"context"
	"errors"
	"time"

	"github.com/dpup/crosswalk/server/internal/lib/geo"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrWatchActive      = errors.New("location watch already active")
)

// WatchOptions is the accuracy, caching and timeout policy for a watch
type WatchOptions struct {
	HighAccuracy bool
	MaxCachedAge time.Duration // 0 accepts only fixes taken after the watch started
	Timeout      time.Duration // Warn if no fix arrives within this period
}

// Source produces a push stream of positions
type Source interface {
	// Watch starts streaming positions until ctx is cancelled or the device
	// fails. A device failure is sent once on Errors, after which both
	// channels close.
	Watch(ctx context.Context, opts WatchOptions) (*Subscription, error)
}

// Subscription is an active location watch
type Subscription struct {
	Locations <-chan geo.Location
	Errors    <-chan error

	cancel context.CancelFunc
	done   <-chan struct{}
}

// NewSubscription wraps the channels of a running watch. cancel ends the
// watch and done must close once both channels are closed.
func NewSubscription(locations <-chan geo.Location, errs <-chan error, cancel context.CancelFunc, done <-chan struct{}) *Subscription {
	return &Subscription{
		Locations: locations,
		Errors:    errs,
		cancel:    cancel,
		done:      done,
	}
}

// Stop ends the watch and waits for its channels to close
func (s *Subscription) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed when the watch has ended
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
