package audio

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dpup/crosswalk/server/internal/lib/recovery"
	"github.com/dpup/crosswalk/server/internal/metrics"
)

// Dispatcher serializes access to the audio output. One clip plays at a time
// and at most one clip waits behind it. A clip submitted while another is
// playing and one is already waiting replaces the waiting one, so stale
// alerts never pile up. Clips submitted before playback has picked up the
// next clip are held until it does.
type Dispatcher struct {
	player  Player
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	next    *Clip
	pending *Clip
	playing *Clip
	stats   DispatcherStats

	wake chan struct{}
}

// DispatcherStats reports dispatcher activity
type DispatcherStats struct {
	Played  int    `json:"played"`
	Dropped int    `json:"dropped"`
	Failed  int    `json:"failed"`
	Playing string `json:"playing,omitempty"`
	Pending string `json:"pending,omitempty"`
}

// NewDispatcher creates a dispatcher in front of player
func NewDispatcher(player Player, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		player:  player,
		logger:  logger.With(zap.String("component", "dispatcher")),
		metrics: m,
		wake:    make(chan struct{}, 1),
	}
}

// Submit queues clip for playback. It never blocks. It returns true if a
// waiting clip was replaced.
func (d *Dispatcher) Submit(clip Clip) bool {
	d.mu.Lock()
	replaced := false
	switch {
	case d.playing == nil && d.next == nil:
		d.next = &clip
	case d.pending != nil:
		replaced = true
		d.stats.Dropped++
		d.metrics.Clips.WithLabelValues("dropped").Inc()
		d.logger.Debug("Dropping queued clip",
			zap.String("dropped", d.pending.Text),
			zap.String("replacement", clip.Text))
		d.pending = &clip
	default:
		d.pending = &clip
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return replaced
}

// Run plays submitted clips until ctx is cancelled. A waiting clip is
// discarded on cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer recovery.Recover(ctx, "Audio dispatcher")

	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.next, d.pending = nil, nil
			d.mu.Unlock()
			return nil
		case <-d.wake:
		}

		for ctx.Err() == nil {
			clip := d.take()
			if clip == nil {
				break
			}
			d.play(ctx, clip)
		}
	}
}

// take moves the next clip to play into playing
func (d *Dispatcher) take() *Clip {
	d.mu.Lock()
	defer d.mu.Unlock()

	clip := d.next
	if clip == nil {
		clip = d.pending
		d.pending = nil
	}
	d.next = nil
	d.playing = clip
	return clip
}

func (d *Dispatcher) play(ctx context.Context, clip *Clip) {
	err := d.player.Play(ctx, *clip)

	d.mu.Lock()
	d.playing = nil
	if err != nil {
		d.stats.Failed++
	} else {
		d.stats.Played++
	}
	d.mu.Unlock()

	if err != nil {
		d.metrics.Clips.WithLabelValues("failed").Inc()
		if ctx.Err() == nil {
			d.logger.Warn("Failed to play clip", zap.String("text", clip.Text), zap.Error(err))
		}
		return
	}
	d.metrics.Clips.WithLabelValues("played").Inc()
	d.logger.Debug("Played clip", zap.String("text", clip.Text), zap.String("source", clip.Source))
}

// Stats returns a snapshot of dispatcher activity
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := d.stats
	if d.playing != nil {
		stats.Playing = d.playing.Text
	}
	switch {
	case d.next != nil:
		stats.Pending = d.next.Text
	case d.pending != nil:
		stats.Pending = d.pending.Text
	}
	return stats
}
