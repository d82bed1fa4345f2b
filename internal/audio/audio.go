package audio

import (
	"context"
)

// Clip is a playable audio resource
type Clip struct {
	ID          string // Content hash of Text
	Text        string
	Data        []byte
	ContentType string
	Source      string // "alert" or "navigation"
}

// Player plays a clip to completion. Only the Dispatcher calls a Player.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// PlayerFunc adapts a function to the Player interface
type PlayerFunc func(ctx context.Context, clip Clip) error

func (f PlayerFunc) Play(ctx context.Context, clip Clip) error {
	return f(ctx, clip)
}
