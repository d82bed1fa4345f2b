package speech

import (
	"context"

	"github.com/dpup/crosswalk/server/internal/audio"
)

// Synthesizer turns text into a playable clip
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}
