package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dpup/crosswalk/server/internal/audio"
	"github.com/dpup/crosswalk/server/internal/clients/speech"
)

// Clip sources
const (
	SourceAlert      = "alert"
	SourceNavigation = "navigation"
)

// Announcer speaks text through the shared audio output
type Announcer interface {
	Speak(ctx context.Context, text, source string) error
}

// ClipSubmitter accepts clips for playback
type ClipSubmitter interface {
	Submit(clip audio.Clip) bool
}

// Speaker synthesizes text and hands the clip to the dispatcher
type Speaker struct {
	synthesizer speech.Synthesizer
	out         ClipSubmitter
	logger      *zap.Logger
}

// NewSpeaker creates a speaker
func NewSpeaker(synthesizer speech.Synthesizer, out ClipSubmitter, logger *zap.Logger) *Speaker {
	return &Speaker{
		synthesizer: synthesizer,
		out:         out,
		logger:      logger.With(zap.String("component", "speaker")),
	}
}

// Speak synthesizes text and submits it for playback. It returns once the clip
// is queued, not when it has played.
func (s *Speaker) Speak(ctx context.Context, text, source string) error {
	clip, err := s.synthesizer.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to synthesize %q: %w", text, err)
	}
	clip.Source = source

	if s.out.Submit(clip) {
		s.logger.Debug("Replaced a queued clip", zap.String("text", text), zap.String("source", source))
	}
	return nil
}
