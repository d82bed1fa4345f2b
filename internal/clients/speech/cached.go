package speech

import (
	"context"

	"go.uber.org/zap"

	"github.com/dpup/crosswalk/server/internal/audio"
	"github.com/dpup/crosswalk/server/internal/cache"
	"github.com/dpup/crosswalk/server/internal/lib/alerts"
	"github.com/dpup/crosswalk/server/internal/metrics"
)

// CachedSynthesizer wraps a Synthesizer with a content-hash keyed clip cache
type CachedSynthesizer struct {
	synthesizer Synthesizer
	cache       *cache.ClipCache
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewCachedSynthesizer creates a caching synthesizer
func NewCachedSynthesizer(synthesizer Synthesizer, clipCache *cache.ClipCache, logger *zap.Logger, m *metrics.Metrics) *CachedSynthesizer {
	return &CachedSynthesizer{
		synthesizer: synthesizer,
		cache:       clipCache,
		logger:      logger.With(zap.String("component", "speech")),
		metrics:     m,
	}
}

// Synthesize returns a cached clip for equivalent text, synthesizing on a miss.
// Failures are not cached.
func (s *CachedSynthesizer) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	key := alerts.HashText(text)

	if clip, ok := s.cache.Get(key); ok {
		s.metrics.SpeechRequests.WithLabelValues("hit").Inc()
		clip.Text = text
		return clip, nil
	}

	clip, err := s.synthesizer.Synthesize(ctx, text)
	if err != nil {
		s.metrics.SpeechRequests.WithLabelValues("error").Inc()
		return audio.Clip{}, err
	}

	s.metrics.SpeechRequests.WithLabelValues("miss").Inc()
	clip.ID = key
	s.cache.Set(key, clip)
	s.logger.Debug("Cached synthesized clip",
		zap.String("text", text),
		zap.Int("bytes", len(clip.Data)))
	return clip, nil
}
