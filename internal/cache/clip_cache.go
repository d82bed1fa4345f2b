package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dpup/crosswalk/server/internal/audio"
	"github.com/dpup/crosswalk/server/internal/lib/recovery"
)

// ClipCache provides thread-safe in-memory caching of synthesized clips with TTL
type ClipCache struct {
	entries map[string]*ClipEntry
	mutex   sync.RWMutex
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// ClipEntry represents a cached clip with metadata
type ClipEntry struct {
	Key       string
	Clip      audio.Clip
	CreatedAt time.Time
	ExpiresAt time.Time
	Hits      int
}

// NewClipCache creates a new in-memory clip cache
func NewClipCache(ttl time.Duration, logger *zap.Logger) *ClipCache {
	return &ClipCache{
		entries: make(map[string]*ClipEntry),
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "clip_cache")),
		now:     time.Now,
	}
}

// Set stores a clip under key
func (c *ClipCache) Set(key string, clip audio.Clip) {
	now := c.now()
	entry := &ClipEntry{
		Key:       key,
		Clip:      clip,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[key] = entry
}

// Get retrieves a clip if present and not stale
func (c *ClipCache) Get(key string) (audio.Clip, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists || c.now().After(entry.ExpiresAt) {
		return audio.Clip{}, false
	}
	entry.Hits++
	return entry.Clip, true
}

// Delete removes an entry from cache
func (c *ClipCache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries from cache
func (c *ClipCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = make(map[string]*ClipEntry)
}

// Stats returns cache statistics
func (c *ClipCache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	stats := CacheStats{
		TotalEntries: len(c.entries),
	}

	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			stats.StaleEntries++
		} else {
			stats.FreshEntries++
		}
		stats.Hits += entry.Hits
		stats.Bytes += len(entry.Clip.Data)

		if stats.OldestEntry.IsZero() || entry.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = entry.CreatedAt
		}
		if entry.CreatedAt.After(stats.NewestEntry) {
			stats.NewestEntry = entry.CreatedAt
		}
	}

	return stats
}

// CleanupStale removes all stale entries from cache
func (c *ClipCache) CleanupStale() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	var removed int

	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}

	return removed
}

// StartPeriodicCleanup starts a goroutine that periodically cleans up stale
// entries until ctx is cancelled
func (c *ClipCache) StartPeriodicCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		defer recovery.Recover(ctx, "Clip cache cleanup")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.CleanupStale(); removed > 0 {
					c.logger.Debug("Removed stale clips", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// CacheStats provides cache usage statistics
type CacheStats struct {
	TotalEntries int       `json:"total_entries"`
	FreshEntries int       `json:"fresh_entries"`
	StaleEntries int       `json:"stale_entries"`
	Hits         int       `json:"hits"`
	Bytes        int       `json:"bytes"`
	OldestEntry  time.Time `json:"oldest_entry"`
	NewestEntry  time.Time `json:"newest_entry"`
}
