package avatar

import (
	"time"

	"github.com/Skryldev/grsync/core"
)

// DefaultMaxAge is the freshness window of a cache entry.
const DefaultMaxAge = 24 * time.Hour

// StalenessPolicy decides whether an entry is due for a refresh.
type StalenessPolicy struct {
	MaxAge time.Duration
}

// IsStale reports whether more than MaxAge whole seconds have passed since
// the entry's last synchronization attempt.
func (p StalenessPolicy) IsStale(entry *core.CacheEntry, now time.Time) bool {
	maxAge := p.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return now.Unix()-entry.LastSyncedAt > int64(maxAge/time.Second)
}
