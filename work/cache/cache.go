package cache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"svp-gateway/work/database"
)

// VideoCache is a TTL read cache for resource descriptors, keeping hot video
// lookups off the database during playback sessions where the player fetches
// a fresh token every minute.
type VideoCache struct {
	cache    *ristretto.Cache[int64, *database.Video]
	duration time.Duration
}

// NewVideoCache creates a descriptor cache with the given entry TTL.
func NewVideoCache(duration time.Duration) *VideoCache {
	cache, err := ristretto.NewCache(&ristretto.Config[int64, *database.Video]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		panic(err)
	}

	return &VideoCache{
		cache:    cache,
		duration: duration,
	}
}

// Get returns a cached descriptor and whether it was present.
func (vc *VideoCache) Get(id int64) (*database.Video, bool) {
	return vc.cache.Get(id)
}

// Set stores a descriptor under its id for the configured TTL.
func (vc *VideoCache) Set(v *database.Video) {
	vc.cache.SetWithTTL(v.ID, v, 1, vc.duration)
}

// Invalidate drops a descriptor after an admin edit or delete.
func (vc *VideoCache) Invalidate(id int64) {
	vc.cache.Del(id)
}

// Wait blocks until pending writes are applied. Only tests need this;
// ristretto admits entries asynchronously.
func (vc *VideoCache) Wait() {
	vc.cache.Wait()
}

// Close releases the cache's internal resources.
func (vc *VideoCache) Close() {
	vc.cache.Close()
}
