package resource

import (
	"svp-gateway/work/cache"
	"svp-gateway/work/database"
)

// CachedStore layers the TTL descriptor cache over another Store. Lookups
// that miss fall through to the inner store and populate the cache; errors
// (including not-found) are never cached.
type CachedStore struct {
	Inner Store
	Cache *cache.VideoCache
}

func (s *CachedStore) Get(id int64) (*database.Video, error) {
	if v, ok := s.Cache.Get(id); ok {
		return v, nil
	}

	v, err := s.Inner.Get(id)
	if err != nil {
		return nil, err
	}

	s.Cache.Set(v)
	return v, nil
}
