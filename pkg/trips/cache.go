package trips

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrack/pkg/ctdf"
)

const DefaultActiveTripsCacheTTL = 5 * time.Second

// ActiveTripsCache fronts Store.ListActive with a short lived Redis cache for
// the passenger listing endpoint. Listings may lag the store by up to the TTL.
type ActiveTripsCache struct {
	store Store
	cache *cache.Cache[string]
}

func NewActiveTripsCache(tripStore Store, client *redis.Client, ttl time.Duration) *ActiveTripsCache {
	if ttl <= 0 {
		ttl = DefaultActiveTripsCacheTTL
	}

	redisStore := redisstore.NewRedis(client, store.WithExpiration(ttl))

	return &ActiveTripsCache{
		store: tripStore,
		cache: cache.New[string](redisStore),
	}
}

func (c *ActiveTripsCache) ListActive(ctx context.Context, routeNumber string) ([]ctdf.Trip, error) {
	cacheKey := fmt.Sprintf("active_trips:%s", routeNumber)

	// Any cache failure is treated as a miss
	cached, err := c.cache.Get(ctx, cacheKey)
	if err == nil && cached != "" {
		var trips []ctdf.Trip
		if err := json.Unmarshal([]byte(cached), &trips); err == nil {
			return trips, nil
		}
	}

	trips, err := c.store.ListActive(ctx, routeNumber)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(trips)
	if err != nil {
		return trips, nil
	}

	if err := c.cache.Set(ctx, cacheKey, string(encoded)); err != nil {
		log.Warn().Err(err).Str("key", cacheKey).Msg("Failed to cache active trips")
	}

	return trips, nil
}

// Invalidate drops the cached listings for a route and the unfiltered listing
func (c *ActiveTripsCache) Invalidate(ctx context.Context, routeNumber string) {
	for _, key := range []string{"active_trips:", fmt.Sprintf("active_trips:%s", routeNumber)} {
		if err := c.cache.Delete(ctx, key); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("Failed to invalidate active trips")
		}
	}
}
