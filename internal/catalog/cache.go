package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const listCacheKey = "catalog:products:v1"

// Cache keeps the serialised product listing in Redis. A nil Cache, or one
// built without a client or with a non-positive TTL, caches nothing.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	loads  singleflight.Group
}

// NewCache constructs the listing cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		client = nil
	}
	return &Cache{client: client, ttl: ttl}
}

// Products returns the cached listing. On a miss it calls load and caches the
// result; concurrent misses share a single load. Redis failures are logged
// and fall through to load.
func (c *Cache) Products(ctx context.Context, load func(context.Context) ([]Product, error)) ([]Product, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	v, err, _ := c.loads.Do(listCacheKey, func() (any, error) {
		if products, ok := c.read(ctx); ok {
			return products, nil
		}
		products, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.write(ctx, products)
		return products, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Product), nil
}

func (c *Cache) read(ctx context.Context) ([]Product, bool) {
	data, err := c.client.Get(ctx, listCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("catalog cache read failed")
		}
		return nil, false
	}
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("catalog cache entry corrupt")
		return nil, false
	}
	return products, true
}

func (c *Cache) write(ctx context.Context, products []Product) {
	data, err := json.Marshal(products)
	if err == nil {
		err = c.client.Set(ctx, listCacheKey, data, c.ttl).Err()
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("catalog cache write failed")
	}
}

// Invalidate drops the cached listing.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, listCacheKey).Err()
}
