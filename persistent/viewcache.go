package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/buzkaaclicker/profiles"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/buntdb"
)

// RedisViewCache keeps serialized profile views in redis.
type RedisViewCache struct {
	Client redis.UniversalClient
}

var _ profiles.ViewCache = (*RedisViewCache)(nil)

func (c *RedisViewCache) Get(ctx context.Context, key string) profiles.CacheLookup {
	data, err := c.Client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return profiles.CacheMiss(nil)
		}
		return profiles.CacheMiss(fmt.Errorf("redis get: %w", err))
	}
	return decodeView(data)
}

func (c *RedisViewCache) Set(ctx context.Context, key string, view profiles.ProfileView, ttl time.Duration) profiles.Outcome {
	data, err := json.Marshal(view)
	if err != nil {
		return profiles.Degraded(fmt.Errorf("serialize view: %w", err))
	}
	if err := c.Client.Set(ctx, key, data, ttl).Err(); err != nil {
		return profiles.Degraded(fmt.Errorf("redis set: %w", err))
	}
	return profiles.Outcome{}
}

func (c *RedisViewCache) Invalidate(ctx context.Context, key string) profiles.Outcome {
	if err := c.Client.Del(ctx, key).Err(); err != nil {
		return profiles.Degraded(fmt.Errorf("redis del: %w", err))
	}
	return profiles.Outcome{}
}

// BuntViewCache is the embedded cache used when no redis is configured.
// Entries are only visible to the process that owns the buntdb handle.
type BuntViewCache struct {
	Buntdb *buntdb.DB
}

var _ profiles.ViewCache = (*BuntViewCache)(nil)

func (c *BuntViewCache) Get(ctx context.Context, key string) profiles.CacheLookup {
	var serializedView string
	err := c.Buntdb.View(func(tx *buntdb.Tx) error {
		var err error
		serializedView, err = tx.Get(key)
		return err
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return profiles.CacheMiss(nil)
		}
		return profiles.CacheMiss(fmt.Errorf("bunt view: %w", err))
	}
	return decodeView([]byte(serializedView))
}

func (c *BuntViewCache) Set(ctx context.Context, key string, view profiles.ProfileView, ttl time.Duration) profiles.Outcome {
	serializedView, err := json.Marshal(view)
	if err != nil {
		return profiles.Degraded(fmt.Errorf("serialize view: %w", err))
	}
	err = c.Buntdb.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(serializedView), &buntdb.SetOptions{Expires: true, TTL: ttl})
		return err
	})
	if err != nil {
		return profiles.Degraded(fmt.Errorf("bunt update: %w", err))
	}
	return profiles.Outcome{}
}

func (c *BuntViewCache) Invalidate(ctx context.Context, key string) profiles.Outcome {
	err := c.Buntdb.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
	if err != nil && !errors.Is(err, buntdb.ErrNotFound) {
		return profiles.Degraded(fmt.Errorf("bunt update: %w", err))
	}
	return profiles.Outcome{}
}

// A payload that does not decode is served as a miss.
func decodeView(data []byte) profiles.CacheLookup {
	var view profiles.ProfileView
	if err := json.Unmarshal(data, &view); err != nil {
		return profiles.CacheMiss(fmt.Errorf("deserialize view: %w", err))
	}
	return profiles.CacheHit(view)
}
