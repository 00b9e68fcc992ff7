package mock

import (
	"context"
	"time"

	"github.com/buzkaaclicker/profiles"
)

type ViewCache struct {
	GetFn func(ctx context.Context, key string) profiles.CacheLookup

	SetFn func(ctx context.Context, key string, view profiles.ProfileView, ttl time.Duration) profiles.Outcome

	InvalidateFn func(ctx context.Context, key string) profiles.Outcome
}

func (c ViewCache) Get(ctx context.Context, key string) profiles.CacheLookup {
	return c.GetFn(ctx, key)
}

func (c ViewCache) Set(ctx context.Context, key string, view profiles.ProfileView, ttl time.Duration) profiles.Outcome {
	return c.SetFn(ctx, key, view, ttl)
}

func (c ViewCache) Invalidate(ctx context.Context, key string) profiles.Outcome {
	return c.InvalidateFn(ctx, key)
}
