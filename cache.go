package profiles

import (
	"context"
	"time"
)

// Outcome of a best-effort operation. A degraded outcome carries its cause for
// logging only, it never fails the request that produced it.
type Outcome struct {
	Err error
}

func Degraded(err error) Outcome {
	return Outcome{Err: err}
}

func (o Outcome) Degraded() bool {
	return o.Err != nil
}

type CacheLookup struct {
	View  ProfileView
	Found bool
	Outcome
}

func CacheHit(view ProfileView) CacheLookup {
	return CacheLookup{View: view, Found: true}
}

// CacheMiss reports a miss. A non nil err marks it as degraded.
func CacheMiss(err error) CacheLookup {
	return CacheLookup{Outcome: Outcome{Err: err}}
}

// ViewCache holds transient, ttl bound profile views. It is never authoritative.
type ViewCache interface {
	Get(ctx context.Context, key string) CacheLookup

	Set(ctx context.Context, key string, view ProfileView, ttl time.Duration) Outcome

	Invalidate(ctx context.Context, key string) Outcome
}

// OwnViewKey namespaces the self lookup, which may auto create the record.
func OwnViewKey(userId UserId) string {
	return "profile:me:" + userId.String()
}

// UserViewKey namespaces third party lookups, which never create records.
func UserViewKey(userId UserId) string {
	return "profile:user:" + userId.String()
}
