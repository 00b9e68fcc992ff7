package profiles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCacheTTL     = 60 * time.Second
	DefaultAvatarURLTTL = 24 * time.Hour
	DefaultIconPrefix   = "icons/"
	DefaultStoreTimeout = 5 * time.Second
	DefaultCacheTimeout = 500 * time.Millisecond
	DefaultBlobTimeout  = 15 * time.Second
	DefaultStoreRetries = 2
)

type ServiceConfig struct {
	Store ProfileStore
	Blobs BlobStore
	Cache ViewCache

	CacheTTL     time.Duration
	AvatarURLTTL time.Duration
	IconPrefix   string

	StoreTimeout time.Duration
	CacheTimeout time.Duration
	BlobTimeout  time.Duration
	// Extra attempts for transient failures of read only store calls.
	StoreRetries uint
	// Delay before the first retry, doubled on every next one.
	RetryInterval time.Duration
}

// Service coordinates the record store, the blob store and the view cache.
// It keeps no state of its own besides the pending cache writes.
type Service struct {
	cfg     ServiceConfig
	pending sync.WaitGroup
}

var _ ProfileService = (*Service)(nil)

func NewService(cfg ServiceConfig) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.AvatarURLTTL <= 0 {
		cfg.AvatarURLTTL = DefaultAvatarURLTTL
	}
	if cfg.IconPrefix == "" {
		cfg.IconPrefix = DefaultIconPrefix
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = DefaultCacheTimeout
	}
	if cfg.BlobTimeout <= 0 {
		cfg.BlobTimeout = DefaultBlobTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	return &Service{cfg: cfg}
}

// OwnProfile returns the caller's profile, creating an empty one on first touch.
func (s *Service) OwnProfile(ctx context.Context, userId UserId) (ProfileView, error) {
	return s.lookup(ctx, userId, OwnViewKey(userId), true)
}

// ProfileByUserId returns somebody else's profile or ErrProfileNotFound.
func (s *Service) ProfileByUserId(ctx context.Context, userId UserId) (ProfileView, error) {
	return s.lookup(ctx, userId, UserViewKey(userId), false)
}

func (s *Service) lookup(ctx context.Context, userId UserId, key string, autoCreate bool) (ProfileView, error) {
	if cached := s.cacheGet(ctx, userId, key); cached.Found {
		return cached.View, nil
	}

	profile, found, err := s.findByUserId(ctx, userId)
	if err != nil {
		return ProfileView{}, fmt.Errorf("%w: find profile: %w", ErrBackendUnavailable, err)
	}
	if !found {
		if !autoCreate {
			return ProfileView{}, ErrProfileNotFound
		}
		profile, err = s.createDefault(ctx, userId)
		if err != nil {
			return ProfileView{}, err
		}
	}

	view := s.view(ctx, profile)
	s.cacheSet(ctx, userId, key, view)
	return view, nil
}

func (s *Service) createDefault(ctx context.Context, userId UserId) (Profile, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	profile, err := s.cfg.Store.Insert(storeCtx, Profile{UserId: userId})
	cancel()
	switch {
	case err == nil:
		logrus.WithField("user_id", userId).Infoln("Created default profile.")
		return profile, nil
	case errors.Is(err, ErrConflict):
		// concurrent first touch, the other creator's record is as good as ours
		profile, found, err := s.findByUserId(ctx, userId)
		if err != nil {
			return Profile{}, fmt.Errorf("%w: refetch profile after conflict: %w", ErrBackendUnavailable, err)
		}
		if !found {
			return Profile{}, fmt.Errorf("refetch profile after conflict: %w", ErrConflict)
		}
		return profile, nil
	default:
		return Profile{}, fmt.Errorf("%w: insert default profile: %w", ErrBackendUnavailable, err)
	}
}

// SaveOwnProfile creates the caller's profile or applies a partial update to it.
func (s *Service) SaveOwnProfile(ctx context.Context, userId UserId, update ProfileUpdate) (ProfileView, error) {
	if err := update.Validate(); err != nil {
		return ProfileView{}, err
	}
	log := logrus.WithField("user_id", userId)

	patch := ProfilePatch{DisplayName: update.DisplayName, Bio: update.Bio}
	if update.Icon != nil {
		key, err := s.uploadIcon(ctx, *update.Icon)
		if err != nil {
			log.WithError(err).Infoln("Avatar upload failed.")
			return ProfileView{}, &BadRequestError{Reason: "Invalid image file", Err: err}
		}
		patch.AvatarKey = SetTo(key)
	}

	current, found, err := s.findByUserId(ctx, userId)
	if err != nil {
		return ProfileView{}, fmt.Errorf("%w: find profile: %w", ErrBackendUnavailable, err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	var saved Profile
	if found {
		log.Infoln("Updating profile.")
		saved, err = s.cfg.Store.Update(storeCtx, current, patch)
	} else {
		log.Infoln("Creating profile.")
		saved, err = s.cfg.Store.Insert(storeCtx, patch.Apply(Profile{UserId: userId}))
	}
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		log.WithError(err).Warningln("Profile conflict.")
		return ProfileView{}, fmt.Errorf("save profile: %w", err)
	case errors.Is(err, ErrProfileNotFound):
		return ProfileView{}, fmt.Errorf("%w: profile vanished during update: %w", ErrConflict, err)
	default:
		return ProfileView{}, fmt.Errorf("%w: save profile: %w", ErrBackendUnavailable, err)
	}

	s.invalidate(ctx, userId)
	return s.view(ctx, saved), nil
}

func (s *Service) uploadIcon(ctx context.Context, icon IconUpload) (string, error) {
	blobCtx, cancel := context.WithTimeout(ctx, s.cfg.BlobTimeout)
	defer cancel()
	key, err := s.cfg.Blobs.Upload(blobCtx, icon.Data, icon.ContentType, s.cfg.IconPrefix, icon.Filename)
	if err != nil {
		return "", fmt.Errorf("upload icon: %w", err)
	}
	if len(key) > MaxAvatarKeyLength {
		return "", fmt.Errorf("object key longer than %d characters", MaxAvatarKeyLength)
	}
	return key, nil
}

func (s *Service) findByUserId(ctx context.Context, userId UserId) (Profile, bool, error) {
	type found struct {
		profile Profile
		ok      bool
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryInterval
	policy.MaxInterval = 10 * s.cfg.RetryInterval

	result, err := backoff.Retry(ctx, func() (found, error) {
		storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		defer cancel()
		profile, ok, err := s.cfg.Store.ByUserId(storeCtx, userId)
		if err != nil {
			if errors.Is(err, ErrTransient) {
				logrus.WithField("user_id", userId).WithError(err).Debugln("Retrying profile lookup.")
				return found{}, err
			}
			return found{}, backoff.Permanent(err)
		}
		return found{profile, ok}, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(s.cfg.StoreRetries+1))
	if err != nil {
		return Profile{}, false, err
	}
	return result.profile, result.ok, nil
}

func (s *Service) view(ctx context.Context, profile Profile) ProfileView {
	link := s.resolveAvatar(ctx, profile)
	return profile.View(link.Url)
}

func (s *Service) resolveAvatar(ctx context.Context, profile Profile) AvatarLink {
	if profile.AvatarKey == "" {
		return AvatarLink{}
	}
	blobCtx, cancel := context.WithTimeout(ctx, s.cfg.BlobTimeout)
	defer cancel()
	url, err := s.cfg.Blobs.SignedUrl(blobCtx, profile.AvatarKey, s.cfg.AvatarURLTTL)
	if err != nil {
		logrus.
			WithField("user_id", profile.UserId).
			WithField("avatar_key", profile.AvatarKey).
			WithError(err).
			Warningln("Could not sign avatar url.")
		return AvatarLink{Outcome: Degraded(err)}
	}
	return AvatarLink{Url: url}
}

func (s *Service) cacheGet(ctx context.Context, userId UserId, key string) CacheLookup {
	cacheCtx, cancel := context.WithTimeout(ctx, s.cfg.CacheTimeout)
	defer cancel()
	lookup := s.cfg.Cache.Get(cacheCtx, key)
	if lookup.Degraded() {
		logrus.WithField("user_id", userId).WithField("key", key).WithError(lookup.Err).
			Warningln("Cache lookup degraded, reading from store.")
	}
	return lookup
}

// cacheSet does not hold up the response. Flush waits for it.
func (s *Service) cacheSet(ctx context.Context, userId UserId, key string, view ProfileView) {
	detached := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		cacheCtx, cancel := context.WithTimeout(detached, s.cfg.CacheTimeout)
		defer cancel()
		if out := s.cfg.Cache.Set(cacheCtx, key, view, s.cfg.CacheTTL); out.Degraded() {
			logrus.WithField("user_id", userId).WithField("key", key).WithError(out.Err).
				Warningln("Could not cache profile view.")
		}
	}()
}

// invalidate is bounded by the cache timeout and survives request cancellation,
// a failure only leaves a stale view for the rest of its ttl.
func (s *Service) invalidate(ctx context.Context, userId UserId) {
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CacheTimeout)
	defer cancel()
	for _, key := range []string{OwnViewKey(userId), UserViewKey(userId)} {
		if out := s.cfg.Cache.Invalidate(cacheCtx, key); out.Degraded() {
			logrus.WithField("user_id", userId).WithField("key", key).WithError(out.Err).
				Warningln("Could not invalidate profile view.")
		}
	}
}

// Flush blocks until every pending cache write finished.
func (s *Service) Flush() {
	s.pending.Wait()
}
