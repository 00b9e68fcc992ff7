package mock

import (
	"context"

	"github.com/buzkaaclicker/profiles"
)

type ProfileService struct {
	OwnProfileFn func(ctx context.Context, userId profiles.UserId) (profiles.ProfileView, error)

	ProfileByUserIdFn func(ctx context.Context, userId profiles.UserId) (profiles.ProfileView, error)

	SaveOwnProfileFn func(ctx context.Context, userId profiles.UserId, update profiles.ProfileUpdate) (profiles.ProfileView, error)
}

func (s ProfileService) OwnProfile(ctx context.Context, userId profiles.UserId) (profiles.ProfileView, error) {
	return s.OwnProfileFn(ctx, userId)
}

func (s ProfileService) ProfileByUserId(ctx context.Context, userId profiles.UserId) (profiles.ProfileView, error) {
	return s.ProfileByUserIdFn(ctx, userId)
}

func (s ProfileService) SaveOwnProfile(ctx context.Context, userId profiles.UserId, update profiles.ProfileUpdate) (profiles.ProfileView, error) {
	return s.SaveOwnProfileFn(ctx, userId, update)
}

type ProfileStore struct {
	ByUserIdFn func(ctx context.Context, userId profiles.UserId) (profiles.Profile, bool, error)

	InsertFn func(ctx context.Context, profile profiles.Profile) (profiles.Profile, error)

	UpdateFn func(ctx context.Context, current profiles.Profile, patch profiles.ProfilePatch) (profiles.Profile, error)
}

func (s ProfileStore) ByUserId(ctx context.Context, userId profiles.UserId) (profiles.Profile, bool, error) {
	return s.ByUserIdFn(ctx, userId)
}

func (s ProfileStore) Insert(ctx context.Context, profile profiles.Profile) (profiles.Profile, error) {
	return s.InsertFn(ctx, profile)
}

func (s ProfileStore) Update(ctx context.Context, current profiles.Profile, patch profiles.ProfilePatch) (profiles.Profile, error) {
	return s.UpdateFn(ctx, current, patch)
}
