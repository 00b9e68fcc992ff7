package persistent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/buzkaaclicker/profiles"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Profile struct {
	bun.BaseModel `bun:"table:profile"`

	Id              uuid.UUID `bun:"id,pk,type:uuid"`
	UserId          uuid.UUID `bun:"user_id,unique,notnull,type:uuid"`
	DisplayName     string    `bun:"display_name,nullzero,type:varchar(100)"`
	Bio             string    `bun:"bio,nullzero,type:varchar(500)"`
	AvatarObjectKey string    `bun:"avatar_object_key,nullzero,type:varchar(255)"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

func (p Profile) ToDomain() profiles.Profile {
	return profiles.Profile{
		Id:     p.Id,
		UserId: profiles.UserId(p.UserId),
		ProfileFields: profiles.ProfileFields{
			DisplayName: p.DisplayName,
			Bio:         p.Bio,
		},
		AvatarKey: p.AvatarObjectKey,
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
	}
}

func profileFromDomain(p profiles.Profile) *Profile {
	return &Profile{
		Id:              p.Id,
		UserId:          uuid.UUID(p.UserId),
		DisplayName:     p.DisplayName,
		Bio:             p.Bio,
		AvatarObjectKey: p.AvatarKey,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

type ProfileStore struct {
	DB *bun.DB
	// Server clock, time.Now when nil.
	Now func() time.Time
}

var _ profiles.ProfileStore = (*ProfileStore)(nil)

// Timestamps are kept at microsecond precision, the finest postgres stores.
func (s *ProfileStore) now() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().UTC().Truncate(time.Microsecond)
}

func (s *ProfileStore) ByUserId(ctx context.Context, userId profiles.UserId) (profiles.Profile, bool, error) {
	profile := new(Profile)
	err := s.DB.NewSelect().
		Model(profile).
		Where(`user_id=?`, uuid.UUID(userId)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return profiles.Profile{}, false, nil
		}
		return profiles.Profile{}, false, classify("select profile", err)
	}
	return profile.ToDomain(), true, nil
}

func (s *ProfileStore) Insert(ctx context.Context, p profiles.Profile) (profiles.Profile, error) {
	if p.UserId.IsZero() {
		return profiles.Profile{}, fmt.Errorf("insert profile: %w: missing user id", profiles.ErrFatal)
	}
	if p.Id == uuid.Nil {
		p.Id = uuid.New()
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	profile := profileFromDomain(p)
	_, err := s.DB.NewInsert().
		Model(profile).
		Exec(ctx)
	if err != nil {
		return profiles.Profile{}, classify("insert profile", err)
	}
	return profile.ToDomain(), nil
}

func (s *ProfileStore) Update(ctx context.Context, current profiles.Profile, patch profiles.ProfilePatch) (profiles.Profile, error) {
	// updated_at moves forward on every update, even within one clock tick
	updatedAt := s.now()
	if !updatedAt.After(current.UpdatedAt) {
		updatedAt = current.UpdatedAt.UTC().Add(time.Microsecond)
	}
	profile := profileFromDomain(patch.Apply(current))
	profile.UpdatedAt = updatedAt

	updated := new(Profile)
	err := s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(profile).
			Column(patchColumns(patch)...).
			Where(`user_id=?`, profile.UserId).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update query: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return profiles.ErrProfileNotFound
		}

		err = tx.NewSelect().
			Model(updated).
			Where(`user_id=?`, profile.UserId).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("select updated profile: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, profiles.ErrProfileNotFound) {
			return profiles.Profile{}, fmt.Errorf("update profile: %w", err)
		}
		return profiles.Profile{}, classify("update profile", err)
	}
	return updated.ToDomain(), nil
}

func patchColumns(patch profiles.ProfilePatch) []string {
	columns := make([]string, 0, 4)
	if patch.DisplayName.Set {
		columns = append(columns, "display_name")
	}
	if patch.Bio.Set {
		columns = append(columns, "bio")
	}
	if patch.AvatarKey.Set {
		columns = append(columns, "avatar_object_key")
	}
	return append(columns, "updated_at")
}
