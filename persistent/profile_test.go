package persistent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/buzkaaclicker/profiles"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func newTestSqliteDB(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, "sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, CreateSchema(ctx, db))
	return db
}

// forEachDB runs fn against sqlite and, when testenv exported a dsn, postgres.
func forEachDB(t *testing.T, fn func(t *testing.T, db *bun.DB)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newTestSqliteDB(t))
	})
	t.Run("postgres", func(t *testing.T) {
		if testing.Short() || TestEnvDsn() == "" {
			t.SkipNow()
			return
		}
		db, err := PgOpenTest(context.Background())
		require.NoError(t, err)
		defer db.Close()
		fn(t, db)
	})
}

func TestProfileInsertAndLookup(t *testing.T) {
	forEachDB(t, func(t *testing.T, db *bun.DB) {
		assert := assert.New(t)
		ctx := context.Background()
		store := ProfileStore{DB: db}
		userId := profiles.UserId(uuid.New())

		_, found, err := store.ByUserId(ctx, userId)
		assert.NoError(err)
		assert.False(found)

		inserted, err := store.Insert(ctx, profiles.Profile{
			UserId:        userId,
			ProfileFields: profiles.ProfileFields{DisplayName: "Alice"},
		})
		if !assert.NoError(err) {
			return
		}
		assert.NotEqual(uuid.Nil, inserted.Id)
		assert.Equal(inserted.CreatedAt, inserted.UpdatedAt)
		assert.Equal(time.UTC, inserted.CreatedAt.Location())

		stored, found, err := store.ByUserId(ctx, userId)
		assert.NoError(err)
		assert.True(found)
		assert.Equal(inserted.Id, stored.Id)
		assert.Equal(userId, stored.UserId)
		assert.Equal("Alice", stored.DisplayName)
		assert.Empty(stored.Bio)
		assert.Empty(stored.AvatarKey)
		assert.True(inserted.CreatedAt.Equal(stored.CreatedAt))
	})
}

func TestProfileInsertConflict(t *testing.T) {
	forEachDB(t, func(t *testing.T, db *bun.DB) {
		assert := assert.New(t)
		ctx := context.Background()
		store := ProfileStore{DB: db}
		userId := profiles.UserId(uuid.New())

		_, err := store.Insert(ctx, profiles.Profile{UserId: userId})
		require.NoError(t, err)
		_, err = store.Insert(ctx, profiles.Profile{UserId: userId})
		assert.ErrorIs(err, profiles.ErrConflict)
	})
}

func TestProfileInsertWithoutUser(t *testing.T) {
	assert := assert.New(t)
	store := ProfileStore{DB: newTestSqliteDB(t)}

	_, err := store.Insert(context.Background(), profiles.Profile{})
	assert.ErrorIs(err, profiles.ErrFatal)
}

func TestProfilePartialUpdate(t *testing.T) {
	forEachDB(t, func(t *testing.T, db *bun.DB) {
		assert := assert.New(t)
		ctx := context.Background()
		store := ProfileStore{DB: db}
		userId := profiles.UserId(uuid.New())

		created, err := store.Insert(ctx, profiles.Profile{
			UserId:        userId,
			ProfileFields: profiles.ProfileFields{DisplayName: "Alice", Bio: "hi"},
			AvatarKey:     "icons/a.png",
		})
		require.NoError(t, err)

		updated, err := store.Update(ctx, created, profiles.ProfilePatch{Bio: profiles.SetTo("new")})
		if !assert.NoError(err) {
			return
		}
		assert.Equal(created.Id, updated.Id)
		assert.Equal("Alice", updated.DisplayName)
		assert.Equal("new", updated.Bio)
		assert.Equal("icons/a.png", updated.AvatarKey)
		assert.True(created.CreatedAt.Equal(updated.CreatedAt))
		assert.True(updated.UpdatedAt.After(created.UpdatedAt))

		cleared, err := store.Update(ctx, updated, profiles.ProfilePatch{
			DisplayName: profiles.SetTo(""),
			AvatarKey:   profiles.SetTo("icons/b.png"),
		})
		if !assert.NoError(err) {
			return
		}
		assert.Empty(cleared.DisplayName)
		assert.Equal("new", cleared.Bio)
		assert.Equal("icons/b.png", cleared.AvatarKey)
	})
}

func TestProfileUpdatedAtAlwaysGrows(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	frozen := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	store := ProfileStore{
		DB:  newTestSqliteDB(t),
		Now: func() time.Time { return frozen },
	}
	userId := profiles.UserId(uuid.New())

	created, err := store.Insert(ctx, profiles.Profile{UserId: userId})
	require.NoError(t, err)
	assert.Equal(frozen.Truncate(time.Microsecond), created.CreatedAt)

	previous := created
	for i := 0; i < 3; i++ {
		next, err := store.Update(ctx, previous, profiles.ProfilePatch{Bio: profiles.SetTo("same")})
		require.NoError(t, err)
		assert.Equal(previous.UpdatedAt.Add(time.Microsecond), next.UpdatedAt)
		previous = next
	}
}

func TestProfileUpdateMissing(t *testing.T) {
	assert := assert.New(t)
	store := ProfileStore{DB: newTestSqliteDB(t)}

	_, err := store.Update(context.Background(),
		profiles.Profile{UserId: profiles.UserId(uuid.New())},
		profiles.ProfilePatch{Bio: profiles.SetTo("x")})
	assert.ErrorIs(err, profiles.ErrProfileNotFound)
}

func TestProfileConcurrentInsert(t *testing.T) {
	forEachDB(t, func(t *testing.T, db *bun.DB) {
		assert := assert.New(t)
		ctx := context.Background()
		store := ProfileStore{DB: db}
		userId := profiles.UserId(uuid.New())

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Insert(ctx, profiles.Profile{UserId: userId})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		var succeeded int
		for err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(err, profiles.ErrConflict)
		}
		assert.Equal(1, succeeded)

		count, err := db.NewSelect().
			Model((*Profile)(nil)).
			Where(`user_id=?`, uuid.UUID(userId)).
			Count(ctx)
		assert.NoError(err)
		assert.Equal(1, count)
	})
}

func TestPatchColumns(t *testing.T) {
	assert := assert.New(t)

	assert.Equal([]string{"updated_at"}, patchColumns(profiles.ProfilePatch{}))
	assert.Equal([]string{"display_name", "avatar_object_key", "updated_at"}, patchColumns(profiles.ProfilePatch{
		DisplayName: profiles.SetTo("a"),
		AvatarKey:   profiles.SetTo("k"),
	}))
}
