package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/buzkaaclicker/profiles"
	"github.com/google/uuid"
)

type ProfileStore struct {
	profiles map[profiles.UserId]profiles.Profile
	mutex    sync.RWMutex
	// Server clock, time.Now when nil.
	Now func() time.Time
}

var _ profiles.ProfileStore = (*ProfileStore)(nil)

func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[profiles.UserId]profiles.Profile),
	}
}

func (s *ProfileStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *ProfileStore) ByUserId(ctx context.Context, userId profiles.UserId) (profiles.Profile, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p, ok := s.profiles[userId]
	return p, ok, nil
}

func (s *ProfileStore) Insert(ctx context.Context, p profiles.Profile) (profiles.Profile, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.profiles[p.UserId]; ok {
		return profiles.Profile{}, fmt.Errorf("insert profile: %w", profiles.ErrConflict)
	}
	if p.Id == uuid.Nil {
		p.Id = uuid.New()
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.profiles[p.UserId] = p
	return p, nil
}

func (s *ProfileStore) Update(ctx context.Context, current profiles.Profile, patch profiles.ProfilePatch) (profiles.Profile, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, ok := s.profiles[current.UserId]
	if !ok {
		return profiles.Profile{}, fmt.Errorf("update profile: %w", profiles.ErrProfileNotFound)
	}
	updated := patch.Apply(stored)
	updated.UpdatedAt = s.now()
	if !updated.UpdatedAt.After(stored.UpdatedAt) {
		updated.UpdatedAt = stored.UpdatedAt.Add(time.Nanosecond)
	}
	s.profiles[current.UserId] = updated
	return updated, nil
}

// Len reports how many records are stored.
func (s *ProfileStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.profiles)
}
