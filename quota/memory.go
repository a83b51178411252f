// Package quota provides ProfileStore and TrackStore implementations.
package quota

import (
	"context"
	"sort"
	"sync"

	"github.com/musicgen-ai/musicgen"
)

// MemoryStore is an in-memory ProfileStore and TrackStore.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]musicgen.UserProfile
	pending  map[string]int64
	tracks   map[string][]musicgen.TrackData
}

var (
	_ musicgen.ProfileStore       = (*MemoryStore)(nil)
	_ musicgen.ProfileInitializer = (*MemoryStore)(nil)
	_ musicgen.ReservingStore     = (*MemoryStore)(nil)
	_ musicgen.TrackStore         = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]musicgen.UserProfile),
		pending:  make(map[string]int64),
		tracks:   make(map[string][]musicgen.TrackData),
	}
}

// SetProfile stores p, replacing any existing profile with the same ID.
func (s *MemoryStore) SetProfile(p musicgen.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.ID] = p
}

// GetProfile returns the stored profile or ErrProfileNotFound.
func (s *MemoryStore) GetProfile(_ context.Context, userID string) (musicgen.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return musicgen.UserProfile{}, musicgen.ErrProfileNotFound
	}
	return p, nil
}

// UpdateProfile applies fn to a copy of the profile and stores it if fn succeeds.
func (s *MemoryStore) UpdateProfile(_ context.Context, userID string, fn func(*musicgen.UserProfile) error) (musicgen.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return musicgen.UserProfile{}, musicgen.ErrProfileNotFound
	}
	if err := fn(&p); err != nil {
		return musicgen.UserProfile{}, err
	}
	p.ID = userID
	s.profiles[userID] = p
	return p, nil
}

// EnsureProfile creates a free profile for userID if none exists.
func (s *MemoryStore) EnsureProfile(_ context.Context, userID string) (musicgen.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.profiles[userID]; ok {
		return p, nil
	}
	p := musicgen.NewProfile(userID)
	s.profiles[userID] = p
	return p, nil
}

// ReservePoint runs check and increments the user's pending count under one lock.
func (s *MemoryStore) ReservePoint(_ context.Context, userID string, check func(musicgen.UserProfile, int64) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return musicgen.ErrProfileNotFound
	}
	if err := check(p, s.pending[userID]); err != nil {
		return err
	}
	s.pending[userID]++
	return nil
}

// CommitPoint releases one pending point and applies fn under one lock.
func (s *MemoryStore) CommitPoint(_ context.Context, userID string, fn func(*musicgen.UserProfile) error) (musicgen.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked(userID)

	p, ok := s.profiles[userID]
	if !ok {
		return musicgen.UserProfile{}, musicgen.ErrProfileNotFound
	}
	if err := fn(&p); err != nil {
		return musicgen.UserProfile{}, err
	}
	p.ID = userID
	s.profiles[userID] = p
	return p, nil
}

// ReleasePoint drops one pending point.
func (s *MemoryStore) ReleasePoint(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked(userID)
	return nil
}

// PendingPoints returns the user's pending count.
func (s *MemoryStore) PendingPoints(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.pending[userID], nil
}

func (s *MemoryStore) releaseLocked(userID string) {
	if s.pending[userID] <= 1 {
		delete(s.pending, userID)
		return
	}
	s.pending[userID]--
}

// SaveTrack records a generated track.
func (s *MemoryStore) SaveTrack(_ context.Context, track musicgen.TrackData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracks[track.UserID] = append(s.tracks[track.UserID], track)
	return nil
}

// ListTracks returns the user's tracks, newest first.
func (s *MemoryStore) ListTracks(_ context.Context, userID string) ([]musicgen.TrackData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]musicgen.TrackData, len(s.tracks[userID]))
	copy(out, s.tracks[userID])
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
