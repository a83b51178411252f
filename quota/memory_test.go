package quota_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/musicgen-ai/musicgen"
	"github.com/musicgen-ai/musicgen/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetMissing(t *testing.T) {
	s := quota.NewMemoryStore()
	_, err := s.GetProfile(context.Background(), "nobody")
	assert.ErrorIs(t, err, musicgen.ErrProfileNotFound)

	_, err = s.UpdateProfile(context.Background(), "nobody", func(*musicgen.UserProfile) error { return nil })
	assert.ErrorIs(t, err, musicgen.ErrProfileNotFound)
}

func TestMemoryStore_EnsureProfile(t *testing.T) {
	s := quota.NewMemoryStore()
	ctx := context.Background()

	p, err := s.EnsureProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, musicgen.NewProfile("u1"), p)

	_, err = s.UpdateProfile(ctx, "u1", func(p *musicgen.UserProfile) error {
		p.UsedPointsToday = 2
		return nil
	})
	require.NoError(t, err)

	// A second call keeps the existing profile.
	p, err = s.EnsureProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.UsedPointsToday)
}

func TestMemoryStore_UpdateProfileErrorDiscardsChanges(t *testing.T) {
	s := quota.NewMemoryStore()
	ctx := context.Background()
	s.SetProfile(musicgen.UserProfile{ID: "u1", CurrentPlan: musicgen.PlanFree, UsedPointsToday: 1})

	boom := errors.New("boom")
	_, err := s.UpdateProfile(ctx, "u1", func(p *musicgen.UserProfile) error {
		p.UsedPointsToday = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.UsedPointsToday)
}

func TestMemoryStore_ConcurrentUpdates(t *testing.T) {
	s := quota.NewMemoryStore()
	ctx := context.Background()
	s.SetProfile(musicgen.NewProfile("u1"))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateProfile(ctx, "u1", func(p *musicgen.UserProfile) error {
				p.UsedPointsThisWeek++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), p.UsedPointsThisWeek)
}

func TestMemoryStore_Tracks(t *testing.T) {
	s := quota.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveTrack(ctx, musicgen.TrackData{ID: "old", UserID: "u1", CreatedAt: base}))
	require.NoError(t, s.SaveTrack(ctx, musicgen.TrackData{ID: "new", UserID: "u1", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.SaveTrack(ctx, musicgen.TrackData{ID: "other", UserID: "u2", CreatedAt: base}))

	tracks, err := s.ListTracks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "new", tracks[0].ID)
	assert.Equal(t, "old", tracks[1].ID)

	none, err := s.ListTracks(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_PendingPoints(t *testing.T) {
	s := quota.NewMemoryStore()
	ctx := context.Background()
	_, err := s.EnsureProfile(ctx, "u1")
	require.NoError(t, err)

	atMostTwo := func(_ musicgen.UserProfile, pending int64) error {
		if pending >= 2 {
			return musicgen.ErrQuotaExceeded
		}
		return nil
	}

	require.NoError(t, s.ReservePoint(ctx, "u1", atMostTwo))
	require.NoError(t, s.ReservePoint(ctx, "u1", atMostTwo))
	assert.ErrorIs(t, s.ReservePoint(ctx, "u1", atMostTwo), musicgen.ErrQuotaExceeded)

	n, err := s.PendingPoints(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// A failing commit still releases its point but writes nothing.
	_, err = s.CommitPoint(ctx, "u1", func(*musicgen.UserProfile) error { return errors.New("no") })
	require.Error(t, err)

	p, err := s.CommitPoint(ctx, "u1", func(p *musicgen.UserProfile) error {
		p.UsedPointsToday++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.UsedPointsToday)

	require.NoError(t, s.ReleasePoint(ctx, "u1"))
	n, err = s.PendingPoints(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	assert.ErrorIs(t, s.ReservePoint(ctx, "nobody", atMostTwo), musicgen.ErrProfileNotFound)
}
