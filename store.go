package musicgen

import (
	"context"
	"time"
)

// ProfileStore owns persisted user profiles.
type ProfileStore interface {
	// GetProfile returns the stored profile. Returns ErrProfileNotFound if absent.
	GetProfile(ctx context.Context, userID string) (UserProfile, error)

	// UpdateProfile applies fn to the stored profile as one read-modify-write.
	// If fn returns an error nothing is written and the error is returned.
	UpdateProfile(ctx context.Context, userID string, fn func(*UserProfile) error) (UserProfile, error)
}

// TrackStore records generated tracks.
type TrackStore interface {
	SaveTrack(ctx context.Context, track TrackData) error
	ListTracks(ctx context.Context, userID string) ([]TrackData, error)
}

// ReservingStore is optionally implemented by stores shared between
// processes. It keeps the count of in-flight reservations next to the profile
// so every instance checks limits against the same number.
type ReservingStore interface {
	// ReservePoint calls check with the stored profile and its pending count
	// and, if check returns nil, increments pending in the same atomic step.
	ReservePoint(ctx context.Context, userID string, check func(p UserProfile, pending int64) error) error

	// CommitPoint decrements pending and applies fn to the profile in one
	// atomic step. Pending is released even when fn fails; the profile is
	// written only when fn succeeds.
	CommitPoint(ctx context.Context, userID string, fn func(*UserProfile) error) (UserProfile, error)

	// ReleasePoint decrements pending, never below zero.
	ReleasePoint(ctx context.Context, userID string) error

	// PendingPoints returns the number of in-flight reservations.
	PendingPoints(ctx context.Context, userID string) (int64, error)
}

// Reservation is a provisional hold on one point. The ledger keeps it in
// memory; a ReservingStore only persists the pending count.
type Reservation struct {
	ID        string
	UserID    string
	RequestID string
	CreatedAt time.Time
}

// ProfileInitializer is optionally implemented by stores that can provision
// a profile on first use.
type ProfileInitializer interface {
	// EnsureProfile creates a free profile for userID if none exists and
	// returns the stored profile.
	EnsureProfile(ctx context.Context, userID string) (UserProfile, error)
}

// NewProfile returns the profile a new user starts with.
func NewProfile(userID string) UserProfile {
	return UserProfile{
		ID:                 userID,
		CurrentPlan:        PlanFree,
		SubscriptionStatus: SubscriptionNone,
	}
}
