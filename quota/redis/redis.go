// Package redis provides a Redis-backed ProfileStore and TrackStore for musicgen.
//
// Profiles are stored in Redis hashes. UpdateProfile is an optimistic
// WATCH/MULTI transaction, so concurrent writers from several instances never
// lose an update. The count of in-flight reservations is a "pending" field of
// the same hash, which makes reserve safe for multi-instance deployments.
// Tracks are JSON documents in a per-user list.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/musicgen-ai/musicgen"
)

// Store is a Redis-backed ProfileStore and TrackStore.
type Store struct {
	client     goredis.UniversalClient
	keyPrefix  string
	maxRetries int
}

var (
	_ musicgen.ProfileStore       = (*Store)(nil)
	_ musicgen.ProfileInitializer = (*Store)(nil)
	_ musicgen.ReservingStore     = (*Store)(nil)
	_ musicgen.TrackStore         = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "musicgen:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithMaxRetries sets how often a contended UpdateProfile is retried (default 10).
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// New creates a new Redis-backed store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:     client,
		keyPrefix:  "musicgen:",
		maxRetries: 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) profileKey(userID string) string {
	return s.keyPrefix + "profile:" + userID
}

func (s *Store) tracksKey(userID string) string {
	return s.keyPrefix + "tracks:" + userID
}

// ensureScript creates a free profile hash if it does not exist.
// KEYS[1] = profile hash key
// ARGV[1] = plan
// ARGV[2] = subscription status
//
// Returns the profile as a flat HGETALL array.
var ensureScript = goredis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
    redis.call("HSET", key,
        "plan", ARGV[1],
        "total_points", "0",
        "used_today", "0",
        "used_week", "0",
        "last_refresh", "0",
        "status", ARGV[2])
end
return redis.call("HGETALL", key)
`)

// GetProfile returns the stored profile or ErrProfileNotFound.
func (s *Store) GetProfile(ctx context.Context, userID string) (musicgen.UserProfile, error) {
	vals, err := s.client.HGetAll(ctx, s.profileKey(userID)).Result()
	if err != nil {
		return musicgen.UserProfile{}, fmt.Errorf("musicgen/redis: get profile: %w", err)
	}
	return decodeProfile(userID, vals)
}

// releaseScript drops one pending point, never below zero.
// KEYS[1] = profile hash key
//
// Returns the pending count left, or -1 when the profile does not exist.
var releaseScript = goredis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
    return -1
end
local pending = tonumber(redis.call("HGET", key, "pending") or "0")
if pending > 0 then
    pending = pending - 1
    redis.call("HSET", key, "pending", tostring(pending))
end
return pending
`)

// UpdateProfile applies fn inside a WATCH/MULTI transaction, retrying when
// another writer changed the profile concurrently.
func (s *Store) UpdateProfile(ctx context.Context, userID string, fn func(*musicgen.UserProfile) error) (musicgen.UserProfile, error) {
	key := s.profileKey(userID)

	var updated musicgen.UserProfile
	err := s.transact(ctx, userID, func(tx *goredis.Tx) error {
		p, _, err := s.read(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		p.ID = userID

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeProfile(p)...)
			return nil
		})
		if err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return musicgen.UserProfile{}, err
	}
	return updated, nil
}

// ReservePoint runs check against the profile and its pending count and
// increments pending in the same transaction.
func (s *Store) ReservePoint(ctx context.Context, userID string, check func(musicgen.UserProfile, int64) error) error {
	key := s.profileKey(userID)

	return s.transact(ctx, userID, func(tx *goredis.Tx) error {
		p, pending, err := s.read(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := check(p, pending); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HIncrBy(ctx, key, "pending", 1)
			return nil
		})
		return err
	})
}

// CommitPoint releases one pending point and applies fn in the same
// transaction. The profile is written only when fn succeeds.
func (s *Store) CommitPoint(ctx context.Context, userID string, fn func(*musicgen.UserProfile) error) (musicgen.UserProfile, error) {
	key := s.profileKey(userID)

	var (
		updated musicgen.UserProfile
		fnErr   error
	)
	err := s.transact(ctx, userID, func(tx *goredis.Tx) error {
		p, pending, err := s.read(ctx, tx, userID)
		if err != nil {
			return err
		}
		fnErr = fn(&p)
		p.ID = userID

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if fnErr == nil {
				pipe.HSet(ctx, key, encodeProfile(p)...)
			}
			pipe.HSet(ctx, key, "pending", max(pending-1, 0))
			return nil
		})
		if err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return musicgen.UserProfile{}, err
	}
	if fnErr != nil {
		return musicgen.UserProfile{}, fnErr
	}
	return updated, nil
}

// ReleasePoint drops one pending point.
func (s *Store) ReleasePoint(ctx context.Context, userID string) error {
	n, err := releaseScript.Run(ctx, s.client, []string{s.profileKey(userID)}).Int64()
	if err != nil {
		return fmt.Errorf("musicgen/redis: release point: %w", err)
	}
	if n < 0 {
		return musicgen.ErrProfileNotFound
	}
	return nil
}

// PendingPoints returns the user's pending count.
func (s *Store) PendingPoints(ctx context.Context, userID string) (int64, error) {
	n, err := s.client.HGet(ctx, s.profileKey(userID), "pending").Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("musicgen/redis: pending points: %w", err)
	}
	return n, nil
}

// transact runs txf with the profile key watched, retrying when another
// writer changed it concurrently.
func (s *Store) transact(ctx context.Context, userID string, txf func(*goredis.Tx) error) error {
	for range s.maxRetries {
		err := s.client.Watch(ctx, txf, s.profileKey(userID))
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("musicgen/redis: profile %s: too many concurrent writers", userID)
}

// read loads the profile and its pending count inside tx.
func (s *Store) read(ctx context.Context, tx *goredis.Tx, userID string) (musicgen.UserProfile, int64, error) {
	vals, err := tx.HGetAll(ctx, s.profileKey(userID)).Result()
	if err != nil {
		return musicgen.UserProfile{}, 0, fmt.Errorf("musicgen/redis: read profile: %w", err)
	}
	p, err := decodeProfile(userID, vals)
	if err != nil {
		return musicgen.UserProfile{}, 0, err
	}
	pending, err := parseInt(vals, "pending")
	if err != nil {
		return musicgen.UserProfile{}, 0, err
	}
	return p, pending, nil
}

// EnsureProfile creates a free profile for userID if none exists.
func (s *Store) EnsureProfile(ctx context.Context, userID string) (musicgen.UserProfile, error) {
	flat, err := ensureScript.Run(ctx, s.client,
		[]string{s.profileKey(userID)},
		string(musicgen.PlanFree), string(musicgen.SubscriptionNone),
	).StringSlice()
	if err != nil {
		return musicgen.UserProfile{}, fmt.Errorf("musicgen/redis: ensure profile: %w", err)
	}

	vals := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		vals[flat[i]] = flat[i+1]
	}
	return decodeProfile(userID, vals)
}

// SetProfile stores p, replacing any existing profile with the same ID.
func (s *Store) SetProfile(ctx context.Context, p musicgen.UserProfile) error {
	if err := s.client.HSet(ctx, s.profileKey(p.ID), encodeProfile(p)...).Err(); err != nil {
		return fmt.Errorf("musicgen/redis: set profile: %w", err)
	}
	return nil
}

// SaveTrack pushes the track onto the user's list.
func (s *Store) SaveTrack(ctx context.Context, track musicgen.TrackData) error {
	data, err := json.Marshal(track)
	if err != nil {
		return fmt.Errorf("musicgen/redis: encode track: %w", err)
	}
	if err := s.client.LPush(ctx, s.tracksKey(track.UserID), data).Err(); err != nil {
		return fmt.Errorf("musicgen/redis: save track: %w", err)
	}
	return nil
}

// ListTracks returns the user's tracks, newest first.
func (s *Store) ListTracks(ctx context.Context, userID string) ([]musicgen.TrackData, error) {
	items, err := s.client.LRange(ctx, s.tracksKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("musicgen/redis: list tracks: %w", err)
	}

	tracks := make([]musicgen.TrackData, 0, len(items))
	for _, item := range items {
		var t musicgen.TrackData
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("musicgen/redis: decode track: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func encodeProfile(p musicgen.UserProfile) []any {
	var lastRefresh int64
	if !p.LastPointRefresh.IsZero() {
		lastRefresh = p.LastPointRefresh.UnixNano()
	}
	return []any{
		"plan", string(p.CurrentPlan),
		"total_points", p.TotalPoints,
		"used_today", p.UsedPointsToday,
		"used_week", p.UsedPointsThisWeek,
		"last_refresh", lastRefresh,
		"status", string(p.SubscriptionStatus),
	}
}

func decodeProfile(userID string, vals map[string]string) (musicgen.UserProfile, error) {
	if len(vals) == 0 {
		return musicgen.UserProfile{}, musicgen.ErrProfileNotFound
	}

	p := musicgen.UserProfile{
		ID:                 userID,
		CurrentPlan:        musicgen.Plan(vals["plan"]),
		SubscriptionStatus: musicgen.SubscriptionStatus(vals["status"]),
	}

	var err error
	if p.TotalPoints, err = parseInt(vals, "total_points"); err != nil {
		return musicgen.UserProfile{}, err
	}
	if p.UsedPointsToday, err = parseInt(vals, "used_today"); err != nil {
		return musicgen.UserProfile{}, err
	}
	if p.UsedPointsThisWeek, err = parseInt(vals, "used_week"); err != nil {
		return musicgen.UserProfile{}, err
	}
	nanos, err := parseInt(vals, "last_refresh")
	if err != nil {
		return musicgen.UserProfile{}, err
	}
	if nanos > 0 {
		p.LastPointRefresh = time.Unix(0, nanos).UTC()
	}
	return p, nil
}

func parseInt(vals map[string]string, field string) (int64, error) {
	v, ok := vals[field]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("musicgen/redis: field %s: %w", field, err)
	}
	return n, nil
}
