// Package postgres provides a PostgreSQL-backed ProfileStore and TrackStore for musicgen.
//
// UpdateProfile locks the profile row with SELECT ... FOR UPDATE inside a
// transaction, which makes read-modify-write safe across instances. The
// pending column counts in-flight reservations and is checked and bumped
// under the same row lock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/musicgen-ai/musicgen"
)

// Store is a PostgreSQL-backed ProfileStore and TrackStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var (
	_ musicgen.ProfileStore       = (*Store)(nil)
	_ musicgen.ProfileInitializer = (*Store)(nil)
	_ musicgen.ReservingStore     = (*Store)(nil)
	_ musicgen.TrackStore         = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "musicgen_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed store.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "musicgen_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) profilesTable() string { return s.tablePrefix + "profiles" }
func (s *Store) tracksTable() string   { return s.tablePrefix + "tracks" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT PRIMARY KEY,
			plan TEXT NOT NULL DEFAULT 'free',
			total_points BIGINT NOT NULL DEFAULT 0,
			used_today BIGINT NOT NULL DEFAULT 0,
			used_week BIGINT NOT NULL DEFAULT 0,
			last_refresh TIMESTAMPTZ,
			status TEXT NOT NULL DEFAULT 'none',
			pending BIGINT NOT NULL DEFAULT 0
		);
		ALTER TABLE %s ADD COLUMN IF NOT EXISTS pending BIGINT NOT NULL DEFAULT 0;
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			genre TEXT NOT NULL,
			mood TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			duration INTEGER NOT NULL,
			audio_url TEXT NOT NULL,
			task_id TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			is_published BOOLEAN NOT NULL DEFAULT false,
			is_favorite BOOLEAN NOT NULL DEFAULT false,
			play_count BIGINT NOT NULL DEFAULT 0,
			like_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS %s_user_idx ON %s (user_id, created_at DESC);
	`, s.profilesTable(), s.profilesTable(), s.tracksTable(), s.tracksTable(), s.tracksTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("musicgen/postgres: ensure schema: %w", err)
	}
	return nil
}

const profileColumns = `user_id, plan, total_points, used_today, used_week, last_refresh, status`

// GetProfile returns the stored profile or ErrProfileNotFound.
func (s *Store) GetProfile(ctx context.Context, userID string) (musicgen.UserProfile, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1`, profileColumns, s.profilesTable()),
		userID,
	)
	p, err := scanProfile(row)
	if err != nil {
		return musicgen.UserProfile{}, fmt.Errorf("musicgen/postgres: get profile: %w", err)
	}
	return p, nil
}

// UpdateProfile applies fn to the row locked with SELECT ... FOR UPDATE.
func (s *Store) UpdateProfile(ctx context.Context, userID string, fn func(*musicgen.UserProfile) error) (musicgen.UserProfile, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return musicgen.UserProfile{}, fmt.Errorf("musicgen/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, _, err := s.lockProfile(ctx, tx, userID)
	if err != nil {
		return musicgen.UserProfile{}, err
	}
	if err := fn(&p); err != nil {
		return musicgen.UserProfile{}, err
	}
	p.ID = userID

	if err := s.writeProfile(ctx, tx, p); err != nil {
		return musicgen.UserProfile{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return musicgen.UserProfile{}, fmt.Errorf("musicgen/postgres: commit: %w", err)
	}
	return p, nil
}

// ReservePoint runs check against the locked row and bumps pending in the
// same transaction.
func (s *Store) ReservePoint(ctx context.Context, userID string, check func(musicgen.UserProfile, int64) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("musicgen/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, pending, err := s.lockProfile(ctx, tx, userID)
	if err != nil {
		return err
	}
	if err := check(p, pending); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET pending = pending + 1 WHERE user_id = $1`, s.profilesTable()),
		userID,
	)
	if err != nil {
		return fmt.Errorf("musicgen/postgres: reserve point: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("musicgen/postgres: commit: %w", err)
	}
	return nil
}

// CommitPoint releases one pending point and applies fn in the same
// transaction. The profile is written only when fn succeeds.
func (s *Store) CommitPoint(ctx context.Context, userID string, fn func(*musicgen.UserProfile) error) (musicgen.UserProfile, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return musicgen.UserProfile{}, fmt.Errorf("musicgen/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, _, err := s.lockProfile(ctx, tx, userID)
	if err != nil {
		return musicgen.UserProfile{}, err
	}

	fnErr := fn(&p)
	p.ID = userID
	if fnErr == nil {
		if err := s.writeProfile(ctx, tx, p); err != nil {
			return musicgen.UserProfile{}, err
		}
	}
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET pending = GREATEST(pending - 1, 0) WHERE user_id = $1`, s.profilesTable()),
		userID,
	)
	if err != nil {
		return musicgen.UserProfile{}, fmt.Errorf("musicgen/postgres: release point: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return musicgen.UserProfile{}, fmt.Errorf("musicgen/postgres: commit: %w", err)
	}

	if fnErr != nil {
		return musicgen.UserProfile{}, fnErr
	}
	return p, nil
}

// ReleasePoint drops one pending point.
func (s *Store) ReleasePoint(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET pending = GREATEST(pending - 1, 0) WHERE user_id = $1`, s.profilesTable()),
		userID,
	)
	if err != nil {
		return fmt.Errorf("musicgen/postgres: release point: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return musicgen.ErrProfileNotFound
	}
	return nil
}

// PendingPoints returns the user's pending count.
func (s *Store) PendingPoints(ctx context.Context, userID string) (int64, error) {
	var pending int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT pending FROM %s WHERE user_id = $1`, s.profilesTable()),
		userID,
	).Scan(&pending)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("musicgen/postgres: pending points: %w", err)
	}
	return pending, nil
}

func (s *Store) lockProfile(ctx context.Context, tx pgx.Tx, userID string) (musicgen.UserProfile, int64, error) {
	var pending int64
	row := tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s, pending FROM %s WHERE user_id = $1 FOR UPDATE`, profileColumns, s.profilesTable()),
		userID,
	)
	p, err := scanProfile(row, &pending)
	if err != nil {
		return musicgen.UserProfile{}, 0, fmt.Errorf("musicgen/postgres: lock profile: %w", err)
	}
	return p, pending, nil
}

func (s *Store) writeProfile(ctx context.Context, tx pgx.Tx, p musicgen.UserProfile) error {
	_, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET plan = $2, total_points = $3, used_today = $4, used_week = $5,
			last_refresh = $6, status = $7 WHERE user_id = $1`, s.profilesTable()),
		p.ID, string(p.CurrentPlan), p.TotalPoints, p.UsedPointsToday, p.UsedPointsThisWeek,
		nullTime(p.LastPointRefresh), string(p.SubscriptionStatus),
	)
	if err != nil {
		return fmt.Errorf("musicgen/postgres: update profile: %w", err)
	}
	return nil
}

// EnsureProfile creates a free profile for userID if none exists.
func (s *Store) EnsureProfile(ctx context.Context, userID string) (musicgen.UserProfile, error) {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, plan, status) VALUES ($1, $2, $3) ON CONFLICT (user_id) DO NOTHING`,
			s.profilesTable()),
		userID, string(musicgen.PlanFree), string(musicgen.SubscriptionNone),
	)
	if err != nil {
		return musicgen.UserProfile{}, fmt.Errorf("musicgen/postgres: ensure profile: %w", err)
	}
	return s.GetProfile(ctx, userID)
}

// SetProfile upserts p.
func (s *Store) SetProfile(ctx context.Context, p musicgen.UserProfile) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id) DO UPDATE SET plan = $2, total_points = $3, used_today = $4,
			used_week = $5, last_refresh = $6, status = $7`, s.profilesTable(), profileColumns),
		p.ID, string(p.CurrentPlan), p.TotalPoints, p.UsedPointsToday, p.UsedPointsThisWeek,
		nullTime(p.LastPointRefresh), string(p.SubscriptionStatus),
	)
	if err != nil {
		return fmt.Errorf("musicgen/postgres: set profile: %w", err)
	}
	return nil
}

// SaveTrack inserts a generated track.
func (s *Store) SaveTrack(ctx context.Context, t musicgen.TrackData) error {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, user_id, title, genre, mood, prompt, duration, audio_url,
			task_id, image_url, tags, is_published, is_favorite, play_count, like_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`, s.tracksTable()),
		t.ID, t.UserID, t.Title, t.Genre, t.Mood, t.Prompt, t.Duration, t.AudioURL,
		t.TaskID, t.ImageURL, tags, t.IsPublished, t.IsFavorite, t.PlayCount, t.LikeCount, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("musicgen/postgres: save track: %w", err)
	}
	return nil
}

// ListTracks returns the user's tracks, newest first.
func (s *Store) ListTracks(ctx context.Context, userID string) ([]musicgen.TrackData, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, user_id, title, genre, mood, prompt, duration, audio_url, task_id,
			image_url, tags, is_published, is_favorite, play_count, like_count, created_at
			FROM %s WHERE user_id = $1 ORDER BY created_at DESC`, s.tracksTable()),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("musicgen/postgres: list tracks: %w", err)
	}

	tracks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (musicgen.TrackData, error) {
		var t musicgen.TrackData
		err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Genre, &t.Mood, &t.Prompt, &t.Duration,
			&t.AudioURL, &t.TaskID, &t.ImageURL, &t.Tags, &t.IsPublished, &t.IsFavorite,
			&t.PlayCount, &t.LikeCount, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("musicgen/postgres: scan tracks: %w", err)
	}
	return tracks, nil
}

// scanProfile reads profileColumns followed by any extra columns into extra.
func scanProfile(row pgx.Row, extra ...any) (musicgen.UserProfile, error) {
	var (
		p           musicgen.UserProfile
		plan        string
		status      string
		lastRefresh *time.Time
	)
	dest := append([]any{&p.ID, &plan, &p.TotalPoints, &p.UsedPointsToday, &p.UsedPointsThisWeek, &lastRefresh, &status}, extra...)
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return musicgen.UserProfile{}, musicgen.ErrProfileNotFound
	}
	if err != nil {
		return musicgen.UserProfile{}, err
	}
	p.CurrentPlan = musicgen.Plan(plan)
	p.SubscriptionStatus = musicgen.SubscriptionStatus(status)
	if lastRefresh != nil {
		p.LastPointRefresh = lastRefresh.UTC()
	}
	return p, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
