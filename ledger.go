package musicgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Decision is the answer to "can this user generate now?".
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allowance is what a user has left. -1 means unlimited.
type Allowance struct {
	Today    int64 `json:"today"`
	ThisWeek int64 `json:"this_week"`
}

// QuotaLedger gates generations on a user's points.
//
// Check-and-reserve runs under a per-user mutex so two concurrent
// reservations can never both take the last point. When the store is a
// ReservingStore the pending count lives in the store and the check is one
// atomic step against shared state; otherwise it is held in memory. The sole
// persisted debit happens in Commit.
type QuotaLedger struct {
	store  ProfileStore
	shared ReservingStore
	cfg    Config
	now    func() time.Time
	loc    *time.Location

	mu           sync.Mutex
	users        map[string]*userLedger
	reservations map[string]Reservation
}

// userLedger is dropped from QuotaLedger.users once nothing references it
// and no reservation is pending.
type userLedger struct {
	mu      sync.Mutex
	pending atomic.Int64
	refs    int // guarded by QuotaLedger.mu
}

// LedgerOption configures a QuotaLedger.
type LedgerOption func(*QuotaLedger)

// WithLedgerClock sets the time source used for daily/weekly refresh.
func WithLedgerClock(fn func() time.Time) LedgerOption {
	return func(l *QuotaLedger) { l.now = fn }
}

// WithLocation sets the time zone that defines day and week boundaries (default UTC).
func WithLocation(loc *time.Location) LedgerOption {
	return func(l *QuotaLedger) { l.loc = loc }
}

// NewQuotaLedger creates a ledger backed by store.
func NewQuotaLedger(store ProfileStore, cfg Config, opts ...LedgerOption) *QuotaLedger {
	l := &QuotaLedger{
		store:        store,
		cfg:          cfg,
		now:          time.Now,
		loc:          time.UTC,
		users:        make(map[string]*userLedger),
		reservations: make(map[string]Reservation),
	}
	if rs, ok := store.(ReservingStore); ok {
		l.shared = rs
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Profile returns the user's profile with any due daily/weekly reset applied.
// The reset is not persisted.
func (l *QuotaLedger) Profile(ctx context.Context, userID string) (UserProfile, error) {
	p, err := l.load(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	p, _ = l.Refresh(p, l.now())
	return p, nil
}

// load fetches a profile, provisioning it when the store supports that.
func (l *QuotaLedger) load(ctx context.Context, userID string) (UserProfile, error) {
	p, err := l.store.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		if init, ok := l.store.(ProfileInitializer); ok {
			return init.EnsureProfile(ctx, userID)
		}
	}
	return p, err
}

// Refresh resets UsedPointsToday when LastPointRefresh is not in the same day
// as now and UsedPointsThisWeek when it is not in the same ISO week.
// It reports whether anything changed and never touches the store.
func (l *QuotaLedger) Refresh(p UserProfile, now time.Time) (UserProfile, bool) {
	last := p.LastPointRefresh.In(l.loc)
	cur := now.In(l.loc)

	changed := false
	if !sameDay(last, cur) {
		p.UsedPointsToday = 0
		changed = true
	}
	if !sameWeek(last, cur) {
		p.UsedPointsThisWeek = 0
		changed = true
	}
	if changed {
		p.LastPointRefresh = now
	}
	return p, changed
}

// CanGenerate reports whether the user may start a generation now.
// Reservations this ledger still holds count against the limits; Status
// also counts those of other instances sharing the store.
func (l *QuotaLedger) CanGenerate(p UserProfile) Decision {
	p, _ = l.Refresh(p, l.now())
	return l.decide(p, l.Pending(p.ID))
}

// Remaining returns the points left for the refreshed profile.
func (l *QuotaLedger) Remaining(p UserProfile) Allowance {
	p, _ = l.Refresh(p, l.now())
	return l.allowance(p, l.Pending(p.ID))
}

// QuotaStatus summarizes a user's allowance.
type QuotaStatus struct {
	Profile   UserProfile `json:"profile"`
	Decision  Decision    `json:"decision"`
	Remaining Allowance   `json:"remaining"`
}

// Status loads the user's refreshed profile and reports whether they can
// generate now and what is left, counting every pending reservation the
// store knows about.
func (l *QuotaLedger) Status(ctx context.Context, userID string) (QuotaStatus, error) {
	p, err := l.Profile(ctx, userID)
	if err != nil {
		return QuotaStatus{}, err
	}

	pending := l.Pending(userID)
	if l.shared != nil {
		if pending, err = l.shared.PendingPoints(ctx, userID); err != nil {
			return QuotaStatus{}, fmt.Errorf("musicgen: pending points: %w", err)
		}
	}

	return QuotaStatus{
		Profile:   p,
		Decision:  l.decide(p, pending),
		Remaining: l.allowance(p, pending),
	}, nil
}

// Reserve atomically checks the user's allowance and holds one point.
// Fails with a *QuotaError when no point is available.
func (l *QuotaLedger) Reserve(ctx context.Context, userID, requestID string) (Reservation, error) {
	u := l.acquire(userID)
	defer l.release(userID, u)
	u.mu.Lock()
	defer u.mu.Unlock()

	p, err := l.load(ctx, userID)
	if err != nil {
		return Reservation{}, fmt.Errorf("musicgen: reserve: %w", err)
	}

	if l.shared != nil {
		err = l.shared.ReservePoint(ctx, userID, func(p UserProfile, pending int64) error {
			return l.admit(userID, p, pending)
		})
	} else {
		err = l.admit(userID, p, u.pending.Load())
	}
	if err != nil {
		var qe *QuotaError
		if errors.As(err, &qe) {
			return Reservation{}, qe
		}
		return Reservation{}, fmt.Errorf("musicgen: reserve: %w", err)
	}

	u.pending.Add(1)
	res := Reservation{
		ID:        uuid.New().String(),
		UserID:    userID,
		RequestID: requestID,
		CreatedAt: l.now(),
	}

	l.mu.Lock()
	l.reservations[res.ID] = res
	l.mu.Unlock()

	return res, nil
}

// Commit persists the debit of a reservation and returns the updated profile.
// The reservation is resolved even when the store update fails.
func (l *QuotaLedger) Commit(ctx context.Context, res Reservation) (UserProfile, error) {
	if err := l.resolve(res); err != nil {
		return UserProfile{}, err
	}

	u := l.acquire(res.UserID)
	defer l.release(res.UserID, u)
	u.mu.Lock()
	defer u.mu.Unlock()
	defer u.pending.Add(-1)

	debit := func(p *UserProfile) error {
		*p, _ = l.Refresh(*p, l.now())
		if reason := l.overLimit(*p, 0); reason != "" {
			return &QuotaError{UserID: res.UserID, Reason: reason}
		}
		p.UsedPointsToday++
		p.UsedPointsThisWeek++
		return nil
	}

	var (
		p   UserProfile
		err error
	)
	if l.shared != nil {
		p, err = l.shared.CommitPoint(ctx, res.UserID, debit)
	} else {
		p, err = l.store.UpdateProfile(ctx, res.UserID, debit)
	}
	if err != nil {
		return UserProfile{}, fmt.Errorf("musicgen: commit reservation %s: %w", res.ID, err)
	}
	return p, nil
}

// Rollback releases a reservation without any persisted debit.
func (l *QuotaLedger) Rollback(ctx context.Context, res Reservation) error {
	if err := l.resolve(res); err != nil {
		return err
	}

	u := l.acquire(res.UserID)
	defer l.release(res.UserID, u)
	u.pending.Add(-1)

	if l.shared != nil {
		if err := l.shared.ReleasePoint(ctx, res.UserID); err != nil {
			return fmt.Errorf("musicgen: release reservation %s: %w", res.ID, err)
		}
	}
	return nil
}

// Pending returns the number of unresolved reservations this ledger holds for a user.
func (l *QuotaLedger) Pending(userID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if u, ok := l.users[userID]; ok {
		return u.pending.Load()
	}
	return 0
}

// admit refreshes p and fails with a *QuotaError when one more point does not fit.
func (l *QuotaLedger) admit(userID string, p UserProfile, pending int64) error {
	p, _ = l.Refresh(p, l.now())
	if d := l.decide(p, pending); !d.Allowed {
		return &QuotaError{UserID: userID, Reason: d.Reason}
	}
	return nil
}

func (l *QuotaLedger) allowance(p UserProfile, pending int64) Allowance {
	limits := l.cfg.Limits(p.CurrentPlan)
	return Allowance{
		Today:    remaining(limits.DailyLimit, p.UsedPointsToday+pending),
		ThisWeek: remaining(l.weeklyCap(p), p.UsedPointsThisWeek+pending),
	}
}

func (l *QuotaLedger) decide(p UserProfile, pending int64) Decision {
	if p.CurrentPlan.IsPaid() && p.SubscriptionStatus == SubscriptionExpired {
		return Decision{Reason: ReasonSubscriptionExpired}
	}
	if reason := l.overLimit(p, pending); reason != "" {
		return Decision{Reason: reason}
	}
	return Decision{Allowed: true}
}

// overLimit returns the reason one more point would break a limit, or "".
func (l *QuotaLedger) overLimit(p UserProfile, pending int64) string {
	limits := l.cfg.Limits(p.CurrentPlan)
	if limits.DailyLimit > 0 && p.UsedPointsToday+pending >= limits.DailyLimit {
		return ReasonDailyLimit
	}
	if weekly := l.weeklyCap(p); weekly > 0 && p.UsedPointsThisWeek+pending >= weekly {
		return ReasonInsufficientPoints
	}
	return ""
}

// weeklyCap is the plan's weekly limit, further capped by TotalPoints when set.
func (l *QuotaLedger) weeklyCap(p UserProfile) int64 {
	weekly := l.cfg.Limits(p.CurrentPlan).WeeklyLimit
	if p.TotalPoints > 0 && (weekly == 0 || p.TotalPoints < weekly) {
		return p.TotalPoints
	}
	return weekly
}

func (l *QuotaLedger) resolve(res Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.reservations[res.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrReservationResolved, res.ID)
	}
	delete(l.reservations, res.ID)
	return nil
}

// acquire returns the user's entry and pins it until release.
func (l *QuotaLedger) acquire(userID string) *userLedger {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[userID]
	if !ok {
		u = &userLedger{}
		l.users[userID] = u
	}
	u.refs++
	return u
}

func (l *QuotaLedger) release(userID string, u *userLedger) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u.refs--
	if u.refs == 0 && u.pending.Load() == 0 {
		delete(l.users, userID)
	}
}

func remaining(limit, used int64) int64 {
	if limit == 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameWeek(a, b time.Time) bool {
	ay, aw := a.ISOWeek()
	by, bw := b.ISOWeek()
	return ay == by && aw == bw
}
