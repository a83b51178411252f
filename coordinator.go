package musicgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTrackNotSaved is returned together with a committed track that the
// TrackStore failed to record.
var ErrTrackNotSaved = errors.New("musicgen: track not saved")

// Coordinator runs point-gated generations: validate, reserve a point, call
// the generator with retries, then commit and record the track or roll back.
type Coordinator struct {
	cfg          Config
	ledger       *QuotaLedger
	generator    Generator
	policy       RetryPolicy
	meter        Meter
	tracks       TrackStore
	entitlements EntitlementSource
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(c *Coordinator) { c.meter = m }
}

// WithTrackStore records every generated track in ts.
func WithTrackStore(ts TrackStore) Option {
	return func(c *Coordinator) { c.tracks = ts }
}

// WithEntitlements syncs the user's plan from src before each generation.
func WithEntitlements(src EntitlementSource) Option {
	return func(c *Coordinator) { c.entitlements = src }
}

// WithRetryPolicy overrides the policy derived from the config.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithClock sets the time source used for timestamps and call durations.
func WithClock(fn func() time.Time) Option {
	return func(c *Coordinator) { c.now = fn }
}

// WithSleep replaces the context-aware wait used for backoff and polling.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = fn }
}

// NewCoordinator creates a Coordinator. Defaults (policy from cfg, no-op
// meter, real clock) are used unless overridden via options.
func NewCoordinator(cfg Config, ledger *QuotaLedger, gen Generator, opts ...Option) (*Coordinator, error) {
	if ledger == nil {
		return nil, fmt.Errorf("musicgen: a quota ledger is required")
	}
	if gen == nil {
		return nil, fmt.Errorf("musicgen: a generator is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:       cfg,
		ledger:    ledger,
		generator: gen,
		policy:    NewRetryPolicy(cfg),
	}

	for _, opt := range opts {
		opt(c)
	}

	// Apply defaults after options.
	if c.meter == nil {
		c.meter = &noopMeter{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}

	return c, nil
}

// Submit runs one generation for userID.
//
// Failures are a *ValidationError or *QuotaError (no side effects, generator
// never called) or a *GenerationError after the reservation was rolled back.
// Cancellation of ctx is permanent: the reservation is rolled back and the
// returned *GenerationError also matches ctx.Err().
func (c *Coordinator) Submit(ctx context.Context, userID string, req GenerationRequest) (TrackData, error) {
	if err := c.cfg.ValidateRequest(req); err != nil {
		return TrackData{}, err
	}

	if c.entitlements != nil {
		if _, err := c.SyncEntitlements(ctx, userID); err != nil {
			return TrackData{}, err
		}
	}

	status, err := c.ledger.Status(ctx, userID)
	if err != nil {
		return TrackData{}, err
	}
	if d := status.Decision; !d.Allowed {
		return TrackData{}, &QuotaError{UserID: userID, Reason: d.Reason}
	}

	requestID := uuid.New().String()
	res, err := c.ledger.Reserve(ctx, userID, requestID)
	if err != nil {
		return TrackData{}, err
	}

	// Every exit below resolves the reservation exactly once.
	resolved := false
	defer func() {
		if !resolved {
			_ = c.ledger.Rollback(context.WithoutCancel(ctx), res)
		}
	}()

	genReq := GeneratorRequest{
		Genre:    strings.ToLower(strings.TrimSpace(req.Genre)),
		Mood:     strings.ToLower(strings.TrimSpace(req.Mood)),
		Prompt:   ComposePrompt(req),
		Duration: req.Duration,
		Quality:  req.Quality,
	}

	var attempts []GenerationAttempt
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return TrackData{}, c.interrupted(err, attempts)
		}

		c.meter.OnAttempt(AttemptEvent{
			Generator: c.generator.Name(),
			UserID:    userID,
			RequestID: requestID,
			Attempt:   attempt,
			Quality:   req.Quality,
		})

		start := c.now()
		task, err := c.generate(ctx, genReq)
		duration := c.now().Sub(start)

		if err == nil {
			resolved = true
			detached := context.WithoutCancel(ctx)
			if _, err := c.ledger.Commit(detached, res); err != nil {
				return TrackData{}, err
			}

			track := c.buildTrack(userID, req, task)
			c.meter.OnResult(ResultEvent{
				Generator: c.generator.Name(),
				UserID:    userID,
				RequestID: requestID,
				Attempt:   attempt,
				Success:   true,
				Duration:  duration,
				TaskID:    task.TaskID,
			})

			if c.tracks != nil {
				if err := c.tracks.SaveTrack(detached, track); err != nil {
					return track, fmt.Errorf("%w: %w", ErrTrackNotSaved, err)
				}
			}
			return track, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			attempts = append(attempts, GenerationAttempt{Number: attempt, Kind: Classify(err), Err: err})
			return TrackData{}, c.interrupted(ctxErr, attempts)
		}

		kind := Classify(err)
		action := c.policy.Next(kind, attempt)
		attempts = append(attempts, GenerationAttempt{
			Number: attempt,
			Kind:   kind,
			Delay:  action.Delay,
			Err:    err,
		})

		c.meter.OnResult(ResultEvent{
			Generator: c.generator.Name(),
			UserID:    userID,
			RequestID: requestID,
			Attempt:   attempt,
			Kind:      kind,
			Retry:     action.Retry,
			Delay:     action.Delay,
			Duration:  duration,
			TaskID:    task.TaskID,
			Error:     err,
		})

		if !action.Retry {
			resolved = true
			_ = c.ledger.Rollback(context.WithoutCancel(ctx), res)
			return TrackData{}, &GenerationError{
				Kind:      kind,
				Generator: c.generator.Name(),
				Attempts:  attempts,
				Err:       err,
			}
		}

		if err := c.sleep(ctx, action.Delay); err != nil {
			return TrackData{}, c.interrupted(err, attempts)
		}
	}
}

// SyncEntitlements refreshes the user's plan from the entitlement source.
// Without a source it returns the current profile.
func (c *Coordinator) SyncEntitlements(ctx context.Context, userID string) (UserProfile, error) {
	if c.entitlements == nil {
		return c.ledger.Profile(ctx, userID)
	}

	products, err := c.entitlements.ActiveProducts(ctx, userID)
	if err != nil {
		return UserProfile{}, fmt.Errorf("musicgen: entitlements: %w", err)
	}
	return c.ledger.SyncPlan(ctx, userID, products)
}

// Quota reports whether userID can generate now and what is left.
func (c *Coordinator) Quota(ctx context.Context, userID string) (QuotaStatus, error) {
	return c.ledger.Status(ctx, userID)
}

// Estimate returns the expected completion time for a quality tier.
func (c *Coordinator) Estimate(q Quality) (time.Duration, error) {
	if _, ok := c.cfg.Qualities[q]; !ok {
		return 0, &ValidationError{Field: "quality", Reason: fmt.Sprintf("%q is not supported", q)}
	}
	return c.cfg.EstimateCompletion(q), nil
}

// Tracks lists the recorded tracks of userID. Without a TrackStore it returns none.
func (c *Coordinator) Tracks(ctx context.Context, userID string) ([]TrackData, error) {
	if c.tracks == nil {
		return nil, nil
	}
	return c.tracks.ListTracks(ctx, userID)
}

// interrupted builds the error for a cancelled generation.
func (c *Coordinator) interrupted(err error, attempts []GenerationAttempt) error {
	kind := KindNetworkError
	if n := len(attempts); n > 0 {
		kind = attempts[n-1].Kind
	}
	return &GenerationError{
		Kind:      kind,
		Generator: c.generator.Name(),
		Attempts:  attempts,
		Err:       err,
	}
}

func (c *Coordinator) buildTrack(userID string, req GenerationRequest, task GeneratorTask) TrackData {
	gen := task.Track

	title := strings.TrimSpace(gen.Title)
	if title == "" {
		title = DefaultTitle(req)
	}
	duration := gen.Duration
	if duration <= 0 {
		duration = req.Duration
	}
	tags := gen.Tags
	if len(tags) == 0 {
		tags = []string{
			strings.ToLower(strings.TrimSpace(req.Genre)),
			strings.ToLower(strings.TrimSpace(req.Mood)),
			string(req.Quality),
		}
	}

	return TrackData{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Genre:     strings.ToLower(strings.TrimSpace(req.Genre)),
		Mood:      strings.ToLower(strings.TrimSpace(req.Mood)),
		Prompt:    req.Prompt,
		Duration:  duration,
		AudioURL:  gen.AudioURL,
		TaskID:    task.TaskID,
		CreatedAt: c.now(),
		ImageURL:  gen.ImageURL,
		Tags:      tags,
	}
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnAttempt(AttemptEvent) {}
func (m *noopMeter) OnResult(ResultEvent)   {}
