package musicgen

import "time"

// Plan is a subscription tier.
type Plan string

const (
	PlanFree      Plan = "free"
	PlanStarter   Plan = "starter"
	PlanPro       Plan = "pro"
	PlanUnlimited Plan = "unlimited"
)

// IsPaid reports whether the plan is backed by a subscription.
func (p Plan) IsPaid() bool {
	return p == PlanStarter || p == PlanPro || p == PlanUnlimited
}

// rank orders plans by precedence (unlimited > pro > starter > free).
func (p Plan) rank() int {
	switch p {
	case PlanUnlimited:
		return 3
	case PlanPro:
		return 2
	case PlanStarter:
		return 1
	default:
		return 0
	}
}

// SubscriptionStatus describes the state of a user's subscription.
type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionExpired SubscriptionStatus = "expired"
	SubscriptionNone    SubscriptionStatus = "none"
)

// UserProfile is the points/subscription view of a user.
type UserProfile struct {
	ID                 string             `json:"id"`
	CurrentPlan        Plan               `json:"current_plan"`
	TotalPoints        int64              `json:"total_points"`
	UsedPointsToday    int64              `json:"used_points_today"`
	UsedPointsThisWeek int64              `json:"used_points_this_week"`
	LastPointRefresh   time.Time          `json:"last_point_refresh"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
}

// Quality is a generation quality tier.
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
	QualityUltra    Quality = "ultra"
)

// GenerationRequest describes a single user-initiated generation.
type GenerationRequest struct {
	Genre    string  `json:"genre"`
	Mood     string  `json:"mood"`
	Prompt   string  `json:"prompt,omitempty"`
	BPM      int     `json:"bpm,omitempty"` // 0 = unset
	Key      string  `json:"key,omitempty"`
	Duration int     `json:"duration"` // seconds
	Quality  Quality `json:"quality"`
}

// GenerationAttempt records one call to the generator.
type GenerationAttempt struct {
	Number int
	Kind   ErrorKind
	Delay  time.Duration // backoff applied after this attempt
	Err    error
}

// TrackData is a generated track.
type TrackData struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Genre       string    `json:"genre"`
	Mood        string    `json:"mood"`
	Prompt      string    `json:"prompt"`
	Duration    int       `json:"duration"`
	AudioURL    string    `json:"audio_url"`
	TaskID      string    `json:"task_id"`
	CreatedAt   time.Time `json:"created_at"`
	IsPublished bool      `json:"is_published"`
	IsFavorite  bool      `json:"is_favorite"`
	PlayCount   int64     `json:"play_count"`
	LikeCount   int64     `json:"like_count"`
	ImageURL    string    `json:"image_url,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}
