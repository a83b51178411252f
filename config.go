package musicgen

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables consumed by the ledger, retry policy and coordinator.
type Config struct {
	MaxAttempts       int                     `yaml:"max_attempts"`
	BaseDelay         time.Duration           `yaml:"base_delay"`
	PollingInterval   time.Duration           `yaml:"polling_interval"`
	GenerationTimeout time.Duration           `yaml:"generation_timeout"`
	MinDuration       int                     `yaml:"min_duration"`
	MaxDuration       int                     `yaml:"max_duration"`
	Qualities         map[Quality]QualityTier `yaml:"qualities"`
	Genres            []string                `yaml:"genres"`
	Moods             []string                `yaml:"moods"`
	Plans             map[Plan]PlanLimits     `yaml:"plans"`
	Products          map[string]Plan         `yaml:"products"`
}

// QualityTier caps the track duration and sets the expected completion time.
type QualityTier struct {
	MaxDuration   int           `yaml:"max_duration"`
	EstimatedTime time.Duration `yaml:"estimated_time"`
}

// PlanLimits are the point allowances of a plan. 0 means unlimited.
type PlanLimits struct {
	DailyLimit  int64 `yaml:"daily_limit"`
	WeeklyLimit int64 `yaml:"weekly_limit"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		BaseDelay:         2 * time.Second,
		PollingInterval:   5 * time.Second,
		GenerationTimeout: 5 * time.Minute,
		MinDuration:       10,
		MaxDuration:       300,
		Qualities: map[Quality]QualityTier{
			QualityStandard: {MaxDuration: 30, EstimatedTime: 30 * time.Second},
			QualityHigh:     {MaxDuration: 120, EstimatedTime: time.Minute},
			QualityUltra:    {MaxDuration: 300, EstimatedTime: 2 * time.Minute},
		},
		Genres: []string{
			"pop", "rock", "electronic", "hip-hop", "jazz", "classical",
			"ambient", "lo-fi", "cinematic", "r&b", "country", "metal",
		},
		Moods: []string{
			"happy", "sad", "energetic", "calm", "dark",
			"romantic", "epic", "chill", "mysterious", "uplifting",
		},
		Plans: map[Plan]PlanLimits{
			PlanFree:      {DailyLimit: 3, WeeklyLimit: 10},
			PlanStarter:   {DailyLimit: 10, WeeklyLimit: 50},
			PlanPro:       {DailyLimit: 30, WeeklyLimit: 150},
			PlanUnlimited: {},
		},
		Products: map[string]Plan{
			"musicgen.starter.monthly":   PlanStarter,
			"musicgen.pro.monthly":       PlanPro,
			"musicgen.unlimited.monthly": PlanUnlimited,
		},
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("musicgen: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("musicgen: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("musicgen: config: max_attempts must be at least 1")
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("musicgen: config: base_delay must not be negative")
	}
	if c.PollingInterval <= 0 {
		return fmt.Errorf("musicgen: config: polling_interval must be positive")
	}
	if c.GenerationTimeout < c.PollingInterval {
		return fmt.Errorf("musicgen: config: generation_timeout must be at least polling_interval")
	}
	if c.MinDuration < 1 || c.MaxDuration < c.MinDuration {
		return fmt.Errorf("musicgen: config: invalid duration bounds [%d,%d]", c.MinDuration, c.MaxDuration)
	}

	if len(c.Qualities) == 0 {
		return fmt.Errorf("musicgen: config: at least one quality tier is required")
	}
	for q, tier := range c.Qualities {
		if tier.MaxDuration < c.MinDuration {
			return fmt.Errorf("musicgen: config: qualities[%s]: max_duration %d is below min_duration", q, tier.MaxDuration)
		}
	}

	if len(c.Genres) == 0 {
		return fmt.Errorf("musicgen: config: at least one genre is required")
	}
	if len(c.Moods) == 0 {
		return fmt.Errorf("musicgen: config: at least one mood is required")
	}

	for _, p := range []Plan{PlanFree, PlanStarter, PlanPro, PlanUnlimited} {
		limits, ok := c.Plans[p]
		if !ok {
			return fmt.Errorf("musicgen: config: plans[%s] is required", p)
		}
		if limits.DailyLimit < 0 || limits.WeeklyLimit < 0 {
			return fmt.Errorf("musicgen: config: plans[%s]: limits must not be negative", p)
		}
	}

	for id, p := range c.Products {
		if p.rank() == 0 {
			return fmt.Errorf("musicgen: config: products[%s]: %q is not a paid plan", id, p)
		}
	}

	return nil
}

// Limits returns the allowance for plan. Unknown plans get the free limits.
func (c Config) Limits(plan Plan) PlanLimits {
	if l, ok := c.Plans[plan]; ok {
		return l
	}
	return c.Plans[PlanFree]
}
