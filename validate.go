package musicgen

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minBPM          = 40
	maxBPM          = 250
	maxPromptLength = 500
)

var keyPattern = regexp.MustCompile(`(?i)^[a-g](#|b)?(\s*(major|minor|maj|min|m))?$`)

// ValidateRequest checks req against the configured vocabularies and bounds.
// It returns a *ValidationError for the first violation found.
func (c Config) ValidateRequest(req GenerationRequest) error {
	if !containsFold(c.Genres, req.Genre) {
		return &ValidationError{Field: "genre", Reason: fmt.Sprintf("%q is not supported", req.Genre)}
	}
	if !containsFold(c.Moods, req.Mood) {
		return &ValidationError{Field: "mood", Reason: fmt.Sprintf("%q is not supported", req.Mood)}
	}

	tier, ok := c.Qualities[req.Quality]
	if !ok {
		return &ValidationError{Field: "quality", Reason: fmt.Sprintf("%q is not supported", req.Quality)}
	}

	if req.Duration < c.MinDuration || req.Duration > c.MaxDuration {
		return &ValidationError{
			Field:  "duration",
			Reason: fmt.Sprintf("must be between %d and %d seconds", c.MinDuration, c.MaxDuration),
		}
	}
	if req.Duration > tier.MaxDuration {
		return &ValidationError{
			Field:  "duration",
			Reason: fmt.Sprintf("%s quality allows at most %d seconds", req.Quality, tier.MaxDuration),
		}
	}

	if req.BPM != 0 && (req.BPM < minBPM || req.BPM > maxBPM) {
		return &ValidationError{Field: "bpm", Reason: fmt.Sprintf("must be between %d and %d", minBPM, maxBPM)}
	}

	if key := strings.TrimSpace(req.Key); key != "" && !keyPattern.MatchString(key) {
		return &ValidationError{Field: "key", Reason: fmt.Sprintf("%q is not a musical key", req.Key)}
	}

	if utf8.RuneCountInString(req.Prompt) > maxPromptLength {
		return &ValidationError{Field: "prompt", Reason: fmt.Sprintf("must be at most %d characters", maxPromptLength)}
	}

	return nil
}

func containsFold(set []string, v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
