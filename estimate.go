package musicgen

import "time"

// EstimateCompletion returns the expected completion time for a quality tier.
// Unknown tiers report zero.
func (c Config) EstimateCompletion(q Quality) time.Duration {
	return c.Qualities[q].EstimatedTime
}
