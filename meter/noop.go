package meter

import "github.com/musicgen-ai/musicgen"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ musicgen.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAttempt(musicgen.AttemptEvent) {}
func (m *NoopMeter) OnResult(musicgen.ResultEvent)   {}
