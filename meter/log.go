package meter

import (
	"log/slog"

	"github.com/musicgen-ai/musicgen"
)

// LogMeter logs generation events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ musicgen.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAttempt(e musicgen.AttemptEvent) {
	m.Logger.Info("attempt",
		"generator", e.Generator,
		"user", e.UserID,
		"request", e.RequestID,
		"attempt", e.Attempt,
		"quality", e.Quality,
	)
}

func (m *LogMeter) OnResult(e musicgen.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"generator", e.Generator,
			"user", e.UserID,
			"request", e.RequestID,
			"attempt", e.Attempt,
			"task", e.TaskID,
			"duration_ms", e.Duration.Milliseconds(),
		)
	} else {
		m.Logger.Warn("result_error",
			"generator", e.Generator,
			"user", e.UserID,
			"request", e.RequestID,
			"attempt", e.Attempt,
			"kind", e.Kind.String(),
			"retry", e.Retry,
			"delay_ms", e.Delay.Milliseconds(),
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}
