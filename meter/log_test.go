package meter_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/musicgen-ai/musicgen"
	"github.com/musicgen-ai/musicgen/meter"
	"github.com/stretchr/testify/assert"
)

func TestLogMeter(t *testing.T) {
	var buf bytes.Buffer
	m := meter.NewLogMeter(slog.New(slog.NewTextHandler(&buf, nil)))

	m.OnAttempt(musicgen.AttemptEvent{Generator: "musicapi", UserID: "u1", RequestID: "r1", Attempt: 1, Quality: musicgen.QualityHigh})
	m.OnResult(musicgen.ResultEvent{
		Generator: "musicapi",
		UserID:    "u1",
		RequestID: "r1",
		Attempt:   1,
		Kind:      musicgen.KindServerError,
		Retry:     true,
		Delay:     2 * time.Second,
		Error:     errors.New("status 502"),
	})
	m.OnResult(musicgen.ResultEvent{Generator: "musicapi", UserID: "u1", RequestID: "r1", Attempt: 2, Success: true, TaskID: "t-9"})

	out := buf.String()
	assert.Contains(t, out, "msg=attempt")
	assert.Contains(t, out, "quality=high")
	assert.Contains(t, out, "level=WARN msg=result_error")
	assert.Contains(t, out, "kind=server_error")
	assert.Contains(t, out, "delay_ms=2000")
	assert.Contains(t, out, "level=INFO msg=result")
	assert.Contains(t, out, "task=t-9")
}
