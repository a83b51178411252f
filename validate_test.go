package musicgen_test

import (
	"strings"
	"testing"

	"github.com/musicgen-ai/musicgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequest(t *testing.T) {
	cfg := musicgen.DefaultConfig()

	tests := []struct {
		name   string
		mutate func(*musicgen.GenerationRequest)
		field  string
	}{
		{"valid", func(*musicgen.GenerationRequest) {}, ""},
		{"genre case-insensitive", func(r *musicgen.GenerationRequest) { r.Genre = "JAZZ" }, ""},
		{"unknown genre", func(r *musicgen.GenerationRequest) { r.Genre = "polka" }, "genre"},
		{"empty mood", func(r *musicgen.GenerationRequest) { r.Mood = "" }, "mood"},
		{"unknown quality", func(r *musicgen.GenerationRequest) { r.Quality = "lossless" }, "quality"},
		{"too short", func(r *musicgen.GenerationRequest) { r.Duration = 5 }, "duration"},
		{"too long", func(r *musicgen.GenerationRequest) { r.Duration = 301; r.Quality = musicgen.QualityUltra }, "duration"},
		{"above tier cap", func(r *musicgen.GenerationRequest) { r.Duration = 45 }, "duration"},
		{"high allows 120", func(r *musicgen.GenerationRequest) { r.Duration = 120; r.Quality = musicgen.QualityHigh }, ""},
		{"bpm too slow", func(r *musicgen.GenerationRequest) { r.BPM = 20 }, "bpm"},
		{"bpm too fast", func(r *musicgen.GenerationRequest) { r.BPM = 300 }, "bpm"},
		{"sharp key", func(r *musicgen.GenerationRequest) { r.Key = "F# major" }, ""},
		{"flat minor", func(r *musicgen.GenerationRequest) { r.Key = "Bbm" }, ""},
		{"bad key", func(r *musicgen.GenerationRequest) { r.Key = "H dorian" }, "key"},
		{"prompt too long", func(r *musicgen.GenerationRequest) { r.Prompt = strings.Repeat("♪", 501) }, "prompt"},
		{"prompt at limit", func(r *musicgen.GenerationRequest) { r.Prompt = strings.Repeat("♪", 500) }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := lofiRequest()
			tt.mutate(&req)

			err := cfg.ValidateRequest(req)
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			var ve *musicgen.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestComposePrompt(t *testing.T) {
	assert.Equal(t,
		"lo-fi music with a calm mood. rainy evening. Tempo: 80 BPM. Key: A minor.",
		musicgen.ComposePrompt(lofiRequest()),
	)

	assert.Equal(t,
		"jazz music with a happy mood.",
		musicgen.ComposePrompt(musicgen.GenerationRequest{Genre: "Jazz", Mood: "Happy"}),
	)

	assert.Equal(t,
		"rock music with a dark mood. heavy riffs. Key: E.",
		musicgen.ComposePrompt(musicgen.GenerationRequest{Genre: "rock", Mood: "dark", Prompt: " heavy riffs. ", Key: "E"}),
	)
}

func TestDefaultTitle(t *testing.T) {
	assert.Equal(t, "Calm Lo-Fi", musicgen.DefaultTitle(lofiRequest()))
	assert.Equal(t, "Energetic Hip-Hop", musicgen.DefaultTitle(musicgen.GenerationRequest{Genre: "HIP-HOP", Mood: "energetic"}))
	assert.Equal(t, "Romantic R&B", musicgen.DefaultTitle(musicgen.GenerationRequest{Genre: "r&b", Mood: "romantic"}))
}
