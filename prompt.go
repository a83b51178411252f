package musicgen

import (
	"fmt"
	"strings"
	"unicode"
)

// ComposePrompt merges the structured request fields into the single
// free-text prompt the remote service accepts.
func ComposePrompt(req GenerationRequest) string {
	genre := strings.ToLower(strings.TrimSpace(req.Genre))
	mood := strings.ToLower(strings.TrimSpace(req.Mood))

	parts := []string{fmt.Sprintf("%s music with a %s mood", genre, mood)}
	if p := strings.TrimRight(strings.TrimSpace(req.Prompt), "."); p != "" {
		parts = append(parts, p)
	}
	if req.BPM > 0 {
		parts = append(parts, fmt.Sprintf("Tempo: %d BPM", req.BPM))
	}
	if k := strings.TrimSpace(req.Key); k != "" {
		parts = append(parts, "Key: "+k)
	}
	return strings.Join(parts, ". ") + "."
}

// DefaultTitle names a track whose generator returned no title, e.g. "Calm Lo-Fi".
func DefaultTitle(req GenerationRequest) string {
	return titleCase(req.Mood) + " " + titleCase(req.Genre)
}

func titleCase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	out := []rune(s)
	upper := true
	for i, r := range out {
		if upper && unicode.IsLetter(r) {
			out[i] = unicode.ToUpper(r)
		}
		upper = !unicode.IsLetter(r)
	}
	return string(out)
}
