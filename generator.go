package musicgen

import "context"

// Generator is the interface that remote music generation adapters implement.
type Generator interface {
	// Name returns the adapter identifier (e.g. "musicapi", "mock").
	Name() string

	// Generate submits a generation. The returned task is either completed
	// with a track or pending and must be polled.
	Generate(ctx context.Context, req GeneratorRequest) (GeneratorTask, error)

	// Poll returns the current state of a pending task.
	Poll(ctx context.Context, taskID string) (GeneratorTask, error)
}

// GeneratorRequest is the request sent to an adapter. Prompt already merges
// genre, mood, free text, BPM and key.
type GeneratorRequest struct {
	Genre    string
	Mood     string
	Prompt   string
	Duration int
	Quality  Quality
}

// TaskStatus is the remote state of a generation task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// GeneratorTask is the adapter's view of a remote generation.
type GeneratorTask struct {
	TaskID string
	Status TaskStatus
	Track  *GeneratedTrack
	Detail string // failure detail reported by the service
}

// GeneratedTrack is the track descriptor returned by the remote service.
type GeneratedTrack struct {
	Title    string
	AudioURL string
	ImageURL string
	Duration int
	Tags     []string
}
