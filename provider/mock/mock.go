package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/musicgen-ai/musicgen"
)

// Generator is a scripted music generator for testing.
type Generator struct {
	name         string
	latency      time.Duration
	script       []error
	staticErr    error
	pendingPolls int
	neverReady   bool
	track        musicgen.GeneratedTrack
	responseFunc func(musicgen.GeneratorRequest) (musicgen.GeneratorTask, error)

	callCount atomic.Int64
	pollCount atomic.Int64

	mu       sync.Mutex
	tasks    map[string]int // remaining polls per task
	requests []musicgen.GeneratorRequest
}

var _ musicgen.Generator = (*Generator)(nil)

// Option configures a mock Generator.
type Option func(*Generator)

// New creates a mock generator with the given options.
func New(opts ...Option) *Generator {
	g := &Generator{
		name: "mock",
		track: musicgen.GeneratedTrack{
			AudioURL: "https://cdn.example.com/audio/mock.mp3",
			ImageURL: "https://cdn.example.com/art/mock.jpg",
		},
		tasks: make(map[string]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithName sets the generator name.
func WithName(name string) Option {
	return func(g *Generator) { g.name = name }
}

// WithLatency adds simulated latency to each Generate call.
func WithLatency(d time.Duration) Option {
	return func(g *Generator) { g.latency = d }
}

// WithErrors makes the n-th Generate call return errs[n-1]; a nil entry and
// every call past the script succeed.
func WithErrors(errs ...error) Option {
	return func(g *Generator) { g.script = errs }
}

// WithError makes the generator always return this error.
func WithError(err error) Option {
	return func(g *Generator) { g.staticErr = err }
}

// WithPendingPolls makes each task report pending for n polls before completing.
func WithPendingPolls(n int) Option {
	return func(g *Generator) { g.pendingPolls = n }
}

// WithNeverReady makes every task stay pending forever.
func WithNeverReady() Option {
	return func(g *Generator) { g.neverReady = true }
}

// WithTrack sets the track returned on completion.
func WithTrack(t musicgen.GeneratedTrack) Option {
	return func(g *Generator) { g.track = t }
}

// WithResponseFunc sets a custom Generate response function.
func WithResponseFunc(fn func(musicgen.GeneratorRequest) (musicgen.GeneratorTask, error)) Option {
	return func(g *Generator) { g.responseFunc = fn }
}

func (g *Generator) Name() string { return g.name }

func (g *Generator) Generate(ctx context.Context, req musicgen.GeneratorRequest) (musicgen.GeneratorTask, error) {
	if g.latency > 0 {
		select {
		case <-time.After(g.latency):
		case <-ctx.Done():
			return musicgen.GeneratorTask{}, ctx.Err()
		}
	}

	count := g.callCount.Add(1)

	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.staticErr != nil {
		return musicgen.GeneratorTask{}, g.staticErr
	}
	if int(count) <= len(g.script) && g.script[count-1] != nil {
		return musicgen.GeneratorTask{}, g.script[count-1]
	}

	if g.responseFunc != nil {
		return g.responseFunc(req)
	}

	taskID := fmt.Sprintf("mock-task-%d", count)
	if g.pendingPolls == 0 && !g.neverReady {
		return g.completed(taskID), nil
	}

	g.mu.Lock()
	g.tasks[taskID] = g.pendingPolls
	g.mu.Unlock()

	return musicgen.GeneratorTask{TaskID: taskID, Status: musicgen.TaskPending}, nil
}

func (g *Generator) Poll(ctx context.Context, taskID string) (musicgen.GeneratorTask, error) {
	if err := ctx.Err(); err != nil {
		return musicgen.GeneratorTask{}, err
	}
	g.pollCount.Add(1)

	g.mu.Lock()
	defer g.mu.Unlock()

	left, ok := g.tasks[taskID]
	if !ok {
		return musicgen.GeneratorTask{}, fmt.Errorf("%w: unknown task %q", musicgen.ErrInvalidRequest, taskID)
	}
	if g.neverReady || left > 0 {
		g.tasks[taskID] = left - 1
		return musicgen.GeneratorTask{TaskID: taskID, Status: musicgen.TaskPending}, nil
	}
	delete(g.tasks, taskID)
	return g.completed(taskID), nil
}

func (g *Generator) completed(taskID string) musicgen.GeneratorTask {
	track := g.track
	return musicgen.GeneratorTask{TaskID: taskID, Status: musicgen.TaskCompleted, Track: &track}
}

// CallCount returns the number of Generate calls made.
func (g *Generator) CallCount() int64 { return g.callCount.Load() }

// PollCount returns the number of Poll calls made.
func (g *Generator) PollCount() int64 { return g.pollCount.Load() }

// Requests returns the requests received so far.
func (g *Generator) Requests() []musicgen.GeneratorRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]musicgen.GeneratorRequest, len(g.requests))
	copy(out, g.requests)
	return out
}
