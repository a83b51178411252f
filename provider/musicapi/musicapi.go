// Package musicapi is the adapter for the third-party music generation HTTP API.
package musicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/musicgen-ai/musicgen"
)

const defaultBaseURL = "https://api.musicapi.ai/v1"

// Provider is the music generation API adapter.
type Provider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ musicgen.Generator = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithModel sets the remote model name sent with each request.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// New creates a provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "musicapi" }

// API types.
type apiRequest struct {
	Model    string `json:"model,omitempty"`
	Prompt   string `json:"prompt"`
	Genre    string `json:"genre"`
	Mood     string `json:"mood"`
	Duration int    `json:"duration"`
	Quality  string `json:"quality"`
}

type apiTask struct {
	TaskID string    `json:"task_id"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Track  *apiTrack `json:"track,omitempty"`
}

type apiTrack struct {
	Title    string   `json:"title"`
	AudioURL string   `json:"audio_url"`
	ImageURL string   `json:"image_url"`
	Duration int      `json:"duration"`
	Tags     []string `json:"tags"`
}

func (p *Provider) Generate(ctx context.Context, req musicgen.GeneratorRequest) (musicgen.GeneratorTask, error) {
	if p.baseURL == "" {
		return musicgen.GeneratorTask{}, fmt.Errorf("%w: base url is not configured", musicgen.ErrInvalidRequest)
	}

	body, err := json.Marshal(apiRequest{
		Model:    p.model,
		Prompt:   req.Prompt,
		Genre:    req.Genre,
		Mood:     req.Mood,
		Duration: req.Duration,
		Quality:  string(req.Quality),
	})
	if err != nil {
		return musicgen.GeneratorTask{}, fmt.Errorf("musicgen: marshal musicapi request: %w", err)
	}

	return p.do(ctx, http.MethodPost, p.baseURL+"/generate", body)
}

func (p *Provider) Poll(ctx context.Context, taskID string) (musicgen.GeneratorTask, error) {
	return p.do(ctx, http.MethodGet, p.baseURL+"/tasks/"+taskID, nil)
}

func (p *Provider) do(ctx context.Context, method, url string, body []byte) (musicgen.GeneratorTask, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return musicgen.GeneratorTask{}, fmt.Errorf("%w: create musicapi request: %v", musicgen.ErrInvalidRequest, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return musicgen.GeneratorTask{}, ctx.Err()
		}
		return musicgen.GeneratorTask{}, fmt.Errorf("%w: %v", musicgen.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := mapHTTPError(resp); err != nil {
		return musicgen.GeneratorTask{}, err
	}

	var task apiTask
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return musicgen.GeneratorTask{}, fmt.Errorf("%w: decode musicapi response: %v", musicgen.ErrServer, err)
	}

	return convertTask(task), nil
}

func convertTask(t apiTask) musicgen.GeneratorTask {
	out := musicgen.GeneratorTask{
		TaskID: t.TaskID,
		Detail: t.Error,
	}

	switch strings.ToLower(t.Status) {
	case "completed", "complete", "succeeded", "success":
		out.Status = musicgen.TaskCompleted
	case "failed", "error":
		out.Status = musicgen.TaskFailed
	case "":
		// Some deployments answer synchronously without a status.
		if t.Track != nil {
			out.Status = musicgen.TaskCompleted
		} else {
			out.Status = musicgen.TaskPending
		}
	default:
		out.Status = musicgen.TaskPending
	}

	if t.Track != nil {
		out.Track = &musicgen.GeneratedTrack{
			Title:    t.Track.Title,
			AudioURL: t.Track.AudioURL,
			ImageURL: t.Track.ImageURL,
			Duration: t.Track.Duration,
			Tags:     t.Track.Tags,
		}
	}
	return out
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	detail := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", musicgen.ErrInvalidRequest, detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return musicgen.ErrUnauthorized
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return musicgen.ErrServiceUnavailable
	default:
		return fmt.Errorf("%w: status %d: %s", musicgen.ErrServer, resp.StatusCode, detail)
	}
}
