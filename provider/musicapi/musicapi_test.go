package musicapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/musicgen-ai/musicgen"
	"github.com/musicgen-ai/musicgen/provider/musicapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() musicgen.GeneratorRequest {
	return musicgen.GeneratorRequest{
		Genre:    "ambient",
		Mood:     "calm",
		Prompt:   "ambient music with a calm mood.",
		Duration: 60,
		Quality:  musicgen.QualityHigh,
	}
}

func TestGenerate_SendsRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":"t-1","status":"processing"}`))
	}))
	defer srv.Close()

	p := musicapi.New("secret", musicapi.WithBaseURL(srv.URL+"/"), musicapi.WithModel("music-v2"))
	task, err := p.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "t-1", task.TaskID)
	assert.Equal(t, musicgen.TaskPending, task.Status)
	assert.Nil(t, task.Track)

	assert.Equal(t, "music-v2", got["model"])
	assert.Equal(t, "ambient music with a calm mood.", got["prompt"])
	assert.Equal(t, "ambient", got["genre"])
	assert.Equal(t, float64(60), got["duration"])
	assert.Equal(t, "high", got["quality"])
}

func TestPoll_Completed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/tasks/t-1", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"task_id": "t-1",
			"status": "completed",
			"track": {
				"title": "Still Water",
				"audio_url": "https://cdn.test/a.mp3",
				"image_url": "https://cdn.test/a.jpg",
				"duration": 58,
				"tags": ["ambient", "calm"]
			}
		}`))
	}))
	defer srv.Close()

	p := musicapi.New("secret", musicapi.WithBaseURL(srv.URL))
	task, err := p.Poll(context.Background(), "t-1")
	require.NoError(t, err)

	assert.Equal(t, musicgen.TaskCompleted, task.Status)
	require.NotNil(t, task.Track)
	assert.Equal(t, "Still Water", task.Track.Title)
	assert.Equal(t, "https://cdn.test/a.mp3", task.Track.AudioURL)
	assert.Equal(t, 58, task.Track.Duration)
	assert.Equal(t, []string{"ambient", "calm"}, task.Track.Tags)
}

func TestPoll_Failed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"task_id":"t-1","status":"failed","error":"model crashed"}`))
	}))
	defer srv.Close()

	p := musicapi.New("secret", musicapi.WithBaseURL(srv.URL))
	task, err := p.Poll(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, musicgen.TaskFailed, task.Status)
	assert.Equal(t, "model crashed", task.Detail)
}

func TestHTTPErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   musicgen.ErrorKind
	}{
		{http.StatusBadRequest, musicgen.KindInvalidRequest},
		{http.StatusNotFound, musicgen.KindInvalidRequest},
		{http.StatusUnprocessableEntity, musicgen.KindInvalidRequest},
		{http.StatusUnauthorized, musicgen.KindUnauthorized},
		{http.StatusForbidden, musicgen.KindUnauthorized},
		{http.StatusTooManyRequests, musicgen.KindServiceUnavailable},
		{http.StatusServiceUnavailable, musicgen.KindServiceUnavailable},
		{http.StatusInternalServerError, musicgen.KindServerError},
		{http.StatusBadGateway, musicgen.KindServerError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			p := musicapi.New("secret", musicapi.WithBaseURL(srv.URL))
			_, err := p.Generate(context.Background(), testRequest())
			require.Error(t, err)
			assert.Equal(t, tt.want, musicgen.Classify(err))
		})
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := musicapi.New("secret", musicapi.WithBaseURL(url))
	_, err := p.Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, musicgen.ErrNetwork)
	assert.Equal(t, musicgen.KindNetworkError, musicgen.Classify(err))
}

func TestMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	p := musicapi.New("secret", musicapi.WithBaseURL(srv.URL))
	_, err := p.Generate(context.Background(), testRequest())
	assert.Equal(t, musicgen.KindServerError, musicgen.Classify(err))
}

func TestCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"task_id":"t-1","status":"pending"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := musicapi.New("secret", musicapi.WithBaseURL(srv.URL))
	_, err := p.Generate(ctx, testRequest())
	assert.ErrorIs(t, err, context.Canceled)
}
