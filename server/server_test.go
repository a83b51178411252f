package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/musicgen-ai/musicgen"
	"github.com/musicgen-ai/musicgen/entitlement"
	"github.com/musicgen-ai/musicgen/provider/mock"
	"github.com/musicgen-ai/musicgen/quota"
	"github.com/musicgen-ai/musicgen/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

type testServer struct {
	url    string
	store  *quota.MemoryStore
	grants *entitlement.Static
}

func newTestServer(t *testing.T, gen musicgen.Generator) *testServer {
	t.Helper()
	cfg := musicgen.DefaultConfig()
	store := quota.NewMemoryStore()
	grants := entitlement.NewStatic()

	coord, err := musicgen.NewCoordinator(cfg, musicgen.NewQuotaLedger(store, cfg), gen,
		musicgen.WithTrackStore(store),
		musicgen.WithEntitlements(grants),
		musicgen.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(server.New(coord, secret).Handler())
	t.Cleanup(srv.Close)
	return &testServer{url: srv.URL, store: store, grants: grants}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.url+path, &buf)
	require.NoError(t, err)
	if userID != "" {
		token, err := server.SignToken(secret, userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Reason    string `json:"reason"`
}

var validRequest = musicgen.GenerationRequest{
	Genre:    "electronic",
	Mood:     "energetic",
	Duration: 30,
	Quality:  musicgen.QualityStandard,
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, mock.New())
	resp := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, mock.New())

	resp := s.do(t, http.MethodGet, "/v1/quota", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged, err := server.SignToken([]byte("other-secret"), "u1", time.Hour)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, s.url+"/v1/quota", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestVerifyToken(t *testing.T) {
	token, err := server.SignToken(secret, "u1", time.Hour)
	require.NoError(t, err)
	sub, err := server.VerifyToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)

	expired, err := server.SignToken(secret, "u1", -time.Minute)
	require.NoError(t, err)
	_, err = server.VerifyToken(secret, expired)
	assert.Error(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = server.VerifyToken(secret, none)
	assert.Error(t, err)
}

func TestCreateGeneration(t *testing.T) {
	s := newTestServer(t, mock.New())

	resp := s.do(t, http.MethodPost, "/v1/generations", "u1", validRequest)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	track := decode[musicgen.TrackData](t, resp)
	assert.Equal(t, "u1", track.UserID)
	assert.Equal(t, "Energetic Electronic", track.Title)
	assert.NotEmpty(t, track.AudioURL)

	resp = s.do(t, http.MethodGet, "/v1/tracks", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tracks := decode[[]musicgen.TrackData](t, resp)
	require.Len(t, tracks, 1)
	assert.Equal(t, track.ID, tracks[0].ID)

	resp = s.do(t, http.MethodGet, "/v1/quota", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[musicgen.QuotaStatus](t, resp)
	assert.True(t, status.Decision.Allowed)
	assert.Equal(t, int64(2), status.Remaining.Today)
	assert.Equal(t, int64(1), status.Profile.UsedPointsToday)
}

func TestCreateGeneration_Validation(t *testing.T) {
	s := newTestServer(t, mock.New())

	req := validRequest
	req.Duration = 45
	resp := s.do(t, http.MethodPost, "/v1/generations", "u1", req)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[errorBody](t, resp)
	assert.Equal(t, "invalid_request", body.Error)
	assert.False(t, body.Retryable)
	assert.Contains(t, body.Message, "duration")
}

func TestCreateGeneration_MalformedBody(t *testing.T) {
	s := newTestServer(t, mock.New())

	req, err := http.NewRequest(http.MethodPost, s.url+"/v1/generations", bytes.NewBufferString("{"))
	require.NoError(t, err)
	token, err := server.SignToken(secret, "u1", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateGeneration_QuotaExceeded(t *testing.T) {
	s := newTestServer(t, mock.New())
	s.store.SetProfile(musicgen.UserProfile{
		ID:                 "u1",
		CurrentPlan:        musicgen.PlanFree,
		UsedPointsToday:    3,
		UsedPointsThisWeek: 3,
		LastPointRefresh:   time.Now(),
		SubscriptionStatus: musicgen.SubscriptionNone,
	})

	resp := s.do(t, http.MethodPost, "/v1/generations", "u1", validRequest)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	body := decode[errorBody](t, resp)
	assert.Equal(t, "quota_exceeded", body.Error)
	assert.Equal(t, musicgen.ReasonDailyLimit, body.Reason)
	assert.False(t, body.Retryable)
}

func TestCreateGeneration_GenerationFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"server error", musicgen.ErrServer, http.StatusBadGateway, "server_error", true},
		{"unauthorized", musicgen.ErrUnauthorized, http.StatusBadGateway, "unauthorized", false},
		{"busy", musicgen.ErrServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, mock.New(mock.WithError(tt.err)))

			resp := s.do(t, http.MethodPost, "/v1/generations", "u1", validRequest)
			require.Equal(t, tt.status, resp.StatusCode)

			body := decode[errorBody](t, resp)
			assert.Equal(t, tt.code, body.Error)
			assert.Equal(t, tt.retryable, body.Retryable)
			assert.NotEmpty(t, body.Message)

			p, err := s.store.GetProfile(context.Background(), "u1")
			require.NoError(t, err)
			assert.Equal(t, int64(0), p.UsedPointsToday)
		})
	}
}

func TestEstimate(t *testing.T) {
	s := newTestServer(t, mock.New())

	resp := s.do(t, http.MethodGet, "/v1/estimate?quality=ultra", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ultra", body["quality"])
	assert.Equal(t, float64(120), body["estimated_seconds"])

	resp = s.do(t, http.MethodGet, "/v1/estimate?quality=lossless", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSyncEntitlements(t *testing.T) {
	s := newTestServer(t, mock.New())
	s.grants.Grant("u1", "musicgen.pro.monthly")

	resp := s.do(t, http.MethodPost, "/v1/entitlements/sync", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p := decode[musicgen.UserProfile](t, resp)
	assert.Equal(t, musicgen.PlanPro, p.CurrentPlan)
	assert.Equal(t, musicgen.SubscriptionActive, p.SubscriptionStatus)
}
