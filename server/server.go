// Package server exposes the generation pipeline over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/musicgen-ai/musicgen"
)

const maxBodyBytes = 64 << 10

// Server serves the generation API.
type Server struct {
	coord  *musicgen.Coordinator
	secret []byte
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for failed requests.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server; secret verifies the HS256 bearer tokens.
func New(coord *musicgen.Coordinator, secret []byte, opts ...Option) *Server {
	s := &Server{coord: coord, secret: secret}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthJWT(s.secret))
		r.Post("/generations", s.createGeneration)
		r.Get("/tracks", s.listTracks)
		r.Get("/quota", s.quota)
		r.Get("/estimate", s.estimate)
		r.Post("/entitlements/sync", s.syncEntitlements)
	})

	return r
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Reason    string `json:"reason,omitempty"`
}

type estimateResponse struct {
	Quality          musicgen.Quality `json:"quality"`
	EstimatedSeconds float64          `json:"estimated_seconds"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createGeneration(w http.ResponseWriter, r *http.Request) {
	var req musicgen.GenerationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid payload", false)
		return
	}

	track, err := s.coord.Submit(r.Context(), UserIDFromContext(r.Context()), req)
	if err != nil && !errors.Is(err, musicgen.ErrTrackNotSaved) {
		s.fail(w, r, err)
		return
	}
	if err != nil {
		s.logger.Warn("track not saved", "request", middleware.GetReqID(r.Context()), "track", track.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, track)
}

func (s *Server) listTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.coord.Tracks(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if tracks == nil {
		tracks = []musicgen.TrackData{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

func (s *Server) quota(w http.ResponseWriter, r *http.Request) {
	status, err := s.coord.Quota(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) estimate(w http.ResponseWriter, r *http.Request) {
	q := musicgen.Quality(r.URL.Query().Get("quality"))
	d, err := s.coord.Estimate(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, estimateResponse{Quality: q, EstimatedSeconds: d.Round(time.Second).Seconds()})
}

func (s *Server) syncEntitlements(w http.ResponseWriter, r *http.Request) {
	p, err := s.coord.SyncEntitlements(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// fail maps a pipeline error to its HTTP status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	resp := errorResponse{Error: code, Message: musicgen.UserMessage(err), Retryable: musicgen.CanRetry(err)}
	var qe *musicgen.QuotaError
	if errors.As(err, &qe) {
		resp.Reason = qe.Reason
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) (int, string) {
	var ge *musicgen.GenerationError
	switch {
	case errors.Is(err, musicgen.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, musicgen.ErrQuotaExceeded):
		return http.StatusPaymentRequired, "quota_exceeded"
	case errors.As(err, &ge):
		if ge.Kind == musicgen.KindServiceUnavailable {
			return http.StatusServiceUnavailable, ge.Kind.String()
		}
		return http.StatusBadGateway, ge.Kind.String()
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, message string, retryable bool) {
	writeJSON(w, code, errorResponse{Error: errCode, Message: message, Retryable: retryable})
}
