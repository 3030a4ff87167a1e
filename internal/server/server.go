// Package server exposes the orchestrator and its stores over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/goals"
	"github.com/lazypower/aide/internal/memory"
	"github.com/lazypower/aide/internal/orchestrator"
	"github.com/lazypower/aide/internal/perception"
	"github.com/lazypower/aide/internal/planner"
	"github.com/lazypower/aide/internal/prefs"
	"github.com/lazypower/aide/internal/snapshot"
	"github.com/lazypower/aide/internal/store"
	"github.com/lazypower/aide/internal/transparency"
)

// Deps are the services behind the API. World and Planner may be nil:
// without World the perceived world is read-only, without Planner
// /api/plan answers 503.
type Deps struct {
	DB           *store.DB
	Orchestrator *orchestrator.Orchestrator
	Goals        *goals.Service
	Memory       *memory.Service
	Transparency *transparency.Service
	Snapshots    *snapshot.Engine
	Prefs        *prefs.Store
	World        *perception.Static
	Planner      *planner.Planner
}

// Options tune the server.
type Options struct {
	Version   string
	RateLimit float64 // intent submissions per second per client; <= 0 disables
	RateBurst int
	// SSEKeepAlive is the interval of comment frames on idle event streams.
	SSEKeepAlive time.Duration
}

// Server is the aide HTTP API server.
type Server struct {
	Deps
	opts    Options
	router  chi.Router
	limiter *RateLimiter
	started time.Time
	logger  *slog.Logger
}

// New creates a Server over deps.
func New(deps Deps, opts Options) *Server {
	if opts.SSEKeepAlive <= 0 {
		opts.SSEKeepAlive = 15 * time.Second
	}
	s := &Server{
		Deps:    deps,
		opts:    opts,
		started: time.Now(),
		logger:  slog.Default().With("component", "server"),
	}
	if opts.RateLimit > 0 {
		s.limiter = NewRateLimiter(opts.RateLimit, opts.RateBurst)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Post("/control/{action}", s.handleControl)

		r.Route("/intents", func(r chi.Router) {
			r.With(s.limit).Post("/", s.handleSubmitIntent)
			r.Get("/", s.handleQueuedIntents)
			r.Get("/{id}", s.handleGetIntent)
			r.Post("/{id}/confirm", s.handleConfirm)
			r.Post("/{id}/reject", s.handleReject)
		})
		r.Get("/confirmations", s.handleConfirmations)
		r.With(s.limit).Post("/plan", s.handlePlan)

		r.Route("/goals", func(r chi.Router) {
			r.Get("/", s.handleListGoals)
			r.Post("/", s.handleCreateGoal)
			r.Get("/suggestions", s.handleGoalSuggestions)
			r.Get("/{id}", s.handleGetGoal)
			r.Patch("/{id}", s.handleUpdateGoal)
			r.Post("/{id}/{action}", s.handleGoalAction)
		})

		r.Route("/memories", func(r chi.Router) {
			r.Get("/", s.handleListMemories)
			r.Post("/", s.handleRemember)
			r.Get("/recall", s.handleRecall)
			r.Get("/stats", s.handleMemoryStats)
			r.Get("/{id}", s.handleGetMemory)
			r.Delete("/{id}", s.handleForget)
			r.Post("/{id}/reinforce", s.handleReinforce)
		})

		r.Get("/history", s.handleHistory)
		r.Get("/changes", s.handleChanges)
		r.Get("/indicators", s.handleIndicators)
		r.Get("/world", s.handleGetWorld)
		r.Put("/world", s.handlePutWorld)

		r.Get("/preferences", s.handleGetPreferences)
		r.Patch("/preferences", s.handlePatchPreferences)
		r.Get("/permissions", s.handleListPermissions)
		r.Post("/permissions", s.handleGrantPermission)
		r.Delete("/permissions/{id}", s.handleRevokePermission)

		r.Get("/events", s.handleEvents)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.DB.Ping() == nil
	health := s.Orchestrator.Health()

	status := "ok"
	if !dbOK || !health.Healthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"version":      s.opts.Version,
		"uptime":       time.Since(s.started).Seconds(),
		"db":           dbOK,
		"db_path":      s.DB.Path,
		"orchestrator": health,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Orchestrator.Status())
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := chi.URLParam(r, "action"); action {
	case "start":
		err = s.Orchestrator.Start(context.WithoutCancel(r.Context()))
	case "stop":
		err = s.Orchestrator.Stop()
	case "pause":
		err = s.Orchestrator.Pause()
	case "resume":
		err = s.Orchestrator.Resume()
	default:
		writeJSON(w, http.StatusBadRequest, APIError{Code: -1, Message: "unknown action " + strconv.Quote(action)})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.Orchestrator.State()})
}

// APIError is the JSON error body.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps coded errors to HTTP statuses; anything else is a 500.
func writeError(w http.ResponseWriter, err error) {
	var derr *domain.Error
	if errors.As(err, &derr) {
		writeJSON(w, statusFor(derr), APIError{Code: derr.Code, Message: derr.Message})
		return
	}
	if errors.Is(err, planner.ErrEmptyRequest) {
		writeJSON(w, http.StatusBadRequest, APIError{Code: -1, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func statusFor(err *domain.Error) int {
	switch err.Code {
	case domain.ErrIntentNotFound.Code, domain.ErrConfirmationNotFound.Code,
		domain.ErrGoalNotFound.Code, domain.ErrMemoryNotFound.Code:
		return http.StatusNotFound
	case domain.ErrConfirmationExpired.Code:
		return http.StatusGone
	case domain.ErrInvalidState.Code:
		return http.StatusConflict
	case domain.ErrIntentDenied.Code:
		return http.StatusForbidden
	case domain.ErrUnknownTool.Code, domain.ErrInvalidParams.Code,
		domain.ErrGoalInvalid.Code, domain.ErrMemoryInvalid.Code:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, APIError{Code: -1, Message: msg})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid json")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// userID reads ?user=, falling back to the orchestrator's user.
func (s *Server) userID(r *http.Request) string {
	if u := r.URL.Query().Get("user"); u != "" {
		return u
	}
	return s.Orchestrator.UserID()
}
