package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/orchestrator"
	"github.com/lazypower/aide/internal/planner"
	"github.com/lazypower/aide/internal/value"
)

type submitRequest struct {
	UserID           string        `json:"user_id"`
	ToolName         string        `json:"tool_name"`
	Params           value.Object  `json:"params"`
	Source           domain.Source `json:"source"`
	Priority         int           `json:"priority"`
	Confidence       *float64      `json:"confidence"`
	Immediate        bool          `json:"immediate"`
	GoalID           string        `json:"goal_id"`
	ExpiresInSeconds int           `json:"expires_in_seconds"`
}

func (s *Server) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.ToolName == "" {
		badRequest(w, "tool_name required")
		return
	}

	out, err := s.Orchestrator.SubmitRequest(r.Context(), orchestrator.Request{
		UserID:     req.UserID,
		ToolName:   req.ToolName,
		Params:     req.Params,
		Source:     req.Source,
		Priority:   req.Priority,
		Confidence: req.Confidence,
		Immediate:  req.Immediate,
		GoalID:     req.GoalID,
		ExpiresIn:  time.Duration(req.ExpiresInSeconds) * time.Second,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, outcomeStatus(out), out)
}

// outcomeStatus answers 202 while the intent is still in flight.
func outcomeStatus(out orchestrator.Outcome) int {
	switch out.Status {
	case orchestrator.StatusQueued, orchestrator.StatusAwaiting:
		return http.StatusAccepted
	}
	return http.StatusOK
}

func (s *Server) handleQueuedIntents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Orchestrator.QueuedIntents())
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := s.Transparency.ForIntent(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if entry == nil {
		writeError(w, domain.ErrIntentNotFound.Wrap(id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history": entry,
		"changes": s.Snapshots.ChangesFor(id),
	})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	out, err := s.Orchestrator.ConfirmAction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	out, err := s.Orchestrator.RejectAction(chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConfirmations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Orchestrator.PendingConfirmations())
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if s.Planner == nil {
		writeJSON(w, http.StatusServiceUnavailable, APIError{Code: -1, Message: "no llm provider configured"})
		return
	}
	var in planner.Input
	if err := decode(r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}
	plan, err := s.Planner.Plan(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}
