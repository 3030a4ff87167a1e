package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/goals"
	"github.com/lazypower/aide/internal/memory"
	"github.com/lazypower/aide/internal/store"
)

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	var statuses []store.GoalStatus
	for _, st := range r.URL.Query()["status"] {
		statuses = append(statuses, store.GoalStatus(st))
	}
	list, err := s.Goals.List(s.userID(r), statuses...)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []goals.Goal{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var in goals.CreateInput
	if err := decode(r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}
	g, err := s.Orchestrator.CreateGoal(in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGoalSuggestions(w http.ResponseWriter, r *http.Request) {
	list, err := s.Goals.Suggestions(s.userID(r), queryInt(r, "limit", 3))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []goals.Goal{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	g, err := s.Goals.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	var in goals.UpdateInput
	if err := decode(r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}
	g, err := s.Goals.Update(chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleGoalAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Blocker string `json:"blocker"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	var (
		g   *goals.Goal
		err error
	)
	switch action := chi.URLParam(r, "action"); action {
	case "complete":
		g, err = s.Goals.Complete(id)
	case "pause":
		g, err = s.Goals.Pause(id)
	case "resume":
		g, err = s.Goals.Resume(id)
	case "abandon":
		g, err = s.Goals.Abandon(id)
	case "touch":
		g, err = s.Goals.RecordInteraction(id)
	case "block":
		g, err = s.Goals.AddBlocker(id, req.Blocker)
	case "unblock":
		g, err = s.Goals.RemoveBlocker(id, req.Blocker)
	default:
		badRequest(w, "unknown goal action "+action)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.Memory.List(store.MemoryFilter{
		UserID:   s.userID(r),
		Type:     store.MemoryType(q.Get("type")),
		Category: q.Get("category"),
		Limit:    queryInt(r, "limit", 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []memory.Memory{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var in memory.RememberInput
	if err := decode(r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}
	if in.UserID == "" {
		in.UserID = s.Orchestrator.UserID()
	}
	m, dup, err := s.Memory.Remember(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if dup {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"memory": m, "duplicate": dup})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		badRequest(w, "q required")
		return
	}
	results, err := s.Memory.Recall(r.Context(), query, memory.RecallOptions{
		UserID:   s.userID(r),
		Limit:    queryInt(r, "limit", 0),
		Type:     store.MemoryType(r.URL.Query().Get("type")),
		Category: r.URL.Query().Get("category"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []memory.Scored{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Memory.Stats(s.userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	m, err := s.Memory.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	if err := s.Memory.Forget(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReinforce(w http.ResponseWriter, r *http.Request) {
	m, err := s.Memory.Reinforce(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Transparency.History(s.userID(r), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []store.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if action := r.URL.Query().Get("action"); action != "" {
		writeJSON(w, http.StatusOK, s.Snapshots.ChangesFor(action))
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshots.Changes(queryInt(r, "limit", 50)))
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active": s.Transparency.ActiveIndicators(),
		"recent": s.Transparency.RecentIndicators(),
	})
}

func (s *Server) handleGetWorld(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Orchestrator.World())
}

// handlePutWorld replaces the static perception. The orchestrator sees it
// on its next perception tick.
func (s *Server) handlePutWorld(w http.ResponseWriter, r *http.Request) {
	if s.World == nil {
		writeJSON(w, http.StatusConflict, APIError{Code: -1, Message: "perception is read from a feed"})
		return
	}
	var ws domain.WorldState
	if err := decode(r, &ws); err != nil {
		badRequest(w, err.Error())
		return
	}
	s.World.Set(ws)
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := s.Prefs.Get(s.userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePatchPreferences(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		badRequest(w, "read body failed")
		return
	}
	p, err := s.Prefs.Patch(s.userID(r), body)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := s.Transparency.ActivePermissions(s.userID(r), r.URL.Query().Get("tool"))
	if err != nil {
		writeError(w, err)
		return
	}
	if perms == nil {
		perms = []store.Permission{}
	}
	writeJSON(w, http.StatusOK, perms)
}

func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string                `json:"user_id"`
		ToolName string                `json:"tool_name"`
		Scope    store.PermissionScope `json:"scope"`
		Reason   string                `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.UserID == "" {
		req.UserID = s.Orchestrator.UserID()
	}
	p, err := s.Transparency.Grant(req.UserID, req.ToolName, req.Scope, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	if err := s.Transparency.Revoke(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
