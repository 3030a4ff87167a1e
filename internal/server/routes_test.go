package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/goals"
	"github.com/lazypower/aide/internal/planner"
	"github.com/lazypower/aide/internal/prefs"
	"github.com/lazypower/aide/internal/snapshot"
	"github.com/lazypower/aide/internal/store"
)

func TestGoalRoutes(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, "POST", "/api/goals", `{"description":"learn piano","priority":7,"steps":["find an instructor"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	g := decodeBody[goals.Goal](t, w)
	assert.Equal(t, "u1", g.UserID)
	assert.Equal(t, store.GoalActive, g.Status)

	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, "POST", "/api/goals", `{"description":"  "}`).Code)

	list := decodeBody[[]goals.Goal](t, env.do(t, "GET", "/api/goals?status=active", ""))
	require.Len(t, list, 1)

	w = env.do(t, "PATCH", "/api/goals/"+g.ID, `{"progress":40}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 40, decodeBody[goals.Goal](t, w).Progress)

	w = env.do(t, "POST", "/api/goals/"+g.ID+"/block", `{"blocker":"no piano"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"no piano"}, decodeBody[goals.Goal](t, w).Blockers)

	w = env.do(t, "POST", "/api/goals/"+g.ID+"/complete", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, store.GoalCompleted, decodeBody[goals.Goal](t, w).Status)

	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, "POST", "/api/goals/"+g.ID+"/pause", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, "POST", "/api/goals/"+g.ID+"/fly", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/goals/missing", "").Code)

	assert.Empty(t, decodeBody[[]goals.Goal](t, env.do(t, "GET", "/api/goals/suggestions", "")))
}

func TestMemoryRoutes(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, "POST", "/api/memories", `{"content":"The wifi password is on the fridge","type":"long_term","importance":8}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody[struct {
		Memory    store.Memory `json:"memory"`
		Duplicate bool         `json:"duplicate"`
	}](t, w)
	assert.False(t, created.Duplicate)
	assert.Equal(t, "u1", created.Memory.UserID)

	w = env.do(t, "POST", "/api/memories", `{"content":"the WiFi password is on the fridge","type":"long_term"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	results := decodeBody[[]map[string]any](t, env.do(t, "GET", "/api/memories/recall?q=wifi+password", ""))
	require.Len(t, results, 1)

	assert.Equal(t, http.StatusBadRequest, env.do(t, "GET", "/api/memories/recall", "").Code)

	list := decodeBody[[]store.Memory](t, env.do(t, "GET", "/api/memories", ""))
	require.Len(t, list, 1)

	w = env.do(t, "POST", "/api/memories/"+created.Memory.ID+"/reinforce", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stats := decodeBody[map[string]any](t, env.do(t, "GET", "/api/memories/stats", ""))
	assert.EqualValues(t, 1, stats["total"])

	assert.Equal(t, http.StatusNoContent, env.do(t, "DELETE", "/api/memories/"+created.Memory.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/memories/"+created.Memory.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "DELETE", "/api/memories/"+created.Memory.ID, "").Code)
}

func TestPreferencesAndPermissions(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.start(t)

	p := decodeBody[prefs.Preferences](t, env.do(t, "GET", "/api/preferences", ""))
	assert.Equal(t, prefs.RiskBalanced, p.RiskTolerance)

	w := env.do(t, "PATCH", "/api/preferences", `{"autonomy":{"denied_actions":["getTime"],"learn_patterns":true}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, http.StatusBadRequest, env.do(t, "PATCH", "/api/preferences", `{"risk_tolerance":"yolo"}`).Code)

	w = env.do(t, "POST", "/api/intents", `{"tool_name":"getTime","immediate":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"denied"`)

	w = env.do(t, "POST", "/api/permissions", `{"tool_name":"setTimer","scope":"deny","reason":"kids"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	perm := decodeBody[store.Permission](t, w)
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, "POST", "/api/permissions", `{"tool_name":"setTimer","scope":"maybe"}`).Code)

	perms := decodeBody[[]store.Permission](t, env.do(t, "GET", "/api/permissions?tool=setTimer", ""))
	require.Len(t, perms, 1)

	w = env.do(t, "POST", "/api/intents", `{"tool_name":"setTimer","params":{"durationSeconds":60},"immediate":true}`)
	assert.Contains(t, w.Body.String(), "kids")

	assert.Equal(t, http.StatusNoContent, env.do(t, "DELETE", "/api/permissions/"+perm.ID, "").Code)
	assert.Empty(t, decodeBody[[]store.Permission](t, env.do(t, "GET", "/api/permissions", "")))
}

func TestWorldHistoryAndChanges(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, "PUT", "/api/world", `{"time_of_day":"evening","user":{"mode":"focus","state":"focused","present":true}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env.start(t)
	world := decodeBody[domain.WorldState](t, env.do(t, "GET", "/api/world", ""))
	assert.Equal(t, "evening", world.TimeOfDay)
	assert.Equal(t, "focus", world.User.Mode)
	assert.Contains(t, world.Devices.Keys(), "lights")

	w = env.do(t, "POST", "/api/intents", `{"tool_name":"turnOnLights","params":{"room":"kitchen"},"immediate":true}`)
	require.Contains(t, []int{http.StatusOK, http.StatusAccepted}, w.Code, w.Body.String())

	history := decodeBody[[]store.HistoryEntry](t, env.do(t, "GET", "/api/history?limit=10", ""))
	require.Len(t, history, 1)
	assert.Equal(t, "turnOnLights", history[0].ToolName)

	changes := decodeBody[[]snapshot.ChangeRecord](t, env.do(t, "GET", "/api/changes", ""))
	if history[0].Status == store.HistorySucceeded {
		require.Len(t, changes, 1)
	}

	ind := decodeBody[map[string]any](t, env.do(t, "GET", "/api/indicators", ""))
	assert.Contains(t, ind, "active")
	assert.Contains(t, ind, "recent")
}

func TestPlanRoute(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.start(t)
	env.llm.Responses = []string{`{"reply":"It's nine.","intents":[{"tool":"getTime","params":{},"confidence":0.95}]}`}

	w := env.do(t, "POST", "/api/plan", `{"text":"what time is it?","immediate":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	plan := decodeBody[planner.Plan](t, w)
	assert.Equal(t, "It's nine.", plan.Reply)
	require.Len(t, plan.Outcomes, 1)
	assert.Equal(t, "succeeded", plan.Outcomes[0].Status)

	assert.Equal(t, http.StatusBadRequest, env.do(t, "POST", "/api/plan", `{"text":""}`).Code)

	env.srv.Planner = nil
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, "POST", "/api/plan", `{"text":"hi"}`).Code)
}
