// Package client is the HTTP client the CLI uses to talk to a running
// aide server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/aide/internal/goals"
	"github.com/lazypower/aide/internal/memory"
	"github.com/lazypower/aide/internal/orchestrator"
	"github.com/lazypower/aide/internal/planner"
	"github.com/lazypower/aide/internal/store"
	"github.com/lazypower/aide/internal/value"
)

const (
	DefaultURL  = "http://127.0.0.1:37778"
	httpTimeout = 30 * time.Second
)

// Error is a non-2xx answer from the server.
type Error struct {
	Status  int
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("server: %s (code %d, status %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("server: %s (status %d)", e.Message, e.Status)
}

// Client talks to the aide server.
type Client struct {
	http    *http.Client
	baseURL string
}

// New creates a client for baseURL; empty uses DefaultURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		http:    &http.Client{Timeout: httpTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Do sends in as JSON (when non-nil) and decodes the reply into out (when non-nil).
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		e := &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			e.Code, e.Message = apiErr.Code, apiErr.Message
		}
		return e
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.Do(ctx, http.MethodGet, "/api/health", nil, nil) == nil
}

// Health returns the server's health document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, c.Do(ctx, http.MethodGet, "/api/health", nil, &out)
}

// Status returns the orchestrator status.
func (c *Client) Status(ctx context.Context) (*orchestrator.Status, error) {
	var out orchestrator.Status
	if err := c.Do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Control runs start, stop, pause or resume and returns the new state.
func (c *Client) Control(ctx context.Context, action string) (string, error) {
	var out struct {
		State string `json:"state"`
	}
	err := c.Do(ctx, http.MethodPost, "/api/control/"+url.PathEscape(action), nil, &out)
	return out.State, err
}

// SubmitInput is an intent submission.
type SubmitInput struct {
	UserID           string       `json:"user_id,omitempty"`
	ToolName         string       `json:"tool_name"`
	Params           value.Object `json:"params,omitempty"`
	Priority         int          `json:"priority,omitempty"`
	Confidence       *float64     `json:"confidence,omitempty"`
	Immediate        bool         `json:"immediate,omitempty"`
	GoalID           string       `json:"goal_id,omitempty"`
	ExpiresInSeconds int          `json:"expires_in_seconds,omitempty"`
}

// Submit proposes one intent.
func (c *Client) Submit(ctx context.Context, in SubmitInput) (*orchestrator.Outcome, error) {
	var out orchestrator.Outcome
	if err := c.Do(ctx, http.MethodPost, "/api/intents", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Confirm approves a pending intent.
func (c *Client) Confirm(ctx context.Context, intentID string) (*orchestrator.Outcome, error) {
	var out orchestrator.Outcome
	if err := c.Do(ctx, http.MethodPost, "/api/intents/"+url.PathEscape(intentID)+"/confirm", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reject declines a pending intent.
func (c *Client) Reject(ctx context.Context, intentID, reason string) (*orchestrator.Outcome, error) {
	var out orchestrator.Outcome
	in := map[string]string{"reason": reason}
	if err := c.Do(ctx, http.MethodPost, "/api/intents/"+url.PathEscape(intentID)+"/reject", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pending lists confirmations waiting for the user.
func (c *Client) Pending(ctx context.Context) ([]orchestrator.Pending, error) {
	var out []orchestrator.Pending
	return out, c.Do(ctx, http.MethodGet, "/api/confirmations", nil, &out)
}

// Plan sends a natural-language request to the planner.
func (c *Client) Plan(ctx context.Context, in planner.Input) (*planner.Plan, error) {
	var out planner.Plan
	if err := c.Do(ctx, http.MethodPost, "/api/plan", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateGoal stores a new goal.
func (c *Client) CreateGoal(ctx context.Context, in goals.CreateInput) (*goals.Goal, error) {
	var out goals.Goal
	if err := c.Do(ctx, http.MethodPost, "/api/goals", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Goals lists goals, optionally filtered by status.
func (c *Client) Goals(ctx context.Context, statuses ...store.GoalStatus) ([]goals.Goal, error) {
	q := url.Values{}
	for _, s := range statuses {
		q.Add("status", string(s))
	}
	path := "/api/goals"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []goals.Goal
	return out, c.Do(ctx, http.MethodGet, path, nil, &out)
}

// GoalAction runs complete, pause, resume, abandon or touch on a goal.
func (c *Client) GoalAction(ctx context.Context, id, action string) (*goals.Goal, error) {
	var out goals.Goal
	if err := c.Do(ctx, http.MethodPost, "/api/goals/"+url.PathEscape(id)+"/"+url.PathEscape(action), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Remember stores a memory; the bool reports a duplicate.
func (c *Client) Remember(ctx context.Context, in memory.RememberInput) (*memory.Memory, bool, error) {
	var out struct {
		Memory    memory.Memory `json:"memory"`
		Duplicate bool          `json:"duplicate"`
	}
	if err := c.Do(ctx, http.MethodPost, "/api/memories", in, &out); err != nil {
		return nil, false, err
	}
	return &out.Memory, out.Duplicate, nil
}

// Recall ranks memories against query.
func (c *Client) Recall(ctx context.Context, query string, limit int) ([]memory.Scored, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []memory.Scored
	return out, c.Do(ctx, http.MethodGet, "/api/memories/recall?"+q.Encode(), nil, &out)
}

// History lists recent action history.
func (c *Client) History(ctx context.Context, limit int) ([]store.HistoryEntry, error) {
	var out []store.HistoryEntry
	return out, c.Do(ctx, http.MethodGet, "/api/history?limit="+strconv.Itoa(limit), nil, &out)
}

// Watch streams server-sent events to fn until ctx ends or the stream closes.
func (c *Client) Watch(ctx context.Context, types []string, fn func(orchestrator.Event)) error {
	q := url.Values{}
	for _, t := range types {
		q.Add("type", t)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	stream := &http.Client{Transport: c.http.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Error{Status: resp.StatusCode, Message: "event stream refused"}
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev orchestrator.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		fn(ev)
	}
	if ctx.Err() != nil {
		return nil
	}
	return sc.Err()
}
