package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lazypower/aide/internal/config"
	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/value"
)

func TestNewClientProviders(t *testing.T) {
	tests := []struct {
		cfg  config.LLMConfig
		want string
	}{
		{config.LLMConfig{Provider: "claude-cli", Model: "haiku"}, "*llm.ClaudeCLI"},
		{config.LLMConfig{Provider: "anthropic", AnthropicKey: "test-key"}, "*llm.Anthropic"},
		{config.LLMConfig{Provider: "ollama", OllamaModel: "llama3.2"}, "*llm.Ollama"},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Provider, func(t *testing.T) {
			client, err := NewClient(tt.cfg)
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if got := typeName(client); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(c Client) string {
	switch c.(type) {
	case *ClaudeCLI:
		return "*llm.ClaudeCLI"
	case *Anthropic:
		return "*llm.Anthropic"
	case *Ollama:
		return "*llm.Ollama"
	}
	return "?"
}

func TestNewClientErrors(t *testing.T) {
	if _, err := NewClient(config.LLMConfig{Provider: "none"}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("none: err = %v, want ErrNoProvider", err)
	}
	if _, err := NewClient(config.LLMConfig{}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("empty: err = %v, want ErrNoProvider", err)
	}
	if _, err := NewClient(config.LLMConfig{Provider: "anthropic"}); err == nil {
		t.Error("expected error for missing API key")
	}
	if _, err := NewClient(config.LLMConfig{Provider: "gpt"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewEmbedder(t *testing.T) {
	if e := NewEmbedder(config.LLMConfig{}); e != nil {
		t.Error("expected nil embedder without a model")
	}
	e := NewEmbedder(config.LLMConfig{EmbeddingModel: "nomic-embed-text"})
	if e == nil || e.Model() != "ollama:nomic-embed-text" {
		t.Errorf("unexpected embedder %+v", e)
	}
}

func TestOllamaChat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":{"role":"assistant","content":"{\"reply\":\"ok\"}"},"prompt_eval_count":10,"eval_count":5}`))
	}))
	defer srv.Close()

	resp, err := NewOllama(srv.URL, "llama3.2").Complete(context.Background(), Request{System: "sys", Prompt: "hi", JSON: true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"reply":"ok"}` || resp.TokensUsed != 15 || resp.Provider != "ollama" {
		t.Errorf("unexpected response %+v", resp)
	}
	if got["format"] != "json" {
		t.Errorf("format = %v, want json", got["format"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %v", got["messages"])
	}
	if first := msgs[0].(map[string]any); first["role"] != "system" || first["content"] != "sys" {
		t.Errorf("first message = %v", first)
	}
}

func TestOllamaStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "missing").Complete(context.Background(), Request{Prompt: "hi"})
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Errorf("err = %v, want status 404", err)
	}
}

func TestOllamaEmbedAndPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"nomic-embed-text:latest"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "nomic-embed-text")
	vec, err := e.Embed(context.Background(), "turn on the lights")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v", vec)
	}
	if err := e.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := NewOllama(srv.URL, "llama3.2").Ping(context.Background()); err == nil {
		t.Error("expected missing chat model to fail the probe")
	}
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["system"] != "sys" {
			t.Errorf("system = %v", body["system"])
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"hello"}],"usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer srv.Close()

	a := NewAnthropic("k", "claude-haiku-4-5-20251001")
	a.endpoint = srv.URL
	resp, err := a.Complete(context.Background(), Request{System: "sys", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hello" || resp.TokensUsed != 5 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestFilterEnv(t *testing.T) {
	env := []string{
		"HOME=/home/user",
		"CLAUDE_SESSION_ID=abc123",
		"CLAUDE_TRANSCRIPT=/tmp/t.jsonl",
		"PATH=/usr/bin",
	}
	filtered := filterEnv(env)
	if len(filtered) != 2 {
		t.Errorf("expected 2 vars, got %d: %v", len(filtered), filtered)
	}
	for _, e := range filtered {
		if strings.HasPrefix(e, "CLAUDE_") {
			t.Errorf("CLAUDE_ var not filtered: %s", e)
		}
	}
}

func TestParseCLIOutput(t *testing.T) {
	resp, err := parseCLIOutput([]byte(`{"result":" done \n","is_error":false,"usage":{"input_tokens":12,"output_tokens":3}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Content != "done" || resp.TokensUsed != 15 || resp.Provider != "claude-cli" {
		t.Errorf("resp = %+v", resp)
	}

	resp, err = parseCLIOutput([]byte("plain text answer\n"))
	if err != nil || resp.Content != "plain text answer" {
		t.Errorf("plain fallback = %+v, %v", resp, err)
	}

	if _, err := parseCLIOutput([]byte(`{"result":"rate limited","is_error":true}`)); err == nil {
		t.Error("expected error envelope to fail")
	}
}

func TestClaudeCLIArgs(t *testing.T) {
	c := NewClaudeCLI("haiku")
	args := strings.Join(c.args(Request{System: "be brief"}), " ")
	for _, want := range []string{"-p", "--output-format json", "--model haiku", "--append-system-prompt be brief"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
	if strings.Contains(strings.Join(NewClaudeCLI("").args(Request{}), " "), "--model") {
		t.Error("empty model should not pass --model")
	}
}

func TestPlanPrompt(t *testing.T) {
	pc := PlanContext{
		Tools: []domain.Capability{{
			Name:         "sendMessage",
			Category:     "communication",
			RiskLevel:    domain.RiskMedium,
			ParamsSchema: `{"type": "object",  "required": ["to"]}`,
		}},
		World: domain.WorldState{
			TimeOfDay: "evening",
			User:      domain.UserContext{Mode: "normal", Present: true},
			Devices:   value.Object{"lights": value.Obj(value.Object{})},
		},
		Goals:    []string{"plan the trip"},
		Memories: []string{"Mom's number is saved as mom"},
	}
	p := PlanPrompt(pc, "  text mom I'm late ")

	for _, want := range []string{
		"- sendMessage (communication, risk medium, irreversible)",
		`params: {"required":["to"],"type":"object"}`,
		"time of day: evening",
		"ACTIVE GOALS:\n- plan the trip",
		"RELEVANT MEMORIES:\n- Mom's number",
		"REQUEST:\ntext mom I'm late\n",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestMockClient(t *testing.T) {
	mock := &MockClient{Responses: []string{"first", "second"}}

	for _, want := range []string{"first", "second", "second"} {
		resp, err := mock.Complete(context.Background(), Request{Prompt: "p"})
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if resp.Content != want {
			t.Errorf("content = %q, want %q", resp.Content, want)
		}
	}
	if len(mock.Calls) != 3 {
		t.Errorf("expected 3 calls, got %d", len(mock.Calls))
	}

	mock.Err = errors.New("down")
	if _, err := mock.Complete(context.Background(), Request{}); err == nil {
		t.Error("expected error")
	}
}
