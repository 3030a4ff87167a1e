// Package llm talks to the language model that turns requests into
// proposed intents, and to the embedding model used by memory recall.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/lazypower/aide/internal/config"
)

// ErrNoProvider is returned by NewClient when no model is configured.
var ErrNoProvider = errors.New("llm: no provider configured")

// Client is the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is one system + user prompt exchange.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
	JSON      bool // ask for a bare JSON reply where the provider supports it
}

func (r Request) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return 1024
}

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// NewClient creates an LLM client based on the config provider setting.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, ErrNoProvider
	case "claude-cli":
		model := cfg.Model
		if model == "" {
			model = "haiku"
		}
		return NewClaudeCLI(model), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires llm.anthropic_key or AIDE_LLM_ANTHROPIC_KEY")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return NewAnthropic(cfg.AnthropicKey, model), nil
	case "ollama":
		return NewOllama(ollamaURL(cfg), ollamaModel(cfg)), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}

// NewEmbedder returns an Ollama embedder when an embedding model is
// configured, or nil when recall should fall back to local TF-IDF vectors.
func NewEmbedder(cfg config.LLMConfig) *OllamaEmbedder {
	if cfg.EmbeddingModel == "" {
		return nil
	}
	return NewOllamaEmbedder(ollamaURL(cfg), cfg.EmbeddingModel)
}

func ollamaURL(cfg config.LLMConfig) string {
	if cfg.OllamaURL == "" {
		return "http://localhost:11434"
	}
	return cfg.OllamaURL
}

func ollamaModel(cfg config.LLMConfig) string {
	if cfg.OllamaModel != "" {
		return cfg.OllamaModel
	}
	if cfg.Model != "" {
		return cfg.Model
	}
	return "llama3.2"
}
