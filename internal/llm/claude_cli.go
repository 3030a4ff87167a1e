package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const claudeCLITimeout = 2 * time.Minute

// ClaudeCLI runs `claude -p` as a one-shot subprocess.
type ClaudeCLI struct {
	bin     string
	model   string
	timeout time.Duration
}

func NewClaudeCLI(model string) *ClaudeCLI {
	return &ClaudeCLI{bin: "claude", model: model, timeout: claudeCLITimeout}
}

// cliEnvelope is the --output-format json result document.
type cliEnvelope struct {
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *ClaudeCLI) Complete(ctx context.Context, r Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.bin, c.args(r)...)
	cmd.Stdin = strings.NewReader(r.Prompt)
	cmd.Env = filterEnv(os.Environ())

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("claude cli: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("claude cli: %w", err)
	}
	return parseCLIOutput(out)
}

func (c *ClaudeCLI) args(r Request) []string {
	args := []string{"-p", "--output-format", "json", "--max-turns", "1"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	if r.System != "" {
		args = append(args, "--append-system-prompt", r.System)
	}
	return args
}

// parseCLIOutput accepts the JSON envelope and falls back to plain text
// from older CLI versions.
func parseCLIOutput(out []byte) (*Response, error) {
	resp := &Response{Provider: "claude-cli"}
	var env cliEnvelope
	if err := json.Unmarshal(out, &env); err != nil {
		resp.Content = strings.TrimSpace(string(out))
		return resp, nil
	}
	if env.IsError {
		return nil, fmt.Errorf("claude cli: %s", env.Result)
	}
	resp.Content = strings.TrimSpace(env.Result)
	resp.TokensUsed = env.Usage.InputTokens + env.Usage.OutputTokens
	return resp, nil
}

// filterEnv drops CLAUDE_* variables so the child does not attach to the
// caller's session.
func filterEnv(env []string) []string {
	kept := env[:0:0]
	for _, kv := range env {
		if name, _, _ := strings.Cut(kv, "="); !strings.HasPrefix(name, "CLAUDE_") {
			kept = append(kept, kv)
		}
	}
	return kept
}
