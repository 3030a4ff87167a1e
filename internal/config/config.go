package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AIDE_SERVER_PORT.
const EnvPrefix = "AIDE"

// Config holds all aide configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Database     DatabaseConfig     `yaml:"database" mapstructure:"database"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Interruption InterruptionConfig `yaml:"interruption" mapstructure:"interruption"`
	Memory       MemoryConfig       `yaml:"memory" mapstructure:"memory"`
	Snapshot     SnapshotConfig     `yaml:"snapshot" mapstructure:"snapshot"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Bind      string  `yaml:"bind" mapstructure:"bind"`
	Port      int     `yaml:"port" mapstructure:"port"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // intent submissions per second per client
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // empty: ~/.aide/aide.db
}

type LLMConfig struct {
	Provider       string `yaml:"provider" mapstructure:"provider"` // "none", "ollama", "anthropic", "claude-cli"
	Model          string `yaml:"model" mapstructure:"model"`
	OllamaURL      string `yaml:"ollama_url" mapstructure:"ollama_url"`
	OllamaModel    string `yaml:"ollama_model" mapstructure:"ollama_model"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"` // e.g. "nomic-embed-text"
	AnthropicKey   string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
}

type OrchestratorConfig struct {
	UserID              string        `yaml:"user_id" mapstructure:"user_id"`
	PerceptionInterval  time.Duration `yaml:"perception_interval" mapstructure:"perception_interval"`
	CognitionInterval   time.Duration `yaml:"cognition_interval" mapstructure:"cognition_interval"`
	ActionInterval      time.Duration `yaml:"action_interval" mapstructure:"action_interval"`
	DecayInterval       time.Duration `yaml:"decay_interval" mapstructure:"decay_interval"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	SuggestionInterval  time.Duration `yaml:"suggestion_interval" mapstructure:"suggestion_interval"`
	IntentTTL           time.Duration `yaml:"intent_ttl" mapstructure:"intent_ttl"`
	ConfirmationTTL     time.Duration `yaml:"confirmation_ttl" mapstructure:"confirmation_ttl"`
	QueueLimit          int           `yaml:"queue_limit" mapstructure:"queue_limit"`
	PerceptionFeed      string        `yaml:"perception_feed" mapstructure:"perception_feed"` // JSONL file; empty uses static perception
	Rooms               []string      `yaml:"rooms" mapstructure:"rooms"`
}

type InterruptionConfig struct {
	MaxPerHour      int           `yaml:"max_per_hour" mapstructure:"max_per_hour"`
	Cooldown        time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
	FocusProtection time.Duration `yaml:"focus_protection" mapstructure:"focus_protection"`
}

type MemoryConfig struct {
	MinStrength    float64 `yaml:"min_strength" mapstructure:"min_strength"`
	DedupThreshold float64 `yaml:"dedup_threshold" mapstructure:"dedup_threshold"`
	RecallLimit    int     `yaml:"recall_limit" mapstructure:"recall_limit"`
}

type SnapshotConfig struct {
	MaxSnapshots int `yaml:"max_snapshots" mapstructure:"max_snapshots"`
	MaxChanges   int `yaml:"max_changes" mapstructure:"max_changes"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:      "127.0.0.1",
			Port:      37778,
			RateLimit: 5,
			RateBurst: 10,
		},
		LLM: LLMConfig{
			Provider:    "none",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.2",
		},
		Orchestrator: OrchestratorConfig{
			UserID:             "default",
			PerceptionInterval: 500 * time.Millisecond,
			CognitionInterval:  time.Second,
			ActionInterval:     100 * time.Millisecond,
			DecayInterval:      5 * time.Minute,
			HeartbeatInterval:  30 * time.Second,
			SuggestionInterval: 10 * time.Minute,
			IntentTTL:          10 * time.Minute,
			ConfirmationTTL:    2 * time.Minute,
			QueueLimit:         256,
			Rooms:              []string{"living room", "kitchen", "bedroom", "office"},
		},
		Interruption: InterruptionConfig{
			MaxPerHour:      10,
			Cooldown:        30 * time.Second,
			FocusProtection: 15 * time.Minute,
		},
		Memory: MemoryConfig{
			MinStrength:    0.1,
			DedupThreshold: 0.95,
			RecallLimit:    5,
		},
		Snapshot: SnapshotConfig{
			MaxSnapshots: 100,
			MaxChanges:   500,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if it exists), then AIDE_* environment variables. An empty path
// tries DefaultPath.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var pathErr *fs.PathError
			if explicit || !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes a YAML document over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	switch c.LLM.Provider {
	case "", "none", "ollama", "anthropic", "claude-cli":
	default:
		return fmt.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log.format %q: want text or json", c.Log.Format)
	}
	if c.Memory.DedupThreshold < 0 || c.Memory.DedupThreshold > 1 {
		return fmt.Errorf("config: memory.dedup_threshold must be within [0, 1]")
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteFile writes the configuration as YAML, creating parent directories.
// An existing file is left alone unless force is set.
func (c *Config) WriteFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// DefaultPath returns ~/.aide/config.yaml, or "" without a home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aide", "config.yaml")
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.ollama_url", d.LLM.OllamaURL)
	v.SetDefault("llm.ollama_model", d.LLM.OllamaModel)
	v.SetDefault("llm.embedding_model", d.LLM.EmbeddingModel)
	v.SetDefault("llm.anthropic_key", d.LLM.AnthropicKey)

	o := d.Orchestrator
	v.SetDefault("orchestrator.user_id", o.UserID)
	v.SetDefault("orchestrator.perception_interval", o.PerceptionInterval)
	v.SetDefault("orchestrator.cognition_interval", o.CognitionInterval)
	v.SetDefault("orchestrator.action_interval", o.ActionInterval)
	v.SetDefault("orchestrator.decay_interval", o.DecayInterval)
	v.SetDefault("orchestrator.heartbeat_interval", o.HeartbeatInterval)
	v.SetDefault("orchestrator.suggestion_interval", o.SuggestionInterval)
	v.SetDefault("orchestrator.intent_ttl", o.IntentTTL)
	v.SetDefault("orchestrator.confirmation_ttl", o.ConfirmationTTL)
	v.SetDefault("orchestrator.queue_limit", o.QueueLimit)
	v.SetDefault("orchestrator.perception_feed", o.PerceptionFeed)
	v.SetDefault("orchestrator.rooms", o.Rooms)

	v.SetDefault("interruption.max_per_hour", d.Interruption.MaxPerHour)
	v.SetDefault("interruption.cooldown", d.Interruption.Cooldown)
	v.SetDefault("interruption.focus_protection", d.Interruption.FocusProtection)

	v.SetDefault("memory.min_strength", d.Memory.MinStrength)
	v.SetDefault("memory.dedup_threshold", d.Memory.DedupThreshold)
	v.SetDefault("memory.recall_limit", d.Memory.RecallLimit)

	v.SetDefault("snapshot.max_snapshots", d.Snapshot.MaxSnapshots)
	v.SetDefault("snapshot.max_changes", d.Snapshot.MaxChanges)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
