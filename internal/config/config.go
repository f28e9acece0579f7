// Package config handles configuration loading from environment variables,
// with an optional .env bootstrap.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProviderConfig holds endpoint and auth for one model family.
type ProviderConfig struct {
	APIBase string
	APIKey  string
	Model   string
}

// Enabled reports whether the provider has everything it needs. The
// reranker uses this to switch itself off when left unconfigured.
func (p ProviderConfig) Enabled() bool {
	return p.APIBase != "" && p.Model != ""
}

// Config is the root configuration structure, populated from the environment.
type Config struct {
	// Profile selects the state directory under DataDir.
	Profile string
	DataDir string

	Timezone *time.Location

	// Context window parameters.
	KeepMin            int
	TriggerSummary     int
	RecentSummariesMax int

	// Retrieval parameters.
	RecallSummaryPerQuery int
	RecallConvPerSummary  int
	RerankTopSummaries    int
	RerankTopConvs        int

	// Model families. Tool and Embedding fall back to Chat credentials
	// when their own are unset.
	Chat      ProviderConfig
	Tool      ProviderConfig
	Embedding ProviderConfig
	Rerank    ProviderConfig

	EmbeddingDimension int

	// Orchestrator and scheduler knobs.
	MaxToolRounds  int
	PollInterval   time.Duration
	RequestTimeout time.Duration

	// Transport.
	TelegramBotToken string
	TelegramUserID   int64

	// External tool servers.
	EnableMCP     bool
	MCPConfigPath string

	// Scheduler seed file override.
	ScheduledTasksConfigPath string

	// DebugMode raises log verbosity only; behavior is unchanged.
	DebugMode bool
}

// Load reads configuration from the environment. A .env file at the given
// path (or the working directory when empty) is merged first; real
// environment variables win over file entries.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		// A missing ./.env is fine.
		_ = godotenv.Load()
	}

	cfg := &Config{
		Profile:                  getenv("PROFILE", "default"),
		DataDir:                  getenv("DATA_DIR", "data"),
		KeepMin:                  getenvInt("CONTEXT_WINDOW_KEEP_MIN", 12),
		TriggerSummary:           getenvInt("CONTEXT_WINDOW_TRIGGER_SUMMARY", 24),
		RecentSummariesMax:       getenvInt("RECENT_SUMMARIES_MAX", 3),
		RecallSummaryPerQuery:    getenvInt("RECALL_SUMMARY_PER_QUERY", 3),
		RecallConvPerSummary:     getenvInt("RECALL_CONV_PER_SUMMARY", 4),
		RerankTopSummaries:       getenvInt("RERANK_TOP_SUMMARIES", 3),
		RerankTopConvs:           getenvInt("RERANK_TOP_CONVS", 6),
		EmbeddingDimension:       getenvInt("EMBEDDING_DIMENSION", 1536),
		MaxToolRounds:            getenvInt("MAX_TOOL_ROUNDS", 8),
		PollInterval:             time.Duration(getenvInt("SCHEDULER_POLL_INTERVAL", 10)) * time.Second,
		RequestTimeout:           time.Duration(getenvInt("REQUEST_TIMEOUT", 120)) * time.Second,
		TelegramBotToken:         os.Getenv("TELEGRAM_BOT_TOKEN"),
		EnableMCP:                getenvBool("ENABLE_MCP", false),
		MCPConfigPath:            os.Getenv("MCP_CONFIG_PATH"),
		ScheduledTasksConfigPath: os.Getenv("SCHEDULED_TASKS_CONFIG_PATH"),
		DebugMode:                getenvBool("DEBUG_MODE", false),
	}

	cfg.Chat = ProviderConfig{
		APIBase: getenv("CHAT_API_BASE", "https://api.openai.com/v1"),
		APIKey:  os.Getenv("CHAT_API_KEY"),
		Model:   getenv("CHAT_MODEL", "gpt-4o-mini"),
	}
	cfg.Tool = ProviderConfig{
		APIBase: getenv("TOOL_API_BASE", cfg.Chat.APIBase),
		APIKey:  getenv("TOOL_API_KEY", cfg.Chat.APIKey),
		Model:   getenv("TOOL_MODEL", cfg.Chat.Model),
	}
	cfg.Embedding = ProviderConfig{
		APIBase: getenv("EMBEDDING_API_BASE", cfg.Chat.APIBase),
		APIKey:  getenv("EMBEDDING_API_KEY", cfg.Chat.APIKey),
		Model:   getenv("EMBEDDING_MODEL", "text-embedding-3-small"),
	}
	cfg.Rerank = ProviderConfig{
		APIBase: os.Getenv("RERANK_API_BASE"),
		APIKey:  os.Getenv("RERANK_API_KEY"),
		Model:   os.Getenv("RERANK_MODEL"),
	}

	tzName := getenv("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE=%q is not a valid IANA zone: %w", tzName, err)
	}
	cfg.Timezone = loc

	if raw := os.Getenv("TELEGRAM_USER_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_USER_ID=%q is not an integer", raw)
		}
		cfg.TelegramUserID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	if c.KeepMin <= 0 {
		errs = append(errs, errors.New("CONTEXT_WINDOW_KEEP_MIN must be positive"))
	}
	if c.TriggerSummary <= c.KeepMin {
		errs = append(errs, errors.New("CONTEXT_WINDOW_TRIGGER_SUMMARY must exceed CONTEXT_WINDOW_KEEP_MIN"))
	}
	if c.RecentSummariesMax <= 0 {
		errs = append(errs, errors.New("RECENT_SUMMARIES_MAX must be positive"))
	}
	if c.RecallSummaryPerQuery <= 0 {
		errs = append(errs, errors.New("RECALL_SUMMARY_PER_QUERY must be positive"))
	}
	if c.RecallConvPerSummary <= 0 {
		errs = append(errs, errors.New("RECALL_CONV_PER_SUMMARY must be positive"))
	}
	if c.EmbeddingDimension <= 0 {
		errs = append(errs, errors.New("EMBEDDING_DIMENSION must be positive"))
	}
	if c.MaxToolRounds <= 0 {
		errs = append(errs, errors.New("MAX_TOOL_ROUNDS must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("SCHEDULER_POLL_INTERVAL must be positive"))
	}

	for _, fam := range []struct {
		name string
		cfg  ProviderConfig
	}{
		{"CHAT", c.Chat},
		{"TOOL", c.Tool},
		{"EMBEDDING", c.Embedding},
	} {
		if fam.cfg.APIBase == "" {
			errs = append(errs, fmt.Errorf("%s_API_BASE is required", fam.name))
		} else if err := validateEndpoint(fam.cfg.APIBase); err != nil {
			errs = append(errs, fmt.Errorf("%s_API_BASE=%q is invalid: %v", fam.name, fam.cfg.APIBase, err))
		}
		if fam.cfg.Model == "" {
			errs = append(errs, fmt.Errorf("%s_MODEL is required", fam.name))
		}
	}

	// The reranker is optional, but a half-configured one is a mistake
	// the operator should hear about at startup.
	if r := c.Rerank; (r.APIBase != "" || r.Model != "") && !r.Enabled() {
		errs = append(errs, errors.New("RERANK_API_BASE and RERANK_MODEL must be set together or not at all"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// StateDir returns the per-profile state directory.
func (c *Config) StateDir() string {
	return filepath.Join(c.DataDir, c.Profile)
}

// DBPath returns the SQLite database file path.
func (c *Config) DBPath() string {
	return filepath.Join(c.StateDir(), "chatbot.db")
}

// ProfilePath returns the long-term profile document path.
func (c *Config) ProfilePath() string {
	return filepath.Join(c.StateDir(), "seele.json")
}

// SeedTasksPath returns the scheduler seed file path, preferring the
// configured override over the default location.
func (c *Config) SeedTasksPath() string {
	if c.ScheduledTasksConfigPath != "" {
		return c.ScheduledTasksConfigPath
	}
	return filepath.Join(c.StateDir(), "scheduled_tasks.json")
}

// EnsureStateDir creates the state directory if it doesn't exist.
func (c *Config) EnsureStateDir() error {
	return os.MkdirAll(c.StateDir(), 0750)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes"
}
