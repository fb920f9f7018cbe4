// Package config provides configuration management for researcher.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jxucoder/researcher/pkg/model"
	"github.com/jxucoder/researcher/pkg/search/duckduckgo"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreJSON   = "json"
)

// Config holds all configuration for researcher.
type Config struct {
	// ServerAddr is the address the HTTP API listens on (e.g., ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, reports, jobs).
	DataDir string

	// Store selects the report backend: "sqlite" or "json".
	Store string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// ReportsDir holds one JSON file per report when Store is "json".
	ReportsDir string

	// JobsDir holds the YAML batch job definitions.
	JobsDir string

	// LogLevel is parsed with log.ParseLevel.
	LogLevel string

	// Groq completion settings.
	GroqAPIKey        string
	Model             string
	Temperature       float64
	VerifyTemperature float64
	// MinInterval is the minimum spacing between request starts.
	MinInterval time.Duration
	// StrictRetry retries only transient failures instead of every failure.
	StrictRetry bool

	// Research defaults.
	DefaultDepth  model.Depth
	MaxResults    int
	SearchWorkers int

	// GitHubToken enables gist publishing and the issues channel.
	GitHubToken string
	// PublishGist publishes every saved report as a secret gist.
	PublishGist bool
	// GitHubWebhookSecret enables the GitHub Issues webhook channel.
	GitHubWebhookSecret      string
	GitHubIssuesTriggerLabel string
	GitHubIssuesAddr         string

	// Slack integration (optional).
	// SlackBotToken is the Bot User OAuth Token (xoxb-...).
	SlackBotToken string
	// SlackAppToken is the App-Level Token (xapp-...) required for Socket Mode.
	SlackAppToken string
	// SlackChannel is where finished reports are published.
	SlackChannel string

	// TelegramBotToken is the token from @BotFather.
	TelegramBotToken string
}

// Load creates a Config from the config file and environment variables.
// Values are resolved in order: environment variable > config file > default.
func Load() (*Config, error) {
	// Existing env vars take precedence (LoadFile only sets unset vars).
	if err := LoadFile(FilePath()); err != nil {
		return nil, err
	}

	dataDir := envOr("RESEARCHER_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:               envOr("RESEARCHER_ADDR", ":7090"),
		DataDir:                  dataDir,
		Store:                    strings.ToLower(envOr("RESEARCHER_STORE", StoreSQLite)),
		DatabasePath:             filepath.Join(dataDir, "researcher.db"),
		ReportsDir:               envOr("RESEARCHER_REPORTS_DIR", filepath.Join(dataDir, "reports")),
		JobsDir:                  envOr("RESEARCHER_JOBS_DIR", filepath.Join(dataDir, "jobs")),
		LogLevel:                 envOr("RESEARCHER_LOG_LEVEL", "info"),
		GroqAPIKey:               os.Getenv("GROQ_API_KEY"),
		Model:                    envOr("RESEARCHER_MODEL", "llama-3.3-70b-versatile"),
		Temperature:              envOrFloat("RESEARCHER_TEMPERATURE", 0.7),
		VerifyTemperature:        envOrFloat("RESEARCHER_VERIFY_TEMPERATURE", 0.3),
		MinInterval:              envOrDuration("RESEARCHER_MIN_INTERVAL", 500*time.Millisecond),
		StrictRetry:              envOrBool("RESEARCHER_STRICT_RETRY", false),
		DefaultDepth:             model.ParseDepth(envOr("RESEARCHER_DEPTH", string(model.DepthStandard))),
		MaxResults:               envOrInt("RESEARCHER_MAX_RESULTS", 5),
		SearchWorkers:            envOrInt("RESEARCHER_SEARCH_WORKERS", 4),
		GitHubToken:              os.Getenv("GITHUB_TOKEN"),
		PublishGist:              envOrBool("RESEARCHER_PUBLISH_GIST", false),
		GitHubWebhookSecret:      os.Getenv("GITHUB_WEBHOOK_SECRET"),
		GitHubIssuesTriggerLabel: envOr("GITHUB_ISSUES_TRIGGER_LABEL", "research"),
		GitHubIssuesAddr:         envOr("GITHUB_ISSUES_ADDR", ":7092"),
		SlackBotToken:            os.Getenv("SLACK_BOT_TOKEN"),
		SlackAppToken:            os.Getenv("SLACK_APP_TOKEN"),
		SlackChannel:             os.Getenv("SLACK_CHANNEL"),
		TelegramBotToken:         os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	return cfg, nil
}

// FilePath returns the config file location: $RESEARCHER_CONFIG if set,
// otherwise ~/.researcher/config.env.
func FilePath() string {
	if p := os.Getenv("RESEARCHER_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(defaultDataDir(), "config.env")
}

// LoadFile reads KEY=VALUE lines from path and sets any values that are not
// already present in the environment. A missing file is not an error.
func LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	values, err := parseEnv(f)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	for key, value := range values {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	return nil
}

// ReadFile returns the KEY=VALUE pairs stored in path.
func ReadFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return parseEnv(f)
}

func parseEnv(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		values[key] = value
	}
	return values, scanner.Err()
}

// WriteFile stores values in path as sorted KEY=VALUE lines with 0600
// permissions, creating the parent directory if needed.
func WriteFile(path string, values map[string]string, order []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# researcher configuration\n")
	written := make(map[string]bool)
	write := func(k string) {
		if v, ok := values[k]; ok && v != "" && !written[k] {
			fmt.Fprintf(&sb, "%s=%s\n", k, v)
			written[k] = true
		}
	}
	for _, k := range order {
		write(k)
	}
	for _, k := range sortedKeys(values) {
		write(k)
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that required configuration is present and in range.
func (c *Config) Validate() error {
	if c.GroqAPIKey == "" {
		return fmt.Errorf("GROQ_API_KEY is required")
	}
	if c.Store != StoreSQLite && c.Store != StoreJSON {
		return fmt.Errorf("RESEARCHER_STORE must be %q or %q, got %q", StoreSQLite, StoreJSON, c.Store)
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("RESEARCHER_TEMPERATURE must be between 0 and 1, got %g", c.Temperature)
	}
	if c.VerifyTemperature < 0 || c.VerifyTemperature > 1 {
		return fmt.Errorf("RESEARCHER_VERIFY_TEMPERATURE must be between 0 and 1, got %g", c.VerifyTemperature)
	}
	if c.MaxResults < duckduckgo.MinMaxResults || c.MaxResults > duckduckgo.MaxMaxResults {
		return fmt.Errorf("RESEARCHER_MAX_RESULTS must be between %d and %d, got %d",
			duckduckgo.MinMaxResults, duckduckgo.MaxMaxResults, c.MaxResults)
	}
	if c.SearchWorkers < 1 {
		return fmt.Errorf("RESEARCHER_SEARCH_WORKERS must be positive, got %d", c.SearchWorkers)
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("RESEARCHER_MIN_INTERVAL must not be negative")
	}
	if c.PublishGist && c.GitHubToken == "" {
		return fmt.Errorf("RESEARCHER_PUBLISH_GIST requires GITHUB_TOKEN")
	}
	return nil
}

// SlackEnabled returns true if the Slack Socket Mode bot is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// SlackPublishEnabled returns true if reports should be posted to a channel.
func (c *Config) SlackPublishEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// TelegramEnabled returns true if the Telegram bot is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// GitHubIssuesEnabled returns true if the GitHub Issues webhook is configured.
func (c *Config) GitHubIssuesEnabled() bool {
	return c.GitHubToken != "" && c.GitHubWebhookSecret != ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".researcher"
	}
	return filepath.Join(home, ".researcher")
}
