package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration
type Config struct {
	// Collector is the read-only identity subscribed to source channels
	Collector AppCredentials

	// Publisher is the bot identity that posts digests and answers commands
	Publisher AppCredentials

	// Digest configuration
	Digest DigestConfig

	// OpenAI configuration
	OpenAI OpenAIConfig

	// Prompts configuration (loaded from YAML)
	Prompts *PromptsConfig

	// Debug mode
	Debug bool
}

// AppCredentials contains one Lark app identity
type AppCredentials struct {
	AppID     string
	AppSecret string
}

// DigestConfig contains digest pipeline configuration
type DigestConfig struct {
	Channels     []string // chat ids to scrape
	TargetChat   string   // chat id the digest is posted to
	Hour         int      // hour of day for the scheduled run
	Timezone     string   // IANA zone name the Hour is interpreted in
	Keywords     []string // subject terms biasing retrieval
	AllowedUsers []string // open_ids / names allowed to use commands; empty allows everyone
	MaxMessages  int      // retrieval cap: message count
	MaxChars     int      // retrieval cap: aggregate prompt characters
	DBPath       string
	RunTimeout   time.Duration // overall deadline for one digest cycle
}

// OpenAIConfig contains provider configuration
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional override for OpenAI-compatible providers
}

// LoadFromEnv loads configuration from environment variables.
// A prompts file that exists but fails to parse is an error: silently
// running with default prompts would hide the misconfiguration.
func LoadFromEnv() (*Config, error) {
	dbPath := os.Getenv("DIGEST_DB_PATH")
	if dbPath == "" {
		homeDir, _ := os.UserHomeDir()
		dbPath = filepath.Join(homeDir, ".feishu-digest", "messages.db")
	}

	hour := 21
	if val := os.Getenv("DIGEST_HOUR"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			hour = parsed
		}
	}

	timezone := os.Getenv("DIGEST_TIMEZONE")
	if timezone == "" {
		timezone = "UTC"
	}

	maxMessages := 200
	if val := os.Getenv("DIGEST_MAX_MESSAGES"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			maxMessages = parsed
		}
	}

	maxChars := 100000
	if val := os.Getenv("DIGEST_MAX_CHARS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			maxChars = parsed
		}
	}

	runTimeout := 10 * time.Minute
	if val := os.Getenv("DIGEST_RUN_TIMEOUT_MINUTES"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			runTimeout = time.Duration(parsed) * time.Minute
		}
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	promptsConfig, err := LoadPromptsConfig(os.Getenv("PROMPTS_CONFIG_PATH"))
	if err != nil {
		return nil, fmt.Errorf("load prompts config: %w", err)
	}

	return &Config{
		Collector: AppCredentials{
			AppID:     os.Getenv("COLLECTOR_APP_ID"),
			AppSecret: os.Getenv("COLLECTOR_APP_SECRET"),
		},
		Publisher: AppCredentials{
			AppID:     os.Getenv("PUBLISHER_APP_ID"),
			AppSecret: os.Getenv("PUBLISHER_APP_SECRET"),
		},
		Digest: DigestConfig{
			Channels:     splitList(os.Getenv("DIGEST_CHANNELS")),
			TargetChat:   os.Getenv("DIGEST_TARGET_CHAT"),
			Hour:         hour,
			Timezone:     timezone,
			Keywords:     splitList(os.Getenv("DIGEST_KEYWORDS")),
			AllowedUsers: splitList(os.Getenv("DIGEST_ALLOWED_USERS")),
			MaxMessages:  maxMessages,
			MaxChars:     maxChars,
			DBPath:       dbPath,
			RunTimeout:   runTimeout,
		},
		OpenAI: OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   model,
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		},
		Prompts: promptsConfig,
		Debug:   os.Getenv("DEBUG") == "true",
	}, nil
}

// splitList splits a comma-separated env value, dropping empty entries
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Collector.AppID == "" || c.Collector.AppSecret == "" {
		return &ConfigError{Field: "COLLECTOR_APP_ID/COLLECTOR_APP_SECRET", Message: "required"}
	}
	if c.Publisher.AppID == "" || c.Publisher.AppSecret == "" {
		return &ConfigError{Field: "PUBLISHER_APP_ID/PUBLISHER_APP_SECRET", Message: "required"}
	}
	if len(c.Digest.Channels) == 0 {
		return &ConfigError{Field: "DIGEST_CHANNELS", Message: "add at least one channel"}
	}
	if c.Digest.TargetChat == "" {
		return &ConfigError{Field: "DIGEST_TARGET_CHAT", Message: "required"}
	}
	if c.Digest.Hour < 0 || c.Digest.Hour > 23 {
		return &ConfigError{Field: "DIGEST_HOUR", Message: "must be 0-23"}
	}
	if _, err := time.LoadLocation(c.Digest.Timezone); err != nil {
		return &ConfigError{Field: "DIGEST_TIMEZONE", Message: "unknown timezone " + c.Digest.Timezone}
	}
	if c.OpenAI.APIKey == "" {
		return &ConfigError{Field: "OPENAI_API_KEY", Message: "required"}
	}
	if c.Prompts == nil {
		return &ConfigError{Field: "PROMPTS_CONFIG_PATH", Message: "prompt templates missing"}
	}
	if err := c.Prompts.Validate(); err != nil {
		return err
	}
	return nil
}

// Location returns the configured timezone. Falls back to UTC for zones
// Validate would have rejected.
func (c *DigestConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
