package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
)

// Placeholders the user template must carry. {{timezone}} is optional.
const (
	PlaceholderDate     = "{{date}}"
	PlaceholderMessages = "{{messages}}"
	PlaceholderTimezone = "{{timezone}}"
)

// PromptsConfig contains the digest prompt templates loaded from YAML
type PromptsConfig struct {
	Digest DigestPrompts `yaml:"digest"`
}

// DigestPrompts contains the two template blocks sent to the provider
type DigestPrompts struct {
	SystemPrompt string `yaml:"system_prompt"`
	UserPrompt   string `yaml:"user_prompt"`
}

// LoadPromptsConfig loads prompt templates from a YAML file.
// With an empty path it probes the usual locations and falls back to the
// built-in defaults when no file is found.
func LoadPromptsConfig(configPath string) (*PromptsConfig, error) {
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/prompts.yaml",
			"./configs/prompts.yaml",
			"/etc/feishu-digest/prompts.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "prompts.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	var err error

	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err = os.ReadFile(p)
		if err == nil {
			loadedPath = p
			break
		}
	}

	if data == nil {
		fmt.Println("[Config] No prompts.yaml found, using defaults")
		return DefaultPromptsConfig(), nil
	}

	fmt.Printf("[Config] Loading prompts from: %s\n", loadedPath)

	var config PromptsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse prompts.yaml: %w", err)
	}

	config.fillDefaults()
	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *PromptsConfig) fillDefaults() {
	defaults := DefaultPromptsConfig()

	if c.Digest.SystemPrompt == "" {
		c.Digest.SystemPrompt = defaults.Digest.SystemPrompt
	}
	if c.Digest.UserPrompt == "" {
		c.Digest.UserPrompt = defaults.Digest.UserPrompt
	}
}

// Validate checks that the user template carries the required placeholders.
// Misconfiguration fails here, before any network client starts.
func (c *PromptsConfig) Validate() error {
	for _, ph := range []string{PlaceholderDate, PlaceholderMessages} {
		if !strings.Contains(c.Digest.UserPrompt, ph) {
			return &domain.TemplateError{Block: "user", Placeholder: ph}
		}
	}
	return nil
}

// Render substitutes the window label, message bundle and timezone into the
// user template and returns both blocks.
func (c *PromptsConfig) Render(dateLabel, messages, timezone string) (system, user string) {
	user = c.Digest.UserPrompt
	user = strings.ReplaceAll(user, PlaceholderDate, dateLabel)
	user = strings.ReplaceAll(user, PlaceholderMessages, messages)
	user = strings.ReplaceAll(user, PlaceholderTimezone, timezone)
	return c.Digest.SystemPrompt, user
}

// DefaultPromptsConfig returns the default prompt templates
func DefaultPromptsConfig() *PromptsConfig {
	return &PromptsConfig{
		Digest: DigestPrompts{
			SystemPrompt: `You are an experienced news editor. You receive raw messages scraped from
several chat channels and produce a concise daily digest for readers who
have no time to follow the channels themselves.

Rules:
- Group related messages into topics, most important first
- One short paragraph or bullet per topic, neutral tone
- Keep names, numbers and dates where they matter
- Skip duplicates, ads and chatter
- Write in the dominant language of the messages`,
			UserPrompt: `Summarize the channel messages below for {{date}} (timezone {{timezone}}).
Each line is one message in the form [channel] sender: text.

{{messages}}`,
		},
	}
}
