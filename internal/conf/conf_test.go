package conf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
)

func validConfig() *Config {
	return &Config{
		Collector: AppCredentials{AppID: "cli_collector", AppSecret: "secret1"},
		Publisher: AppCredentials{AppID: "cli_publisher", AppSecret: "secret2"},
		Digest: DigestConfig{
			Channels:   []string{"oc_chan1"},
			TargetChat: "oc_target",
			Hour:       21,
			Timezone:   "UTC",
		},
		OpenAI:  OpenAIConfig{APIKey: "sk-test"},
		Prompts: DefaultPromptsConfig(),
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing collector", func(c *Config) { c.Collector.AppSecret = "" }, "COLLECTOR_APP_ID/COLLECTOR_APP_SECRET"},
		{"missing publisher", func(c *Config) { c.Publisher.AppID = "" }, "PUBLISHER_APP_ID/PUBLISHER_APP_SECRET"},
		{"no channels", func(c *Config) { c.Digest.Channels = nil }, "DIGEST_CHANNELS"},
		{"no target", func(c *Config) { c.Digest.TargetChat = "" }, "DIGEST_TARGET_CHAT"},
		{"hour too large", func(c *Config) { c.Digest.Hour = 24 }, "DIGEST_HOUR"},
		{"hour negative", func(c *Config) { c.Digest.Hour = -1 }, "DIGEST_HOUR"},
		{"bad timezone", func(c *Config) { c.Digest.Timezone = "Mars/Olympus" }, "DIGEST_TIMEZONE"},
		{"missing api key", func(c *Config) { c.OpenAI.APIKey = "" }, "OPENAI_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want *ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestValidateNilPrompts(t *testing.T) {
	cfg := validConfig()
	cfg.Prompts = nil

	err := cfg.Validate()
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
	if ce.Field != "PROMPTS_CONFIG_PATH" {
		t.Errorf("field = %q", ce.Field)
	}
}

func TestLoadFromEnvRejectsBrokenPromptsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("digest: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROMPTS_CONFIG_PATH", path)

	// A present-but-unparseable prompts file must fail loading outright,
	// not fall back to defaults or leave Prompts nil for a later panic
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected load error for malformed prompts file")
	}
}

func TestValidateBrokenPromptTemplate(t *testing.T) {
	cfg := validConfig()
	cfg.Prompts.Digest.UserPrompt = "missing everything"

	err := cfg.Validate()
	var te *domain.TemplateError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *domain.TemplateError", err)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b ", []string{"a", "b"}},
		{"a,,b", []string{"a", "b"}},
		{"", nil},
		{" , ", nil},
	}

	for _, tt := range tests {
		got := splitList(tt.input)
		if len(got) != len(tt.expected) {
			t.Errorf("splitList(%q) = %v, want %v", tt.input, got, tt.expected)
			continue
		}
		for i := range got {
			if got[i] != tt.expected[i] {
				t.Errorf("splitList(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.expected[i])
			}
		}
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := DigestConfig{Timezone: "Asia/Shanghai"}
	if got := cfg.Location().String(); got != "Asia/Shanghai" {
		t.Errorf("Location() = %s", got)
	}

	cfg.Timezone = "not-a-zone"
	if got := cfg.Location(); got != time.UTC {
		t.Errorf("Location() = %s, want UTC fallback", got)
	}
}
