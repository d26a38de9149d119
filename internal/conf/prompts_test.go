package conf

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
)

func TestDefaultPromptsValidate(t *testing.T) {
	if err := DefaultPromptsConfig().Validate(); err != nil {
		t.Fatalf("default prompts invalid: %v", err)
	}
}

func TestValidateMissingPlaceholders(t *testing.T) {
	tests := []struct {
		name        string
		userPrompt  string
		placeholder string
	}{
		{"no date", "summarize {{messages}}", PlaceholderDate},
		{"no messages", "digest for {{date}}", PlaceholderMessages},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &PromptsConfig{Digest: DigestPrompts{UserPrompt: tt.userPrompt}}
			err := c.Validate()
			var te *domain.TemplateError
			if !errors.As(err, &te) {
				t.Fatalf("error = %v, want *domain.TemplateError", err)
			}
			if te.Placeholder != tt.placeholder {
				t.Errorf("placeholder = %q, want %q", te.Placeholder, tt.placeholder)
			}
		})
	}

	// {{timezone}} is optional
	c := &PromptsConfig{Digest: DigestPrompts{UserPrompt: "{{date}} {{messages}}"}}
	if err := c.Validate(); err != nil {
		t.Errorf("timezone-less template rejected: %v", err)
	}
}

func TestRender(t *testing.T) {
	c := &PromptsConfig{
		Digest: DigestPrompts{
			SystemPrompt: "editor",
			UserPrompt:   "on {{date}} ({{timezone}}):\n{{messages}}",
		},
	}

	system, user := c.Render("2026-03-10", "[c] a: hi", "UTC")
	if system != "editor" {
		t.Errorf("system = %q", system)
	}
	if user != "on 2026-03-10 (UTC):\n[c] a: hi" {
		t.Errorf("user = %q", user)
	}
}

func TestLoadPromptsConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := `digest:
  system_prompt: "custom system"
  user_prompt: "custom {{date}} {{messages}}"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadPromptsConfig(path)
	if err != nil {
		t.Fatalf("LoadPromptsConfig failed: %v", err)
	}
	if c.Digest.SystemPrompt != "custom system" {
		t.Errorf("system = %q", c.Digest.SystemPrompt)
	}
	if !strings.Contains(c.Digest.UserPrompt, "custom") {
		t.Errorf("user = %q", c.Digest.UserPrompt)
	}
}

func TestLoadPromptsConfigFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := `digest:
  system_prompt: "only the system block"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadPromptsConfig(path)
	if err != nil {
		t.Fatalf("LoadPromptsConfig failed: %v", err)
	}
	if c.Digest.SystemPrompt != "only the system block" {
		t.Errorf("system = %q", c.Digest.SystemPrompt)
	}
	if c.Digest.UserPrompt != DefaultPromptsConfig().Digest.UserPrompt {
		t.Errorf("user prompt not defaulted: %q", c.Digest.UserPrompt)
	}
}

func TestLoadPromptsConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("digest: [not: valid"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadPromptsConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}
