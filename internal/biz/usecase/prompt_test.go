package usecase

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
	"github.com/anthropics/feishu-digest/internal/conf"
)

func testPrompts() *conf.PromptsConfig {
	return &conf.PromptsConfig{
		Digest: conf.DigestPrompts{
			SystemPrompt: "You are an editor.",
			UserPrompt:   "Digest for {{date}} in {{timezone}}:\n{{messages}}",
		},
	}
}

func testBundle() []*domain.Message {
	at := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	return []*domain.Message{
		{Channel: "energy-news", Sender: "alice", Text: "solar output rises", PostedAt: at},
		{Channel: "energy-news", Sender: "bob", Text: "grid congestion reported", PostedAt: at},
	}
}

func TestBuildSubstitutesPlaceholders(t *testing.T) {
	uc, err := NewPromptBuilderUsecase(testPrompts(), "Europe/Berlin")
	if err != nil {
		t.Fatalf("NewPromptBuilderUsecase failed: %v", err)
	}

	system, user := uc.Build("2026-03-10", testBundle())
	if system != "You are an editor." {
		t.Errorf("system = %q", system)
	}
	if !strings.Contains(user, "2026-03-10") {
		t.Errorf("user prompt missing date label: %q", user)
	}
	if !strings.Contains(user, "Europe/Berlin") {
		t.Errorf("user prompt missing timezone: %q", user)
	}
	if !strings.Contains(user, "[energy-news] alice: solar output rises") {
		t.Errorf("user prompt missing message line: %q", user)
	}
	if strings.Contains(user, "{{") {
		t.Errorf("unsubstituted placeholder left in prompt: %q", user)
	}
}

func TestBuildDeterministic(t *testing.T) {
	uc, err := NewPromptBuilderUsecase(testPrompts(), "UTC")
	if err != nil {
		t.Fatalf("NewPromptBuilderUsecase failed: %v", err)
	}

	_, first := uc.Build("2026-03-10", testBundle())
	_, second := uc.Build("2026-03-10", testBundle())
	if first != second {
		t.Error("identical input produced different prompts")
	}
}

func TestFormatBundle(t *testing.T) {
	uc, _ := NewPromptBuilderUsecase(testPrompts(), "UTC")

	messages := []*domain.Message{
		{Channel: "c1", Sender: "alice", Text: "multi  spaced\n\ttext"},
		{Channel: "c2", Sender: "", Text: "anonymous message"},
		{Channel: "c3", Sender: "bob", Text: "   "},
	}

	got := uc.FormatBundle(messages)
	want := "[c1] alice: multi spaced text\n[c2] unknown: anonymous message"
	if got != want {
		t.Errorf("FormatBundle = %q, want %q", got, want)
	}
}

func TestFormatBundleClipsLongMessages(t *testing.T) {
	uc, _ := NewPromptBuilderUsecase(testPrompts(), "UTC")

	long := strings.Repeat("я", 600)
	got := uc.FormatBundle([]*domain.Message{{Channel: "c", Sender: "a", Text: long}})

	if !strings.HasSuffix(got, " ...") {
		t.Errorf("clipped message missing ellipsis: %q", got[len(got)-20:])
	}
	// The clip must land on a rune boundary
	body := strings.TrimSuffix(strings.TrimPrefix(got, "[c] a: "), " ...")
	for _, r := range body {
		if r != 'я' {
			t.Fatalf("clip broke a rune: found %q", r)
		}
	}
}

func TestNewPromptBuilderRejectsBrokenTemplate(t *testing.T) {
	broken := &conf.PromptsConfig{
		Digest: conf.DigestPrompts{
			SystemPrompt: "editor",
			UserPrompt:   "no placeholders here",
		},
	}

	_, err := NewPromptBuilderUsecase(broken, "UTC")
	if err == nil {
		t.Fatal("expected template error")
	}
	var te *domain.TemplateError
	if !errors.As(err, &te) {
		t.Fatalf("error type = %T, want *domain.TemplateError", err)
	}
	if te.Placeholder != conf.PlaceholderDate {
		t.Errorf("placeholder = %q, want %q", te.Placeholder, conf.PlaceholderDate)
	}
}
