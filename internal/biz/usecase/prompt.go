package usecase

import (
	"fmt"
	"strings"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
	"github.com/anthropics/feishu-digest/internal/conf"
)

// maxCharsPerMessage clips a single message line in the prompt
const maxCharsPerMessage = 500

// PromptBuilderUsecase renders the digest prompt from a template and the
// retrieved message bundle
type PromptBuilderUsecase struct {
	prompts  *conf.PromptsConfig
	timezone string
}

// NewPromptBuilderUsecase creates a prompt builder. The template must have
// been validated already; Validate is re-run here so a builder can never be
// constructed around a broken template.
func NewPromptBuilderUsecase(prompts *conf.PromptsConfig, timezone string) (*PromptBuilderUsecase, error) {
	if err := prompts.Validate(); err != nil {
		return nil, err
	}
	return &PromptBuilderUsecase{prompts: prompts, timezone: timezone}, nil
}

// Build renders the system and user prompt blocks for the window label and
// the messages, one line per message in retrieval order.
func (uc *PromptBuilderUsecase) Build(windowLabel string, messages []*domain.Message) (system, user string) {
	return uc.prompts.Render(windowLabel, uc.FormatBundle(messages), uc.timezone)
}

// FormatBundle serializes the message sequence deterministically:
// `[channel] sender: text`, whitespace collapsed, clipped per message.
func (uc *PromptBuilderUsecase) FormatBundle(messages []*domain.Message) string {
	var lines []string
	for _, m := range messages {
		text := strings.Join(strings.Fields(m.Text), " ")
		if text == "" {
			continue
		}
		if len(text) > maxCharsPerMessage {
			text = clipString(text, maxCharsPerMessage) + " ..."
		}
		sender := m.Sender
		if sender == "" {
			sender = "unknown"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", m.Channel, sender, text))
	}
	return strings.Join(lines, "\n")
}

// clipString cuts at a rune boundary at or below max bytes
func clipString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
