package data

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
	"github.com/anthropics/feishu-digest/internal/biz/repo"
)

const (
	// Bounded retry for transient provider failures
	maxAttempts    = 3
	initialBackoff = 2 * time.Second

	// Input budget in characters; oversized prompts are shrunk once
	defaultPromptBudget = 400000

	callTimeout = 120 * time.Second
)

// summarizerRepo implements the Summarizer on the OpenAI chat API
type summarizerRepo struct {
	client       *openai.Client
	model        string
	promptBudget int
	backoff      time.Duration
}

// NewSummarizerRepo creates an OpenAI-backed summarizer. baseURL overrides
// the endpoint for OpenAI-compatible providers; empty keeps the default.
func NewSummarizerRepo(apiKey, model, baseURL string) repo.Summarizer {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &summarizerRepo{
		client:       openai.NewClientWithConfig(config),
		model:        model,
		promptBudget: defaultPromptBudget,
		backoff:      initialBackoff,
	}
}

// Summarize sends the rendered prompt and returns the digest text.
//
// Transient failures (rate limit, timeout, 5xx) retry with exponential
// backoff up to maxAttempts; auth and validation failures propagate
// immediately. A prompt over the input budget is shrunk once by dropping
// trailing message lines (the lowest-relevance tail) before failing.
func (r *summarizerRepo) Summarize(ctx context.Context, systemText, userText string) (string, error) {
	if len(systemText)+len(userText) > r.promptBudget {
		trimmed := shrinkTail(userText, r.promptBudget-len(systemText))
		fmt.Printf("[OpenAI] Prompt over budget (%d chars), sending %d chars\n",
			len(userText), len(trimmed))
		userText = trimmed
	}

	backoff := r.backoff
	shrunk := false
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		digest, err := r.complete(ctx, systemText, userText)
		if err == nil {
			return digest, nil
		}
		lastErr = err

		if !domain.IsTransientProvider(err) {
			// The local budget counts chars, the provider counts tokens;
			// a context-length rejection gets one tail-shrink retry
			if !shrunk && isContextLengthErr(err) {
				userText = shrinkTail(userText, len(userText)/2)
				shrunk = true
				fmt.Printf("[OpenAI] Prompt rejected for length, retrying with %d chars\n", len(userText))
				continue
			}
			return "", err
		}
		if attempt == maxAttempts {
			break
		}

		fmt.Printf("[OpenAI] Transient failure (attempt %d/%d), retrying in %v: %v\n",
			attempt, maxAttempts, backoff, err)
		select {
		case <-ctx.Done():
			return "", &domain.ProviderError{Transient: true, Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return "", lastErr
}

func (r *summarizerRepo) complete(ctx context.Context, systemText, userText string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := r.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemText},
			{Role: openai.ChatMessageRoleUser, Content: userText},
		},
		Temperature: 0.4,
	})
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", &domain.ProviderError{Err: errors.New("no response choices")}
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classify maps provider failures onto the transient/permanent taxonomy
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests,
			apiErr.HTTPStatusCode >= http.StatusInternalServerError:
			return &domain.ProviderError{Transient: true, Err: err}
		default:
			// 400/401/403: validation or auth, retrying will not help
			return &domain.ProviderError{Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ProviderError{Transient: true, Err: err}
	}
	// Connection-level failures are worth a retry
	return &domain.ProviderError{Transient: true, Err: err}
}

// isContextLengthErr reports a provider rejection for an over-long prompt
func isContextLengthErr(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code, ok := apiErr.Code.(string)
	return ok && code == "context_length_exceeded"
}

// shrinkTail drops whole trailing lines until the text fits the budget.
// Message bundles list entries in descending relevance, so trailing lines
// are the lowest-relevance ones.
func shrinkTail(text string, budget int) string {
	if budget <= 0 || len(text) <= budget {
		return text
	}
	lines := strings.Split(text, "\n")
	for len(lines) > 1 {
		lines = lines[:len(lines)-1]
		if candidate := strings.Join(lines, "\n"); len(candidate) <= budget {
			return candidate
		}
	}
	return lines[0]
}
