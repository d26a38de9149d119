package repo

import "context"

// Summarizer is the language-model provider interface
type Summarizer interface {
	// Summarize sends the rendered prompt and returns the digest text.
	// Failures are reported as *domain.ProviderError.
	Summarize(ctx context.Context, systemText, userText string) (string, error)
}
