package domain

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned when a digest trigger arrives while a run is
// already executing. On-demand triggers surface it to the caller; scheduled
// ticks coalesce instead.
var ErrRunInProgress = errors.New("digest run already in progress")

// TemplateError reports a prompt template that is missing a required
// placeholder. It is raised at config load, before any network client starts.
type TemplateError struct {
	Block       string // "system" or "user"
	Placeholder string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("prompt template %q missing placeholder %s", e.Block, e.Placeholder)
}

// ProviderError wraps a failure from the language-model provider.
// Transient failures (rate limit, timeout, server errors) may be retried;
// permanent ones (auth, validation) propagate immediately.
type ProviderError struct {
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider error (%s): %v", kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PlatformError wraps a failure from the messaging platform.
// Auth distinguishes credential failures (fatal, do not reconnect) from
// connectivity loss (reconnect with backoff).
type PlatformError struct {
	Auth bool
	Err  error
}

func (e *PlatformError) Error() string {
	if e.Auth {
		return fmt.Sprintf("platform authentication error: %v", e.Err)
	}
	return fmt.Sprintf("platform error: %v", e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// IsTransientProvider reports whether err is a retryable provider failure
func IsTransientProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}
