package data

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
)

// fakeProvider serves an OpenAI-compatible chat completion endpoint, failing
// the first failures requests with the given status before succeeding.
type fakeProvider struct {
	failures int
	status   int
	content  string

	calls int
}

func (f *fakeProvider) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.calls++
		if f.calls <= f.failures {
			w.WriteHeader(f.status)
			w.Write([]byte(`{"error": {"message": "simulated failure", "type": "server_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": f.content}},
			},
		})
	}
}

func newTestSummarizer(t *testing.T, provider *fakeProvider) *summarizerRepo {
	t.Helper()
	srv := httptest.NewServer(provider.handler())
	t.Cleanup(srv.Close)

	repo := NewSummarizerRepo("test-key", "test-model", srv.URL).(*summarizerRepo)
	return repo
}

func TestSummarizeSuccess(t *testing.T) {
	provider := &fakeProvider{content: "  the digest  "}
	repo := newTestSummarizer(t, provider)

	digest, err := repo.Summarize(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "the digest", digest)
	assert.Equal(t, 1, provider.calls)
}

func TestSummarizeRetriesTransient(t *testing.T) {
	provider := &fakeProvider{failures: 2, status: http.StatusInternalServerError, content: "recovered"}
	repo := newTestSummarizer(t, provider)
	repo.backoff = 0

	digest, err := repo.Summarize(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "recovered", digest)
	assert.Equal(t, 3, provider.calls)
}

func TestSummarizeExhaustsRetries(t *testing.T) {
	provider := &fakeProvider{failures: 10, status: http.StatusTooManyRequests}
	repo := newTestSummarizer(t, provider)
	repo.backoff = 0

	_, err := repo.Summarize(context.Background(), "system", "user")
	require.Error(t, err)
	assert.True(t, domain.IsTransientProvider(err))
	assert.Equal(t, maxAttempts, provider.calls)
}

func TestSummarizePermanentFailureNoRetry(t *testing.T) {
	provider := &fakeProvider{failures: 10, status: http.StatusUnauthorized}
	repo := newTestSummarizer(t, provider)
	repo.backoff = 0

	_, err := repo.Summarize(context.Background(), "system", "user")
	require.Error(t, err)
	assert.False(t, domain.IsTransientProvider(err))
	assert.Equal(t, 1, provider.calls)
}

func TestSummarizeShrinksOversizedPrompt(t *testing.T) {
	provider := &fakeProvider{content: "ok"}
	repo := newTestSummarizer(t, provider)
	repo.promptBudget = 50

	user := strings.Repeat("line of message text\n", 20)
	digest, err := repo.Summarize(context.Background(), "sys", user)
	require.NoError(t, err)
	assert.Equal(t, "ok", digest)
}

func TestSummarizeShrinksOnContextLengthRejection(t *testing.T) {
	var promptLens []int
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		promptLens = append(promptLens, len(req.Messages[1].Content))

		if calls == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"message": "maximum context length exceeded", "type": "invalid_request_error", "code": "context_length_exceeded"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "ok"}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	repo := NewSummarizerRepo("test-key", "test-model", srv.URL).(*summarizerRepo)
	repo.backoff = 0

	user := strings.Repeat("message line text\n", 50)
	digest, err := repo.Summarize(context.Background(), "sys", user)
	require.NoError(t, err)
	assert.Equal(t, "ok", digest)
	require.Equal(t, 2, calls)
	assert.Less(t, promptLens[1], promptLens[0])
}

func TestSummarizeContextLengthRetriesOnlyOnce(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "too long", "type": "invalid_request_error", "code": "context_length_exceeded"}}`))
	}))
	t.Cleanup(srv.Close)

	repo := NewSummarizerRepo("test-key", "test-model", srv.URL).(*summarizerRepo)
	repo.backoff = 0

	_, err := repo.Summarize(context.Background(), "sys", "a\nb\nc\nd")
	require.Error(t, err)
	assert.False(t, domain.IsTransientProvider(err))
	assert.Equal(t, 2, calls)
}

func TestShrinkTail(t *testing.T) {
	text := "first line\nsecond line\nthird line"

	// Fits: untouched
	assert.Equal(t, text, shrinkTail(text, 100))

	// Drops trailing lines until under budget
	shrunk := shrinkTail(text, 22)
	assert.Equal(t, "first line\nsecond line", shrunk)

	// Never drops below one line
	assert.Equal(t, "first line", shrinkTail(text, 3))
}
