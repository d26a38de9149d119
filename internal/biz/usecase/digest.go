package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
	"github.com/anthropics/feishu-digest/internal/biz/repo"
)

// DigestUsecase runs one complete digest cycle:
// retrieve -> build prompt -> summarize -> publish, recording a DigestRun
// for every attempt. Publish happens only after non-empty digest text exists;
// a failure at any stage records the reason and publishes nothing.
type DigestUsecase struct {
	retrieval  *RetrievalUsecase
	prompts    *PromptBuilderUsecase
	summarizer repo.Summarizer
	publisher  repo.Publisher
	store      repo.MessageStore

	targetChat string
	keywords   []string
}

// NewDigestUsecase creates a new digest usecase
func NewDigestUsecase(
	retrieval *RetrievalUsecase,
	prompts *PromptBuilderUsecase,
	summarizer repo.Summarizer,
	publisher repo.Publisher,
	store repo.MessageStore,
	targetChat string,
	keywords []string,
) *DigestUsecase {
	return &DigestUsecase{
		retrieval:  retrieval,
		prompts:    prompts,
		summarizer: summarizer,
		publisher:  publisher,
		store:      store,
		targetChat: targetChat,
		keywords:   keywords,
	}
}

// Run executes one digest cycle for [start, end) labeled with windowLabel.
// The returned run always carries a terminal outcome; the error reports
// only failures recording the run itself.
func (uc *DigestUsecase) Run(ctx context.Context, trigger domain.TriggerKind, start, end time.Time, windowLabel string) (*domain.DigestRun, error) {
	run := &domain.DigestRun{
		ID:          uuid.NewString(),
		Trigger:     trigger,
		WindowStart: start,
		WindowEnd:   end,
		Keywords:    uc.keywords,
		StartedAt:   time.Now().UTC(),
	}

	messages, candidates, err := uc.retrieval.Retrieve(ctx, start, end)
	run.Candidates = candidates
	run.Included = len(messages)
	if err != nil {
		run.Fail(fmt.Sprintf("retrieval: %v", err))
		return run, uc.record(ctx, run)
	}

	if len(messages) == 0 {
		// Empty window short-circuits: no provider call, no publish
		run.Outcome = domain.OutcomeEmpty
		run.Reason = "no messages to summarize"
		run.FinishedAt = time.Now().UTC()
		fmt.Printf("[Digest] Nothing to summarize for %s\n", windowLabel)
		return run, uc.record(ctx, run)
	}

	system, user := uc.prompts.Build(windowLabel, messages)
	fmt.Printf("[Digest] Summarizing %d messages (%d candidates, prompt %d chars)\n",
		len(messages), candidates, len(user))

	digest, err := uc.summarizer.Summarize(ctx, system, user)
	if err != nil {
		run.Fail(uc.describeFailure(ctx, "synthesis", err))
		return run, uc.record(ctx, run)
	}

	digest = StripMarkdownFence(digest)
	if digest == "" {
		run.Fail("synthesis: provider returned empty digest")
		return run, uc.record(ctx, run)
	}

	if err := uc.publisher.Publish(ctx, uc.targetChat, digest); err != nil {
		run.Fail(uc.describeFailure(ctx, "publish", err))
		return run, uc.record(ctx, run)
	}

	run.Succeed(digest)
	fmt.Printf("[Digest] Published digest for %s (%d chars)\n", windowLabel, len(digest))
	return run, uc.record(ctx, run)
}

// PromptSize renders the prompt for [start, end) without calling the
// provider, for the status command.
func (uc *DigestUsecase) PromptSize(ctx context.Context, start, end time.Time, windowLabel string) (messages, chars int, err error) {
	retrieved, _, err := uc.retrieval.Retrieve(ctx, start, end)
	if err != nil {
		return 0, 0, err
	}
	if len(retrieved) == 0 {
		return 0, 0, nil
	}
	_, user := uc.prompts.Build(windowLabel, retrieved)
	return len(retrieved), len(user), nil
}

func (uc *DigestUsecase) describeFailure(ctx context.Context, stage string, err error) string {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("%s: timeout: %v", stage, err)
	}
	return fmt.Sprintf("%s: %v", stage, err)
}

// record persists the run; a store failure here is surfaced, the run result
// itself is already decided.
func (uc *DigestUsecase) record(ctx context.Context, run *domain.DigestRun) error {
	// Run records must survive even when the cycle deadline has expired
	if err := uc.store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("record digest run: %w", err)
	}
	return nil
}
