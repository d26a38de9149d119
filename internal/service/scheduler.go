package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
	"github.com/anthropics/feishu-digest/internal/biz/usecase"
)

// State is the scheduler's observable state
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// DigestScheduler drives the daily digest cycle and on-demand triggers.
//
// Mutual exclusion is modeled as an explicit Idle/Running state rather than
// a lock around the cycle, because the reject-vs-coalesce policy is part of
// the contract: an on-demand trigger during a run is rejected with
// ErrRunInProgress, a timer tick during a run is coalesced (skipped). A run
// missed because the process was down is skipped, not made up, so a restart
// never produces two digests for the same day.
type DigestScheduler struct {
	digestUC *usecase.DigestUsecase

	hour       int
	loc        *time.Location
	runTimeout time.Duration

	mu      sync.Mutex
	state   State
	lastDay string // date of the last scheduled run, guards duplicate ticks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDigestScheduler creates a new digest scheduler. hour is the local hour
// of day in loc at which the scheduled run fires.
func NewDigestScheduler(digestUC *usecase.DigestUsecase, hour int, loc *time.Location, runTimeout time.Duration) *DigestScheduler {
	return &DigestScheduler{
		digestUC:   digestUC,
		hour:       hour,
		loc:        loc,
		runTimeout: runTimeout,
		state:      StateIdle,
	}
}

// State returns the current scheduler state
func (s *DigestScheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start starts the scheduler loop
func (s *DigestScheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop()

	fmt.Printf("[Scheduler] Started, daily digest at %02d:00 (%s)\n", s.hour, s.loc)
}

// Stop stops the scheduler and waits for an in-flight cycle to finish
func (s *DigestScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	fmt.Println("[Scheduler] Stopped")
}

func (s *DigestScheduler) loop() {
	defer s.wg.Done()

	for {
		next := s.nextTick(time.Now().In(s.loc))
		timer := time.NewTimer(time.Until(next))

		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.onTick()
		}
	}
}

// nextTick returns the next occurrence of the configured hour strictly
// after now. Firing always waits for the next boundary, so a scheduled hour
// that passed while the process was down is simply skipped.
func (s *DigestScheduler) nextTick(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, 0, 0, 0, s.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// onTick handles a timer trigger
func (s *DigestScheduler) onTick() {
	today := time.Now().In(s.loc).Format("2006-01-02")

	s.mu.Lock()
	if s.state == StateRunning || s.lastDay == today {
		// Coalesce: the next scheduled tick follows naturally
		s.mu.Unlock()
		fmt.Printf("[Scheduler] Tick for %s coalesced (state=%s)\n", today, s.state)
		return
	}
	s.state = StateRunning
	s.lastDay = today
	s.mu.Unlock()

	s.runCycle(domain.TriggerScheduled)
}

// TriggerNow runs an on-demand digest cycle over the last 24 hours.
// Returns ErrRunInProgress when a cycle is already executing.
func (s *DigestScheduler) TriggerNow() (*domain.DigestRun, error) {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return nil, domain.ErrRunInProgress
	}
	s.state = StateRunning
	s.mu.Unlock()

	return s.runCycle(domain.TriggerOnDemand), nil
}

// runCycle executes one digest cycle under the run deadline and returns to
// Idle whatever the outcome. The caller owns the Running state on entry.
func (s *DigestScheduler) runCycle(trigger domain.TriggerKind) *domain.DigestRun {
	defer func() {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
	}()

	base := s.ctx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, s.runTimeout)
	defer cancel()

	start, end, label := s.Window(trigger, time.Now())
	fmt.Printf("[Scheduler] Digest cycle started (%s, window %s)\n", trigger, label)

	run, err := s.digestUC.Run(ctx, trigger, start, end, label)
	if err != nil {
		fmt.Printf("[Scheduler] Failed to record digest run: %v\n", err)
	}
	fmt.Printf("[Scheduler] Digest cycle finished: outcome=%s %s\n", run.Outcome, run.Reason)
	return run
}

// Window computes the retrieval window for a trigger kind. Scheduled runs
// cover the target day from local midnight up to now; on-demand runs use a
// rolling last-24h window. Both are labeled with the local date.
func (s *DigestScheduler) Window(trigger domain.TriggerKind, now time.Time) (start, end time.Time, label string) {
	local := now.In(s.loc)
	label = local.Format("2006-01-02")
	end = local

	if trigger == domain.TriggerScheduled {
		start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
		return start, end, label
	}

	start = local.Add(-24 * time.Hour)
	return start, end, label
}
