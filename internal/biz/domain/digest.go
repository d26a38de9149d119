package domain

import "time"

// TriggerKind identifies what started a digest run
type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerOnDemand  TriggerKind = "on-demand"
)

// Outcome is the terminal state of a digest run
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeEmpty   Outcome = "empty" // nothing to summarize, no provider call made
	OutcomeFailure Outcome = "failure"
)

// DigestRun records one execution of the digest cycle
type DigestRun struct {
	ID          string
	Trigger     TriggerKind
	WindowStart time.Time
	WindowEnd   time.Time
	Keywords    []string
	Candidates  int // messages considered for the prompt
	Included    int // messages that survived truncation
	Digest      string
	Outcome     Outcome
	Reason      string // human-readable failure reason, empty on success
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Fail marks the run as failed with a reason
func (r *DigestRun) Fail(reason string) {
	r.Outcome = OutcomeFailure
	r.Reason = reason
	r.FinishedAt = time.Now().UTC()
}

// Succeed marks the run as successful with the produced digest text
func (r *DigestRun) Succeed(digest string) {
	r.Outcome = OutcomeSuccess
	r.Digest = digest
	r.FinishedAt = time.Now().UTC()
}
