package repo

import (
	"context"
	"time"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
)

// MessageStore is the durable message log interface.
// The collector is the only writer; the scheduler-driven pipeline reads.
type MessageStore interface {
	// Append inserts a message if its (channel, msg_id) pair is new.
	// Re-appending the same pair is a no-op and returns false.
	Append(ctx context.Context, msg *domain.Message) (bool, error)

	// QueryWindow returns all messages with PostedAt in [start, end),
	// ordered by timestamp ascending, then insertion order.
	QueryWindow(ctx context.Context, start, end time.Time) ([]*domain.Message, error)

	// Search returns messages in [start, end) matching any of the keywords,
	// ordered by timestamp ascending. With no keywords it behaves like
	// QueryWindow.
	Search(ctx context.Context, start, end time.Time, keywords []string) ([]*domain.Message, error)

	// CountSince counts messages with PostedAt >= start, for status reporting
	CountSince(ctx context.Context, start time.Time) (int, error)

	// RecordRun persists a digest run record
	RecordRun(ctx context.Context, run *domain.DigestRun) error

	// LastRun returns the most recently started digest run, or nil if none
	LastRun(ctx context.Context) (*domain.DigestRun, error)

	// PurgeBefore deletes messages older than cutoff. Administrative
	// retention path, not part of the ingest/digest hot path.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
