package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
	"github.com/anthropics/feishu-digest/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// messageStore implements the durable message log on sqlite
type messageStore struct {
	db     *sql.DB
	hasFTS bool
}

// NewMessageStore opens (or creates) the message database at dbPath
func NewMessageStore(dbPath string) (repo.MessageStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer (collector) plus concurrent readers (scheduler pipeline)
	_, _ = db.Exec(`PRAGMA journal_mode = WAL`)
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000`)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel TEXT NOT NULL,
			msg_id TEXT NOT NULL,
			sender TEXT,
			text TEXT NOT NULL,
			posted_at INTEGER NOT NULL,
			ingested_at INTEGER NOT NULL,
			UNIQUE(channel, msg_id)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_posted ON messages(posted_at)`)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS digest_runs (
			id TEXT PRIMARY KEY,
			trigger_kind TEXT NOT NULL,
			window_start INTEGER NOT NULL,
			window_end INTEGER NOT NULL,
			keywords TEXT,
			candidates INTEGER NOT NULL DEFAULT 0,
			included INTEGER NOT NULL DEFAULT 0,
			digest TEXT,
			outcome TEXT NOT NULL,
			reason TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create digest_runs table: %w", err)
	}

	s := &messageStore{db: db}

	// FTS5 index over message text for keyword retrieval. Some sqlite
	// builds lack FTS5; Search then falls back to a LIKE scan.
	// The index carries its own copy of the text, keyed by the messages
	// rowid, so rows can be deleted without FTS external-content commands.
	_, err = db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(text)
	`)
	if err != nil {
		fmt.Printf("[Store] FTS5 unavailable, keyword search degrades to plain scan: %v\n", err)
	} else {
		s.hasFTS = true
	}

	fmt.Printf("[Store] Database initialized at %s (fts=%v)\n", dbPath, s.hasFTS)
	return s, nil
}

// Append inserts a message if its (channel, msg_id) dedup key is new.
// Returns whether a new row was created; re-ingestion is a no-op.
func (s *messageStore) Append(ctx context.Context, msg *domain.Message) (bool, error) {
	if msg.IngestedAt.IsZero() {
		msg.IngestedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (channel, msg_id, sender, text, posted_at, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.Channel, msg.MsgID, msg.Sender, msg.Text, msg.PostedAt.UTC().Unix(), msg.IngestedAt.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to append message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check append result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	rowID, err := res.LastInsertId()
	if err == nil {
		msg.ID = rowID
	}

	if s.hasFTS {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO messages_fts (rowid, text) VALUES (?, ?)
		`, rowID, msg.Text); err != nil {
			fmt.Printf("[Store] Failed to index message %s: %v\n", msg.DedupKey(), err)
		}
	}

	return true, nil
}

// QueryWindow returns all messages with posted_at in [start, end),
// timestamp ascending, insertion order on ties
func (s *messageStore) QueryWindow(ctx context.Context, start, end time.Time) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, msg_id, sender, text, posted_at, ingested_at
		FROM messages
		WHERE posted_at >= ? AND posted_at < ?
		ORDER BY posted_at ASC, id ASC
	`, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query window: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// Search returns messages in [start, end) matching any keyword, timestamp
// ascending. Uses the FTS index when available, a LIKE scan otherwise.
func (s *messageStore) Search(ctx context.Context, start, end time.Time, keywords []string) ([]*domain.Message, error) {
	if len(keywords) == 0 {
		return s.QueryWindow(ctx, start, end)
	}

	if s.hasFTS {
		msgs, err := s.searchFTS(ctx, start, end, keywords)
		if err == nil {
			return msgs, nil
		}
		fmt.Printf("[Store] FTS search failed, falling back to plain scan: %v\n", err)
	}
	return s.searchLike(ctx, start, end, keywords)
}

func (s *messageStore) searchFTS(ctx context.Context, start, end time.Time, keywords []string) ([]*domain.Message, error) {
	terms := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		// Quote each term so keyword punctuation never reaches the FTS
		// query parser; suffix * matches stem variants.
		escaped := strings.ReplaceAll(kw, `"`, `""`)
		terms = append(terms, `"`+escaped+`"*`)
	}
	match := strings.Join(terms, " OR ")

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.channel, m.msg_id, m.sender, m.text, m.posted_at, m.ingested_at
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?
		  AND m.posted_at >= ? AND m.posted_at < ?
		ORDER BY m.posted_at ASC, m.id ASC
	`, match, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *messageStore) searchLike(ctx context.Context, start, end time.Time, keywords []string) ([]*domain.Message, error) {
	var conds []string
	args := []interface{}{start.UTC().Unix(), end.UTC().Unix()}
	for _, kw := range keywords {
		conds = append(conds, "lower(text) LIKE ?")
		args = append(args, "%"+strings.ToLower(kw)+"%")
	}

	query := fmt.Sprintf(`
		SELECT id, channel, msg_id, sender, text, posted_at, ingested_at
		FROM messages
		WHERE posted_at >= ? AND posted_at < ? AND (%s)
		ORDER BY posted_at ASC, id ASC
	`, strings.Join(conds, " OR "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	var messages []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var postedAt, ingestedAt int64
		if err := rows.Scan(&msg.ID, &msg.Channel, &msg.MsgID, &msg.Sender, &msg.Text, &postedAt, &ingestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.PostedAt = time.Unix(postedAt, 0).UTC()
		msg.IngestedAt = time.Unix(ingestedAt, 0).UTC()
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// CountSince counts messages with posted_at >= start
func (s *messageStore) CountSince(ctx context.Context, start time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE posted_at >= ?
	`, start.UTC().Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// RecordRun persists a digest run record
func (s *messageStore) RecordRun(ctx context.Context, run *domain.DigestRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO digest_runs
			(id, trigger_kind, window_start, window_end, keywords, candidates, included,
			 digest, outcome, reason, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Trigger),
		run.WindowStart.UTC().Unix(),
		run.WindowEnd.UTC().Unix(),
		strings.Join(run.Keywords, ","),
		run.Candidates,
		run.Included,
		run.Digest,
		string(run.Outcome),
		run.Reason,
		run.StartedAt.UTC().Unix(),
		run.FinishedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record digest run: %w", err)
	}
	return nil
}

// LastRun returns the most recently started digest run, or nil if none exists
func (s *messageStore) LastRun(ctx context.Context) (*domain.DigestRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trigger_kind, window_start, window_end, keywords, candidates, included,
		       digest, outcome, reason, started_at, finished_at
		FROM digest_runs
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`)

	var run domain.DigestRun
	var trigger, outcome, keywords string
	var windowStart, windowEnd, startedAt, finishedAt int64
	err := row.Scan(&run.ID, &trigger, &windowStart, &windowEnd, &keywords,
		&run.Candidates, &run.Included, &run.Digest, &outcome, &run.Reason,
		&startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last run: %w", err)
	}

	run.Trigger = domain.TriggerKind(trigger)
	run.Outcome = domain.Outcome(outcome)
	if keywords != "" {
		run.Keywords = strings.Split(keywords, ",")
	}
	run.WindowStart = time.Unix(windowStart, 0).UTC()
	run.WindowEnd = time.Unix(windowEnd, 0).UTC()
	run.StartedAt = time.Unix(startedAt, 0).UTC()
	run.FinishedAt = time.Unix(finishedAt, 0).UTC()

	return &run, nil
}

// PurgeBefore deletes messages older than cutoff, trimming the FTS index
// alongside. Retention maintenance, not part of the hot path.
func (s *messageStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.hasFTS {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM messages_fts WHERE rowid IN
				(SELECT id FROM messages WHERE posted_at < ?)
		`, cutoff.UTC().Unix())
		if err != nil {
			return 0, fmt.Errorf("failed to purge fts rows: %w", err)
		}
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE posted_at < ?
	`, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge messages: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection
func (s *messageStore) Close() error {
	return s.db.Close()
}
