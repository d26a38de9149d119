package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/feishu-digest/internal/biz/domain"
	"github.com/anthropics/feishu-digest/internal/biz/repo"
)

// RetrievalConfig bounds the ranked candidate list
type RetrievalConfig struct {
	Keywords    []string
	MaxMessages int // 0 = no count cap
	MaxChars    int // 0 = no aggregate size cap
}

// RetrievalUsecase selects a bounded, relevance-ranked subset of stored
// messages for a digest window
type RetrievalUsecase struct {
	store repo.MessageStore
	cfg   RetrievalConfig

	keywordsLower []string
}

// NewRetrievalUsecase creates a new retrieval usecase
func NewRetrievalUsecase(store repo.MessageStore, cfg RetrievalConfig) *RetrievalUsecase {
	lower := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			lower = append(lower, strings.ToLower(kw))
		}
	}
	return &RetrievalUsecase{store: store, cfg: cfg, keywordsLower: lower}
}

// Retrieve returns the ranked, truncated candidate list for [start, end)
// plus the count of candidates considered before truncation.
//
// Ranking: keyword-match count descending, ties broken by recency (newer
// first), then by insertion order. Messages without any match keep rank 0 and
// sit behind all matches, so nothing is dropped except by the size caps.
// With no configured keywords retrieval degrades to chronological window
// order; that fallback is an explicit contract, not a side effect.
func (uc *RetrievalUsecase) Retrieve(ctx context.Context, start, end time.Time) ([]*domain.Message, int, error) {
	window, err := uc.store.QueryWindow(ctx, start, end)
	if err != nil {
		return nil, 0, fmt.Errorf("query window: %w", err)
	}
	if len(window) == 0 {
		return nil, 0, nil
	}

	ranked := window
	if len(uc.keywordsLower) > 0 {
		// The FTS index narrows the matched set cheaply; scores are then
		// computed in memory so ranking stays deterministic even when the
		// store had to fall back to a plain scan.
		matched, err := uc.store.Search(ctx, start, end, uc.cfg.Keywords)
		if err != nil {
			return nil, 0, fmt.Errorf("search window: %w", err)
		}
		ranked = uc.rank(window, matched)
	}

	return uc.truncate(ranked), len(window), nil
}

// Score counts how many configured keywords occur in the message text
func (uc *RetrievalUsecase) Score(text string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, kw := range uc.keywordsLower {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	return score
}

// rank orders the window by relevance. The matched set from the store is
// only consulted as a sanity floor: any message FTS matched but substring
// scoring missed (stemming differences) still ranks above non-matches.
func (uc *RetrievalUsecase) rank(window, matched []*domain.Message) []*domain.Message {
	matchedIDs := make(map[int64]bool, len(matched))
	for _, m := range matched {
		matchedIDs[m.ID] = true
	}

	type scored struct {
		msg   *domain.Message
		score int
	}
	items := make([]scored, len(window))
	for i, m := range window {
		score := uc.Score(m.Text)
		if score == 0 && matchedIDs[m.ID] {
			score = 1
		}
		items[i] = scored{msg: m, score: score}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		if !items[i].msg.PostedAt.Equal(items[j].msg.PostedAt) {
			return items[i].msg.PostedAt.After(items[j].msg.PostedAt)
		}
		return items[i].msg.ID < items[j].msg.ID
	})

	out := make([]*domain.Message, len(items))
	for i, it := range items {
		out[i] = it.msg
	}
	return out
}

// truncate drops the lowest-ranked suffix once either cap is exceeded.
// The retained messages are always a prefix of the ranked order.
func (uc *RetrievalUsecase) truncate(ranked []*domain.Message) []*domain.Message {
	limit := len(ranked)
	if uc.cfg.MaxMessages > 0 && uc.cfg.MaxMessages < limit {
		limit = uc.cfg.MaxMessages
	}

	if uc.cfg.MaxChars > 0 {
		total := 0
		for i := 0; i < limit; i++ {
			total += len(ranked[i].Text)
			if total > uc.cfg.MaxChars {
				limit = i
				break
			}
		}
	}

	// A single oversized top message still gets through; the prompt builder
	// clips per-message text.
	if limit == 0 && len(ranked) > 0 {
		limit = 1
	}

	return ranked[:limit]
}
