// Package contextwin assembles the final prompt context from ranked passages
// and conversation history under a byte budget. History always wins over
// passages; truncation drops the lowest-ranked passages first.
package contextwin

import (
	"context"
	"log/slog"

	"github.com/andrew/rag-engine/pkg/models"
)

// DefaultRecentTurns is the number of history turns always considered
const DefaultRecentTurns = 6

// Summarizer folds older conversation turns into a single short text.
// Treated as an opaque external collaborator.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message) (string, error)
}

// Builder assembles ContextBundles
type Builder struct {
	summarizer  Summarizer
	recentTurns int
	logger      *slog.Logger
}

// New creates a Builder. summarizer may be nil, in which case overflowing
// history is dropped without a summary.
func New(summarizer Summarizer, recentTurns int) *Builder {
	if recentTurns <= 0 {
		recentTurns = DefaultRecentTurns
	}
	return &Builder{
		summarizer:  summarizer,
		recentTurns: recentTurns,
		logger:      slog.Default().With("component", "contextwin"),
	}
}

// Build assembles the bundle: the most recent turns first, summarizing older
// ones when the recent turns alone exceed the budget, then passages greedily
// in rank order. A passage that does not fully fit is dropped, never split.
// The returned bundle never exceeds budgetBytes.
func (b *Builder) Build(ctx context.Context, passages []models.CandidatePassage, history []models.Message, budgetBytes int) models.ContextBundle {
	bundle := models.ContextBundle{}

	recent := history
	if len(recent) > b.recentTurns {
		recent = recent[len(recent)-b.recentTurns:]
	}

	budget := budgetBytes
	unlimited := budgetBytes <= 0

	if unlimited || messagesSize(recent) <= budget {
		bundle.HistoryMessages = append(bundle.HistoryMessages, recent...)
	} else {
		// Even the recent turns overflow: keep the newest that fit and fold
		// the rest into a summary if it also fits.
		kept, dropped := fitNewest(recent, budget)
		dropped = append(history[:len(history)-len(recent)], dropped...)
		bundle.HistoryMessages = kept
		bundle.Truncated = true

		if b.summarizer != nil && len(dropped) > 0 {
			summary, err := b.summarizer.Summarize(ctx, dropped)
			if err != nil {
				b.logger.Warn("history summarization failed, dropping older turns", "error", err)
			} else if messagesSize(kept)+len(summary) <= budget {
				bundle.Summary = summary
			}
		}
	}

	used := messagesSize(bundle.HistoryMessages) + len(bundle.Summary)
	for _, p := range passages {
		if !unlimited && used+len(p.Text) > budget {
			// Stop at the first passage that does not fit: admitting a smaller
			// lower-ranked one would drop a higher-ranked passage in its favor.
			bundle.Truncated = true
			break
		}
		bundle.Passages = append(bundle.Passages, p)
		used += len(p.Text)
	}

	bundle.TotalSizeBytes = used
	return bundle
}

// fitNewest walks the turns from newest to oldest, keeping those that fit.
// Returned kept slice preserves chronological order.
func fitNewest(turns []models.Message, budget int) (kept, dropped []models.Message) {
	used := 0
	cut := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		size := messageSize(turns[i])
		if used+size > budget {
			break
		}
		used += size
		cut = i
	}
	return turns[cut:], turns[:cut]
}

func messageSize(m models.Message) int {
	return len(m.Role) + len(m.Content) + 2
}

func messagesSize(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageSize(m)
	}
	return total
}
