// Package history implements the pure transforms over the dialogue log that
// feed the retrieval pipeline: token-budget windowing of recent messages and
// pairwise segmentation for semantic indexing. Both are stateless and safe
// to recompute on every request.
package history

import (
	"sort"

	"github.com/bdobrica/hibiki/internal/hibiki/store"
)

// CostFunc estimates the token cost of a piece of text. The pipeline wires
// in the model client's estimator; tests use trivial functions.
type CostFunc func(text string) int

// Window selects the longest contiguous chronological suffix of messages
// whose cumulative token cost stays under budget.
//
// The walk runs newest to oldest: a message is accepted while the running
// total stays under budget. When nothing fits — a budget smaller than the
// cost of a single message — the newest message is still accepted, so the
// window is never empty for non-empty input. Without that fallback a tight
// budget would leave the model blind to the immediate question.
//
// The accepted subset is returned in chronological (id ascending) order.
func Window(messages []store.Message, budget int, cost CostFunc) []store.Message {
	if len(messages) == 0 {
		return nil
	}

	sorted := sortByID(messages)

	total := 0
	start := len(sorted) // first index included in the suffix
	for i := len(sorted) - 1; i >= 0; i-- {
		c := cost(sorted[i].Content)
		if total+c >= budget {
			break
		}
		total += c
		start = i
	}

	// Tight-budget fallback: always keep the newest message.
	if start == len(sorted) {
		start = len(sorted) - 1
	}

	window := make([]store.Message, len(sorted)-start)
	copy(window, sorted[start:])
	return window
}

// sortByID returns a copy of messages ordered by id ascending. The store
// already returns ascending order; sorting defensively keeps the transforms
// correct for callers that assembled the slice by hand.
func sortByID(messages []store.Message) []store.Message {
	sorted := make([]store.Message, len(messages))
	copy(sorted, messages)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}
