package pipeline

import (
	"context"
	"sort"

	"github.com/bdobrica/hibiki/common/retry"
	"github.com/bdobrica/hibiki/internal/hibiki/history"
	"github.com/bdobrica/hibiki/internal/hibiki/index"
	"github.com/bdobrica/hibiki/internal/hibiki/store"
)

// assembleContext merges the two independent relevance signals — recency and
// semantic similarity — into one chronologically ordered context:
//
//  1. window the full history at the main budget,
//  2. embed the rephrased query and search the index (short timeout; any
//     failure degrades to "no similar messages found"),
//  3. resolve hit id ranges back to concrete messages via the store,
//  4. window the resolved messages at the smaller similar budget,
//  5. concatenate [similar, recent], dedupe by id (recent wins), sort by id.
//
// Deterministic for a fixed store state and fixed retrieval results.
func (e *Engine) assembleContext(ctx context.Context, sessionKey string, fullHistory []store.Message, rephrased string, models Models) []store.Message {
	recent := history.Window(fullHistory, e.cfg.HistoryBudget, models.Cost)

	similar := e.retrieveSimilar(ctx, sessionKey, rephrased, models)

	return mergeByID(similar, recent)
}

// retrieveSimilar runs the similarity leg of assembly. Every failure path
// returns nil — retrieval is an enrichment, never a requirement.
func (e *Engine) retrieveSimilar(ctx context.Context, sessionKey, rephrased string, models Models) []store.Message {
	searchCtx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()

	embedding, err := models.Embedder.Embed(searchCtx, rephrased)
	if err != nil {
		e.logger.Warn("pipeline: query embedding failed, skipping retrieval",
			"session_key", sessionKey, "err", err)
		return nil
	}
	if len(embedding) == 0 {
		return nil
	}

	var entries []index.Entry
	err = retry.Do(searchCtx, readRetry, func() error {
		var err error
		entries, err = e.index.Search(searchCtx, embedding, sessionKey, e.cfg.TopK)
		return err
	})
	if err != nil {
		e.logger.Warn("pipeline: similarity search failed, skipping retrieval",
			"session_key", sessionKey, "err", err)
		return nil
	}
	if len(entries) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(entries)*2)
	for _, entry := range entries {
		ids = append(ids, entry.FirstMessageID, entry.LastMessageID)
	}

	var resolved []store.Message
	err = retry.Do(ctx, readRetry, func() error {
		var err error
		resolved, err = e.store.ListMessagesByID(ctx, sessionKey, ids)
		return err
	})
	if err != nil {
		e.logger.Warn("pipeline: resolving similar messages failed, skipping retrieval",
			"session_key", sessionKey, "err", err)
		return nil
	}

	return history.Window(resolved, e.cfg.SimilarBudget, models.Cost)
}

// mergeByID concatenates the similar and recent windows, dropping similar
// messages whose id already appears in the recent window, then re-sorts the
// result chronologically.
func mergeByID(similar, recent []store.Message) []store.Message {
	seen := make(map[int64]struct{}, len(recent))
	for _, m := range recent {
		seen[m.ID] = struct{}{}
	}

	merged := make([]store.Message, 0, len(similar)+len(recent))
	for _, m := range similar {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		merged = append(merged, m)
	}
	merged = append(merged, recent...)

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ID < merged[j].ID
	})
	return merged
}
