// Package index implements the semantic index over history segments:
// embedding storage plus similarity search scoped to a session. The default
// backend keeps vectors in SQLite and computes cosine similarity in Go,
// which is plenty at the scale of a personal assistant's dialogue log.
package index

import (
	"context"
)

// Entry is one indexed segment: its text, the id range of the source
// messages, and the embedding vector. Entries are never mutated; they are
// only deleted as part of a whole-session reset.
type Entry struct {
	SessionKey     string
	Content        string
	FirstMessageID int64
	LastMessageID  int64
	Embedding      []float32
	// Score is the cosine similarity against the query, populated by Search.
	Score float64
}

// Index stores segment embeddings and answers similarity queries.
type Index interface {
	// Upsert inserts or replaces entries keyed by (session, id range).
	// Failures must not block response delivery; callers treat indexing as
	// best-effort and surface the error for logging only.
	Upsert(ctx context.Context, entries []Entry) error

	// Search returns the k entries most similar to the query embedding,
	// most-similar first, restricted to the given session. An empty result
	// is not an error.
	Search(ctx context.Context, embedding []float32, sessionKey string, k int) ([]Entry, error)
}
