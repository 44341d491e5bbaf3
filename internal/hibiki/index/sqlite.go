package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// SQLiteIndex implements Index using the shared Hibiki database. Embeddings
// are stored as JSON-encoded float32 arrays and compared with brute-force
// cosine similarity computed in Go, because modernc.org/sqlite does not
// support custom C functions. A personal assistant accumulates segments in
// the hundreds to low thousands per session, where a full scan is fast.
type SQLiteIndex struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteIndex creates a SQLiteIndex backed by the given database
// connection. The caller must ensure the segments table exists (created by
// migration 0002_segments.sql). If logger is nil, the default slog logger
// is used.
func NewSQLiteIndex(db *sql.DB, logger *slog.Logger) *SQLiteIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteIndex{db: db, logger: logger}
}

// Upsert inserts or replaces index entries. Replacing on the (session,
// id range) key makes re-indexing the same segment idempotent.
func (s *SQLiteIndex) Upsert(ctx context.Context, entries []Entry) error {
	for _, entry := range entries {
		embeddingJSON, err := json.Marshal(entry.Embedding)
		if err != nil {
			return fmt.Errorf("index sqlite: marshal embedding: %w", err)
		}

		_, err = s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO segments
				(session_key, first_message_id, last_message_id, content, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			entry.SessionKey,
			entry.FirstMessageID,
			entry.LastMessageID,
			entry.Content,
			embeddingJSON,
			time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("index sqlite: insert segment: %w", err)
		}

		s.logger.Debug("index sqlite: stored segment",
			"session_key", entry.SessionKey,
			"first_message_id", entry.FirstMessageID,
			"last_message_id", entry.LastMessageID,
			"content_len", len(entry.Content),
		)
	}
	return nil
}

// Search loads all embeddings for the session and ranks them by cosine
// similarity against the query embedding, best first.
func (s *SQLiteIndex) Search(ctx context.Context, embedding []float32, sessionKey string, k int) ([]Entry, error) {
	if k <= 0 || len(embedding) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_key, first_message_id, last_message_id, content, embedding
		FROM segments
		WHERE session_key = ?`,
		sessionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("index sqlite: query segments: %w", err)
	}
	defer rows.Close()

	var candidates []Entry
	for rows.Next() {
		var (
			entry         Entry
			embeddingJSON []byte
		)
		if err := rows.Scan(
			&entry.SessionKey,
			&entry.FirstMessageID,
			&entry.LastMessageID,
			&entry.Content,
			&embeddingJSON,
		); err != nil {
			return nil, fmt.Errorf("index sqlite: scan segment: %w", err)
		}
		if err := json.Unmarshal(embeddingJSON, &entry.Embedding); err != nil {
			s.logger.Warn("index sqlite: skip segment with malformed embedding",
				"session_key", entry.SessionKey,
				"first_message_id", entry.FirstMessageID,
				"err", err,
			)
			continue
		}
		if len(entry.Embedding) == 0 {
			continue
		}

		entry.Score = cosineSimilarity(embedding, entry.Embedding)
		candidates = append(candidates, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index sqlite: iterate segments: %w", err)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	sortByScore(candidates)

	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k], nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 if the vectors differ in length or have zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortByScore sorts entries by descending score. Uses insertion sort — fine
// for the small N expected per session.
func sortByScore(items []Entry) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && items[j].Score < key.Score {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}

// Compile-time interface satisfaction check.
var _ Index = (*SQLiteIndex)(nil)
