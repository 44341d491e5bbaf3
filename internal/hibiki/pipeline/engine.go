// Package pipeline orchestrates one assistant turn: rephrase the new input,
// retrieve semantically relevant history, assemble a token-budgeted context,
// and stream the generated answer. All per-turn state is request-local;
// the store and index are shared across sessions but every query is scoped
// by session key.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/hibiki/common/retry"
	"github.com/bdobrica/hibiki/internal/hibiki/history"
	"github.com/bdobrica/hibiki/internal/hibiki/index"
	"github.com/bdobrica/hibiki/internal/hibiki/llm"
	"github.com/bdobrica/hibiki/internal/hibiki/rephrase"
	"github.com/bdobrica/hibiki/internal/hibiki/store"
)

// defaultInstructions is the fixed system prompt prepended to every
// generation call. The send-date annotation on the final turn gives the
// model temporal grounding to interpret it against.
const defaultInstructions = `You are Hibiki, a helpful personal assistant.
Answer the user's latest message using the conversation context provided.
The user's message is annotated with the date it was sent; use it when the answer depends on time.
Be concise, direct, and honest about what you do not know.`

// Defaults for the token budgets and retrieval parameters. The recent
// window and the similar window get independent budgets so a flood of
// similar-but-old content cannot crowd out the immediate thread, and vice
// versa. The rephrase window is smaller still — it only disambiguates the
// new input.
const (
	DefaultHistoryBudget  = 1000
	DefaultSimilarBudget  = 500
	DefaultRephraseBudget = 500
	DefaultTopK           = 4
	DefaultSearchTimeout  = 10 * time.Second
)

// MessageStore is the slice of the store the pipeline needs.
type MessageStore interface {
	AppendMessage(ctx context.Context, sessionKey string, role store.Role, content string) (store.Message, error)
	ListMessages(ctx context.Context, sessionKey string) ([]store.Message, error)
	ListMessagesByID(ctx context.Context, sessionKey string, ids []int64) ([]store.Message, error)
}

// Models bundles the per-request model capabilities. When a sender brings
// their own API key, all four are typically backed by one llm.Client built
// for that key.
type Models struct {
	Completer llm.Completer
	Streamer  llm.Streamer
	Embedder  llm.Embedder
	Cost      history.CostFunc
}

// Config holds the pipeline tuning knobs. Zero values select the defaults.
type Config struct {
	HistoryBudget  int
	SimilarBudget  int
	RephraseBudget int
	TopK           int
	SearchTimeout  time.Duration
	Instructions   string
}

func (c Config) withDefaults() Config {
	if c.HistoryBudget <= 0 {
		c.HistoryBudget = DefaultHistoryBudget
	}
	if c.SimilarBudget <= 0 {
		c.SimilarBudget = DefaultSimilarBudget
	}
	if c.RephraseBudget <= 0 {
		c.RephraseBudget = DefaultRephraseBudget
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = DefaultSearchTimeout
	}
	if c.Instructions == "" {
		c.Instructions = defaultInstructions
	}
	return c
}

// readRetry is the retry policy for idempotent read paths (store reads,
// index search). Writes are never retried here — a failed append must
// surface rather than risk duplication.
var readRetry = retry.Config{
	MaxAttempts:  2,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     time.Second,
}

// Engine runs the retrieval-augmented generation turn.
type Engine struct {
	store  MessageStore
	index  index.Index
	cfg    Config
	logger *slog.Logger
}

// New creates an Engine. If logger is nil, the default slog logger is used.
func New(st MessageStore, idx index.Index, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		index:  idx,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Respond runs one turn for the session and returns the generated answer as
// a stream of chunks. Before generation begins the new human message is
// appended to the store, and the newest history segment is embedded and
// upserted into the index concurrently with generation (fire-and-forget:
// its failure is logged and never affects the reply). After the stream
// completes cleanly, the accumulated assistant reply is appended to the
// store.
func (e *Engine) Respond(ctx context.Context, sessionKey string, models Models, input string) (<-chan llm.Chunk, error) {
	// Read the full history once; rephrasing, indexing, and assembly all
	// work from this snapshot.
	var fullHistory []store.Message
	err := retry.Do(ctx, readRetry, func() error {
		var err error
		fullHistory, err = e.store.ListMessages(ctx, sessionKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: load history: %w", err)
	}

	rephrased := rephrase.Rephrase(ctx, models.Completer, input,
		history.Window(fullHistory, e.cfg.RephraseBudget, models.Cost), e.logger)

	if _, err := e.store.AppendMessage(ctx, sessionKey, store.RoleHuman, input); err != nil {
		return nil, fmt.Errorf("pipeline: record input: %w", err)
	}

	// Index the newest segment of the pre-turn history in the background.
	// Detached from the request context so a client disconnect mid-reply
	// does not abandon the upsert; still bounded by the search timeout.
	if segment, ok := history.Newest(fullHistory); ok {
		go e.indexSegment(context.WithoutCancel(ctx), models.Embedder, segment)
	}

	assembled := e.assembleContext(ctx, sessionKey, fullHistory, rephrased, models)

	prompt := buildPrompt(e.cfg.Instructions, assembled, input, time.Now())

	stream, err := models.Streamer.StreamComplete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("pipeline: start generation: %w", err)
	}

	out := make(chan llm.Chunk)
	go e.forwardStream(ctx, sessionKey, stream, out)
	return out, nil
}

// forwardStream relays chunks unchanged while accumulating the full reply,
// then records the assistant turn once the stream ends cleanly.
func (e *Engine) forwardStream(ctx context.Context, sessionKey string, in <-chan llm.Chunk, out chan<- llm.Chunk) {
	defer close(out)

	var reply []byte
	failed := false
	for chunk := range in {
		if chunk.Err != nil {
			failed = true
		} else {
			reply = append(reply, chunk.Text...)
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}

	if failed || len(reply) == 0 {
		return
	}

	// Persist even when the client has gone away: the reply was fully
	// generated and belongs in the history.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if _, err := e.store.AppendMessage(recordCtx, sessionKey, store.RoleAI, string(reply)); err != nil {
		e.logger.Error("pipeline: failed to record assistant reply",
			"session_key", sessionKey, "err", err)
	}
}

// indexSegment embeds one segment and upserts it into the semantic index.
// Best-effort: every failure path is logged and swallowed.
func (e *Engine) indexSegment(ctx context.Context, embedder llm.Embedder, segment history.Segment) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()

	embedding, err := embedder.Embed(ctx, segment.Content)
	if err != nil {
		e.logger.Warn("pipeline: segment embedding failed",
			"session_key", segment.SessionKey,
			"first_message_id", segment.FirstMessageID,
			"err", err)
		return
	}
	if len(embedding) == 0 {
		return
	}

	entry := index.Entry{
		SessionKey:     segment.SessionKey,
		Content:        segment.Content,
		FirstMessageID: segment.FirstMessageID,
		LastMessageID:  segment.LastMessageID,
		Embedding:      embedding,
	}
	if err := e.index.Upsert(ctx, []index.Entry{entry}); err != nil {
		e.logger.Warn("pipeline: segment upsert failed",
			"session_key", segment.SessionKey,
			"first_message_id", segment.FirstMessageID,
			"err", err)
	}
}

// buildPrompt renders the final generation prompt: fixed instructions, the
// assembled context as alternating turns, and the new input as the final
// human turn annotated with its send timestamp.
func buildPrompt(instructions string, assembled []store.Message, input string, sentAt time.Time) []llm.Message {
	prompt := make([]llm.Message, 0, len(assembled)+2)
	prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: instructions})
	for _, m := range assembled {
		prompt = append(prompt, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	prompt = append(prompt, llm.Message{
		Role:    llm.RoleHuman,
		Content: fmt.Sprintf("[sent-date:%s]\n%s", sentAt.UTC().Format(time.RFC3339), input),
	})
	return prompt
}
