// Package deliver consumes a generated token stream and pushes debounced
// incremental updates into a chat surface: one initial message on the first
// chunk, rate-limit-friendly edits while streaming, and a final edit when
// the stream completes. The debounce is an explicit single ticker per
// in-flight stream, stopped when the stream ends or the context is
// cancelled — no self-rescheduling callbacks.
package deliver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/hibiki/internal/hibiki/llm"
)

// DefaultEditInterval caps live-message edits to one per interval, keeping
// well under chat-server rate limits.
const DefaultEditInterval = 300 * time.Millisecond

// inProgressMarker is appended to the visible text while the answer is
// still being generated, and removed on the final edit.
const inProgressMarker = "\n\n✨ ✨ ✨"

// fallbackText resolves the turn when generation fails before producing any
// text, so the user is never left staring at a typing indicator.
const fallbackText = "Something went wrong. Please try again later."

// MessageHandle identifies a previously sent message so it can be edited.
type MessageHandle string

// ChatSurface is the outbound boundary to the chat transport. EditMessage
// with formatted=true may fail on remote formatting validation; the sink
// retries the same text unformatted before giving up.
type ChatSurface interface {
	SendMessage(ctx context.Context, target, text string) (MessageHandle, error)
	EditMessage(ctx context.Context, target string, handle MessageHandle, text string, formatted bool) error
	SendTyping(ctx context.Context, target string) error
}

// Sink delivers one stream per Deliver call. A Sink is stateless between
// calls and safe for concurrent use across sessions.
type Sink struct {
	surface  ChatSurface
	interval time.Duration
	logger   *slog.Logger
}

// New creates a Sink over the given surface. interval <= 0 selects
// DefaultEditInterval; a nil logger selects the default slog logger.
func New(surface ChatSurface, interval time.Duration, logger *slog.Logger) *Sink {
	if interval <= 0 {
		interval = DefaultEditInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{surface: surface, interval: interval, logger: logger}
}

// Deliver consumes the stream and mirrors it into the chat surface.
//
// State machine: waiting for the first non-empty chunk (typing indicator
// showing), then streaming (live message being edited at most once per
// tick, only when the text changed), then done (exactly one final edit with
// the full text and no in-progress marker).
//
// A stream error before any text resolves the turn with a fallback message;
// after partial text, whatever accumulated is finalized. Cancellation stops
// all further edits immediately.
func (s *Sink) Deliver(ctx context.Context, target string, stream <-chan llm.Chunk) error {
	if err := s.surface.SendTyping(ctx, target); err != nil {
		s.logger.Debug("deliver: typing indicator failed", "target", target, "err", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var (
		acc       strings.Builder
		handle    MessageHandle
		lastEdit  string
		streamErr error
	)

stream:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-stream:
			if !ok {
				break stream
			}
			if chunk.Err != nil {
				streamErr = chunk.Err
				break stream
			}
			acc.WriteString(chunk.Text)

			// First non-empty chunk opens the live message.
			if handle == "" && acc.Len() > 0 {
				h, err := s.surface.SendMessage(ctx, target, acc.String())
				if err != nil {
					return fmt.Errorf("deliver: send initial message: %w", err)
				}
				handle = h
				lastEdit = acc.String()
			}

		case <-ticker.C:
			if handle == "" || acc.String() == lastEdit {
				continue
			}
			s.edit(ctx, target, handle, acc.String()+inProgressMarker)
			lastEdit = acc.String()
		}
	}

	if streamErr != nil {
		if handle == "" {
			if _, err := s.surface.SendMessage(ctx, target, fallbackText); err != nil {
				s.logger.Error("deliver: fallback message failed", "target", target, "err", err)
			}
			return fmt.Errorf("deliver: generation failed: %w", streamErr)
		}
		// Partial answer: freeze what we have, without the marker.
		s.edit(ctx, target, handle, acc.String())
		return fmt.Errorf("deliver: generation failed mid-stream: %w", streamErr)
	}

	if handle == "" {
		// Stream finished without producing any text.
		if _, err := s.surface.SendMessage(ctx, target, fallbackText); err != nil {
			return fmt.Errorf("deliver: send fallback message: %w", err)
		}
		return nil
	}

	// Exactly one final edit: full text, no in-progress marker.
	s.edit(ctx, target, handle, acc.String())
	return nil
}

// edit applies a formatted edit, falling back to the same text unformatted
// when the surface rejects the formatting. Edit failures are logged, not
// returned — a dropped intermediate frame is preferable to aborting the
// stream.
func (s *Sink) edit(ctx context.Context, target string, handle MessageHandle, text string) {
	err := s.surface.EditMessage(ctx, target, handle, text, true)
	if err == nil {
		return
	}
	s.logger.Warn("deliver: formatted edit failed, retrying unformatted",
		"target", target, "err", err)

	if err := s.surface.EditMessage(ctx, target, handle, text, false); err != nil {
		s.logger.Error("deliver: unformatted edit failed", "target", target, "err", err)
	}
}
