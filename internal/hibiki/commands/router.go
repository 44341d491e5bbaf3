// Package commands provides command parsing and routing for Hibiki. Any
// message that does not carry the command prefix is treated as dialogue and
// handed to the chat pipeline.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Session identifies one end user's conversation thread. The session key
// scopes every store and index access for the turn.
type Session struct {
	RoomID   string
	SenderID string
}

// Key returns the opaque session key used by the store and index.
func (s Session) Key() string {
	return s.RoomID + ":" + s.SenderID
}

// Command represents a parsed command
type Command struct {
	Name    string
	Args    []string
	RawText string
}

// ErrNotACommand is returned by Parse when the message does not start with the
// command prefix. Callers should use errors.Is to distinguish this expected
// case from real errors.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// Handler handles a single command and returns the reply text.
type Handler func(ctx context.Context, sess Session, cmd *Command) (string, error)

// Router routes commands to handlers. Dispatch is a plain lookup in a
// mapping from command name to handler function — no virtual-dispatch
// hierarchy.
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a new command router
func NewRouter(prefix string) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Register registers a command handler
func (r *Router) Register(command string, handler Handler) {
	r.handlers[command] = handler
}

// Parse parses a message into a command
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)

	// Check if message starts with our prefix
	if !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}

	// Remove prefix
	text = strings.TrimSpace(strings.TrimPrefix(text, r.prefix))
	if text == "" {
		return nil, fmt.Errorf("empty command")
	}

	parts := strings.Fields(text)
	return &Command{
		Name:    parts[0],
		Args:    parts[1:],
		RawText: text,
	}, nil
}

// Dispatch routes a parsed command to its handler.
func (r *Router) Dispatch(ctx context.Context, sess Session, cmd *Command) (string, error) {
	handler, ok := r.handlers[cmd.Name]
	if !ok {
		return fmt.Sprintf("Unknown command %q. Try %s help.", cmd.Name, r.prefix), nil
	}
	return handler(ctx, sess, cmd)
}
