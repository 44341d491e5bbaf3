package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bdobrica/hibiki/common/redact"
	"github.com/bdobrica/hibiki/common/trace"
	"github.com/bdobrica/hibiki/internal/hibiki/deliver"
	"github.com/bdobrica/hibiki/internal/hibiki/llm"
	"github.com/bdobrica/hibiki/internal/hibiki/observability"
	"github.com/bdobrica/hibiki/internal/hibiki/pipeline"
	"github.com/bdobrica/hibiki/internal/hibiki/store"
	"github.com/google/uuid"
)

// Canned reply texts.
const (
	greetingText = `Hi, I am Hibiki, your personal assistant.
To start chatting, register your OpenAI API key (https://platform.openai.com/api-keys):

    %s token <your-api-key>`

	helpText = `Commands:
    %[1]s help          show this message
    %[1]s reset         forget this conversation (history and index)
    %[1]s token <key>   register your model API key

Anything else you type is answered as conversation.`

	tokenAcceptedText = "Your API key is accepted. Now you can start chatting with me."
	tokenRejectedText = "Your API key was rejected by the model API. Please use a valid key."
	tokenRequiredText = "Please provide your API key: token <your-api-key>"
	resetDoneText     = "Your conversation history has been reset."
	busyText          = "I'm still working on your previous message — one moment."
)

// Responder is the chat surface slice the command layer needs: the sink's
// surface plus low-priority notices for command replies.
type Responder interface {
	deliver.ChatSurface
	SendNotice(ctx context.Context, roomID, message string) error
}

// CredentialValidator checks a model API key before it is stored. The
// production implementation pings the models endpoint with the candidate
// key; tests stub it.
type CredentialValidator func(ctx context.Context, apiKey string) error

// Deps wires the command layer to the rest of the application.
type Deps struct {
	Store     *store.Store
	Surface   Responder
	Sink      *deliver.Sink
	Engine    *pipeline.Engine
	MasterKey []byte
	// GlobalAPIKey, when non-empty, serves senders who have not registered
	// their own key.
	GlobalAPIKey string
	// LLM is the base model configuration; the per-sender API key is
	// filled in per request.
	LLM      llm.Config
	Validate CredentialValidator
	Logger   *slog.Logger
}

// Dispatcher owns the command router and the per-session in-flight guard.
// The pipeline assumes at most one in-flight turn per session; the guard
// enforces that here, at the edge.
type Dispatcher struct {
	deps   Deps
	router *Router

	mu       sync.Mutex
	inflight map[string]struct{}
}

// CommandPrefix marks a message as a command for Hibiki.
const CommandPrefix = "!hibiki"

// NewDispatcher creates a Dispatcher and registers the built-in commands.
func NewDispatcher(deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	d := &Dispatcher{
		deps:     deps,
		router:   NewRouter(CommandPrefix),
		inflight: make(map[string]struct{}),
	}

	d.router.Register("help", d.handleHelp)
	d.router.Register("start", d.handleStart)
	d.router.Register("reset", d.handleReset)
	d.router.Register("token", d.handleToken)

	return d
}

// HandleMessage is the entry point for every inbound text message. Commands
// are dispatched to their handlers; everything else becomes a chat turn.
func (d *Dispatcher) HandleMessage(ctx context.Context, sess Session, text string) {
	ctx = trace.WithTraceID(ctx, uuid.NewString())
	logger := observability.WithTrace(ctx)

	cmd, err := d.router.Parse(text)
	switch {
	case errors.Is(err, ErrNotACommand):
		d.chat(ctx, sess, text, logger)
		return
	case err != nil:
		d.notice(ctx, sess, fmt.Sprintf("Could not parse that command. Try %s help.", CommandPrefix))
		return
	}

	reply, err := d.router.Dispatch(ctx, sess, cmd)
	if err != nil {
		logger.Error("command failed", "command", cmd.Name, "session_key", sess.Key(), "err", err)
		reply = "Something went wrong. Please try again later."
	}
	d.notice(ctx, sess, reply)
}

// chat runs one pipeline turn and streams the answer into the room.
func (d *Dispatcher) chat(ctx context.Context, sess Session, text string, logger *slog.Logger) {
	if !d.acquire(sess.Key()) {
		d.notice(ctx, sess, busyText)
		return
	}
	defer d.release(sess.Key())

	// The turn owns its own cancellable context. When delivery aborts early,
	// cancelling here unblocks the pipeline's stream forwarder and closes the
	// upstream model stream instead of leaking both for the process lifetime.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	apiKey, err := d.resolveAPIKey(ctx, sess)
	if errors.Is(err, store.ErrNoToken) {
		d.notice(ctx, sess, fmt.Sprintf(greetingText, CommandPrefix))
		return
	}
	if err != nil {
		logger.Error("credential lookup failed", "session_key", sess.Key(), "err", err)
		d.notice(ctx, sess, "Something went wrong. Please try again later.")
		return
	}

	cfg := d.deps.LLM
	cfg.APIKey = apiKey
	client := llm.New(cfg)
	models := pipeline.Models{
		Completer: client,
		Streamer:  client,
		Embedder:  client,
		Cost:      client.TokenCost,
	}

	stream, err := d.deps.Engine.Respond(ctx, sess.Key(), models, text)
	if err != nil {
		logger.Error("turn failed before generation", "session_key", sess.Key(), "err", err)
		d.notice(ctx, sess, "Something went wrong. Please try again later.")
		return
	}

	if err := d.deps.Sink.Deliver(ctx, sess.RoomID, stream); err != nil {
		logger.Error("delivery failed", "session_key", sess.Key(), "err", err)
	}
}

// resolveAPIKey returns the sender's own key when registered, else the
// global key, else store.ErrNoToken.
func (d *Dispatcher) resolveAPIKey(ctx context.Context, sess Session) (string, error) {
	apiKey, err := d.deps.Store.UserToken(ctx, d.deps.MasterKey, sess.Key())
	if err == nil {
		return apiKey, nil
	}
	if errors.Is(err, store.ErrNoToken) && d.deps.GlobalAPIKey != "" {
		return d.deps.GlobalAPIKey, nil
	}
	return "", err
}

func (d *Dispatcher) handleHelp(_ context.Context, _ Session, _ *Command) (string, error) {
	return fmt.Sprintf(helpText, CommandPrefix), nil
}

func (d *Dispatcher) handleStart(_ context.Context, _ Session, _ *Command) (string, error) {
	return fmt.Sprintf(greetingText, CommandPrefix), nil
}

// handleReset clears the sender's dialogue log, index entries, and stored
// credential.
func (d *Dispatcher) handleReset(ctx context.Context, sess Session, _ *Command) (string, error) {
	if err := d.deps.Store.ClearMessages(ctx, sess.Key()); err != nil {
		return "", fmt.Errorf("reset: %w", err)
	}
	if err := d.deps.Store.ResetUser(ctx, sess.Key()); err != nil {
		return "", fmt.Errorf("reset: %w", err)
	}
	return resetDoneText, nil
}

// handleToken validates and stores the sender's model API key.
func (d *Dispatcher) handleToken(ctx context.Context, sess Session, cmd *Command) (string, error) {
	if len(cmd.Args) == 0 {
		return tokenRequiredText, nil
	}
	token := cmd.Args[0]

	logger := observability.WithTrace(ctx)
	logger.Debug("token command received",
		"session_key", sess.Key(),
		"text", redact.String(cmd.RawText, token),
	)

	if d.deps.Validate != nil {
		if err := d.deps.Validate(ctx, token); err != nil {
			logger.Warn("token validation failed", "session_key", sess.Key(), "err", err)
			return tokenRejectedText, nil
		}
	}

	if err := d.deps.Store.SetUserToken(ctx, d.deps.MasterKey, sess.Key(), token); err != nil {
		return "", fmt.Errorf("token: %w", err)
	}
	return tokenAcceptedText, nil
}

// notice sends a low-priority reply, falling back to a normal message when
// the surface rejects notices.
func (d *Dispatcher) notice(ctx context.Context, sess Session, text string) {
	if err := d.deps.Surface.SendNotice(ctx, sess.RoomID, text); err != nil {
		if _, err := d.deps.Surface.SendMessage(ctx, sess.RoomID, text); err != nil {
			d.deps.Logger.Error("failed to send reply", "room_id", sess.RoomID, "err", err)
		}
	}
}

func (d *Dispatcher) acquire(sessionKey string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[sessionKey]; busy {
		return false
	}
	d.inflight[sessionKey] = struct{}{}
	return true
}

func (d *Dispatcher) release(sessionKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, sessionKey)
}
