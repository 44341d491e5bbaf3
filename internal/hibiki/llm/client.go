// Package llm wraps the OpenAI-compatible chat and embeddings APIs behind
// the three capabilities the pipeline consumes: one-shot completion,
// streaming completion, and text embedding. Credentials are opaque inputs;
// a client is cheap to construct per request when a sender brings their own
// API key.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultChatModel      = "gpt-4o-mini"
	defaultEmbeddingModel = openai.SmallEmbedding3
	defaultTimeout        = 60 * time.Second
)

// Role values for prompt messages.
const (
	RoleSystem    = "system"
	RoleHuman     = "human"
	RoleAssistant = "ai"
)

// Message is a single prompt turn.
type Message struct {
	Role    string
	Content string
}

// Chunk is one increment of a streamed completion. Err is non-nil on the
// terminal chunk when the stream failed; a clean stream simply closes the
// channel.
type Chunk struct {
	Text string
	Err  error
}

// Completer produces a full completion for a prompt. The rephraser consumes
// this capability.
type Completer interface {
	Complete(ctx context.Context, prompt []Message) (string, error)
}

// Streamer produces an incrementally delivered completion. The generation
// pipeline consumes this capability.
type Streamer interface {
	StreamComplete(ctx context.Context, prompt []Message) (<-chan Chunk, error)
}

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config configures the OpenAI-compatible client.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint. Useful for local models (Ollama),
	// Azure OpenAI, or any other OpenAI-compatible endpoint. Defaults to
	// the public OpenAI endpoint when empty.
	BaseURL string

	// ChatModel is the chat model for both rephrasing and generation.
	// Defaults to gpt-4o-mini when empty.
	ChatModel string

	// EmbeddingModel is the embeddings model. Defaults to
	// text-embedding-3-small when empty.
	EmbeddingModel string

	// MaxTokens caps the completion length. Zero leaves the API default.
	MaxTokens int

	// Timeout is the HTTP request timeout. Defaults to 60 s.
	Timeout time.Duration
}

// Client implements Completer, Streamer, and Embedder over the OpenAI API.
// It is safe for concurrent use.
type Client struct {
	cfg    Config
	client *openai.Client
}

// New returns a Client for the given configuration.
func New(cfg Config) *Client {
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(defaultEmbeddingModel)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		cfg:    cfg,
		client: openai.NewClientWithConfig(apiCfg),
	}
}

// Complete runs a one-shot chat completion and returns the full text.
func (c *Client) Complete(ctx context.Context, prompt []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.ChatModel,
		Messages:  toOpenAIMessages(prompt),
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamComplete starts a streaming chat completion and forwards the raw
// content deltas. The returned channel is closed when the stream ends; a
// stream failure is delivered as a final Chunk with Err set. No buffering or
// debouncing happens at this layer.
func (c *Client) StreamComplete(ctx context.Context, prompt []Message) (<-chan Chunk, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.ChatModel,
		Messages:  toOpenAIMessages(prompt),
		MaxTokens: c.cfg.MaxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: open completion stream: %w", err)
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case chunks <- Chunk{Err: fmt.Errorf("llm: receive stream chunk: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case chunks <- Chunk{Text: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return chunks, nil
}

// Embed produces a vector embedding for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("llm: no embedding data returned")
	}
	return resp.Data[0].Embedding, nil
}

// ValidateKey checks whether an API key is accepted by the configured
// endpoint. It lists the available models, the cheapest authenticated call
// the API offers.
func ValidateKey(ctx context.Context, cfg Config, apiKey string) error {
	cfg.APIKey = apiKey
	c := New(cfg)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("llm: validate api key: %w", err)
	}
	return nil
}

// toOpenAIMessages converts prompt turns to the wire format. Hibiki's
// "human"/"ai" roles map to the API's "user"/"assistant".
func toOpenAIMessages(prompt []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(prompt))
	for _, m := range prompt {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}
	return out
}

// Compile-time interface satisfaction checks.
var (
	_ Completer = (*Client)(nil)
	_ Streamer  = (*Client)(nil)
	_ Embedder  = (*Client)(nil)
)
