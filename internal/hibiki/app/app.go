// Package app wires the Hibiki assistant together: storage, the semantic
// index, the generation pipeline, the streaming delivery sink, and the
// Matrix surface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/hibiki/common/crypto"
	"github.com/bdobrica/hibiki/internal/hibiki/commands"
	"github.com/bdobrica/hibiki/internal/hibiki/deliver"
	"github.com/bdobrica/hibiki/internal/hibiki/index"
	"github.com/bdobrica/hibiki/internal/hibiki/llm"
	"github.com/bdobrica/hibiki/internal/hibiki/matrix"
	"github.com/bdobrica/hibiki/internal/hibiki/observability"
	"github.com/bdobrica/hibiki/internal/hibiki/pipeline"
	"github.com/bdobrica/hibiki/internal/hibiki/store"
)

// App is the assembled Hibiki application.
type App struct {
	config     *Config
	store      *store.Store
	matrix     *matrix.Client
	dispatcher *commands.Dispatcher
}

// New builds the application from configuration. The returned App owns the
// database handle; call Stop when done.
func New(config *Config) (*App, error) {
	observability.Setup(config.Log.Level, config.Log.Format)

	masterKey, err := crypto.ParseMasterKey(config.MasterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	slog.Info("opening database", "path", config.DatabasePath)
	st, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}

	slog.Info("connecting to Matrix", "homeserver", config.Matrix.Homeserver)
	matrixClient, err := matrix.New(&matrix.Config{
		Homeserver:   config.Matrix.Homeserver,
		UserID:       config.Matrix.UserID,
		AccessToken:  config.Matrix.AccessToken,
		AllowedRooms: config.Matrix.AllowedRooms,
		DB:           st.DB(),
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: matrix client: %w", err)
	}

	idx := index.NewSQLiteIndex(st.DB(), slog.Default())

	engine := pipeline.New(st, idx, pipeline.Config{
		HistoryBudget:  config.Chat.HistoryBudget,
		SimilarBudget:  config.Chat.SimilarBudget,
		RephraseBudget: config.Chat.RephraseBudget,
		TopK:           config.Chat.TopK,
	}, slog.Default())

	sink := deliver.New(matrixClient, config.Chat.EditInterval, slog.Default())

	llmCfg := llm.Config{
		BaseURL:        config.Model.BaseURL,
		ChatModel:      config.Model.ChatModel,
		EmbeddingModel: config.Model.EmbeddingModel,
		MaxTokens:      config.Model.MaxTokens,
		Timeout:        config.Model.Timeout,
	}

	dispatcher := commands.NewDispatcher(commands.Deps{
		Store:        st,
		Surface:      matrixClient,
		Sink:         sink,
		Engine:       engine,
		MasterKey:    masterKey,
		GlobalAPIKey: config.Model.APIKey,
		LLM:          llmCfg,
		Validate: func(ctx context.Context, apiKey string) error {
			return llm.ValidateKey(ctx, llmCfg, apiKey)
		},
		Logger: slog.Default(),
	})

	return &App{
		config:     config,
		store:      st,
		matrix:     matrixClient,
		dispatcher: dispatcher,
	}, nil
}

// Run starts the Matrix sync loop and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handleEvent); err != nil {
		return fmt.Errorf("app: start Matrix client: %w", err)
	}

	slog.Info("Hibiki is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop stops the Matrix client and closes the database.
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	slog.Info("closing database")
	a.store.Close()
}

// handleEvent bridges an incoming Matrix message into the command layer.
// Each message runs on its own goroutine so a slow model call never stalls
// the sync loop.
func (a *App) handleEvent(ctx context.Context, evt *event.Event) {
	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.Body == "" {
		return
	}

	sess := commands.Session{
		RoomID:   evt.RoomID.String(),
		SenderID: evt.Sender.String(),
	}

	go a.dispatcher.HandleMessage(ctx, sess, msgContent.Body)
}
