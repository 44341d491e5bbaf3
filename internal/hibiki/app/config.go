package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/hibiki/common/environment"
)

// Config holds application configuration. Values load from an optional YAML
// file first, then environment variables override file values.
type Config struct {
	// DatabasePath is the SQLite database file. Defaults to ./hibiki.db.
	DatabasePath string `yaml:"database_path"`

	// MasterKeyHex is the 64-character hex AES-256 key used to encrypt
	// stored API tokens. Required.
	MasterKeyHex string `yaml:"master_key"`

	Matrix MatrixConfig `yaml:"matrix"`
	Model  ModelConfig  `yaml:"model"`
	Chat   ChatConfig   `yaml:"chat"`
	Log    LogConfig    `yaml:"log"`
}

// MatrixConfig configures the Matrix connection.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	// AllowedRooms restricts which rooms are answered. Empty allows all
	// joined rooms.
	AllowedRooms []string `yaml:"allowed_rooms"`
}

// ModelConfig configures the OpenAI-compatible model API.
type ModelConfig struct {
	// APIKey, when set, serves senders who have not registered their own
	// key with the token command.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the API endpoint, e.g. http://localhost:11434/v1
	// for Ollama. Empty uses the public OpenAI endpoint.
	BaseURL        string        `yaml:"base_url"`
	ChatModel      string        `yaml:"chat_model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	MaxTokens      int           `yaml:"max_tokens"`
	Timeout        time.Duration `yaml:"timeout"`
}

// ChatConfig tunes the conversation pipeline and delivery.
type ChatConfig struct {
	// HistoryBudget is the token budget for the recent dialogue window.
	HistoryBudget int `yaml:"history_budget"`
	// SimilarBudget is the token budget for retrieved similar dialogue.
	SimilarBudget int `yaml:"similar_budget"`
	// RephraseBudget is the token budget for the rephrasing context.
	RephraseBudget int `yaml:"rephrase_budget"`
	// TopK is the number of index entries retrieved per turn.
	TopK int `yaml:"top_k"`
	// EditInterval is the minimum time between streamed message edits.
	EditInterval time.Duration `yaml:"edit_interval"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`
	// Format is "text" or "json". Defaults to text.
	Format string `yaml:"format"`
}

// LoadConfig builds the configuration. When path is non-empty the YAML file
// at that location is read first; environment variables then override any
// value they name.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("app: read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("app: parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DatabasePath = environment.StringOr("HIBIKI_DATABASE_PATH", c.DatabasePath)
	c.MasterKeyHex = environment.StringOr("HIBIKI_MASTER_KEY", c.MasterKeyHex)

	c.Matrix.Homeserver = environment.StringOr("MATRIX_HOMESERVER", c.Matrix.Homeserver)
	c.Matrix.UserID = environment.StringOr("MATRIX_USER_ID", c.Matrix.UserID)
	c.Matrix.AccessToken = environment.StringOr("MATRIX_ACCESS_TOKEN", c.Matrix.AccessToken)
	c.Matrix.AllowedRooms = environment.StringSliceOr("MATRIX_ALLOWED_ROOMS", c.Matrix.AllowedRooms)

	c.Model.APIKey = environment.StringOr("OPENAI_API_KEY", c.Model.APIKey)
	c.Model.BaseURL = environment.StringOr("OPENAI_BASE_URL", c.Model.BaseURL)
	c.Model.ChatModel = environment.StringOr("HIBIKI_CHAT_MODEL", c.Model.ChatModel)
	c.Model.EmbeddingModel = environment.StringOr("HIBIKI_EMBEDDING_MODEL", c.Model.EmbeddingModel)
	c.Model.MaxTokens = environment.IntOr("HIBIKI_MAX_TOKENS", c.Model.MaxTokens)
	c.Model.Timeout = environment.DurationOr("HIBIKI_MODEL_TIMEOUT", c.Model.Timeout)

	c.Chat.HistoryBudget = environment.IntOr("HIBIKI_HISTORY_BUDGET", c.Chat.HistoryBudget)
	c.Chat.SimilarBudget = environment.IntOr("HIBIKI_SIMILAR_BUDGET", c.Chat.SimilarBudget)
	c.Chat.RephraseBudget = environment.IntOr("HIBIKI_REPHRASE_BUDGET", c.Chat.RephraseBudget)
	c.Chat.TopK = environment.IntOr("HIBIKI_TOP_K", c.Chat.TopK)
	c.Chat.EditInterval = environment.DurationOr("HIBIKI_EDIT_INTERVAL", c.Chat.EditInterval)

	c.Log.Level = environment.StringOr("HIBIKI_LOG_LEVEL", c.Log.Level)
	c.Log.Format = environment.StringOr("HIBIKI_LOG_FORMAT", c.Log.Format)
}

func (c *Config) applyDefaults() {
	if c.DatabasePath == "" {
		c.DatabasePath = "./hibiki.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("app: MATRIX_HOMESERVER is required")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("app: MATRIX_USER_ID is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("app: MATRIX_ACCESS_TOKEN is required")
	}
	if c.MasterKeyHex == "" {
		return fmt.Errorf("app: HIBIKI_MASTER_KEY is required")
	}
	return nil
}
