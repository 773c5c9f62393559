package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Records   RecordsConfig
	Embedding EmbeddingConfig
	Ollama    OllamaConfig
	Index     IndexConfig
	Model     ModelConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host     string
	Port     int
	MaxConns int
	// AdminToken guards /admin when set. Env only.
	AdminToken string
}

type StorageConfig struct {
	DataDir string
}

// RecordsConfig selects where users, orders and products are read from.
type RecordsConfig struct {
	Backend       string // "sqlite" or "mongo"
	MongoURI      string
	MongoDatabase string
}

type EmbeddingConfig struct {
	Provider     string // "cohere", "ollama" or "hash"
	Model        string
	Dimension    int
	CacheSize    int
	CohereAPIKey string
}

type OllamaConfig struct {
	BaseURL   string
	ChatModel string
}

type IndexConfig struct {
	Backend      string // "sqlite", "chromem" or "qdrant"
	Collection   string
	QdrantURL    string
	QdrantAPIKey string
}

type ModelConfig struct {
	Provider        string // "anthropic" or "ollama"
	Name            string
	MaxTokens       int
	MaxRounds       int
	HistoryWindow   int
	AnthropicAPIKey string
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8001,
			MaxConns: 256,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Records: RecordsConfig{
			Backend:       "sqlite",
			MongoDatabase: "shopease",
		},
		Embedding: EmbeddingConfig{
			Provider:  "cohere",
			Dimension: 1024,
			CacheSize: 1000,
		},
		Ollama: OllamaConfig{
			BaseURL:   "http://localhost:11434",
			ChatModel: "llama3.1",
		},
		Index: IndexConfig{
			Backend:    "sqlite",
			Collection: "shopease_products",
		},
		Model: ModelConfig{
			Provider:      "anthropic",
			MaxTokens:     1024,
			MaxRounds:     6,
			HistoryWindow: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration and checks that every secret the selected
// providers need is present.
//
// Values come from defaults, then the JSON file at
// $XDG_CONFIG_HOME/shopease/config.json, then SHOPEASE_* environment
// variables. Secrets are read from the environment only.
func Load() (Config, error) {
	cfg, err := Read()
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that only display config.
func Read() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Validate reports unknown backend names and missing secrets.
func Validate(cfg Config) error {
	var missing []string
	need := func(ok bool, what, env string) {
		if !ok {
			missing = append(missing, fmt.Sprintf("%s (set %s)", what, env))
		}
	}

	switch cfg.Model.Provider {
	case "anthropic":
		need(cfg.Model.AnthropicAPIKey != "", "Anthropic API key", "SHOPEASE_ANTHROPIC_API_KEY")
	case "ollama":
	default:
		return fmt.Errorf("unknown model.provider %q (want anthropic or ollama)", cfg.Model.Provider)
	}

	switch cfg.Embedding.Provider {
	case "cohere":
		need(cfg.Embedding.CohereAPIKey != "", "Cohere API key", "SHOPEASE_COHERE_API_KEY")
	case "ollama", "hash":
	default:
		return fmt.Errorf("unknown embedding.provider %q (want cohere, ollama or hash)", cfg.Embedding.Provider)
	}

	switch cfg.Records.Backend {
	case "mongo":
		need(cfg.Records.MongoURI != "", "MongoDB URI", "SHOPEASE_MONGO_URI")
	case "sqlite":
	default:
		return fmt.Errorf("unknown records.backend %q (want sqlite or mongo)", cfg.Records.Backend)
	}

	switch cfg.Index.Backend {
	case "qdrant":
		need(cfg.Index.QdrantURL != "", "Qdrant URL", "SHOPEASE_INDEX_QDRANT_URL")
	case "sqlite", "chromem":
	default:
		return fmt.Errorf("unknown index.backend %q (want sqlite, chromem or qdrant)", cfg.Index.Backend)
	}

	if cfg.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", cfg.Embedding.Dimension)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
