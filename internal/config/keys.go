package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "SHOPEASE_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "SHOPEASE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "SHOPEASE_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.admin_token", typ: kString, env: "SHOPEASE_ADMIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AdminToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SHOPEASE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "records.backend", typ: kString, env: "SHOPEASE_RECORDS_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Records.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Records.Backend },
	},
	{
		key: "records.mongo_uri", typ: kString, env: "SHOPEASE_MONGO_URI",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Records.MongoURI = v.(string) },
		extract: func(cfg Config) any { return cfg.Records.MongoURI },
	},
	{
		key: "records.mongo_database", typ: kString, env: "SHOPEASE_RECORDS_MONGO_DATABASE",
		apply:   func(cfg *Config, v any) { cfg.Records.MongoDatabase = v.(string) },
		extract: func(cfg Config) any { return cfg.Records.MongoDatabase },
	},
	{
		key: "embedding.provider", typ: kString, env: "SHOPEASE_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "SHOPEASE_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.dimension", typ: kInt, env: "SHOPEASE_EMBEDDING_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimension },
	},
	{
		key: "embedding.cache_size", typ: kInt, env: "SHOPEASE_EMBEDDING_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Embedding.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.CacheSize },
	},
	{
		key: "embedding.cohere_api_key", typ: kString, env: "SHOPEASE_COHERE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Embedding.CohereAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.CohereAPIKey },
	},
	{
		key: "ollama.base_url", typ: kString, env: "SHOPEASE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "SHOPEASE_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "index.backend", typ: kString, env: "SHOPEASE_INDEX_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Index.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Backend },
	},
	{
		key: "index.collection", typ: kString, env: "SHOPEASE_INDEX_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Index.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Collection },
	},
	{
		key: "index.qdrant_url", typ: kString, env: "SHOPEASE_INDEX_QDRANT_URL",
		apply:   func(cfg *Config, v any) { cfg.Index.QdrantURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.QdrantURL },
	},
	{
		key: "index.qdrant_api_key", typ: kString, env: "SHOPEASE_QDRANT_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Index.QdrantAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.QdrantAPIKey },
	},
	{
		key: "model.provider", typ: kString, env: "SHOPEASE_MODEL_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Model.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Provider },
	},
	{
		key: "model.name", typ: kString, env: "SHOPEASE_MODEL_NAME",
		apply:   func(cfg *Config, v any) { cfg.Model.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Name },
	},
	{
		key: "model.max_tokens", typ: kInt, env: "SHOPEASE_MODEL_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Model.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Model.MaxTokens },
	},
	{
		key: "model.max_rounds", typ: kInt, env: "SHOPEASE_MODEL_MAX_ROUNDS",
		apply:   func(cfg *Config, v any) { cfg.Model.MaxRounds = v.(int) },
		extract: func(cfg Config) any { return cfg.Model.MaxRounds },
	},
	{
		key: "model.history_window", typ: kInt, env: "SHOPEASE_MODEL_HISTORY_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Model.HistoryWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Model.HistoryWindow },
	},
	{
		key: "model.anthropic_api_key", typ: kString, env: "SHOPEASE_ANTHROPIC_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Model.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.AnthropicAPIKey },
	},
	{
		key: "log.level", typ: kString, env: "SHOPEASE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "SHOPEASE_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("could not parse integer from env var, using default", "env", s.env, "value", raw, "error", err)
			}
		}
	}
}
