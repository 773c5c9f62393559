package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bilal-raza12/ShopEase/internal/agent"
	"github.com/bilal-raza12/ShopEase/internal/catalog"
	"github.com/bilal-raza12/ShopEase/internal/chat"
	"github.com/bilal-raza12/ShopEase/internal/composer"
	"github.com/bilal-raza12/ShopEase/internal/config"
	"github.com/bilal-raza12/ShopEase/internal/embedding"
	"github.com/bilal-raza12/ShopEase/internal/engine"
	"github.com/bilal-raza12/ShopEase/internal/mongostore"
	"github.com/bilal-raza12/ShopEase/internal/ollama"
	"github.com/bilal-raza12/ShopEase/internal/retrieval"
	"github.com/bilal-raza12/ShopEase/internal/storage"
	"github.com/bilal-raza12/ShopEase/internal/tools"
)

// defaultOllamaEmbedModel is pulled when embedding.provider is ollama and
// no model is configured.
const defaultOllamaEmbedModel = "nomic-embed-text"

// app is the wired set of components shared by serve, mcp and import.
type app struct {
	cfg      config.Config
	store    *storage.Store
	records  catalog.Store
	index    *retrieval.Index
	registry *tools.Registry
	chat     *chat.Service // nil unless built with a model

	closers []func()
}

// buildApp opens storage and the record store, builds the embedder and
// product index, and, when needChat is set, the model engine and agent.
// Model readiness output goes to w.
func buildApp(ctx context.Context, cfg config.Config, w io.Writer, needChat bool) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := a.store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	})

	switch cfg.Records.Backend {
	case "mongo":
		ms, err := mongostore.Connect(ctx, cfg.Records.MongoURI, cfg.Records.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("connecting to MongoDB: %w", err)
		}
		a.records = ms
		a.closers = append(a.closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ms.Close(closeCtx); err != nil {
				slog.Warn("closing MongoDB client", "error", err)
			}
		})
	default:
		a.records = a.store
	}

	useOllamaChat := needChat && cfg.Model.Provider == engine.ProviderOllama
	var oc *ollama.Client
	if cfg.Embedding.Provider == "ollama" || useOllamaChat {
		oc = ollama.New(cfg.Ollama.BaseURL)
		var pull []string
		if cfg.Embedding.Provider == "ollama" {
			pull = append(pull, ollamaEmbedModel(cfg))
		}
		chatModel := ""
		if useOllamaChat {
			chatModel = ollamaChatModel(cfg)
			pull = append(pull, chatModel)
		}
		if err := ollama.EnsureReady(ctx, oc, chatModel, w, pull...); err != nil {
			return nil, err
		}
	}

	embedder, err := newEmbedder(cfg, oc)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, embedder.Close)

	vectors, err := retrieval.NewStore(retrieval.StoreConfig{
		Backend:    cfg.Index.Backend,
		DB:         a.store.DB(),
		ChromemDir: filepath.Join(cfg.Storage.DataDir, "chromem"),
		QdrantURL:  cfg.Index.QdrantURL,
		QdrantKey:  cfg.Index.QdrantAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	a.index = retrieval.NewIndex(vectors, embedder, retrieval.WithCollection(cfg.Index.Collection))
	if err := a.index.EnsureCollection(ctx); err != nil {
		// Retried lazily on first write; chat still runs without products.
		slog.Warn("product index not ready", "collection", cfg.Index.Collection, "error", err)
	}

	a.registry = tools.NewRegistry(a.records, a.index)
	if !needChat {
		return a, nil
	}

	model := cfg.Model.Name
	if cfg.Model.Provider == engine.ProviderOllama {
		model = ollamaChatModel(cfg)
	}
	eng, err := engine.New(engine.Config{
		Provider:      cfg.Model.Provider,
		Model:         model,
		MaxTokens:     cfg.Model.MaxTokens,
		AnthropicKey:  cfg.Model.AnthropicAPIKey,
		OllamaBaseURL: cfg.Ollama.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model engine: %w", err)
	}

	comp := composer.New(a.records, a.index)
	orch := agent.New(comp, a.registry, eng,
		agent.WithMaxRounds(cfg.Model.MaxRounds),
		agent.WithHistoryWindow(cfg.Model.HistoryWindow),
	)
	a.chat = chat.NewService(a.store, orch, a.records)
	return a, nil
}

func newEmbedder(cfg config.Config, oc *ollama.Client) (*embedding.Cached, error) {
	var p embedding.Provider
	switch cfg.Embedding.Provider {
	case "ollama":
		// Dimension is read from the model on first use.
		p = embedding.NewOllama(oc, ollamaEmbedModel(cfg), 0)
	case "hash":
		p = embedding.NewHash(cfg.Embedding.Dimension)
	default:
		var opts []embedding.CohereOption
		if cfg.Embedding.Model != "" {
			opts = append(opts, embedding.WithCohereModel(cfg.Embedding.Model, cfg.Embedding.Dimension))
		}
		p = embedding.NewCohere(cfg.Embedding.CohereAPIKey, opts...)
	}
	c, err := embedding.NewCached(p, cfg.Embedding.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return c, nil
}

func ollamaEmbedModel(cfg config.Config) string {
	if cfg.Embedding.Model != "" {
		return cfg.Embedding.Model
	}
	return defaultOllamaEmbedModel
}

func ollamaChatModel(cfg config.Config) string {
	if cfg.Model.Name != "" {
		return cfg.Model.Name
	}
	return cfg.Ollama.ChatModel
}

// ready reports whether the server can take traffic.
func (a *app) ready(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
