package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/bilal-raza12/ShopEase/internal/api"
	"github.com/bilal-raza12/ShopEase/internal/config"
	"github.com/bilal-raza12/ShopEase/internal/ingest"
	"github.com/bilal-raza12/ShopEase/internal/ollama"
	"github.com/bilal-raza12/ShopEase/internal/retrieval"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat API server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the shopping tools over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, model and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func setupLogging(cfg config.LogConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "shopease version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, os.Stderr, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Server.AdminToken == "" {
		slog.Warn("admin endpoints are unauthenticated; set SHOPEASE_ADMIN_TOKEN to protect them")
	}

	handler := api.NewHandler(api.Deps{
		Chat:       a.chat,
		Index:      a.index,
		Records:    a.records,
		AdminToken: cfg.Server.AdminToken,
		Ready:      a.ready,
	})

	addr := cfg.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Index sync jobs only exist for the local record store.
	if cfg.Records.Backend != "mongo" {
		worker := ingest.NewWorker(a.store, a.records, a.index, 500*time.Millisecond)
		go worker.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "shopease listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := loadWithoutModel()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stdout carries the protocol; readiness output goes to stderr.
	a, err := buildApp(ctx, cfg, os.Stderr, false)
	if err != nil {
		return err
	}
	defer a.Close()

	s := api.NewMCPServer(api.MCPDeps{
		Tools:   a.registry,
		Index:   a.index,
		Version: version,
	})
	slog.Info("MCP server started (stdio transport)")
	return server.ServeStdio(s)
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Read()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	if err := config.Validate(cfg); err != nil {
		printWarning("%v", err)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	serverURL := "http://" + cfg.Server.Addr()

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on %s", cfg.Server.Addr())
		} else {
			printStatus("Server", "unhealthy (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Model.Provider == "ollama" || cfg.Embedding.Provider == "ollama" {
		if ollama.New(cfg.Ollama.BaseURL).IsRunning(ctx) {
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		} else {
			printStatus("Ollama", "not running at %s", cfg.Ollama.BaseURL)
		}
	}

	model := cfg.Model.Name
	if cfg.Model.Provider == "ollama" {
		model = ollamaChatModel(cfg)
	}
	if model == "" {
		model = "default"
	}
	printStatus("Model", "%s (%s)", cfg.Model.Provider, model)
	printStatus("Embeddings", "%s", cfg.Embedding.Provider)
	printStatus("Records", "%s", cfg.Records.Backend)
	printStatus("Index", "%s/%s", cfg.Index.Backend, cfg.Index.Collection)

	if running {
		c := &apiClient{baseURL: serverURL, token: cfg.Server.AdminToken, httpClient: client}
		if stats, err := fetchIndexStats(ctx, c); err != nil {
			printStatus("Products indexed", "unknown (%v)", err)
		} else {
			printStatus("Products indexed", "%d (%s)", stats.PointsCount, stats.Status)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func fetchIndexStats(ctx context.Context, c *apiClient) (retrieval.CollectionStats, error) {
	var stats retrieval.CollectionStats
	resp, err := c.get(ctx, "/admin/index-stats")
	if err != nil {
		return stats, err
	}
	err = decodeJSON(resp, &stats)
	return stats, err
}
