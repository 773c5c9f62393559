// Package api exposes the assistant over HTTP (chat, threads, admin
// indexing, health, metrics), over a websocket and as an MCP tool server.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
	"github.com/bilal-raza12/ShopEase/internal/catalog"
	"github.com/bilal-raza12/ShopEase/internal/chat"
	"github.com/bilal-raza12/ShopEase/internal/retrieval"
	"github.com/bilal-raza12/ShopEase/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ChatService is the conversation boundary the handlers call.
type ChatService interface {
	Send(ctx context.Context, req chat.Request) (chat.Response, error)
	Threads(ctx context.Context, userID string, limit int) ([]storage.Thread, error)
	Thread(ctx context.Context, id, userID string) (chat.ThreadDetail, error)
	DeleteThread(ctx context.Context, id, userID string) error
}

// IndexAdmin is the product index as seen by the admin routes.
type IndexAdmin interface {
	ReindexAll(ctx context.Context, records catalog.Store) (int, error)
	ReindexOne(ctx context.Context, records catalog.Store, productID string) (catalog.Product, error)
	Delete(ctx context.Context, externalIDs ...string) error
	Stats(ctx context.Context) (retrieval.CollectionStats, error)
}

type Deps struct {
	Chat       ChatService
	Index      IndexAdmin
	Records    catalog.Store
	AdminToken string // optional; when empty /admin is open
	// Ready is an optional readiness check reported by /health.
	Ready func(ctx context.Context) error
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/chat", func(r chi.Router) {
		r.Post("/", handleChat(deps))
		r.Get("/ws", handleChatWS(deps))
		r.Get("/threads", handleListThreads(deps))
		r.Get("/threads/{id}", handleGetThread(deps))
		r.Delete("/threads/{id}", handleDeleteThread(deps))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(BearerAuth(deps.AdminToken))
		r.Post("/index-products", handleIndexProducts(deps))
		r.Post("/reindex-product/{id}", handleReindexProduct(deps))
		r.Delete("/remove-product/{id}", handleRemoveProduct(deps))
		r.Get("/index-stats", handleIndexStats(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "service": "shopease", "error": err.Error()})
				return
			}
		}
		writeJSON(w, map[string]string{"status": "healthy", "service": "shopease"})
	}
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chat.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		resp, err := deps.Chat.Send(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, resp)
	}
}

// requireUser reads the user_id query parameter every thread route needs.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
		return "", false
	}
	return userID, true
}

func handleListThreads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		limit := parseIntParam(r, "limit", 50, 200)

		threads, err := deps.Chat.Threads(r.Context(), userID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if threads == nil {
			threads = []storage.Thread{}
		}
		writeJSON(w, threads)
	}
}

func handleGetThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		detail, err := deps.Chat.Thread(r.Context(), chi.URLParam(r, "id"), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		if detail.Messages == nil {
			detail.Messages = []storage.Message{}
		}
		writeJSON(w, detail)
	}
}

func handleDeleteThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		if err := deps.Chat.DeleteThread(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"message": "Thread deleted successfully"})
	}
}

// indexResult is the body of the admin indexing routes.
type indexResult struct {
	Message string `json:"message"`
	Count   *int   `json:"count,omitempty"`
}

func handleIndexProducts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Index.ReindexAll(r.Context(), deps.Records)
		if err != nil {
			writeError(w, err)
			return
		}
		msg := "Products indexed successfully"
		if n == 0 {
			msg = "No products found to index"
		}
		writeJSON(w, indexResult{Message: msg, Count: &n})
	}
}

func handleReindexProduct(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Index.ReindexOne(r.Context(), deps.Records, id); err != nil {
			if apperr.KindOf(err) == apperr.NotFound {
				httpError(w, http.StatusNotFound, "not_found", "Product not found")
				return
			}
			writeError(w, err)
			return
		}
		writeJSON(w, indexResult{Message: "Product " + id + " reindexed successfully"})
	}
}

func handleRemoveProduct(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Index.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, indexResult{Message: "Product " + id + " removed from index"})
	}
}

func handleIndexStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Index.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, st)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
