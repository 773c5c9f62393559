package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// VectorStore is a named-collection vector backend. Implementations must
// be safe for concurrent use; concurrent writes to the same point id are
// last-writer-wins.
//
// Upsert writes every point or none of them. Delete of an absent id is a
// no-op. Operations on a collection that was never created return an
// apperr.NotFound error.
type VectorStore interface {
	// EnsureCollection creates the collection when absent. Idempotent.
	EnsureCollection(ctx context.Context, name string, dimension int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns up to limit points by descending cosine similarity.
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error)
	Delete(ctx context.Context, collection string, ids []string) error
	Stats(ctx context.Context, collection string) (CollectionStats, error)
}

// Point is one stored vector with its JSON payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload json.RawMessage
}

// ScoredPoint is a Point with its similarity to the query.
type ScoredPoint struct {
	Point
	Score float32
}

// CollectionStats reports the size and health of a collection.
type CollectionStats struct {
	Collection   string `json:"collection"`
	PointsCount  int    `json:"points_count"`
	VectorsCount int    `json:"vectors_count"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

// Backend names accepted by NewStore.
const (
	BackendSQLite  = "sqlite"
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// StoreConfig carries what each backend needs; unused fields are ignored.
type StoreConfig struct {
	Backend string
	// DB backs the sqlite backend.
	DB *sql.DB
	// ChromemDir persists the chromem backend; empty keeps it in memory.
	ChromemDir string
	QdrantURL  string
	QdrantKey  string
}

// NewStore builds the configured backend.
func NewStore(cfg StoreConfig) (VectorStore, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		if cfg.DB == nil {
			return nil, fmt.Errorf("sqlite vector backend needs a database handle")
		}
		return NewSQLiteStore(cfg.DB), nil
	case BackendChromem:
		return NewChromemStore(cfg.ChromemDir)
	case BackendQdrant:
		return NewQdrantStore(cfg.QdrantURL, cfg.QdrantKey)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
