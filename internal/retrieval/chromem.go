package retrieval

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
)

var _ VectorStore = (*ChromemStore)(nil)

// ChromemStore keeps collections in an embedded chromem-go database,
// optionally persisted to a directory. The payload JSON is stored as the
// document content; vectors are always supplied by the caller.
type ChromemStore struct {
	db *chromem.DB

	mu   sync.Mutex
	dims map[string]int
}

// NewChromemStore opens a persistent database at dir, or an in-memory one
// when dir is empty.
func NewChromemStore(dir string) (*ChromemStore, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, true)
		if err != nil {
			return nil, fmt.Errorf("opening chromem database at %s: %w", dir, err)
		}
	}
	return &ChromemStore{db: db, dims: make(map[string]int)}, nil
}

func (s *ChromemStore) EnsureCollection(_ context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return apperr.Errorf(apperr.InvalidArgument, "ensure collection", "dimension must be positive, got %d", dimension)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.GetOrCreateCollection(name, map[string]string{"dimension": fmt.Sprint(dimension)}, nil); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	if s.dims[name] == 0 {
		s.dims[name] = dimension
	}
	return nil
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.db.GetCollection(name, nil)
	if col == nil {
		return nil, 0, apperr.Errorf(apperr.NotFound, "vector collection", "collection %s does not exist", name)
	}
	// A collection reopened from disk has no recorded dimension (0) until
	// EnsureCollection runs again; the length check is skipped meanwhile.
	return col, s.dims[name], nil
}

// Upsert checks every point before writing any, so a bad point leaves the
// collection untouched.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	col, dim, err := s.collection(collection)
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		if dim > 0 && len(p.Vector) != dim {
			return apperr.Errorf(apperr.InvalidArgument, "vector upsert", "point %s has %d dimensions, collection %s wants %d", p.ID, len(p.Vector), collection, dim)
		}
		if norm(p.Vector) == 0 {
			return apperr.Errorf(apperr.InvalidArgument, "vector upsert", "point %s has a zero vector", p.ID)
		}
		content := string(p.Payload)
		if content == "" {
			content = "{}"
		}
		docs = append(docs, chromem.Document{ID: p.ID, Embedding: p.Vector, Content: content})
	}
	if err := col.AddDocuments(ctx, docs, 4); err != nil {
		return fmt.Errorf("adding documents to %s: %w", collection, err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error) {
	if limit <= 0 {
		return nil, apperr.Errorf(apperr.InvalidArgument, "vector search", "limit must be positive, got %d", limit)
	}
	col, _, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if norm(vector) == 0 {
		return nil, nil
	}
	// chromem rejects nResults above the document count.
	n := min(limit, col.Count())
	if n == 0 {
		return nil, nil
	}
	res, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	out := make([]ScoredPoint, 0, len(res))
	for _, r := range res {
		out = append(out, ScoredPoint{
			Point: Point{ID: r.ID, Payload: []byte(r.Content)},
			Score: r.Similarity,
		})
	}
	return out, nil
}

func (s *ChromemStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, _, err := s.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting from %s: %w", collection, err)
	}
	return nil
}

func (s *ChromemStore) Stats(_ context.Context, collection string) (CollectionStats, error) {
	col, _, err := s.collection(collection)
	if err != nil {
		return CollectionStats{}, err
	}
	n := col.Count()
	return CollectionStats{Collection: collection, PointsCount: n, VectorsCount: n, Status: "green"}, nil
}
