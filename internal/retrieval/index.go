package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
	"github.com/bilal-raza12/ShopEase/internal/catalog"
	"github.com/bilal-raza12/ShopEase/internal/embedding"
	"github.com/bilal-raza12/ShopEase/internal/telemetry"
)

// DefaultCollection is the collection products are indexed into.
const DefaultCollection = "products"

// reindexLimit bounds how many products a full reindex reads.
const reindexLimit = 1000

// PointID maps a product's external id to its index id: a name-based
// (SHA-1, version 5) UUID in the DNS namespace.
func PointID(externalID string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(externalID)).String()
}

// DescribeProduct renders the text that gets embedded for a product.
// The field order is fixed; changing it changes every stored vector.
func DescribeProduct(p catalog.Product) string {
	return fmt.Sprintf("Product: %s\nCategory: %s\nDescription: %s\nPrice: $%v\nFeatures: %s",
		p.Name, p.Category, p.Description, p.Price, strings.Join(p.Features, ", "))
}

// payload is the product copy stored next to each vector.
type payload struct {
	ExternalID  string   `json:"external_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Category    string   `json:"category"`
	Stock       int      `json:"stock"`
	Rating      float64  `json:"rating"`
	Features    []string `json:"features"`
	Image       string   `json:"image,omitempty"`
}

func toPayload(p catalog.Product) payload {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return payload{
		ExternalID: p.ID, Name: p.Name, Description: p.Description, Price: p.Price,
		Category: p.Category, Stock: p.Stock, Rating: p.Rating, Features: features, Image: p.Image,
	}
}

func (pl payload) product() catalog.Product {
	return catalog.Product{
		ID: pl.ExternalID, Name: pl.Name, Description: pl.Description, Price: pl.Price,
		Category: pl.Category, Stock: pl.Stock, Rating: pl.Rating, Features: pl.Features, Image: pl.Image,
	}
}

// Hit is a retrieved product with its similarity score and 1-based rank.
type Hit struct {
	Product catalog.Product `json:"product"`
	IndexID string          `json:"index_id"`
	Score   float32         `json:"score"`
	Rank    int             `json:"rank"`
}

// Index is the product vector index: it embeds products and queries with
// an embedding.Provider and stores them in a VectorStore.
type Index struct {
	store      VectorStore
	embedder   embedding.Provider
	collection string
	logger     *slog.Logger

	mu    sync.Mutex
	ready bool
}

type IndexOption func(*Index)

func WithCollection(name string) IndexOption {
	return func(ix *Index) {
		if name != "" {
			ix.collection = name
		}
	}
}

func WithLogger(l *slog.Logger) IndexOption {
	return func(ix *Index) { ix.logger = l }
}

func NewIndex(store VectorStore, embedder embedding.Provider, opts ...IndexOption) *Index {
	ix := &Index{
		store:      store,
		embedder:   embedder,
		collection: DefaultCollection,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Collection returns the collection name the index writes to.
func (ix *Index) Collection() string { return ix.collection }

// unavailable classifies a failure as IndexUnavailable, keeping the inner
// kind reachable through errors.Is. Argument errors pass through unchanged.
func unavailable(op string, err error) error {
	if errors.Is(err, apperr.ErrInvalidArgument) {
		return err
	}
	return apperr.E(apperr.IndexUnavailable, op, err)
}

// EnsureCollection creates the backing collection when absent.
func (ix *Index) EnsureCollection(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.ready {
		return nil
	}
	dim := ix.embedder.Dimension()
	if dim == 0 {
		sample, err := ix.embedder.Embed(ctx, "dimension check", embedding.PurposeIndex)
		if err != nil {
			return unavailable("ensure collection", err)
		}
		dim = len(sample)
	}
	if err := ix.store.EnsureCollection(ctx, ix.collection, dim); err != nil {
		return unavailable("ensure collection", err)
	}
	ix.ready = true
	return nil
}

// Upsert embeds and writes all products, replacing existing entries with
// the same index id. Either every product is written or none is.
func (ix *Index) Upsert(ctx context.Context, products []catalog.Product) (err error) {
	defer func() { telemetry.ObserveIndexOp("upsert", err) }()
	if len(products) == 0 {
		return nil
	}
	for _, p := range products {
		if err := catalog.Validate(p); err != nil {
			return err
		}
	}
	if err := ix.EnsureCollection(ctx); err != nil {
		return err
	}

	texts := make([]string, len(products))
	for i, p := range products {
		texts[i] = DescribeProduct(p)
	}
	vecs, err := ix.embedder.EmbedMany(ctx, texts, embedding.PurposeIndex)
	if err != nil {
		return unavailable("index upsert", err)
	}
	if len(vecs) != len(products) {
		return unavailable("index upsert", fmt.Errorf("embedded %d of %d products", len(vecs), len(products)))
	}

	points := make([]Point, len(products))
	for i, p := range products {
		body, err := json.Marshal(toPayload(p))
		if err != nil {
			return fmt.Errorf("encoding payload of %s: %w", p.ID, err)
		}
		points[i] = Point{ID: PointID(p.ID), Vector: vecs[i], Payload: body}
	}
	if err := ix.store.Upsert(ctx, ix.collection, points); err != nil {
		return unavailable("index upsert", err)
	}
	ix.logger.Debug("indexed products", "collection", ix.collection, "count", len(points))
	return nil
}

// Search returns up to limit products most similar to query, by descending
// score with ties broken by ascending index id.
func (ix *Index) Search(ctx context.Context, query string, limit int) (hits []Hit, err error) {
	defer func() { telemetry.ObserveIndexOp("search", err) }()
	if limit <= 0 {
		return nil, apperr.Errorf(apperr.InvalidArgument, "index search", "limit must be positive, got %d", limit)
	}
	if err := ix.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	vec, err := ix.embedder.Embed(ctx, query, embedding.PurposeQuery)
	if err != nil {
		return nil, unavailable("index search", err)
	}
	points, err := ix.candidates(ctx, vec, limit)
	if err != nil {
		return nil, unavailable("index search", err)
	}
	if len(points) > limit {
		points = points[:limit]
	}

	hits = make([]Hit, 0, len(points))
	for _, sp := range points {
		var pl payload
		if err := json.Unmarshal(sp.Payload, &pl); err != nil {
			ix.logger.Warn("skipping index entry with unreadable payload", "index_id", sp.ID, "error", err)
			continue
		}
		hits = append(hits, Hit{Product: pl.product(), IndexID: sp.ID, Score: sp.Score, Rank: len(hits) + 1})
	}
	return hits, nil
}

// maxSearchCandidates bounds how far candidates widens a backend query.
const maxSearchCandidates = 1024

// candidates returns at least the top limit points ordered by score, then
// index id. Backends may cut a run of equal scores anywhere, so while the
// last point returned ties the one at the cutoff the query is widened
// until the run ends or the collection is exhausted.
func (ix *Index) candidates(ctx context.Context, vec []float32, limit int) ([]ScoredPoint, error) {
	want := limit
	for {
		points, err := ix.store.Search(ctx, ix.collection, vec, want)
		if err != nil {
			return nil, err
		}
		sortByScoreThenID(points)
		if len(points) < want || want >= maxSearchCandidates ||
			points[len(points)-1].Score < points[limit-1].Score {
			return points, nil
		}
		want = min(want*2, max(maxSearchCandidates, limit))
	}
}

func sortByScoreThenID(points []ScoredPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Score != points[j].Score {
			return points[i].Score > points[j].Score
		}
		return points[i].ID < points[j].ID
	})
}

// Delete removes the entries of the given external ids. Unknown ids are ignored.
func (ix *Index) Delete(ctx context.Context, externalIDs ...string) (err error) {
	defer func() { telemetry.ObserveIndexOp("delete", err) }()
	if len(externalIDs) == 0 {
		return nil
	}
	if err := ix.EnsureCollection(ctx); err != nil {
		return err
	}
	ids := make([]string, len(externalIDs))
	for i, id := range externalIDs {
		ids[i] = PointID(id)
	}
	if err := ix.store.Delete(ctx, ix.collection, ids); err != nil {
		return unavailable("index delete", err)
	}
	return nil
}

// Stats reports the collection size. A missing collection is reported
// with status "not_found" rather than as an error.
func (ix *Index) Stats(ctx context.Context) (CollectionStats, error) {
	st, err := ix.store.Stats(ctx, ix.collection)
	if errors.Is(err, apperr.ErrNotFound) {
		return CollectionStats{Collection: ix.collection, Status: "not_found", Error: err.Error()}, nil
	}
	if err != nil {
		return CollectionStats{}, unavailable("index stats", err)
	}
	return st, nil
}

// ReindexAll indexes up to 1000 products from the record store and
// returns how many were written.
func (ix *Index) ReindexAll(ctx context.Context, records catalog.Store) (int, error) {
	products, err := records.ListProducts(ctx, reindexLimit)
	if err != nil {
		return 0, fmt.Errorf("listing products: %w", err)
	}
	if err := ix.Upsert(ctx, products); err != nil {
		return 0, err
	}
	ix.logger.Info("reindexed catalog", "collection", ix.collection, "count", len(products))
	return len(products), nil
}

// ReindexOne re-embeds a single product. An unknown id is a NotFound error.
func (ix *Index) ReindexOne(ctx context.Context, records catalog.Store, productID string) (catalog.Product, error) {
	p, err := records.GetProduct(ctx, productID)
	if err != nil {
		return catalog.Product{}, err
	}
	if err := ix.Upsert(ctx, []catalog.Product{p}); err != nil {
		return catalog.Product{}, err
	}
	return p, nil
}
