package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
)

var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore keeps vectors in the vector_collections/vector_points tables
// and searches them with brute-force cosine similarity. It suits catalogs
// of up to tens of thousands of products.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB. The tables must already exist
// (created by the storage migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func (s *SQLiteStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return apperr.Errorf(apperr.InvalidArgument, "ensure collection", "dimension must be positive, got %d", dimension)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO vector_collections (name, dimension, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING`, name, dimension, time.Now().UTC().Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) dimension(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, collection string) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, `SELECT dimension FROM vector_collections WHERE name = ?`, collection).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.Errorf(apperr.NotFound, "vector collection", "collection %s does not exist", collection)
	}
	if err != nil {
		return 0, fmt.Errorf("reading collection %s: %w", collection, err)
	}
	return dim, nil
}

// Upsert writes all points in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	dim, err := s.dimension(ctx, tx, collection)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vector_points (collection, id, embedding, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET embedding = excluded.embedding,
			payload = excluded.payload, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(sqliteTimeLayout)
	for _, p := range points {
		if len(p.Vector) != dim {
			return apperr.Errorf(apperr.InvalidArgument, "vector upsert", "point %s has %d dimensions, collection %s wants %d", p.ID, len(p.Vector), collection, dim)
		}
		payload := string(p.Payload)
		if payload == "" {
			payload = "{}"
		}
		if _, err := stmt.ExecContext(ctx, collection, p.ID, encodeFloat32s(p.Vector), payload, now); err != nil {
			return fmt.Errorf("upserting point %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Search.
// Payloads are fetched only for the top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search scans every vector of the collection, keeping the best limit
// candidates in a min-heap, then loads payloads for the winners.
func (s *SQLiteStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error) {
	if limit <= 0 {
		return nil, apperr.Errorf(apperr.InvalidArgument, "vector search", "limit must be positive, got %d", limit)
	}
	if _, err := s.dimension(ctx, s.db, collection); err != nil {
		return nil, err
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM vector_points WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reused across rows to avoid per-row allocations.
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		cand := idScore{ID: id, Score: cosine(vector, buf, queryNorm)}
		if h.Len() < limit {
			heap.Push(h, cand)
		} else if worse((*h)[0], cand) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	top := make([]idScore, h.Len())
	for i := len(top) - 1; i >= 0; i-- {
		top[i] = heap.Pop(h).(idScore)
	}

	args := make([]any, 0, len(top)+1)
	args = append(args, collection)
	for _, c := range top {
		args = append(args, c.ID)
	}
	payloadRows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM vector_points
		WHERE collection = ? AND id IN (?`+strings.Repeat(",?", len(top)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K payloads: %w", err)
	}
	defer payloadRows.Close()

	payloads := make(map[string][]byte, len(top))
	for payloadRows.Next() {
		var id, payload string
		if err := payloadRows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scanning payload: %w", err)
		}
		payloads[id] = []byte(payload)
	}
	if err := payloadRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating payloads: %w", err)
	}

	results := make([]ScoredPoint, 0, len(top))
	for _, c := range top {
		results = append(results, ScoredPoint{Point: Point{ID: c.ID, Payload: payloads[c.ID]}, Score: c.Score})
	}
	return results, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.dimension(ctx, s.db, collection); err != nil {
		return err
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM vector_points WHERE collection = ? AND id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, args...)
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context, collection string) (CollectionStats, error) {
	if _, err := s.dimension(ctx, s.db, collection); err != nil {
		return CollectionStats{}, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_points WHERE collection = ?`, collection).Scan(&n); err != nil {
		return CollectionStats{}, fmt.Errorf("counting points: %w", err)
	}
	return CollectionStats{Collection: collection, PointsCount: n, VectorsCount: n, Status: "green"}, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into buf, growing it when needed.
// A length that is not a multiple of 4 indicates corruption.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is the precomputed norm of a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// worse reports whether a ranks below b: lower score, or equal score and larger id.
func worse(a, b idScore) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID > b.ID
}

// idScoreHeap is a min-heap whose root is the worst kept candidate.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
