package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
)

var _ VectorStore = (*QdrantStore)(nil)

// QdrantStore talks to a Qdrant server over its REST API. Point ids must
// be UUIDs, which is what PointID produces.
type QdrantStore struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewQdrantStore(endpoint, apiKey string) (*QdrantStore, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("qdrant endpoint is required")
	}
	return &QdrantStore{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// qdrantError is a non-2xx reply.
type qdrantError struct {
	status int
	body   string
}

func (e *qdrantError) Error() string {
	return fmt.Sprintf("qdrant: status %d: %s", e.status, e.body)
}

// do sends a JSON request and decodes a JSON reply into out (when non-nil).
func (q *QdrantStore) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding qdrant request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &qdrantError{status: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding qdrant response: %w", err)
	}
	return nil
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

// notFound maps a 404 to apperr.NotFound and leaves other errors as they are.
func notFound(collection string, err error) error {
	if qe, ok := err.(*qdrantError); ok && qe.status == http.StatusNotFound {
		return apperr.Errorf(apperr.NotFound, "vector collection", "collection %s does not exist: %s", collection, qe.body)
	}
	return err
}

func (q *QdrantStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return apperr.Errorf(apperr.InvalidArgument, "ensure collection", "dimension must be positive, got %d", dimension)
	}
	err := q.do(ctx, http.MethodGet, collectionPath(name), nil, nil)
	if err == nil {
		return nil
	}
	if qe, ok := err.(*qdrantError); !ok || qe.status != http.StatusNotFound {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := q.do(ctx, http.MethodPut, collectionPath(name), body, nil); err != nil {
		// Lost a creation race with another process.
		if qe, ok := err.(*qdrantError); ok && qe.status == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

type qdrantPoint struct {
	ID      string          `json:"id"`
	Vector  []float32       `json:"vector"`
	Payload json.RawMessage `json:"payload"`
}

// Upsert sends all points in a single request; Qdrant applies a batch atomically.
func (q *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qp := make([]qdrantPoint, len(points))
	for i, p := range points {
		payload := p.Payload
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		qp[i] = qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: payload}
	}
	err := q.do(ctx, http.MethodPut, collectionPath(collection)+"/points?wait=true", map[string]any{"points": qp}, nil)
	if err != nil {
		return notFound(collection, err)
	}
	return nil
}

func (q *QdrantStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error) {
	if limit <= 0 {
		return nil, apperr.Errorf(apperr.InvalidArgument, "vector search", "limit must be positive, got %d", limit)
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var result struct {
		Result []struct {
			ID      any             `json:"id"`
			Score   float32         `json:"score"`
			Payload json.RawMessage `json:"payload"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, collectionPath(collection)+"/points/search", body, &result); err != nil {
		return nil, notFound(collection, err)
	}
	out := make([]ScoredPoint, 0, len(result.Result))
	for _, r := range result.Result {
		out = append(out, ScoredPoint{
			Point: Point{ID: fmt.Sprint(r.ID), Payload: r.Payload},
			Score: r.Score,
		})
	}
	return out, nil
}

func (q *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := q.do(ctx, http.MethodPost, collectionPath(collection)+"/points/delete?wait=true", map[string]any{"points": ids}, nil)
	if err != nil {
		return notFound(collection, err)
	}
	return nil
}

func (q *QdrantStore) Stats(ctx context.Context, collection string) (CollectionStats, error) {
	var info struct {
		Result struct {
			Status       string `json:"status"`
			PointsCount  *int   `json:"points_count"`
			VectorsCount *int   `json:"vectors_count"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, collectionPath(collection), nil, &info); err != nil {
		return CollectionStats{}, notFound(collection, err)
	}
	st := CollectionStats{Collection: collection, Status: info.Result.Status}
	if info.Result.PointsCount != nil {
		st.PointsCount = *info.Result.PointsCount
	}
	// Newer servers no longer report vectors_count; one vector per point.
	st.VectorsCount = st.PointsCount
	if info.Result.VectorsCount != nil {
		st.VectorsCount = *info.Result.VectorsCount
	}
	return st, nil
}
