package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
)

// fakeQdrant records requests and answers with canned bodies keyed by "METHOD path".
type fakeQdrant struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string]string
	replies  map[string]string
	statuses map[string]int
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	t.Helper()
	f := &fakeQdrant{bodies: map[string]string{}, replies: map[string]string{}, statuses: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-key"); got != "k" {
			t.Errorf("api-key header = %q", got)
		}
		key := r.Method + " " + r.URL.Path
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, key)
		f.bodies[key] = string(b)
		status, reply := f.statuses[key], f.replies[key]
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		if reply == "" {
			reply = `{"result":true,"status":"ok"}`
		}
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestQdrantEnsureCollectionCreatesWhenMissing(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.statuses["GET /collections/products"] = http.StatusNotFound
	f.replies["GET /collections/products"] = `{"status":{"error":"Not found"}}`

	q, _ := NewQdrantStore(srv.URL, "k")
	if err := q.EnsureCollection(context.Background(), "products", 1024); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if len(f.requests) != 2 || f.requests[1] != "PUT /collections/products" {
		t.Fatalf("requests = %v", f.requests)
	}
	var body struct {
		Vectors struct {
			Size     int    `json:"size"`
			Distance string `json:"distance"`
		} `json:"vectors"`
	}
	json.Unmarshal([]byte(f.bodies["PUT /collections/products"]), &body)
	if body.Vectors.Size != 1024 || body.Vectors.Distance != "Cosine" {
		t.Errorf("create body = %s", f.bodies["PUT /collections/products"])
	}
}

func TestQdrantEnsureCollectionExisting(t *testing.T) {
	f, srv := newFakeQdrant(t)
	q, _ := NewQdrantStore(srv.URL, "k")
	if err := q.EnsureCollection(context.Background(), "products", 8); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if len(f.requests) != 1 {
		t.Errorf("requests = %v, want only the GET", f.requests)
	}
}

func TestQdrantUpsertSendsOneBatch(t *testing.T) {
	f, srv := newFakeQdrant(t)
	q, _ := NewQdrantStore(srv.URL, "k")
	err := q.Upsert(context.Background(), "products", []Point{pt("id-1", 1, 0), pt("id-2", 0, 1)})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(f.requests) != 1 || f.requests[0] != "PUT /collections/products/points" {
		t.Fatalf("requests = %v", f.requests)
	}
	var body struct {
		Points []qdrantPoint `json:"points"`
	}
	if err := json.Unmarshal([]byte(f.bodies[f.requests[0]]), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Points) != 2 || body.Points[1].ID != "id-2" {
		t.Errorf("points = %+v", body.Points)
	}
}

func TestQdrantSearch(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.replies["POST /collections/products/points/search"] = `{"result":[
		{"id":"id-1","score":0.9,"payload":{"external_id":"p1"}},
		{"id":"id-2","score":0.4,"payload":{"external_id":"p2"}}]}`

	q, _ := NewQdrantStore(srv.URL, "k")
	res, err := q.Search(context.Background(), "products", []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 || res[0].ID != "id-1" || res[0].Score != 0.9 {
		t.Errorf("results = %+v", res)
	}
	if !strings.Contains(string(res[1].Payload), `"p2"`) {
		t.Errorf("payload = %s", res[1].Payload)
	}
	if !strings.Contains(f.bodies["POST /collections/products/points/search"], `"limit":2`) {
		t.Errorf("search body = %s", f.bodies["POST /collections/products/points/search"])
	}
}

func TestQdrantStats(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.replies["GET /collections/products"] = `{"result":{"status":"green","points_count":12,"vectors_count":null}}`

	q, _ := NewQdrantStore(srv.URL, "k")
	st, err := q.Stats(context.Background(), "products")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.PointsCount != 12 || st.VectorsCount != 12 || st.Status != "green" {
		t.Errorf("stats = %+v", st)
	}
}

func TestQdrantMissingCollectionIsNotFound(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.statuses["GET /collections/gone"] = http.StatusNotFound
	f.replies["GET /collections/gone"] = `{"status":{"error":"Collection gone not found"}}`

	q, _ := NewQdrantStore(srv.URL, "k")
	_, err := q.Stats(context.Background(), "gone")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Stats = %v, want NotFound", err)
	}
}

func TestQdrantServerErrorIsNotNotFound(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.statuses["POST /collections/products/points/delete"] = http.StatusInternalServerError

	q, _ := NewQdrantStore(srv.URL, "k")
	err := q.Delete(context.Background(), "products", []string{"id-1"})
	if err == nil || errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Delete = %v, want a plain server error", err)
	}
}
