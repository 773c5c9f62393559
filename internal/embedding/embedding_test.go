package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
	"github.com/bilal-raza12/ShopEase/internal/ollama"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashIsDeterministicAndNormalised(t *testing.T) {
	h := NewHash(64)
	a, _ := h.Embed(context.Background(), "Red Mug, ceramic", PurposeIndex)
	b, _ := h.Embed(context.Background(), "red mug ceramic", PurposeQuery)
	if len(a) != 64 {
		t.Fatalf("len = %d, want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: tokenisation should ignore case and punctuation", i)
		}
	}
	if n := cosine(a, a); math.Abs(n-1) > 1e-5 {
		t.Errorf("self cosine = %v, want 1", n)
	}
}

func TestHashSimilarity(t *testing.T) {
	h := NewHash(256)
	ctx := context.Background()
	mug, _ := h.Embed(ctx, "Product: Red Mug\nCategory: Kitchen", PurposeIndex)
	lamp, _ := h.Embed(ctx, "Product: Desk Lamp\nCategory: Lighting", PurposeIndex)
	q, _ := h.Embed(ctx, "mug", PurposeQuery)
	if cosine(q, mug) <= cosine(q, lamp) {
		t.Errorf("query closer to lamp (%v) than mug (%v)", cosine(q, lamp), cosine(q, mug))
	}
}

func TestHashEmptyText(t *testing.T) {
	v, err := NewHash(8).Embed(context.Background(), "", PurposeQuery)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for _, x := range v {
		if x != 0 {
			t.Fatalf("empty text produced %v", v)
		}
	}
}

func TestOllamaPrefixesByPurpose(t *testing.T) {
	var mu sync.Mutex
	var inputs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		inputs = append(inputs, req.Input)
		mu.Unlock()
		w.Write([]byte(`{"embeddings":[[0.5,0.5]]}`))
	}))
	defer srv.Close()

	p := NewOllama(ollama.New(srv.URL), "nomic-embed-text", 2)
	if _, err := p.Embed(context.Background(), "lamp", PurposeQuery); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	vecs, err := p.EmbedMany(context.Background(), []string{"a", "b", "c"}, PurposeIndex)
	if err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}
	if len(vecs) != 3 {
		t.Errorf("got %d vectors, want 3", len(vecs))
	}
	if inputs[0] != "search_query: lamp" {
		t.Errorf("query input = %q", inputs[0])
	}
	for _, in := range inputs[1:] {
		if !strings.HasPrefix(in, "search_document: ") {
			t.Errorf("document input = %q", in)
		}
	}
}

func TestOllamaUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOllama(ollama.New(srv.URL), "m", 0)
	_, err := p.EmbedMany(context.Background(), []string{"a", "b"}, PurposeIndex)
	if !errors.Is(err, apperr.ErrProviderUnavailable) {
		t.Errorf("EmbedMany = %v, want ProviderUnavailable", err)
	}
}

// countingProvider records how many texts reach it.
type countingProvider struct {
	mu    sync.Mutex
	texts int
	err   error
}

func (c *countingProvider) Dimension() int { return 1 }

func (c *countingProvider) Embed(ctx context.Context, text string, p Purpose) ([]float32, error) {
	v, err := c.EmbedMany(ctx, []string{text}, p)
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (c *countingProvider) EmbedMany(_ context.Context, texts []string, p Purpose) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.texts += len(texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)) + float32(p)}
	}
	return out, nil
}

func TestCachedServesRepeatsFromCache(t *testing.T) {
	inner := &countingProvider{}
	c, err := NewCached(inner, 100)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	first, err := c.Embed(ctx, "mug", PurposeQuery)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	c.Wait()
	second, err := c.Embed(ctx, "mug", PurposeQuery)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if first[0] != second[0] {
		t.Errorf("cached vector %v differs from %v", second, first)
	}
	if inner.texts != 1 {
		t.Errorf("inner provider saw %d texts, want 1", inner.texts)
	}

	// Same text, other purpose: not served from the query entry.
	idx, _ := c.Embed(ctx, "mug", PurposeIndex)
	if idx[0] == first[0] {
		t.Errorf("index and query encodings shared a cache entry")
	}
}

func TestCachedEmbedManyKeepsOrder(t *testing.T) {
	inner := &countingProvider{}
	c, _ := NewCached(inner, 100)
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Embed(ctx, "bb", PurposeIndex); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	c.Wait()
	vecs, err := c.EmbedMany(ctx, []string{"a", "bb", "ccc"}, PurposeIndex)
	if err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}
	for i, want := range []float32{1, 2, 3} {
		if vecs[i][0] != want {
			t.Errorf("vecs[%d] = %v, want %v", i, vecs[i], want)
		}
	}
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	inner := &countingProvider{err: apperr.Errorf(apperr.ProviderUnavailable, "test", "down")}
	c, _ := NewCached(inner, 10)
	defer c.Close()

	if _, err := c.Embed(context.Background(), "x", PurposeQuery); !errors.Is(err, apperr.ErrProviderUnavailable) {
		t.Fatalf("Embed = %v", err)
	}
	inner.err = nil
	c.Wait()
	if _, err := c.Embed(context.Background(), "x", PurposeQuery); err != nil {
		t.Errorf("Embed after recovery: %v", err)
	}
}
