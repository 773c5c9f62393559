package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
)

func TestCohereInputTypeFollowsPurpose(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embed" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req cohereRequest
		json.NewDecoder(r.Body).Decode(&req)
		seen = append(seen, req.InputType)
		resp := cohereResponse{}
		for range req.Texts {
			resp.Embeddings = append(resp.Embeddings, []float32{1, 0, 0})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewCohere("secret", WithCohereBaseURL(srv.URL), WithCohereModel("test-model", 3))
	if _, err := c.Embed(context.Background(), "doc", PurposeIndex); err != nil {
		t.Fatalf("Embed(index): %v", err)
	}
	if _, err := c.Embed(context.Background(), "query", PurposeQuery); err != nil {
		t.Fatalf("Embed(query): %v", err)
	}
	if len(seen) != 2 || seen[0] != "search_document" || seen[1] != "search_query" {
		t.Errorf("input types = %v", seen)
	}
}

func TestCohereEmbedManyChunksAndKeepsOrder(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req cohereRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Texts) > cohereBatchSize {
			t.Errorf("chunk of %d texts exceeds %d", len(req.Texts), cohereBatchSize)
		}
		resp := cohereResponse{}
		for _, txt := range req.Texts {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(len(txt))})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	texts := make([]string, 100)
	for i := range texts {
		texts[i] = string(make([]byte, i))
	}
	c := NewCohere("k", WithCohereBaseURL(srv.URL), WithCohereModel("", 1))
	vecs, err := c.EmbedMany(context.Background(), texts, PurposeIndex)
	if err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}
	if calls != 2 {
		t.Errorf("made %d requests, want 2", calls)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Fatalf("vecs[%d] = %v, order not preserved", i, v)
		}
	}
}

func TestCohereFailuresAreProviderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewCohere("k", WithCohereBaseURL(srv.URL))
	_, err := c.Embed(context.Background(), "x", PurposeQuery)
	if !errors.Is(err, apperr.ErrProviderUnavailable) {
		t.Errorf("Embed = %v, want ProviderUnavailable", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()
	c = NewCohere("k", WithCohereBaseURL(down.URL))
	if _, err := c.Embed(context.Background(), "x", PurposeQuery); !errors.Is(err, apperr.ErrProviderUnavailable) {
		t.Errorf("Embed (down) = %v, want ProviderUnavailable", err)
	}
}

func TestCohereRejectsWrongDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(cohereResponse{Embeddings: [][]float32{{1, 2}}})
	}))
	defer srv.Close()

	c := NewCohere("k", WithCohereBaseURL(srv.URL), WithCohereModel("", 3))
	if _, err := c.Embed(context.Background(), "x", PurposeIndex); !errors.Is(err, apperr.ErrProviderUnavailable) {
		t.Errorf("Embed = %v, want ProviderUnavailable", err)
	}
}
