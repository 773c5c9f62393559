package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
	"github.com/bilal-raza12/ShopEase/internal/catalog"
	"github.com/bilal-raza12/ShopEase/internal/chat"
	"github.com/bilal-raza12/ShopEase/internal/retrieval"
	"github.com/bilal-raza12/ShopEase/internal/storage"
)

const testToken = "test-token-12345"

// --- fakes ---

type fakeChat struct {
	sendFn   func(req chat.Request) (chat.Response, error)
	threads  []storage.Thread
	detail   chat.ThreadDetail
	err      error
	lastUser string
	lastID   string
}

func (f *fakeChat) Send(_ context.Context, req chat.Request) (chat.Response, error) {
	return f.sendFn(req)
}

func (f *fakeChat) Threads(_ context.Context, userID string, _ int) ([]storage.Thread, error) {
	f.lastUser = userID
	return f.threads, f.err
}

func (f *fakeChat) Thread(_ context.Context, id, userID string) (chat.ThreadDetail, error) {
	f.lastID, f.lastUser = id, userID
	return f.detail, f.err
}

func (f *fakeChat) DeleteThread(_ context.Context, id, userID string) error {
	f.lastID, f.lastUser = id, userID
	return f.err
}

type fakeIndex struct {
	count   int
	err     error
	deleted []string
	stats   retrieval.CollectionStats
}

func (f *fakeIndex) ReindexAll(context.Context, catalog.Store) (int, error) { return f.count, f.err }

func (f *fakeIndex) ReindexOne(_ context.Context, _ catalog.Store, id string) (catalog.Product, error) {
	return catalog.Product{ID: id}, f.err
}

func (f *fakeIndex) Delete(_ context.Context, ids ...string) error {
	f.deleted = append(f.deleted, ids...)
	return f.err
}

func (f *fakeIndex) Stats(context.Context) (retrieval.CollectionStats, error) { return f.stats, f.err }

// --- helpers ---

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apiError {
	t.Helper()
	var body struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

// --- tests ---

func TestHealth(t *testing.T) {
	h := NewHandler(Deps{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"healthy"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestHealth_NotReady(t *testing.T) {
	h := NewHandler(Deps{Ready: func(context.Context) error { return apperr.ErrIndexUnavailable }})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(Deps{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "shopease_chat_duration_seconds") {
		t.Error("metrics output does not include shopease_chat_duration_seconds")
	}
}

func TestChat_Success(t *testing.T) {
	fc := &fakeChat{sendFn: func(req chat.Request) (chat.Response, error) {
		if req.UserID != "u1" || req.Message != "hi" {
			t.Errorf("request = %+v", req)
		}
		return chat.Response{Message: "Hello!", ThreadID: "t1", ContextUsed: []string{"user"}}, nil
	}}
	h := NewHandler(Deps{Chat: fc})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/chat", `{"user_id":"u1","message":"hi"}`, ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp chat.Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message != "Hello!" || resp.ThreadID != "t1" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestChat_ErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		kind     apperr.Kind
		wantCode int
		wantType string
	}{
		{apperr.InvalidArgument, http.StatusBadRequest, "invalid_request_error"},
		{apperr.NotFound, http.StatusNotFound, "not_found"},
		{apperr.ProviderUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{apperr.IndexUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{apperr.AgentFailure, http.StatusBadGateway, "agent_error"},
		{apperr.Unknown, http.StatusInternalServerError, "api_error"},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			fc := &fakeChat{sendFn: func(chat.Request) (chat.Response, error) {
				return chat.Response{}, apperr.Errorf(tt.kind, "chat", "boom")
			}}
			rr := httptest.NewRecorder()
			NewHandler(Deps{Chat: fc}).ServeHTTP(rr, authReq(http.MethodPost, "/chat", `{"user_id":"u1","message":"x"}`, ""))

			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if e := decodeError(t, rr); e.Type != tt.wantType || e.Message == "" {
				t.Errorf("error = %+v, want type %q", e, tt.wantType)
			}
		})
	}
}

func TestChat_BadBody(t *testing.T) {
	h := NewHandler(Deps{Chat: &fakeChat{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/chat", `{not json`, ""))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestThreads_RequireUserID(t *testing.T) {
	h := NewHandler(Deps{Chat: &fakeChat{}})
	for _, tc := range []struct{ method, url string }{
		{http.MethodGet, "/chat/threads"},
		{http.MethodGet, "/chat/threads/t1"},
		{http.MethodDelete, "/chat/threads/t1"},
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.url, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s %s: status = %d, want 400", tc.method, tc.url, rr.Code)
		}
	}
}

func TestThreads_List(t *testing.T) {
	now := time.Now().UTC()
	fc := &fakeChat{threads: []storage.Thread{{ID: "t1", UserID: "u1", Title: "Hi", CreatedAt: now, UpdatedAt: now}}}
	rr := httptest.NewRecorder()
	NewHandler(Deps{Chat: fc}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/threads?user_id=u1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got []storage.Thread
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "t1" || fc.lastUser != "u1" {
		t.Errorf("got %+v (user %q)", got, fc.lastUser)
	}
}

func TestThreads_ListEmptyIsArray(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHandler(Deps{Chat: &fakeChat{}}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/threads?user_id=u1", nil))
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("body = %s, want []", rr.Body.String())
	}
}

func TestThreads_GetAndDelete(t *testing.T) {
	fc := &fakeChat{detail: chat.ThreadDetail{Thread: storage.Thread{ID: "t1", UserID: "u1"}}}
	h := NewHandler(Deps{Chat: fc})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/threads/t1?user_id=u1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"messages":[]`) {
		t.Errorf("get body = %s", rr.Body.String())
	}
	if fc.lastID != "t1" {
		t.Errorf("thread id = %q", fc.lastID)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/chat/threads/t1?user_id=u1", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Thread deleted successfully") {
		t.Errorf("delete: %d %s", rr.Code, rr.Body.String())
	}
}

func TestThreads_NotFound(t *testing.T) {
	fc := &fakeChat{err: apperr.Errorf(apperr.NotFound, "get thread", "thread t9")}
	rr := httptest.NewRecorder()
	NewHandler(Deps{Chat: fc}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/threads/t9?user_id=u1", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestAdmin_RequiresTokenWhenConfigured(t *testing.T) {
	h := NewHandler(Deps{Index: &fakeIndex{}, AdminToken: testToken})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/admin/index-stats", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/admin/index-stats", "", "wrong"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/admin/index-stats", "", testToken))
	if rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rr.Code)
	}
}

func TestAdmin_OpenWithoutToken(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHandler(Deps{Index: &fakeIndex{}}).ServeHTTP(rr, authReq(http.MethodGet, "/admin/index-stats", "", ""))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestAdmin_IndexProducts(t *testing.T) {
	for _, tc := range []struct {
		count   int
		message string
	}{
		{3, "Products indexed successfully"},
		{0, "No products found to index"},
	} {
		rr := httptest.NewRecorder()
		NewHandler(Deps{Index: &fakeIndex{count: tc.count}}).ServeHTTP(rr, authReq(http.MethodPost, "/admin/index-products", "", ""))

		var got struct {
			Message string `json:"message"`
			Count   int    `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got.Message != tc.message || got.Count != tc.count {
			t.Errorf("got %+v, want %q / %d", got, tc.message, tc.count)
		}
	}
}

func TestAdmin_IndexProductsUnavailable(t *testing.T) {
	idx := &fakeIndex{err: apperr.Errorf(apperr.IndexUnavailable, "index upsert", "qdrant down")}
	rr := httptest.NewRecorder()
	NewHandler(Deps{Index: idx}).ServeHTTP(rr, authReq(http.MethodPost, "/admin/index-products", "", ""))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestAdmin_ReindexProduct(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHandler(Deps{Index: &fakeIndex{}}).ServeHTTP(rr, authReq(http.MethodPost, "/admin/reindex-product/p1", "", ""))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Product p1 reindexed successfully") {
		t.Errorf("%d %s", rr.Code, rr.Body.String())
	}

	idx := &fakeIndex{err: apperr.Errorf(apperr.NotFound, "get product", "p9")}
	rr = httptest.NewRecorder()
	NewHandler(Deps{Index: idx}).ServeHTTP(rr, authReq(http.MethodPost, "/admin/reindex-product/p9", "", ""))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if e := decodeError(t, rr); e.Message != "Product not found" {
		t.Errorf("message = %q", e.Message)
	}
}

func TestAdmin_RemoveProduct(t *testing.T) {
	idx := &fakeIndex{}
	rr := httptest.NewRecorder()
	NewHandler(Deps{Index: idx}).ServeHTTP(rr, authReq(http.MethodDelete, "/admin/remove-product/p2", "", ""))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Product p2 removed from index") {
		t.Errorf("%d %s", rr.Code, rr.Body.String())
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != "p2" {
		t.Errorf("deleted = %v", idx.deleted)
	}
}

func TestAdmin_IndexStats(t *testing.T) {
	idx := &fakeIndex{stats: retrieval.CollectionStats{Collection: "products", Status: "not_found", Error: "missing"}}
	rr := httptest.NewRecorder()
	NewHandler(Deps{Index: idx}).ServeHTTP(rr, authReq(http.MethodGet, "/admin/index-stats", "", ""))

	var got retrieval.CollectionStats
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "not_found" || got.Collection != "products" || got.Error != "missing" {
		t.Errorf("got %+v", got)
	}
}
