package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bilal-raza12/ShopEase/internal/retrieval"
	"github.com/bilal-raza12/ShopEase/internal/tools"
)

// --- mocks ---

type mockMCPTools struct {
	mu    sync.Mutex
	calls []tools.Call
	users []string
	out   string
	err   error
}

func (m *mockMCPTools) Specs() []tools.Spec { return tools.NewRegistry(nil, nil).Specs() }

func (m *mockMCPTools) Dispatch(_ context.Context, userID string, c tools.Call) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	m.users = append(m.users, userID)
	return m.out, m.err
}

type mockMCPIndex struct {
	stats retrieval.CollectionStats
	err   error
}

func (m *mockMCPIndex) Stats(context.Context) (retrieval.CollectionStats, error) { return m.stats, m.err }

// --- helpers ---

func specFor(t *testing.T, kind tools.Kind) tools.Spec {
	t.Helper()
	for _, s := range tools.NewRegistry(nil, nil).Specs() {
		if s.Kind == kind {
			return s
		}
	}
	t.Fatalf("no spec for %v", kind)
	return tools.Spec{}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPServer_RegistersTools(t *testing.T) {
	s := NewMCPServer(MCPDeps{Tools: &mockMCPTools{}, Index: &mockMCPIndex{}})
	got := s.ListTools()
	for _, name := range []string{"search_products", "get_order_status", "get_product_categories", "get_product_details", "index_stats"} {
		if _, ok := got[name]; !ok {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestMCPToolFor_OrderStatusRequiresUser(t *testing.T) {
	tool := mcpToolFor(specFor(t, tools.OrderStatus))
	if _, ok := tool.InputSchema.Properties["user_id"]; !ok {
		t.Fatal("user_id property missing")
	}
	found := false
	for _, r := range tool.InputSchema.Required {
		if r == "user_id" {
			found = true
		}
	}
	if !found {
		t.Errorf("required = %v, want user_id", tool.InputSchema.Required)
	}
	if _, ok := tool.InputSchema.Properties["order_id"]; !ok {
		t.Error("order_id property missing")
	}
}

func TestMCPTool_SearchProducts(t *testing.T) {
	m := &mockMCPTools{out: "Here are the products I found:"}
	handler := mcpToolCall(MCPDeps{Tools: m}, specFor(t, tools.SearchProducts))

	result, err := handler(context.Background(), makeCallToolRequest("search_products", map[string]interface{}{
		"query": "red mug",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}
	if toolText(t, result) != m.out {
		t.Errorf("text = %q", toolText(t, result))
	}
	if len(m.calls) != 1 || m.calls[0].Kind != tools.SearchProducts || m.calls[0].Query != "red mug" {
		t.Errorf("calls = %+v", m.calls)
	}
}

func TestMCPTool_MissingArgument(t *testing.T) {
	m := &mockMCPTools{}
	handler := mcpToolCall(MCPDeps{Tools: m}, specFor(t, tools.ProductDetails))

	result, err := handler(context.Background(), makeCallToolRequest("get_product_details", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if len(m.calls) != 0 {
		t.Errorf("dispatch called %d times", len(m.calls))
	}
}

func TestMCPTool_OrderStatusPassesUser(t *testing.T) {
	m := &mockMCPTools{out: "ok"}
	handler := mcpToolCall(MCPDeps{Tools: m}, specFor(t, tools.OrderStatus))

	result, _ := handler(context.Background(), makeCallToolRequest("get_order_status", map[string]interface{}{
		"user_id":  "u1",
		"order_id": "abc",
	}))
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}
	if len(m.users) != 1 || m.users[0] != "u1" || m.calls[0].OrderID != "abc" {
		t.Errorf("users = %v, calls = %+v", m.users, m.calls)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("get_order_status", map[string]interface{}{}))
	if !result.IsError {
		t.Error("expected error result without user_id")
	}
}

func TestMCPTool_DispatchError(t *testing.T) {
	m := &mockMCPTools{err: errors.New("store down")}
	handler := mcpToolCall(MCPDeps{Tools: m}, specFor(t, tools.ProductCategories))

	result, err := handler(context.Background(), makeCallToolRequest("get_product_categories", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(toolText(t, result), "store down") {
		t.Errorf("result = %+v", result)
	}
}

func TestMCPTool_IndexStats(t *testing.T) {
	idx := &mockMCPIndex{stats: retrieval.CollectionStats{Collection: "products", PointsCount: 4, VectorsCount: 4, Status: "green"}}
	handler := mcpIndexStats(MCPDeps{Index: idx})

	result, err := handler(context.Background(), makeCallToolRequest("index_stats", nil))
	if err != nil || result.IsError {
		t.Fatalf("unexpected failure: %v %+v", err, result)
	}
	var got retrieval.CollectionStats
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatal(err)
	}
	if got.PointsCount != 4 || got.Status != "green" {
		t.Errorf("got %+v", got)
	}

	handler = mcpIndexStats(MCPDeps{Index: &mockMCPIndex{err: errors.New("down")}})
	result, _ = handler(context.Background(), makeCallToolRequest("index_stats", nil))
	if !result.IsError {
		t.Error("expected error result")
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	m := &mockMCPTools{out: "ok"}
	search := mcpToolCall(MCPDeps{Tools: m}, specFor(t, tools.SearchProducts))
	orders := mcpToolCall(MCPDeps{Tools: m}, specFor(t, tools.OrderStatus))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = search(context.Background(), makeCallToolRequest("search_products", map[string]interface{}{"query": "lamp"}))
			} else {
				_, err = orders(context.Background(), makeCallToolRequest("get_order_status", map[string]interface{}{"user_id": "u1"}))
			}
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
	if len(m.calls) != 10 {
		t.Errorf("calls = %d, want 10", len(m.calls))
	}
}
