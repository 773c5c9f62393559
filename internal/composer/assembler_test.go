package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
	"github.com/bilal-raza12/ShopEase/internal/catalog"
	"github.com/bilal-raza12/ShopEase/internal/retrieval"
)

type fakeRecords struct {
	user      *catalog.User
	userErr   error
	orders    []catalog.Order
	ordersErr error
	lastLimit int
}

func (f *fakeRecords) GetUser(_ context.Context, id string) (catalog.User, error) {
	if f.userErr != nil {
		return catalog.User{}, f.userErr
	}
	if f.user == nil || f.user.ID != id {
		return catalog.User{}, apperr.Errorf(apperr.NotFound, "get user", "user %s", id)
	}
	return *f.user, nil
}

func (f *fakeRecords) GetOrders(_ context.Context, _ string, limit int) ([]catalog.Order, error) {
	f.lastLimit = limit
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}
	// Ignores limit on purpose to check the assembler caps the result itself.
	return f.orders, nil
}

func (f *fakeRecords) GetProduct(context.Context, string) (catalog.Product, error) {
	return catalog.Product{}, apperr.ErrNotFound
}
func (f *fakeRecords) ListProducts(context.Context, int) ([]catalog.Product, error) { return nil, nil }
func (f *fakeRecords) ListCategories(context.Context) ([]string, error)           { return nil, nil }

type fakeSearcher struct {
	hits      []retrieval.Hit
	err       error
	lastQuery string
}

func (f *fakeSearcher) Search(_ context.Context, query string, limit int) ([]retrieval.Hit, error) {
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func manyOrders(n int) []catalog.Order {
	out := make([]catalog.Order, n)
	for i := range out {
		out[i] = catalog.Order{
			ID:     fmt.Sprintf("order%02d-aaaaaaaaaaaa", i),
			Status: "shipped",
			Total:  float64(10 * (i + 1)),
			Items: []catalog.OrderItem{
				{Name: "A", Quantity: 1}, {Name: "B", Quantity: 2}, {Name: "C", Quantity: 3}, {Name: "D", Quantity: 4},
			},
		}
	}
	return out
}

func manyHits(n int) []retrieval.Hit {
	out := make([]retrieval.Hit, n)
	for i := range out {
		out[i] = retrieval.Hit{
			Product: catalog.Product{ID: fmt.Sprint(i), Name: fmt.Sprintf("Product %d", i), Price: 5, Description: "short"},
			Score:   1 - float32(i)/10,
			Rank:    i + 1,
		}
	}
	return out
}

var alice = &catalog.User{ID: "u1", Name: "Alice", Email: "alice@example.com", JoinedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}

func TestAssembleAllSections(t *testing.T) {
	records := &fakeRecords{user: alice, orders: manyOrders(1)}
	idx := &fakeSearcher{hits: manyHits(1)}
	ac := New(records, idx).Assemble(context.Background(), "u1", "gift ideas")

	if got := strings.Join(ac.Sections(), ","); got != "user,orders,products" {
		t.Errorf("sections = %q", got)
	}
	out := ac.Render()
	want := "USER INFORMATION:\n- Name: Alice\n- Email: alice@example.com\n- Member since: 2024-03-01\n" +
		"\nRECENT ORDERS:\n- Order #order00-: shipped - $10.00 (A x1, B x2, C x3)\n" +
		"\nRELEVANT PRODUCTS:\n- Product 0: $5.00 - short\n"
	if out != want {
		t.Errorf("Render =\n%q\nwant\n%q", out, want)
	}
	if idx.lastQuery != "gift ideas" {
		t.Errorf("searched %q", idx.lastQuery)
	}
}

func TestAssembleUnknownUserStillHasProducts(t *testing.T) {
	ac := New(&fakeRecords{}, &fakeSearcher{hits: manyHits(2)}).Assemble(context.Background(), "ghost", "mug")

	if ac.UserFound {
		t.Error("UserFound = true for an unknown user")
	}
	if len(ac.Degraded) != 0 {
		t.Errorf("a missing user is not a failure, got degraded %v", ac.Degraded)
	}
	out := ac.Render()
	if strings.Contains(out, "USER INFORMATION") {
		t.Errorf("profile block rendered for unknown user:\n%s", out)
	}
	if !strings.HasPrefix(out, "RELEVANT PRODUCTS:") {
		t.Errorf("products block missing:\n%s", out)
	}
}

func TestAssembleCapsSections(t *testing.T) {
	records := &fakeRecords{user: alice, orders: manyOrders(7)}
	ac := New(records, &fakeSearcher{hits: manyHits(9)}).Assemble(context.Background(), "u1", "anything")

	if len(ac.Orders) > maxOrders || len(ac.Products) > maxProducts {
		t.Fatalf("got %d orders, %d products", len(ac.Orders), len(ac.Products))
	}
	if records.lastLimit != maxOrders {
		t.Errorf("orders requested with limit %d, want %d", records.lastLimit, maxOrders)
	}
	out := ac.Render()
	if n := strings.Count(out, "- Order #"); n != maxOrders {
		t.Errorf("rendered %d orders", n)
	}
	if strings.Contains(out, "D x4") {
		t.Error("rendered more than 3 items per order")
	}
	if n := strings.Count(out, "- Product "); n != maxProducts {
		t.Errorf("rendered %d products", n)
	}
}

func TestAssembleDegradesOnFailures(t *testing.T) {
	records := &fakeRecords{userErr: errors.New("mongo down"), ordersErr: errors.New("mongo down")}
	idx := &fakeSearcher{err: apperr.Errorf(apperr.IndexUnavailable, "index search", "unreachable")}
	ac := New(records, idx).Assemble(context.Background(), "u1", "mug")

	if got := strings.Join(ac.Degraded, ","); got != "user,orders,products" {
		t.Errorf("degraded = %q", got)
	}
	if out := ac.Render(); out != "" {
		t.Errorf("Render = %q, want empty", out)
	}
}

func TestAssembleSkipsSearchForBlankQuery(t *testing.T) {
	idx := &fakeSearcher{hits: manyHits(1)}
	ac := New(&fakeRecords{}, idx).Assemble(context.Background(), "", "   ")
	if idx.lastQuery != "" || len(ac.Products) != 0 {
		t.Errorf("searched for a blank query")
	}
}

func TestRenderTruncatesDescription(t *testing.T) {
	long := strings.Repeat("x", 150)
	ac := AgentContext{Products: []retrieval.Hit{{Product: catalog.Product{Name: "P", Price: 1, Description: long}}}}
	out := ac.Render()
	if !strings.Contains(out, strings.Repeat("x", descriptionLimit)+"...") || strings.Contains(out, strings.Repeat("x", descriptionLimit+1)) {
		t.Errorf("description not cut at %d:\n%s", descriptionLimit, out)
	}
}

func TestRenderRespectsTokenBudget(t *testing.T) {
	hits := manyHits(3)
	for i := range hits {
		hits[i].Product.Description = strings.Repeat("word ", 20)
	}
	ac := AgentContext{UserFound: true, User: *alice, Orders: manyOrders(3), Products: hits, maxTokens: 80}
	out := ac.Render()

	if EstimateTokens(out) > 80 {
		t.Errorf("rendered %d tokens, budget 80:\n%s", EstimateTokens(out), out)
	}
	if !strings.Contains(out, "USER INFORMATION") {
		t.Error("profile dropped before products and orders")
	}
	if strings.Count(out, "- Product ") >= 3 {
		t.Error("no product lines dropped")
	}
}
