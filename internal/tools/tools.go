// Package tools is the closed set of read-only actions the dialogue model
// may call. Each tool returns text meant to be shown to the customer.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
	"github.com/bilal-raza12/ShopEase/internal/catalog"
	"github.com/bilal-raza12/ShopEase/internal/retrieval"
	"github.com/bilal-raza12/ShopEase/internal/telemetry"
)

// Kind identifies a tool.
type Kind int

const (
	SearchProducts Kind = iota + 1
	OrderStatus
	ProductCategories
	ProductDetails
)

var kindNames = map[Kind]string{
	SearchProducts:    "search_products",
	OrderStatus:       "get_order_status",
	ProductCategories: "get_product_categories",
	ProductDetails:    "get_product_details",
}

// Name returns the wire name the model uses for the tool.
func (k Kind) Name() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("tool(%d)", int(k))
}

// KindOf looks up a tool by its wire name.
func KindOf(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

const (
	searchLimit      = 5
	orderLookupLimit = 5
	searchDescLimit  = 150
)

// Sentinel texts returned when there is simply nothing to show.
const (
	NoProductsText    = "No products found matching your query."
	NoOrdersText      = "You don't have any orders yet. Start shopping to place your first order!"
	NoCategoriesText  = "No categories available at the moment."
	orderMissingFmt   = "I couldn't find an order with ID containing '%s'. Please check the order ID and try again."
	productMissingFmt = "I couldn't find a product called '%s'. Try searching with different keywords."
)

// Call is one parsed tool invocation. Only the fields of its Kind are set.
type Call struct {
	Kind        Kind
	Query       string // SearchProducts
	OrderID     string // OrderStatus, optional
	ProductName string // ProductDetails
}

type callArgs struct {
	Query       *string `json:"query"`
	OrderID     *string `json:"order_id"`
	ProductName *string `json:"product_name"`
}

// ParseCall validates a model-issued call. Unknown tools, malformed JSON
// and missing required arguments are InvalidArgument errors. A user_id
// argument is ignored: the caller's identity is supplied to Dispatch.
func ParseCall(name string, raw json.RawMessage) (Call, error) {
	kind, ok := KindOf(name)
	if !ok {
		return Call{}, apperr.Errorf(apperr.InvalidArgument, "parse tool call", "unknown tool %q", name)
	}
	var args callArgs
	if s := strings.TrimSpace(string(raw)); s != "" && s != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return Call{}, apperr.Errorf(apperr.InvalidArgument, "parse tool call", "%s: malformed arguments: %v", name, err)
		}
	}
	str := func(p *string) string {
		if p == nil {
			return ""
		}
		return strings.TrimSpace(*p)
	}

	c := Call{Kind: kind}
	switch kind {
	case SearchProducts:
		c.Query = str(args.Query)
		if c.Query == "" {
			return Call{}, apperr.Errorf(apperr.InvalidArgument, "parse tool call", "%s: query is required", name)
		}
	case OrderStatus:
		c.OrderID = str(args.OrderID)
	case ProductDetails:
		c.ProductName = str(args.ProductName)
		if c.ProductName == "" {
			return Call{}, apperr.Errorf(apperr.InvalidArgument, "parse tool call", "%s: product_name is required", name)
		}
	}
	return c, nil
}

// Property describes one tool argument.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Spec is the schema description of a tool offered to the model.
type Spec struct {
	Kind        Kind
	Name        string
	Description string
	Properties  map[string]Property
	Required    []string
}

// Schema renders the arguments as a JSON-schema object.
func (s Spec) Schema() map[string]any {
	required := s.Required
	if required == nil {
		required = []string{}
	}
	props := make(map[string]any, len(s.Properties))
	for k, p := range s.Properties {
		props[k] = p
	}
	return map[string]any{"type": "object", "properties": props, "required": required}
}

var specs = []Spec{
	{
		Kind: SearchProducts,
		Name: SearchProducts.Name(),
		Description: "Search for products in the ShopEase store. Use this when the user asks about products, " +
			"wants recommendations, or is looking for something to buy.",
		Properties: map[string]Property{
			"query": {Type: "string", Description: "What the user is looking for"},
		},
		Required: []string{"query"},
	},
	{
		Kind:        OrderStatus,
		Name:        OrderStatus.Name(),
		Description: "Get the status of the user's recent orders, or of one order when an order ID (or part of one) is given.",
		Properties: map[string]Property{
			"order_id": {Type: "string", Description: "Optional order ID or ID fragment to look up"},
		},
	},
	{
		Kind:        ProductCategories,
		Name:        ProductCategories.Name(),
		Description: "Get all available product categories in the store.",
		Properties:  map[string]Property{},
	},
	{
		Kind:        ProductDetails,
		Name:        ProductDetails.Name(),
		Description: "Get detailed information about a specific product.",
		Properties: map[string]Property{
			"product_name": {Type: "string", Description: "The name of the product to look up"},
		},
		Required: []string{"product_name"},
	},
}

// Searcher is the slice of the product index the tools use.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]retrieval.Hit, error)
}

// Registry executes tool calls against the record store and product index.
// It holds no per-call state and is safe for concurrent use.
type Registry struct {
	records catalog.Store
	index   Searcher
}

func NewRegistry(records catalog.Store, index Searcher) *Registry {
	return &Registry{records: records, index: index}
}

// Specs returns the tool catalog in a fixed order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, len(specs))
	copy(out, specs)
	return out
}

// Dispatch runs c on behalf of userID. Absent data yields sentinel text;
// store and index failures are returned as errors.
func (r *Registry) Dispatch(ctx context.Context, userID string, c Call) (out string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "tool.dispatch", "tool", c.Kind.Name())
	defer func() {
		telemetry.ObserveToolCall(c.Kind.Name(), telemetry.Outcome(err))
		telemetry.EndSpan(span, err)
	}()

	switch c.Kind {
	case SearchProducts:
		return r.searchProducts(ctx, c.Query)
	case OrderStatus:
		return r.orderStatus(ctx, userID, c.OrderID)
	case ProductCategories:
		return r.categories(ctx)
	case ProductDetails:
		return r.productDetails(ctx, c.ProductName)
	default:
		return "", apperr.Errorf(apperr.InvalidArgument, "dispatch tool", "unknown tool kind %d", int(c.Kind))
	}
}

func (r *Registry) searchProducts(ctx context.Context, query string) (string, error) {
	hits, err := r.index.Search(ctx, query, searchLimit)
	if err != nil {
		return "", fmt.Errorf("search_products: %w", err)
	}
	if len(hits) == 0 {
		return NoProductsText, nil
	}

	var sb strings.Builder
	sb.WriteString("Here are the products I found:\n\n")
	for i, h := range hits {
		p := h.Product
		fmt.Fprintf(&sb, "%d. **%s**\n", i+1, p.Name)
		fmt.Fprintf(&sb, "   - Price: %s\n", catalog.FormatPrice(p.Price))
		fmt.Fprintf(&sb, "   - Category: %s\n", p.Category)
		fmt.Fprintf(&sb, "   - Rating: %.1f stars\n", p.Rating)
		fmt.Fprintf(&sb, "   - %s\n", catalog.Truncate(p.Description, searchDescLimit))
		if p.Stock > 0 {
			fmt.Fprintf(&sb, "   - In Stock: %d available\n", p.Stock)
		} else {
			sb.WriteString("   - Currently Out of Stock\n")
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (r *Registry) orderStatus(ctx context.Context, userID, fragment string) (string, error) {
	orders, err := r.records.GetOrders(ctx, userID, orderLookupLimit)
	if err != nil {
		return "", fmt.Errorf("get_order_status: %w", err)
	}
	if len(orders) == 0 {
		return NoOrdersText, nil
	}

	if fragment != "" {
		for _, o := range orders {
			if strings.Contains(o.ID, fragment) {
				return formatOrder(o), nil
			}
		}
		return fmt.Sprintf(orderMissingFmt, fragment), nil
	}

	var sb strings.Builder
	sb.WriteString("Here are your recent orders:\n\n")
	for _, o := range orders {
		fmt.Fprintf(&sb, "**Order #%s**\n", catalog.ShortID(o.ID))
		fmt.Fprintf(&sb, "- Status: %s\n", strings.ToUpper(o.Status))
		fmt.Fprintf(&sb, "- Total: %s\n", catalog.FormatPrice(o.Total))
		fmt.Fprintf(&sb, "- Items: %s\n\n", catalog.ItemSummary(o.Items, 0))
	}
	return sb.String(), nil
}

func formatOrder(o catalog.Order) string {
	placed := "unknown"
	if !o.CreatedAt.IsZero() {
		placed = o.CreatedAt.UTC().Format(time.DateTime)
	}
	return fmt.Sprintf("Order #%s\n- Status: %s\n- Total: %s\n- Items: %s\n- Paid: %s\n- Delivered: %s\n- Placed on: %s\n",
		catalog.ShortID(o.ID), strings.ToUpper(o.Status), catalog.FormatPrice(o.Total),
		catalog.ItemSummary(o.Items, 0), yesNo(o.Paid), yesNo(o.Delivered), placed)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func (r *Registry) categories(ctx context.Context) (string, error) {
	cats, err := r.records.ListCategories(ctx)
	if err != nil {
		return "", fmt.Errorf("get_product_categories: %w", err)
	}
	if len(cats) == 0 {
		return NoCategoriesText, nil
	}
	lines := make([]string, len(cats))
	for i, c := range cats {
		lines[i] = "- " + c
	}
	return "We have products in the following categories:\n" + strings.Join(lines, "\n"), nil
}

func (r *Registry) productDetails(ctx context.Context, name string) (string, error) {
	hits, err := r.index.Search(ctx, name, 1)
	if err != nil {
		return "", fmt.Errorf("get_product_details: %w", err)
	}
	if len(hits) == 0 {
		return fmt.Sprintf(productMissingFmt, name), nil
	}
	p := hits[0].Product

	features := "  - No features listed"
	if len(p.Features) > 0 {
		lines := make([]string, len(p.Features))
		for i, f := range p.Features {
			lines[i] = "  - " + f
		}
		features = strings.Join(lines, "\n")
	}
	return fmt.Sprintf("**%s**\n\nCategory: %s\nPrice: %s\nRating: %.1f stars\nStock: %d available\n\nDescription:\n%s\n\nFeatures:\n%s\n",
		p.Name, p.Category, catalog.FormatPrice(p.Price), p.Rating, p.Stock, p.Description, features), nil
}
