package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
	"github.com/bilal-raza12/ShopEase/internal/catalog"
	"github.com/bilal-raza12/ShopEase/internal/retrieval"
	"github.com/bilal-raza12/ShopEase/internal/telemetry"
)

const (
	defaultMaxContextTokens = 600

	maxOrders        = 3
	maxOrderItems    = 3
	maxProducts      = 3
	descriptionLimit = 100
)

// Section names reported in AgentContext.Sections and Degraded.
const (
	SectionUser     = "user"
	SectionOrders   = "orders"
	SectionProducts = "products"
)

// Searcher is the slice of the product index the assembler needs.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]retrieval.Hit, error)
}

// AgentContext is the per-request context handed to the dialogue loop.
// It is rebuilt on every call and never stored.
type AgentContext struct {
	UserFound bool
	User      catalog.User
	Orders    []catalog.Order
	Products  []retrieval.Hit

	// Degraded lists sections whose lookup failed and were left out.
	Degraded []string

	maxTokens int
}

// Sections names the non-empty sections, in render order.
func (c AgentContext) Sections() []string {
	var out []string
	if c.UserFound {
		out = append(out, SectionUser)
	}
	if len(c.Orders) > 0 {
		out = append(out, SectionOrders)
	}
	if len(c.Products) > 0 {
		out = append(out, SectionProducts)
	}
	return out
}

// Render produces the context block. Empty sections are omitted and an
// empty context renders as "". When the text exceeds the token budget,
// trailing product lines are dropped first, then trailing order lines.
func (c AgentContext) Render() string {
	budget := c.maxTokens
	if budget <= 0 {
		budget = defaultMaxContextTokens
	}
	orders := c.Orders
	if len(orders) > maxOrders {
		orders = orders[:maxOrders]
	}
	products := c.Products
	if len(products) > maxProducts {
		products = products[:maxProducts]
	}

	text := c.render(orders, products)
	for EstimateTokens(text) > budget {
		switch {
		case len(products) > 0:
			products = products[:len(products)-1]
		case len(orders) > 0:
			orders = orders[:len(orders)-1]
		default:
			return text
		}
		text = c.render(orders, products)
	}
	return text
}

func (c AgentContext) render(orders []catalog.Order, products []retrieval.Hit) string {
	var parts []string

	if c.UserFound {
		joined := "unknown"
		if !c.User.JoinedAt.IsZero() {
			joined = c.User.JoinedAt.Format("2006-01-02")
		}
		parts = append(parts, fmt.Sprintf("USER INFORMATION:\n- Name: %s\n- Email: %s\n- Member since: %s\n",
			c.User.Name, c.User.Email, joined))
	}

	if len(orders) > 0 {
		var sb strings.Builder
		sb.WriteString("RECENT ORDERS:\n")
		for _, o := range orders {
			fmt.Fprintf(&sb, "- Order #%s: %s - %s (%s)\n",
				catalog.ShortID(o.ID), o.Status, catalog.FormatPrice(o.Total), catalog.ItemSummary(o.Items, maxOrderItems))
		}
		parts = append(parts, sb.String())
	}

	if len(products) > 0 {
		var sb strings.Builder
		sb.WriteString("RELEVANT PRODUCTS:\n")
		for _, h := range products {
			fmt.Fprintf(&sb, "- %s: %s - %s\n",
				h.Product.Name, catalog.FormatPrice(h.Product.Price), catalog.Truncate(h.Product.Description, descriptionLimit))
		}
		parts = append(parts, sb.String())
	}

	return strings.Join(parts, "\n")
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Assembler builds AgentContexts from the record store and product index.
type Assembler struct {
	records   catalog.Store
	index     Searcher
	maxTokens int
	logger    *slog.Logger
}

type Option func(*Assembler)

// WithMaxTokens sets the token budget of the rendered context.
func WithMaxTokens(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

func New(records catalog.Store, index Searcher, opts ...Option) *Assembler {
	a := &Assembler{
		records:   records,
		index:     index,
		maxTokens: defaultMaxContextTokens,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble gathers the user profile, recent orders and products matching
// query. The three lookups run concurrently. A failed lookup is logged and
// its section left out; Assemble itself never fails.
func (a *Assembler) Assemble(ctx context.Context, userID, query string) AgentContext {
	ctx, span := telemetry.StartSpan(ctx, "context.assemble")
	defer span.End()

	ac := AgentContext{maxTokens: a.maxTokens}
	var userErr, ordersErr, productsErr error

	var g errgroup.Group
	if userID != "" {
		g.Go(func() error {
			u, err := a.records.GetUser(ctx, userID)
			switch {
			case errors.Is(err, apperr.ErrNotFound):
			case err != nil:
				userErr = err
			default:
				ac.UserFound, ac.User = true, u
			}
			return nil
		})
		g.Go(func() error {
			orders, err := a.records.GetOrders(ctx, userID, maxOrders)
			if err != nil {
				ordersErr = err
				return nil
			}
			if len(orders) > maxOrders {
				orders = orders[:maxOrders]
			}
			ac.Orders = orders
			return nil
		})
	}
	if strings.TrimSpace(query) != "" && a.index != nil {
		g.Go(func() error {
			hits, err := a.index.Search(ctx, query, maxProducts)
			if err != nil {
				productsErr = err
				return nil
			}
			ac.Products = hits
			return nil
		})
	}
	g.Wait()

	for _, f := range []struct {
		section string
		err     error
	}{{SectionUser, userErr}, {SectionOrders, ordersErr}, {SectionProducts, productsErr}} {
		if f.err == nil {
			continue
		}
		ac.Degraded = append(ac.Degraded, f.section)
		a.logger.Warn("context section unavailable", "section", f.section, "user_id", userID, "error", f.err)
		telemetry.Event(ctx, "context.section_failed", "section", f.section)
	}
	return ac
}
