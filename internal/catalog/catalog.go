// Package catalog holds the source-of-truth record types (users, orders,
// products) and the read contract the assistant uses to reach them.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
)

type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Role     string    `json:"role,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Category    string   `json:"category"`
	Stock       int      `json:"stock"`
	Rating      float64  `json:"rating"`
	Features    []string `json:"features,omitempty"`
	Image       string   `json:"image,omitempty"`
}

type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

type Order struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Status    string      `json:"status"`
	Total     float64     `json:"total"`
	Items     []OrderItem `json:"items"`
	Paid      bool        `json:"paid"`
	Delivered bool        `json:"delivered"`
	CreatedAt time.Time   `json:"created_at"`
}

// Store is read-only access to users, orders and products.
// Lookups of absent records return an error matching apperr.ErrNotFound.
type Store interface {
	GetUser(ctx context.Context, id string) (User, error)
	// GetOrders returns at most limit orders for the user, newest first.
	GetOrders(ctx context.Context, userID string, limit int) ([]Order, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context, limit int) ([]Product, error)
	// ListCategories returns distinct categories in ascending order.
	ListCategories(ctx context.Context) ([]string, error)
}

// Validate checks the invariants every stored product must satisfy.
func Validate(p Product) error {
	switch {
	case p.ID == "":
		return apperr.Errorf(apperr.InvalidArgument, "validate product", "id is required")
	case p.Name == "":
		return apperr.Errorf(apperr.InvalidArgument, "validate product", "product %s: name is required", p.ID)
	case p.Price < 0:
		return apperr.Errorf(apperr.InvalidArgument, "validate product", "product %s: negative price %v", p.ID, p.Price)
	case p.Stock < 0:
		return apperr.Errorf(apperr.InvalidArgument, "validate product", "product %s: negative stock %d", p.ID, p.Stock)
	case p.Rating < 0 || p.Rating > 5:
		return apperr.Errorf(apperr.InvalidArgument, "validate product", "product %s: rating %v outside 0-5", p.ID, p.Rating)
	}
	return nil
}

// FormatPrice renders a price the way every customer-facing text shows it.
func FormatPrice(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// ShortID is the order-id prefix shown to customers.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// Truncate cuts s to at most n runes, appending "..." when it was cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// ItemSummary renders up to max items as "name xN, ...". max <= 0 means all.
func ItemSummary(items []OrderItem, max int) string {
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	s := make([]string, len(items))
	for i, it := range items {
		s[i] = fmt.Sprintf("%s x%d", it.Name, it.Quantity)
	}
	return strings.Join(s, ", ")
}
