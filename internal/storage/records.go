package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
	"github.com/bilal-raza12/ShopEase/internal/catalog"
)

var _ catalog.Store = (*Store)(nil)

// UpsertUser inserts or replaces a user record.
func (s *Store) UpsertUser(ctx context.Context, u catalog.User) error {
	if u.ID == "" {
		return apperr.Errorf(apperr.InvalidArgument, "upsert user", "id is required")
	}
	joined := u.JoinedAt
	if joined.IsZero() {
		joined = time.Now()
	}
	role := u.Role
	if role == "" {
		role = "user"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role, joined_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email,
			role = excluded.role, joined_at = excluded.joined_at`,
		u.ID, u.Name, u.Email, role, formatTime(joined),
	)
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (catalog.User, error) {
	var u catalog.User
	var joined string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, email, role, joined_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role, &joined)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.User{}, apperr.Errorf(apperr.NotFound, "get user", "user %s", id)
	}
	if err != nil {
		return catalog.User{}, fmt.Errorf("querying user %s: %w", id, err)
	}
	if u.JoinedAt, err = parseTime(joined); err != nil {
		return catalog.User{}, err
	}
	return u, nil
}

// UpsertProduct validates and inserts or replaces a product.
func (s *Store) UpsertProduct(ctx context.Context, p catalog.Product) error {
	if err := catalog.Validate(p); err != nil {
		return err
	}
	features, err := json.Marshal(nonNil(p.Features))
	if err != nil {
		return fmt.Errorf("encoding features: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, price, category, stock, rating, features, image, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description,
			price = excluded.price, category = excluded.category, stock = excluded.stock,
			rating = excluded.rating, features = excluded.features, image = excluded.image,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Description, p.Price, p.Category, p.Stock, p.Rating, string(features), p.Image,
		formatTime(time.Now()),
	)
	return err
}

// DeleteProduct removes a product. Deleting an absent product is not an error.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	return err
}

const productColumns = `id, name, description, price, category, stock, rating, features, image`

func scanProduct(sc interface{ Scan(...any) error }) (catalog.Product, error) {
	var p catalog.Product
	var features string
	if err := sc.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Category, &p.Stock, &p.Rating, &features, &p.Image); err != nil {
		return catalog.Product{}, err
	}
	if features != "" {
		if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
			return catalog.Product{}, fmt.Errorf("decoding features of product %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{}, apperr.Errorf(apperr.NotFound, "get product", "product %s", id)
	}
	if err != nil {
		return catalog.Product{}, fmt.Errorf("querying product %s: %w", id, err)
	}
	return p, nil
}

// ListProducts returns up to limit products ordered by id.
// A non-positive limit returns every product.
func (s *Store) ListProducts(ctx context.Context, limit int) ([]catalog.Product, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	defer rows.Close()

	var out []catalog.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT category FROM products WHERE category != '' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PutOrder inserts or replaces an order together with its line items.
func (s *Store) PutOrder(ctx context.Context, o catalog.Order) error {
	if o.ID == "" || o.UserID == "" {
		return apperr.Errorf(apperr.InvalidArgument, "put order", "order id and user id are required")
	}
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning order transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, o.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, total, paid, delivered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.Status, o.Total, o.Paid, o.Delivered, formatTime(created),
	); err != nil {
		return fmt.Errorf("inserting order %s: %w", o.ID, err)
	}
	for i, it := range o.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, name, quantity, price) VALUES (?, ?, ?, ?, ?)`,
			o.ID, i, it.Name, it.Quantity, it.Price,
		); err != nil {
			return fmt.Errorf("inserting item %d of order %s: %w", i, o.ID, err)
		}
	}
	return tx.Commit()
}

// GetOrders returns the user's most recent orders, newest first.
func (s *Store) GetOrders(ctx context.Context, userID string, limit int) ([]catalog.Order, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, status, total, paid, delivered, created_at
		FROM orders WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}

	var orders []catalog.Order
	for rows.Next() {
		var o catalog.Order
		var created string
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.Total, &o.Paid, &o.Delivered, &created); err != nil {
			rows.Close()
			return nil, err
		}
		if o.CreatedAt, err = parseTime(created); err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	// Items are loaded after the order cursor is closed; the pool has one connection.
	for i := range orders {
		items, err := s.orderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *Store) orderItems(ctx context.Context, orderID string) ([]catalog.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, quantity, price FROM order_items WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %s: %w", orderID, err)
	}
	defer rows.Close()

	var items []catalog.OrderItem
	for rows.Next() {
		var it catalog.OrderItem
		if err := rows.Scan(&it.Name, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
