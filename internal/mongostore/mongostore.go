// Package mongostore reads users, orders and products from the MongoDB
// collections the storefront backend writes.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
	"github.com/bilal-raza12/ShopEase/internal/catalog"
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "shopease"

type userDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Name      string             `bson:"name"`
	Email     string             `bson:"email"`
	Role      string             `bson:"role"`
	CreatedAt time.Time          `bson:"createdAt"`
}

type orderItemDoc struct {
	Name     string  `bson:"name"`
	Quantity int     `bson:"quantity"`
	Price    float64 `bson:"price"`
}

type orderDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	User        primitive.ObjectID `bson:"user"`
	Status      string             `bson:"status"`
	Total       float64            `bson:"total"`
	Items       []orderItemDoc     `bson:"items"`
	IsPaid      bool               `bson:"isPaid"`
	IsDelivered bool               `bson:"isDelivered"`
	CreatedAt   time.Time          `bson:"createdAt"`
}

type productDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Name        string             `bson:"name"`
	Description string             `bson:"description"`
	Price       float64            `bson:"price"`
	Category    string             `bson:"category"`
	Stock       int                `bson:"stock"`
	Rating      float64            `bson:"rating"`
	Features    []string           `bson:"features"`
	Image       string             `bson:"image"`
}

// Store implements catalog.Store on top of a MongoDB database.
type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	orders   *mongo.Collection
	products *mongo.Collection
}

var _ catalog.Store = (*Store)(nil)

// Connect dials uri and binds the users, orders and products collections of database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, apperr.Errorf(apperr.InvalidArgument, "mongo connect", "uri is required")
	}
	if database == "" {
		database = DefaultDatabase
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	db := client.Database(database)
	return &Store{
		client:   client,
		users:    db.Collection("users"),
		orders:   db.Collection("orders"),
		products: db.Collection("products"),
	}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) GetUser(ctx context.Context, id string) (catalog.User, error) {
	oid, err := objectID("get user", id)
	if err != nil {
		return catalog.User{}, err
	}
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return catalog.User{}, apperr.Errorf(apperr.NotFound, "get user", "user %s", id)
		}
		return catalog.User{}, fmt.Errorf("finding user %s: %w", id, err)
	}
	return toUser(doc), nil
}

func (s *Store) GetOrders(ctx context.Context, userID string, limit int) ([]catalog.Order, error) {
	if limit <= 0 {
		return nil, nil
	}
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.orders.Find(ctx, bson.M{"user": oid}, opts)
	if err != nil {
		return nil, fmt.Errorf("finding orders: %w", err)
	}
	var docs []orderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding orders: %w", err)
	}
	out := make([]catalog.Order, 0, len(docs))
	for _, d := range docs {
		out = append(out, toOrder(d))
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	oid, err := objectID("get product", id)
	if err != nil {
		return catalog.Product{}, err
	}
	var doc productDoc
	if err := s.products.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return catalog.Product{}, apperr.Errorf(apperr.NotFound, "get product", "product %s", id)
		}
		return catalog.Product{}, fmt.Errorf("finding product %s: %w", id, err)
	}
	return toProduct(doc), nil
}

func (s *Store) ListProducts(ctx context.Context, limit int) ([]catalog.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.products.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("finding products: %w", err)
	}
	var docs []productDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding products: %w", err)
	}
	out := make([]catalog.Product, 0, len(docs))
	for _, d := range docs {
		out = append(out, toProduct(d))
	}
	return out, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	values, err := s.products.Distinct(ctx, "category", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return categoryNames(values), nil
}

func objectID(op, id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, apperr.Errorf(apperr.NotFound, op, "%q is not a valid id", id)
	}
	return oid, nil
}

func categoryNames(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func toUser(d userDoc) catalog.User {
	role := d.Role
	if role == "" {
		role = "user"
	}
	return catalog.User{
		ID:       d.ID.Hex(),
		Name:     d.Name,
		Email:    d.Email,
		Role:     role,
		JoinedAt: d.CreatedAt,
	}
}

func toOrder(d orderDoc) catalog.Order {
	items := make([]catalog.OrderItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, catalog.OrderItem{Name: it.Name, Quantity: it.Quantity, Price: it.Price})
	}
	return catalog.Order{
		ID:        d.ID.Hex(),
		UserID:    d.User.Hex(),
		Status:    d.Status,
		Total:     d.Total,
		Items:     items,
		Paid:      d.IsPaid,
		Delivered: d.IsDelivered,
		CreatedAt: d.CreatedAt,
	}
}

func toProduct(d productDoc) catalog.Product {
	return catalog.Product{
		ID:          d.ID.Hex(),
		Name:        d.Name,
		Description: d.Description,
		Price:       d.Price,
		Category:    d.Category,
		Stock:       d.Stock,
		Rating:      d.Rating,
		Features:    d.Features,
		Image:       d.Image,
	}
}
