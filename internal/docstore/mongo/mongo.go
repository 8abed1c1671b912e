// Package mongo provides a MongoDB-backed resource store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/docstore"
	"github.com/fruitsalade/nimbus/internal/logging"
	"github.com/fruitsalade/nimbus/internal/metrics"
	"github.com/fruitsalade/nimbus/internal/models"
)

const resourcesCollection = "resources"

// Store keeps one document per resource, keyed by path.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type document struct {
	Path           string               `bson:"_id"`
	Parent         string               `bson:"parent"`
	Type           string               `bson:"type"`
	Visibility     string               `bson:"visibility"`
	Owner          string               `bson:"owner"`
	Size           int64                `bson:"size"`
	Cost           primitive.Decimal128 `bson:"cost"`
	Favorite       bool                 `bson:"favorite"`
	Description    string               `bson:"description,omitempty"`
	CreatedAt      time.Time            `bson:"created_at"`
	LastAccessedAt *time.Time           `bson:"last_accessed_at,omitempty"`
}

// New connects to uri and prepares the resources collection in database.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Store{
		client:     client,
		collection: client.Database(database).Collection(resourcesCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "parent", Value: 1}, {Key: "visibility", Value: 1}}},
		{Keys: bson.D{{Key: "parent", Value: 1}, {Key: "type", Value: 1}}},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func toDocument(r *models.Resource) (*document, error) {
	cost, err := primitive.ParseDecimal128(r.Cost.String())
	if err != nil {
		return nil, fmt.Errorf("encode cost %s: %w", r.Cost, err)
	}
	return &document{
		Path:           r.Path,
		Parent:         r.Parent,
		Type:           string(r.Type),
		Visibility:     string(r.Visibility),
		Owner:          r.Owner,
		Size:           r.Size,
		Cost:           cost,
		Favorite:       r.Favorite,
		Description:    r.Description,
		CreatedAt:      r.CreatedAt,
		LastAccessedAt: r.LastAccessedAt,
	}, nil
}

func (d *document) resource() (*models.Resource, error) {
	cost, err := decimal.NewFromString(d.Cost.String())
	if err != nil {
		return nil, fmt.Errorf("decode cost of %s: %w", d.Path, err)
	}
	return &models.Resource{
		Path:           d.Path,
		Parent:         d.Parent,
		Type:           models.Type(d.Type),
		Visibility:     models.Visibility(d.Visibility),
		Owner:          d.Owner,
		Size:           d.Size,
		Cost:           cost,
		Favorite:       d.Favorite,
		Description:    d.Description,
		CreatedAt:      d.CreatedAt.UTC(),
		LastAccessedAt: d.LastAccessedAt,
	}, nil
}

func (s *Store) Get(ctx context.Context, path string) (*models.Resource, error) {
	defer metrics.RecordDBQuery("mongo", "get", time.Now())

	var d document
	err := s.collection.FindOne(ctx, bson.M{"_id": path}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find resource: %w", err)
	}
	return d.resource()
}

func (s *Store) Put(ctx context.Context, r *models.Resource) error {
	defer metrics.RecordDBQuery("mongo", "put", time.Now())

	d, err := toDocument(r)
	if err != nil {
		return err
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": r.Path}, d, opts); err != nil {
		return fmt.Errorf("save resource: %w", err)
	}
	logging.Debug("saved resource", zap.String("path", r.Path), zap.Int64("size", r.Size))
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	defer metrics.RecordDBQuery("mongo", "delete", time.Now())

	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": path}); err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	return nil
}

func (s *Store) BatchDelete(ctx context.Context, paths []string) ([]string, error) {
	defer metrics.RecordDBQuery("mongo", "batch_delete", time.Now())

	if len(paths) > docstore.BatchWriteLimit {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", len(paths), docstore.BatchWriteLimit)
	}
	res, err := s.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": paths}})
	if err != nil {
		return nil, fmt.Errorf("batch delete: %w", err)
	}
	logging.Debug("batch deleted resources", zap.Int("requested", len(paths)), zap.Int64("deleted", res.DeletedCount))
	return nil, nil
}

func (s *Store) QueryByParent(ctx context.Context, parent string, f docstore.Filter) ([]*models.Resource, error) {
	defer metrics.RecordDBQuery("mongo", "query_by_parent", time.Now())

	filter := bson.M{
		"parent": parent,
		"_id":    bson.M{"$ne": "/"},
	}
	if len(f.Visibility) > 0 {
		filter["visibility"] = bson.M{"$in": docstore.Visibilities(f.Visibility)}
	}
	if f.Type != "" {
		filter["type"] = string(f.Type)
	}

	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find children: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode children: %w", err)
	}

	out := make([]*models.Resource, 0, len(docs))
	for i := range docs {
		r, err := docs[i].resource()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Drop removes every resource document.
func (s *Store) Drop(ctx context.Context) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{})
	return err
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
