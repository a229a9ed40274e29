// Package mongostore implements store.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/stacklok/sheetsync-server/internal/status"
	"github.com/stacklok/sheetsync-server/internal/store"
	"github.com/stacklok/sheetsync-server/internal/table"
)

const (
	// DefaultDatabase is used when Config.Database is empty
	DefaultDatabase = "sheetsync"

	collectionName = "tables"
)

// Config configures the MongoDB connection
type Config struct {
	URI      string
	Database string
}

// Store keeps one document per table in the "tables" collection
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// Open connects to MongoDB, verifies the connection and ensures indexes exist
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongodb uri is required")
	}
	dbName := cfg.Database
	if dbName == "" {
		dbName = DefaultDatabase
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	coll := client.Database(dbName).Collection(collectionName)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &Store{client: client, coll: coll}, nil
}

// CreateTable implements store.Store
func (s *Store) CreateTable(ctx context.Context, t *table.Table) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	doc := t.Clone()
	if doc.SourceColumns == nil {
		doc.SourceColumns = []table.Column{}
	}
	if doc.DashboardColumns == nil {
		doc.DashboardColumns = []table.Column{}
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert table: %w", err)
	}
	return nil
}

// GetTable implements store.Store
func (s *Store) GetTable(ctx context.Context, id string) (*table.Table, error) {
	var t table.Table
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load table %s: %w", id, err)
	}
	normalize(&t)
	return &t, nil
}

// ListTables implements store.Store
func (s *Store) ListTables(ctx context.Context, owner string) ([]*table.Table, error) {
	filter := bson.D{}
	if owner != "" {
		filter = bson.D{{Key: "owner", Value: owner}}
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	var found []table.Table
	if err := cur.All(ctx, &found); err != nil {
		return nil, fmt.Errorf("failed to decode tables: %w", err)
	}

	out := make([]*table.Table, 0, len(found))
	for i := range found {
		normalize(&found[i])
		out = append(out, &found[i])
	}
	return out, nil
}

// DeleteTable implements store.Store
func (s *Store) DeleteTable(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("failed to delete table %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddColumn implements store.Store. Uniqueness is enforced by the update filter
// so the check and the push happen in a single document write.
func (s *Store) AddColumn(ctx context.Context, id, name string, kind table.Kind) (*table.Table, error) {
	col := table.Column{Name: name, Kind: kind, Origin: table.OriginDashboard}
	if col.Kind == "" {
		col.Kind = table.KindText
	}
	if name == "" || !col.Kind.Valid() {
		return nil, table.ErrInvalidColumn
	}

	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "sourceColumns.name", Value: bson.D{{Key: "$ne", Value: name}}},
		{Key: "dashboardColumns.name", Value: bson.D{{Key: "$ne", Value: name}}},
	}
	update := bson.D{{Key: "$push", Value: bson.D{{Key: "dashboardColumns", Value: col}}}}

	var t table.Table
	err := s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := s.GetTable(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, table.ErrDuplicateColumnName
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add column to table %s: %w", id, err)
	}
	normalize(&t)
	return &t, nil
}

// UpdateLastSynced implements store.Store
func (s *Store) UpdateLastSynced(ctx context.Context, id string, at time.Time) error {
	return s.set(ctx, id, "lastSyncedAt", at.UTC())
}

// UpdateSyncStatus implements store.Store
func (s *Store) UpdateSyncStatus(ctx context.Context, id string, st *status.SyncStatus) error {
	return s.set(ctx, id, "syncStatus", st)
}

func (s *Store) set(ctx context.Context, id, field string, value any) error {
	res, err := s.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: field, Value: value}}}})
	if err != nil {
		return fmt.Errorf("failed to update %s of table %s: %w", field, id, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Ping implements store.Store
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close implements store.Store
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// normalize converts BSON decoded times to UTC and replaces null column lists
func normalize(t *table.Table) {
	t.CreatedAt = t.CreatedAt.UTC()
	if t.LastSyncedAt != nil {
		ts := t.LastSyncedAt.UTC()
		t.LastSyncedAt = &ts
	}
	if t.SourceColumns == nil {
		t.SourceColumns = []table.Column{}
	}
	if t.DashboardColumns == nil {
		t.DashboardColumns = []table.Column{}
	}
}
