package migrations

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/leafsync/leafsync/internal/metrics"
)

// ledgerCollection records applied migrations.
const ledgerCollection = "migrations"

type ledgerEntry struct {
	Name       string    `bson:"name"`
	MigratedAt time.Time `bson:"migratedAt"`
}

// Mongo runs migrations against a MongoDB database.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// ConnectMongo connects to url and uses database name.
func ConnectMongo(ctx context.Context, url, name string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Mongo{client: client, db: client.Database(name)}, nil
}

// DropCollection drops name. The driver treats a missing namespace as
// success.
func (m *Mongo) DropCollection(ctx context.Context, name string) error {
	start := time.Now()
	err := m.db.Collection(name).Drop(ctx)
	metrics.RecordStorageOperation("mongo", "drop_collection", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	return nil
}

// ListApplied returns the names in the ledger.
func (m *Mongo) ListApplied(ctx context.Context) ([]string, error) {
	cur, err := m.db.Collection(ledgerCollection).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find migrations: %w", err)
	}
	var entries []ledgerEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode migrations: %w", err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// RecordApplied adds name to the ledger.
func (m *Mongo) RecordApplied(ctx context.Context, name string, at time.Time) error {
	_, err := m.db.Collection(ledgerCollection).UpdateOne(ctx,
		bson.D{{Key: "name", Value: name}},
		bson.D{{Key: "$set", Value: ledgerEntry{Name: name, MigratedAt: at}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", name, err)
	}
	return nil
}

// RemoveApplied deletes name from the ledger.
func (m *Mongo) RemoveApplied(ctx context.Context, name string) error {
	if _, err := m.db.Collection(ledgerCollection).DeleteOne(ctx, bson.D{{Key: "name", Value: name}}); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
