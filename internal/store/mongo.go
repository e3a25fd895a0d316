package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const mongoConnectTimeout = 10 * time.Second

// Mongo stores one document per key, {_id: key, value: <value>}, in a
// MongoDB collection of the same name.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ Store = (*Mongo)(nil)

type mongoDoc struct {
	ID    string        `bson:"_id"`
	Value bson.RawValue `bson:"value"`
}

// OpenMongo connects to uri and verifies the connection with a ping.
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return &Mongo{client: client, db: client.Database(database)}, nil
}

func (m *Mongo) Get(ctx context.Context, collection, key string, out any) (bool, error) {
	var doc mongoDoc
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to get %s/%s: %w", collection, key, err)
	}
	if err = doc.Value.Unmarshal(out); err != nil {
		return true, fmt.Errorf("failed to decode %s/%s: %w", collection, key, err)
	}
	return true, nil
}

func (m *Mongo) Set(ctx context.Context, collection, key string, value any) error {
	_, err := m.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": value}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", collection, key, err)
	}
	return nil
}

func (m *Mongo) Increment(ctx context.Context, collection, key, field string, delta float64) error {
	_, err := m.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$inc": bson.M{"value." + field: delta}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to increment %s/%s.%s: %w", collection, key, field, err)
	}
	return nil
}

func (m *Mongo) Delete(ctx context.Context, collection, key string) error {
	_, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, key, err)
	}
	return nil
}

func (m *Mongo) Scan(ctx context.Context, collection string, fn func(key string, decode Decoder) error) error {
	cur, err := m.db.Collection(collection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", collection, err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var doc mongoDoc
		if err = cur.Decode(&doc); err != nil {
			return fmt.Errorf("failed to decode %s entry: %w", collection, err)
		}
		if err = fn(doc.ID, doc.Value.Unmarshal); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
