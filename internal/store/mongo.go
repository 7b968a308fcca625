package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tetraminz/chatlog_audit/internal/compute"
)

// DefaultMongoCollection is the collection that holds comparison records.
const DefaultMongoCollection = "analysisResults"

// MongoStore keeps comparison records in a MongoDB collection.
type MongoStore struct {
	records *mongo.Collection
	now     func() time.Time
}

type mongoRecord struct {
	ID             primitive.ObjectID `bson:"_id"`
	compute.Record `bson:",inline"`
}

// NewMongoStore wraps the given collection.
func NewMongoStore(records *mongo.Collection) *MongoStore {
	return &MongoStore{records: records, now: time.Now}
}

// ConnectMongo connects to uri and verifies the deployment is reachable.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, unavailable("connect mongo", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable("ping mongo", err)
	}
	return client, nil
}

// Store inserts record under a new ObjectID and returns its hex id.
func (s *MongoStore) Store(ctx context.Context, record compute.Record) (string, error) {
	if record.UploadedAt.IsZero() {
		record.UploadedAt = s.now().UTC()
	}
	doc := mongoRecord{ID: primitive.NewObjectID(), Record: record}
	if _, err := s.records.InsertOne(ctx, doc); err != nil {
		return "", unavailable("insert record", err)
	}
	return doc.ID.Hex(), nil
}

// FetchAll returns every record ordered by upload time.
func (s *MongoStore) FetchAll(ctx context.Context) ([]compute.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "uploadedAt", Value: 1}})
	cursor, err := s.records.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, unavailable("find records", err)
	}
	defer cursor.Close(ctx)

	records := make([]compute.Record, 0, 64)
	for cursor.Next(ctx) {
		var doc mongoRecord
		if err := cursor.Decode(&doc); err != nil {
			return nil, unavailable("decode record", err)
		}
		doc.Record.ID = doc.ID.Hex()
		records = append(records, doc.Record)
	}
	if err := cursor.Err(); err != nil {
		return nil, unavailable("iterate records", err)
	}
	return records, nil
}
