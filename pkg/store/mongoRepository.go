package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"

	"github.com/nexio-tech/statusbridge/pkg/webhook"
)

type MongoRepository struct {
	client     *mongo.Client
	database   string
	collection string
}

func NewMongoRepository(client *mongo.Client, database, collection string) *MongoRepository {
	return &MongoRepository{
		client:     client,
		database:   database,
		collection: collection,
	}
}

func (m *MongoRepository) Append(ctx context.Context, event webhook.CanonicalEvent) (EventRecord, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Append")
	defer span.End()

	startTime := time.Now()

	record := EventRecord{
		ID:        uuid.NewString(),
		Event:     event,
		CreatedAt: time.Now(),
	}
	record.Event.ReceivedAt = record.CreatedAt

	collection := m.client.Database(m.database).Collection(m.collection)
	if _, err := collection.InsertOne(ctx, record); err != nil {
		span.RecordError(err)
		return EventRecord{}, err
	}

	addDBStatsToSpan(span, "mongodb", "Append", 1, time.Since(startTime))

	return record, nil
}

func (m *MongoRepository) ReadAll(ctx context.Context) ([]EventRecord, error) {
	return m.find(ctx, "ReadAll", bson.M{})
}

func (m *MongoRepository) FindByQueueID(ctx context.Context, queueID string) ([]EventRecord, error) {
	return m.find(ctx, "FindByQueueID", bson.M{"event.queue_id": queueID})
}

func (m *MongoRepository) MarkSynced(ctx context.Context, recordID string) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "MarkSynced")
	defer span.End()

	collection := m.client.Database(m.database).Collection(m.collection)
	filter := bson.M{"id": recordID}
	update := bson.M{"$set": bson.M{"synced": true}}
	if _, err := collection.UpdateOne(ctx, filter, update); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (m *MongoRepository) find(ctx context.Context, spanName string, filter bson.M) ([]EventRecord, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()

	collection := m.client.Database(m.database).Collection(m.collection)
	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []EventRecord
	for cursor.Next(ctx) {
		var record EventRecord
		if err := cursor.Decode(&record); err != nil {
			span.RecordError(err)
			return nil, err
		}
		records = append(records, record)
	}

	if err := cursor.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "mongodb", spanName, len(records), time.Since(startTime))

	return records, nil
}
