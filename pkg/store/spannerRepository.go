package store

import (
	"context"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/nexio-tech/statusbridge/pkg/webhook"
)

type SpannerRepository struct {
	client *spanner.Client
}

func (s *SpannerRepository) Append(ctx context.Context, event webhook.CanonicalEvent) (EventRecord, error) {
	record := EventRecord{
		ID:        uuid.NewString(),
		Event:     event,
		CreatedAt: time.Now(),
	}
	record.Event.ReceivedAt = record.CreatedAt

	mutation := spanner.InsertMap("delivery_events", map[string]interface{}{
		"id":                record.ID,
		"message_id":        record.Event.MessageID,
		"queue_id":          record.Event.QueueID,
		"status":            string(record.Event.Status),
		"recipient_id":      record.Event.RecipientID,
		"occurred_at":       record.Event.OccurredAt,
		"received_at":       record.Event.ReceivedAt,
		"conversation_time": record.Event.ConversationTime,
		"raw_payload":       []byte(record.Event.RawPayload),
		"synced":            false,
		"created_at":        record.CreatedAt,
	})
	if _, err := s.client.Apply(ctx, []*spanner.Mutation{mutation}); err != nil {
		return EventRecord{}, err
	}
	return record, nil
}

func (s *SpannerRepository) ReadAll(ctx context.Context) ([]EventRecord, error) {
	stmt := spanner.Statement{
		SQL: `SELECT id, message_id, queue_id, status, recipient_id, occurred_at, received_at, conversation_time, raw_payload, synced, created_at
              FROM delivery_events`,
	}
	return s.query(ctx, stmt)
}

func (s *SpannerRepository) FindByQueueID(ctx context.Context, queueID string) ([]EventRecord, error) {
	stmt := spanner.Statement{
		SQL: `SELECT id, message_id, queue_id, status, recipient_id, occurred_at, received_at, conversation_time, raw_payload, synced, created_at
              FROM delivery_events WHERE queue_id = @queueID`,
		Params: map[string]interface{}{
			"queueID": queueID,
		},
	}
	return s.query(ctx, stmt)
}

func (s *SpannerRepository) MarkSynced(ctx context.Context, recordID string) error {
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		stmt := spanner.Statement{
			SQL: `UPDATE delivery_events SET synced = true WHERE id = @id`,
			Params: map[string]interface{}{
				"id": recordID,
			},
		}
		_, err := txn.Update(ctx, stmt)
		return err
	})
	return err
}

func (s *SpannerRepository) query(ctx context.Context, stmt spanner.Statement) ([]EventRecord, error) {
	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	var records []EventRecord
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		var record EventRecord
		var status string
		var payload []byte
		if err := row.Columns(
			&record.ID,
			&record.Event.MessageID,
			&record.Event.QueueID,
			&status,
			&record.Event.RecipientID,
			&record.Event.OccurredAt,
			&record.Event.ReceivedAt,
			&record.Event.ConversationTime,
			&payload,
			&record.Synced,
			&record.CreatedAt); err != nil {
			return nil, err
		}
		record.Event.Status = webhook.Status(status)
		record.Event.RawPayload = payload
		records = append(records, record)
	}
	return records, nil
}
