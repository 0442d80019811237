package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/nexio-tech/statusbridge/pkg/webhook"
)

type PostgresRepository struct {
	db *sql.DB // using database/sql
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (p *PostgresRepository) Append(ctx context.Context, event webhook.CanonicalEvent) (EventRecord, error) {
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

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO delivery_events
		 (id, message_id, queue_id, status, recipient_id, occurred_at, received_at, conversation_time, raw_payload, synced, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10)`,
		record.ID, record.Event.MessageID, record.Event.QueueID, string(record.Event.Status),
		record.Event.RecipientID, record.Event.OccurredAt, record.Event.ReceivedAt,
		record.Event.ConversationTime, []byte(record.Event.RawPayload), record.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return EventRecord{}, err
	}

	addDBStatsToSpan(span, "postgresql", "Append", 1, time.Since(startTime))

	return record, nil
}

func (p *PostgresRepository) ReadAll(ctx context.Context) ([]EventRecord, error) {
	return p.query(ctx, "ReadAll",
		`SELECT id, message_id, queue_id, status, recipient_id, occurred_at, received_at, conversation_time, raw_payload, synced, created_at
		 FROM delivery_events`)
}

func (p *PostgresRepository) FindByQueueID(ctx context.Context, queueID string) ([]EventRecord, error) {
	return p.query(ctx, "FindByQueueID",
		`SELECT id, message_id, queue_id, status, recipient_id, occurred_at, received_at, conversation_time, raw_payload, synced, created_at
		 FROM delivery_events WHERE queue_id = $1`, queueID)
}

func (p *PostgresRepository) MarkSynced(ctx context.Context, recordID string) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "MarkSynced")
	defer span.End()

	startTime := time.Now()

	_, err := p.db.ExecContext(ctx,
		`UPDATE delivery_events SET synced = true WHERE id = $1`, recordID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "postgresql", "MarkSynced", 1, time.Since(startTime))

	return nil
}

func (p *PostgresRepository) query(ctx context.Context, spanName, stmt string, args ...interface{}) ([]EventRecord, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()

	rows, err := p.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var record EventRecord
		var status string
		var payload []byte
		if err := rows.Scan(&record.ID, &record.Event.MessageID, &record.Event.QueueID, &status,
			&record.Event.RecipientID, &record.Event.OccurredAt, &record.Event.ReceivedAt,
			&record.Event.ConversationTime, &payload, &record.Synced, &record.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, err
		}
		record.Event.Status = webhook.Status(status)
		record.Event.RawPayload = payload
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "postgresql", spanName, len(records), time.Since(startTime))

	return records, nil
}
