package store

import (
	"context"
	"time"

	"github.com/nexio-tech/statusbridge/pkg/webhook"
)

// EventRecord is a persisted canonical event. Records are append-only from
// the ingestion path; Synced is the only field ever mutated, by the sync
// scheduler after a successful push to the external system.
type EventRecord struct {
	ID        string                 `json:"id" bson:"id"`
	Event     webhook.CanonicalEvent `json:"event" bson:"event"`
	Synced    bool                   `json:"synced" bson:"synced"`
	CreatedAt time.Time              `json:"created_at" bson:"created_at"`
}

// EventRepository defines the database operations for delivery-status events.
type EventRepository interface {
	// Append persists a canonical event and returns the stored record with
	// its assigned ID and receipt timestamp.
	Append(ctx context.Context, event webhook.CanonicalEvent) (EventRecord, error)
	// ReadAll retrieves every stored event record.
	ReadAll(ctx context.Context) ([]EventRecord, error)
	// FindByQueueID retrieves the event records for one caller-assigned
	// correlation identifier.
	FindByQueueID(ctx context.Context, queueID string) ([]EventRecord, error)
	// MarkSynced flags a record as already pushed to the external system so
	// a later pass does not resend an unchanged status.
	MarkSynced(ctx context.Context, recordID string) error
}
