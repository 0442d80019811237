package notify

import (
	"context"
	"time"
)

// StatusNotification is published after a consolidated status has been
// pushed to the external system, as an audit stream for downstream
// consumers. Publishing is best-effort and never fails a sync pass.
type StatusNotification struct {
	QueueID     string    `json:"queue_id"`
	MessageID   string    `json:"message_id"`
	Status      string    `json:"status"`
	RecipientID string    `json:"recipient_id"`
	Timestamp   string    `json:"timestamp"`
	SyncedAt    time.Time `json:"synced_at"`
}

// Notifier defines the operations to publish status notifications.
type Notifier interface {
	// Publish sends the notification to the configured exchange or topic.
	Publish(ctx context.Context, notification *StatusNotification) error
	// Close cleans up any resources (connections).
	Close() error
}
