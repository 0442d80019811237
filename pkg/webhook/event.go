package webhook

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the delivery status reported by the messaging provider.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// ParseStatus returns the recognized status for s, or false when s is not
// one of the four known delivery statuses.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(s)) {
	case StatusAccepted, StatusSent, StatusDelivered, StatusFailed:
		return Status(strings.ToLower(s)), true
	default:
		return "", false
	}
}

// Priority ranks a status for consolidation. The rank overrides chronology:
// a failed event beats a later sent event for the same message, so terminal
// statuses are never overwritten by stale low-priority re-deliveries.
func Priority(s Status) int {
	switch Status(strings.ToLower(string(s))) {
	case StatusDelivered:
		return 4
	case StatusFailed:
		return 3
	case StatusAccepted:
		return 2
	case StatusSent:
		return 1
	default:
		return 0
	}
}

// CanonicalEvent is the normalized unit appended to the event store. The
// same MessageID accumulates multiple events as its status progresses.
type CanonicalEvent struct {
	MessageID        string          `json:"message_id" bson:"message_id"`
	QueueID          string          `json:"queue_id" bson:"queue_id"`
	Status           Status          `json:"status" bson:"status"`
	RecipientID      string          `json:"recipient_id" bson:"recipient_id"`
	OccurredAt       string          `json:"occurred_at" bson:"occurred_at"` // provider clock, epoch seconds
	ReceivedAt       time.Time       `json:"received_at" bson:"received_at"` // system clock, set on persist
	ConversationTime string          `json:"conversation_time,omitempty" bson:"conversation_time,omitempty"`
	RawPayload       json.RawMessage `json:"raw_payload,omitempty" bson:"raw_payload,omitempty"`
}
