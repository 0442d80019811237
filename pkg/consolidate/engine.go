package consolidate

import (
	"sort"
	"strconv"
	"time"

	"github.com/nexio-tech/statusbridge/pkg/store"
	"github.com/nexio-tech/statusbridge/pkg/webhook"
)

// timestampFormat is for display only. Ordering always uses the parsed
// comparable time, never the formatted string.
const timestampFormat = "02-Jan-2006 15:04:05"

// Record is the single authoritative status derived for one message. It is
// never stored; it is recomputed from the event log on every query.
type Record struct {
	MessageID   string         `json:"message_id"`
	QueueID     string         `json:"queue_id"`
	Status      webhook.Status `json:"status"`
	RecipientID string         `json:"recipient_id"`
	Timestamp   string         `json:"timestamp"`

	// Provenance of the winning event, used by the sync scheduler for the
	// already-synchronized marker. Not part of the API payload.
	StoreRecordID string `json:"-"`
	Synced        bool   `json:"-"`

	eventTime time.Time
}

// Consolidate groups events by message identifier and selects one winning
// record per group under the composite key (status priority, event time),
// priority first. Events with an empty message identifier are dropped. When
// filter is non-empty, groups whose winning status differs are dropped after
// consolidation; filtering per-event would be wrong because an event's own
// status does not determine the group's current status. The result is
// sorted newest first on the comparable winner time.
func Consolidate(records []store.EventRecord, filter webhook.Status) []Record {
	groups := make(map[string][]store.EventRecord)
	for _, record := range records {
		if record.Event.MessageID == "" {
			continue
		}
		groups[record.Event.MessageID] = append(groups[record.Event.MessageID], record)
	}

	consolidated := make([]Record, 0, len(groups))
	for _, group := range groups {
		winner := selectWinner(group)
		if filter != "" && winner.Status != filter {
			continue
		}
		consolidated = append(consolidated, winner)
	}

	sort.Slice(consolidated, func(i, j int) bool {
		if !consolidated[i].eventTime.Equal(consolidated[j].eventTime) {
			return consolidated[i].eventTime.After(consolidated[j].eventTime)
		}
		return consolidated[i].MessageID < consolidated[j].MessageID
	})

	return consolidated
}

// LatestForQueueID selects the winning record among the events recorded for
// one caller-assigned correlation identifier, bridging external pending
// records to the local status. Returns false when no event matches.
func LatestForQueueID(records []store.EventRecord, queueID string) (Record, bool) {
	if queueID == "" {
		return Record{}, false
	}
	var group []store.EventRecord
	for _, record := range records {
		if record.Event.QueueID == queueID {
			group = append(group, record)
		}
	}
	if len(group) == 0 {
		return Record{}, false
	}
	return selectWinner(group), true
}

// selectWinner picks the maximum element of a non-empty group, comparing
// status priority first and breaking ties by the later event time.
func selectWinner(group []store.EventRecord) Record {
	best := group[0]
	bestTime := eventTime(best)
	for _, candidate := range group[1:] {
		candidateTime := eventTime(candidate)
		if better(candidate, candidateTime, best, bestTime) {
			best, bestTime = candidate, candidateTime
		}
	}

	return Record{
		MessageID:     best.Event.MessageID,
		QueueID:       best.Event.QueueID,
		Status:        best.Event.Status,
		RecipientID:   best.Event.RecipientID,
		Timestamp:     bestTime.Format(timestampFormat),
		StoreRecordID: best.ID,
		Synced:        best.Synced,
		eventTime:     bestTime,
	}
}

func better(a store.EventRecord, aTime time.Time, b store.EventRecord, bTime time.Time) bool {
	aPriority, bPriority := webhook.Priority(a.Event.Status), webhook.Priority(b.Event.Status)
	if aPriority != bPriority {
		return aPriority > bPriority
	}
	return aTime.After(bTime)
}

// eventTime resolves the comparable timestamp of an event: the provider
// occurred_at when it parses (epoch seconds or ISO-8601), the local
// received_at otherwise. An event with neither sorts as the earliest
// possible time; ordering degrades rather than failing the query.
func eventTime(record store.EventRecord) time.Time {
	if t, ok := parseTimestamp(record.Event.OccurredAt); ok {
		return t
	}
	if !record.Event.ReceivedAt.IsZero() {
		return record.Event.ReceivedAt
	}
	return time.Time{}
}

func parseTimestamp(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0), true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
