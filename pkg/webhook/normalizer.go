package webhook

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// ErrUnrecognizedPayload is returned when a payload matches neither of the
// accepted inbound shapes. Ingestion treats it as "no event produced".
var ErrUnrecognizedPayload = errors.New("webhook: unrecognized payload shape")

// ErrNoStatusEntry is returned for a well-formed envelope that carries no
// status entry to extract.
var ErrNoStatusEntry = errors.New("webhook: envelope carries no status entry")

const statusEnvelopeObject = "whatsapp_business_account"

// statusEnvelope is the standard delivery-status webhook shape. Only the
// first entry of each nested collection is inspected; absence of any field
// degrades to an empty value.
type statusEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Value struct {
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Statuses []struct {
					ID                  string `json:"id"`
					Status              string `json:"status"`
					Timestamp           string `json:"timestamp"`
					RecipientID         string `json:"recipient_id"`
					BizOpaqueCallbackID string `json:"biz_opaque_callback_data"`
					Conversation        struct {
						ID     string `json:"id"`
						Origin struct {
							Type string `json:"type"`
						} `json:"origin"`
					} `json:"conversation"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// submissionPayload is the initial "message accepted by the sending side"
// shape. It carries no delivery status; the caller-assigned queue_id bridges
// it to the delivery-status events that follow.
type submissionPayload struct {
	MessagingProduct string `json:"messaging_product"`
	QueueID          string `json:"queue_id"`
	Contacts         []struct {
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Normalize converts a raw inbound payload into a CanonicalEvent. The shape
// is decoded exactly once; downstream code never re-inspects the raw JSON.
// ReceivedAt is left zero for the store to assign on append.
func Normalize(raw []byte) (CanonicalEvent, error) {
	var env statusEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Object == statusEnvelopeObject {
		return normalizeEnvelope(env, raw)
	}

	var sub submissionPayload
	if err := json.Unmarshal(raw, &sub); err == nil && sub.MessagingProduct != "" && len(sub.Messages) > 0 {
		return normalizeSubmission(sub, raw), nil
	}

	return CanonicalEvent{}, ErrUnrecognizedPayload
}

func normalizeEnvelope(env statusEnvelope, raw []byte) (CanonicalEvent, error) {
	if len(env.Entry) == 0 || len(env.Entry[0].Changes) == 0 {
		return CanonicalEvent{}, ErrNoStatusEntry
	}
	value := env.Entry[0].Changes[0].Value
	if len(value.Statuses) == 0 {
		return CanonicalEvent{}, ErrNoStatusEntry
	}
	st := value.Statuses[0]

	return CanonicalEvent{
		MessageID:        st.ID,
		QueueID:          st.BizOpaqueCallbackID,
		Status:           Status(st.Status),
		RecipientID:      st.RecipientID,
		OccurredAt:       st.Timestamp,
		ConversationTime: formatClock(st.Timestamp),
		RawPayload:       raw,
	}, nil
}

func normalizeSubmission(sub submissionPayload, raw []byte) CanonicalEvent {
	event := CanonicalEvent{
		QueueID:    sub.QueueID,
		Status:     StatusAccepted,
		RawPayload: raw,
	}
	if len(sub.Messages) > 0 {
		event.MessageID = sub.Messages[0].ID
	}
	if len(sub.Contacts) > 0 {
		event.RecipientID = sub.Contacts[0].WaID
	}
	return event
}

// formatClock renders a provider epoch-seconds timestamp as a local
// HH:MM:SS wall-clock string for the conversation display field.
func formatClock(epoch string) string {
	secs, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return "00:00:00"
	}
	return time.Unix(secs, 0).Format("15:04:05")
}
