package model

import "time"

// Send event types emitted to the analytics sink. EventEmergencyPause is the
// one cross-cutting action the engine takes on its own and is logged as a
// distinct type.
const (
	EventReplySent      = "reply.sent"
	EventPostSent       = "post.sent"
	EventSendFailed     = "send.failed"
	EventEmergencyPause = "policy.emergency_pause"
)

// SendEvent is the fire-and-forget record written after each delivery
// outcome. Failures writing it never fail the send itself.
type SendEvent struct {
	EventID    string                 `json:"event_id"`
	Event      string                 `json:"event"`
	AccountID  string                 `json:"account_id"`
	SourceID   string                 `json:"source_id"` // queue item or scheduled post id
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewSendEvent builds an event with a fresh id and timestamp.
func NewSendEvent(event, accountID, sourceID string, data map[string]interface{}) SendEvent {
	return SendEvent{
		EventID:    GenerateUUIDWithSuffix("evt"),
		Event:      event,
		AccountID:  accountID,
		SourceID:   sourceID,
		OccurredAt: time.Now(),
		Data:       data,
	}
}
