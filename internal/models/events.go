package models

import "time"

// Routing keys for relay events.
const (
	EventConversationAssigned = "relay.conversation.assigned.v1"
	EventConversationArchived = "relay.conversation.archived.v1"
	EventMessageInbound       = "relay.message.inbound.v1"
	EventMessageOutbound      = "relay.message.outbound.v1"
)

type EventMeta struct {
	CorrelationID *string   `json:"correlation_id,omitempty"`
	ID            string    `json:"id"`
	Producer      *string   `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope wraps every published relay event.
type Envelope struct {
	Meta EventMeta `json:"meta"`
	Data any       `json:"data"`
}

type ConversationEvent struct {
	ChatID     int64         `json:"chat_id"`
	UserID     string        `json:"user_id"`
	OperatorID string        `json:"operator_id"`
	Outcome    AssignOutcome `json:"outcome,omitempty"`
}

type MessageEvent struct {
	MessageID  int64  `json:"message_id"`
	ChatID     int64  `json:"chat_id"`
	UserID     string `json:"user_id"`
	OperatorID string `json:"operator_id,omitempty"`
	IsFromUser bool   `json:"is_from_user"`
	Delivered  bool   `json:"delivered"`
}
