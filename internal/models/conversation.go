package models

import "time"

// Conversation is the single open chat between an external user and the
// operator assigned to it. At most one exists per user.
type Conversation struct {
	ID         int64     `bson:"_id" json:"id"`
	UserID     string    `bson:"user_id" json:"user_id"`
	OperatorID string    `bson:"operator_id,omitempty" json:"operator_id,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

// ArchivedConversation is an ended conversation. It keeps the acquaintance
// between a user and an operator for later reopening.
type ArchivedConversation struct {
	ID         int64     `bson:"_id" json:"id"`
	UserID     string    `bson:"user_id" json:"user_id"`
	OperatorID string    `bson:"operator_id,omitempty" json:"operator_id,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	ArchivedAt time.Time `bson:"archived_at" json:"archived_at"`
}

type Message struct {
	ID         int64     `bson:"_id" json:"id"`
	ChatID     int64     `bson:"chat_id" json:"chat_id"`
	Text       string    `bson:"text" json:"text"`
	IsFromUser bool      `bson:"is_from_user" json:"is_from_user"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

// AssignOutcome tells how a conversation was resolved for an inbound message.
type AssignOutcome string

const (
	OutcomeExisting AssignOutcome = "existing"
	OutcomeReopened AssignOutcome = "reopened"
	OutcomeAssigned AssignOutcome = "assigned"
)

// Opened reports whether the conversation was opened by this resolution.
func (o AssignOutcome) Opened() bool {
	return o == OutcomeReopened || o == OutcomeAssigned
}
