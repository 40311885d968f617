package models

import "time"

// OperatorScore is one row of the busyness table recomputed for assignment.
type OperatorScore struct {
	OperatorID         string    `bson:"_id" json:"operator_id"`
	Conversations      int64     `bson:"conversations" json:"conversations"`
	Messages           int64     `bson:"messages" json:"messages"`
	AvgResponseSeconds float64   `bson:"avg_response_seconds" json:"avg_response_seconds"`
	PerceivedBusyness  float64   `bson:"perceived_busyness" json:"perceived_busyness"`
	Score              float64   `bson:"score" json:"score"`
	WindowStart        time.Time `bson:"window_start" json:"window_start"`
	ComputedAt         time.Time `bson:"computed_at" json:"computed_at"`
}

// WindowConversation is a conversation started inside the scoring window,
// open or archived, with its messages in creation order.
type WindowConversation struct {
	ChatID     int64
	OperatorID string
	Messages   []Message
}
