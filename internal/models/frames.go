package models

import "time"

// MessageFrame is pushed to an operator for every message in their chats.
type MessageFrame struct {
	ID         int64   `json:"id"`
	Text       string  `json:"text"`
	CreatedAt  float64 `json:"createdAt"`
	ChatID     int64   `json:"chatId"`
	IsFromUser bool    `json:"isFromUser"`
}

func NewMessageFrame(m *Message) MessageFrame {
	return MessageFrame{
		ID:         m.ID,
		Text:       m.Text,
		CreatedAt:  EpochSeconds(m.CreatedAt),
		ChatID:     m.ChatID,
		IsFromUser: m.IsFromUser,
	}
}

// OperatorFrame is a reply typed by an operator.
type OperatorFrame struct {
	Text       string `json:"text" validate:"required"`
	ChatID     int64  `json:"chatId" validate:"required,gt=0"`
	IsFromUser bool   `json:"isFromUser"`
	UserID     string `json:"userId" validate:"required,unique_chat_id"`
}

// ErrorFrame reports a failed operator request back over the same channel.
type ErrorFrame struct {
	Error  string `json:"error"`
	ChatID int64  `json:"chatId,omitempty"`
}

// NoticeFrame is broadcast to every connected operator.
type NoticeFrame struct {
	Notice string `json:"notice"`
}

func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}
