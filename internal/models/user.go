package models

import (
	"fmt"
	"strings"
	"time"
)

// ExternalUser is a customer reached through a messaging platform. The id is
// the composite "{platform}_{chat_id}".
type ExternalUser struct {
	ID           string    `bson:"_id" json:"id"`
	Platform     string    `bson:"platform" json:"platform"`
	ChatID       string    `bson:"chat_id" json:"chat_id"`
	Online       bool      `bson:"online" json:"online"`
	Suspended    bool      `bson:"suspended" json:"suspended"`
	LastStatusAt time.Time `bson:"last_status_at" json:"last_status_at"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

func UniqueUserID(platform, chatID string) string {
	return platform + "_" + chatID
}

// SplitUniqueUserID splits "{platform}_{chat_id}" on the first separator.
// Chat ids may contain underscores, platform names never do.
func SplitUniqueUserID(id string) (platform, chatID string, err error) {
	platform, chatID, ok := strings.Cut(id, "_")
	if !ok || platform == "" || chatID == "" {
		return "", "", fmt.Errorf("%w: malformed user id %q", ErrInvalidRequest, id)
	}
	return platform, chatID, nil
}
