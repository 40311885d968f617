package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Operator struct {
	ID                string               `bson:"_id" json:"id"`
	Name              string               `bson:"name" json:"name"`
	Email             string               `bson:"email" json:"email"`
	Permissions       []string             `bson:"permissions" json:"permissions"`
	RoleIDs           []primitive.ObjectID `bson:"role_ids" json:"role_ids"`
	PerceivedBusyness float64              `bson:"perceived_busyness" json:"perceived_busyness"`
	IsActive          bool                 `bson:"is_active" json:"is_active"`
	CreatedAt         time.Time            `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time            `bson:"updated_at" json:"updated_at"`
}

type Role struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title       string             `bson:"title" json:"title"`
	Permissions []string           `bson:"permissions" json:"permissions"`
}

// Session maps an opaque operator token to the operator it was issued for.
type Session struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionToken string             `bson:"session_token" json:"-"`
	UserID       string             `bson:"user_id" json:"user_id"`
	ExpiresAt    time.Time          `bson:"expires_at" json:"expires_at"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}

// BusynessUpdate is a perceived busyness sample reported for an operator.
type BusynessUpdate struct {
	OperatorID        string    `json:"operator_id" validate:"required"`
	PerceivedBusyness float64   `json:"perceived_busyness" validate:"gte=0"`
	RecordedAt        time.Time `json:"recorded_at"`
}
