package domain

import (
	"time"

	"github.com/google/uuid"
)

// Plan defines the token allowance copied onto a UserProfile at lazy creation.
type Plan struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null;column:name" json:"name"`
	TokensLimit int64     `gorm:"not null;column:tokens_limit" json:"tokens_limit"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Plan) TableName() string { return "plan" }

const (
	PlanFree = "free"
	PlanPro  = "pro"

	// DefaultFreeTokens is the allowance granted when a profile is created
	// lazily and no plan row is seeded yet.
	DefaultFreeTokens int64 = 100_000
	DefaultProTokens  int64 = 2_000_000
)
