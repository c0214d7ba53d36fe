package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserProfile tracks per-user plan and token accounting. UserID is the opaque
// identifier handed to this service by the auth collaborator; the row is
// created lazily on first access. TokensUsed only ever grows.
type UserProfile struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string    `gorm:"uniqueIndex;not null;column:user_id" json:"user_id"`
	Plan        string    `gorm:"not null;default:'free';column:plan" json:"plan"`
	TokensUsed  int64     `gorm:"not null;default:0;column:tokens_used" json:"tokens_used"`
	TokensLimit int64     `gorm:"not null;column:tokens_limit" json:"tokens_limit"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (UserProfile) TableName() string { return "user_profile" }

// RemainingTokens is the budget left before chat/ingestion is refused.
func (p *UserProfile) RemainingTokens() int64 {
	if p == nil {
		return 0
	}
	return p.TokensLimit - p.TokensUsed
}
