package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Chat is one turn of the conversation log. Rows are append-only: never
// updated, never reused.
type Chat struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     string     `gorm:"index;not null;column:user_id" json:"user_id"`
	DocumentID *uuid.UUID `gorm:"type:uuid;index;column:document_id" json:"document_id,omitempty"`
	Message    string     `gorm:"not null;column:message" json:"message"`
	Response   string     `gorm:"not null;column:response" json:"response"`
	TokensUsed int        `gorm:"not null;default:0;column:tokens_used" json:"tokens_used"`

	// Sources holds the retrieved chunks (id, index, score) that grounded the
	// answer; empty on the degraded path.
	Sources  datatypes.JSON `gorm:"column:sources" json:"sources,omitempty"`
	Fallback bool           `gorm:"not null;default:false;column:fallback" json:"fallback"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Chat) TableName() string { return "chat" }
