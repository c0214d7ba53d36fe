package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document is the relational record for an ingested document. EmbeddingID is
// the logical grouping key for this document's vector points: set once at
// ingestion, immutable thereafter, and used to scope search and deletion.
type Document struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string    `gorm:"index;not null;column:user_id" json:"user_id"`
	Title       string    `gorm:"not null;column:title" json:"title"`
	EmbeddingID string    `gorm:"index;not null;column:embedding_id" json:"embedding_id"`
	ChunkCount  int       `gorm:"not null;default:0;column:chunk_count" json:"chunk_count"`
	TokensUsed  int64     `gorm:"not null;default:0;column:tokens_used" json:"tokens_used"`

	// ContentPreview holds a bounded prefix of the extracted text so the
	// degraded chat path can answer without the vector store.
	ContentPreview string `gorm:"column:content_preview" json:"-"`
	Summary        string `gorm:"column:summary" json:"summary,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Document) TableName() string { return "document" }
