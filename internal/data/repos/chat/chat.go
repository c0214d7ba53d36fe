package chat

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/chatwithpdf/chatwithpdf-backend/internal/domain"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

type ChatRepo interface {
	Create(ctx context.Context, tx *gorm.DB, entry *types.Chat) (*types.Chat, error)
	// ListByUser pages the log newest first; a non-nil documentID narrows
	// it to one document's turns.
	ListByUser(ctx context.Context, tx *gorm.DB, userID string, documentID *uuid.UUID, limit, offset int) ([]*types.Chat, error)
	// RecentForDocument returns the latest n turns for one user/document
	// pair, oldest first, ready to replay as conversation history.
	RecentForDocument(ctx context.Context, tx *gorm.DB, userID string, documentID uuid.UUID, n int) ([]*types.Chat, error)
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, baseLog *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: baseLog.With("repo", "ChatRepo")}
}

func (cr *chatRepo) Create(ctx context.Context, tx *gorm.DB, entry *types.Chat) (*types.Chat, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

func (cr *chatRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID string, documentID *uuid.UUID, limit, offset int) ([]*types.Chat, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	if limit <= 0 {
		limit = 50
	}

	query := transaction.WithContext(ctx).Where("user_id = ?", userID)
	if documentID != nil {
		query = query.Where("document_id = ?", *documentID)
	}

	var results []*types.Chat
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (cr *chatRepo) RecentForDocument(ctx context.Context, tx *gorm.DB, userID string, documentID uuid.UUID, n int) ([]*types.Chat, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	if n <= 0 {
		n = 3
	}

	var results []*types.Chat
	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND document_id = ?", userID, documentID).
		Order("created_at DESC").
		Limit(n).
		Find(&results).Error; err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}
