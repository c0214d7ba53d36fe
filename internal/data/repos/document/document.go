package document

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/chatwithpdf/chatwithpdf-backend/internal/domain"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

type DocumentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, doc *types.Document) (*types.Document, error)
	GetByIDForUser(ctx context.Context, tx *gorm.DB, id uuid.UUID, userID string) (*types.Document, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*types.Document, error)
	UpdateSummary(ctx context.Context, tx *gorm.DB, id uuid.UUID, summary string) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID, userID string) error
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (dr *documentRepo) Create(ctx context.Context, tx *gorm.DB, doc *types.Document) (*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = dr.db
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

func (dr *documentRepo) GetByIDForUser(ctx context.Context, tx *gorm.DB, id uuid.UUID, userID string) (*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = dr.db
	}

	var result types.Document
	if err := transaction.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (dr *documentRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = dr.db
	}

	var results []*types.Document
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (dr *documentRepo) UpdateSummary(ctx context.Context, tx *gorm.DB, id uuid.UUID, summary string) error {
	transaction := tx
	if transaction == nil {
		transaction = dr.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Document{}).
		Where("id = ?", id).
		Update("summary", summary).Error
}

func (dr *documentRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID, userID string) error {
	transaction := tx
	if transaction == nil {
		transaction = dr.db
	}
	return transaction.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&types.Document{}).Error
}
