package plan

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/chatwithpdf/chatwithpdf-backend/internal/domain"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

type PlanRepo interface {
	// Seed inserts the built-in plans when missing; existing rows are left
	// untouched so operators can tune limits in place.
	Seed(ctx context.Context, tx *gorm.DB) error
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Plan, error)
}

type planRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlanRepo(db *gorm.DB, baseLog *logger.Logger) PlanRepo {
	return &planRepo{db: db, log: baseLog.With("repo", "PlanRepo")}
}

func (pr *planRepo) Seed(ctx context.Context, tx *gorm.DB) error {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	defaults := []types.Plan{
		{Name: types.PlanFree, TokensLimit: types.DefaultFreeTokens},
		{Name: types.PlanPro, TokensLimit: types.DefaultProTokens},
	}
	for _, p := range defaults {
		var row types.Plan
		if err := transaction.WithContext(ctx).
			Where(types.Plan{Name: p.Name}).
			Attrs(types.Plan{ID: uuid.New(), TokensLimit: p.TokensLimit}).
			FirstOrCreate(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (pr *planRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Plan, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	var result types.Plan
	if err := transaction.WithContext(ctx).
		Where("name = ?", name).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}
