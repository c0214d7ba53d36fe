package profile

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/chatwithpdf/chatwithpdf-backend/internal/domain"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

type ProfileRepo interface {
	// EnsureForUser returns the profile for userID, creating it on the free
	// plan when none exists yet.
	EnsureForUser(ctx context.Context, tx *gorm.DB, userID string) (*types.UserProfile, error)
	GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*types.UserProfile, error)
	// AddTokensUsed increments the usage counter in the database so
	// concurrent requests never lose updates.
	AddTokensUsed(ctx context.Context, tx *gorm.DB, userID string, tokens int64) error
	SetPlan(ctx context.Context, tx *gorm.DB, userID, plan string, tokensLimit int64) error
}

type profileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProfileRepo(db *gorm.DB, baseLog *logger.Logger) ProfileRepo {
	return &profileRepo{db: db, log: baseLog.With("repo", "ProfileRepo")}
}

func (pr *profileRepo) EnsureForUser(ctx context.Context, tx *gorm.DB, userID string) (*types.UserProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	var existing types.UserProfile
	err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	tokensLimit := types.DefaultFreeTokens
	var plan types.Plan
	if err := transaction.WithContext(ctx).
		Where("name = ?", types.PlanFree).
		First(&plan).Error; err == nil {
		tokensLimit = plan.TokensLimit
	}

	created := &types.UserProfile{
		ID:          uuid.New(),
		UserID:      userID,
		Plan:        types.PlanFree,
		TokensUsed:  0,
		TokensLimit: tokensLimit,
	}
	if err := transaction.WithContext(ctx).Create(created).Error; err != nil {
		// A concurrent request may have created the row first.
		var raced types.UserProfile
		if lookupErr := transaction.WithContext(ctx).
			Where("user_id = ?", userID).
			First(&raced).Error; lookupErr == nil {
			return &raced, nil
		}
		return nil, err
	}
	pr.log.Info("created user profile", "user_id", userID, "plan", created.Plan)
	return created, nil
}

func (pr *profileRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*types.UserProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	var result types.UserProfile
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (pr *profileRepo) AddTokensUsed(ctx context.Context, tx *gorm.DB, userID string, tokens int64) error {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	if tokens <= 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.UserProfile{}).
		Where("user_id = ?", userID).
		Update("tokens_used", gorm.Expr("tokens_used + ?", tokens)).Error
}

func (pr *profileRepo) SetPlan(ctx context.Context, tx *gorm.DB, userID, plan string, tokensLimit int64) error {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	return transaction.WithContext(ctx).
		Model(&types.UserProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"plan":         plan,
			"tokens_limit": tokensLimit,
		}).Error
}
