package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/data/db"
	types "github.com/chatwithpdf/chatwithpdf-backend/internal/domain"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB opens a fresh in-memory sqlite database with the full schema. Each call
// returns an isolated database, so tests never see each other's rows.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrateAll(gdb); err != nil {
		tb.Fatalf("failed to migrate test db: %v", err)
	}
	return gdb
}

func SeedProfile(tb testing.TB, ctx context.Context, tx *gorm.DB, userID string, tokensLimit int64) *types.UserProfile {
	tb.Helper()
	p := &types.UserProfile{
		ID:          uuid.New(),
		UserID:      userID,
		Plan:        types.PlanFree,
		TokensLimit: tokensLimit,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed profile: %v", err)
	}
	return p
}

func SeedDocument(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, title string) *types.Document {
	tb.Helper()
	d := &types.Document{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       title,
		EmbeddingID: uuid.NewString(),
		ChunkCount:  3,
	}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed document: %v", err)
	}
	return d
}
