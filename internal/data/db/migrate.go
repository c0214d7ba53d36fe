package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/chatwithpdf/chatwithpdf-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Plan{},
		&types.UserProfile{},
		&types.Document{},
		&types.Chat{},
	)
}

// EnsureIndexes adds the composite listing indexes gorm tags cannot express.
// Postgres syntax; test databases skip this.
func EnsureIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_document_user_created
		ON document (user_id, created_at DESC)
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_document_user_created: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_chat_user_doc_created
		ON chat (user_id, document_id, created_at DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_chat_user_doc_created: %w", err)
	}
	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureIndexes(s.db); err != nil {
		s.log.Error("Index migration failed", "error", err)
		return err
	}
	return nil
}
