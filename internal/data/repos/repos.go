package repos

import (
	"gorm.io/gorm"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/data/repos/chat"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/data/repos/document"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/data/repos/plan"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/data/repos/profile"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

type ProfileRepo = profile.ProfileRepo
type DocumentRepo = document.DocumentRepo
type ChatRepo = chat.ChatRepo
type PlanRepo = plan.PlanRepo

func NewProfileRepo(db *gorm.DB, baseLog *logger.Logger) ProfileRepo {
	return profile.NewProfileRepo(db, baseLog)
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return document.NewDocumentRepo(db, baseLog)
}

func NewChatRepo(db *gorm.DB, baseLog *logger.Logger) ChatRepo {
	return chat.NewChatRepo(db, baseLog)
}

func NewPlanRepo(db *gorm.DB, baseLog *logger.Logger) PlanRepo {
	return plan.NewPlanRepo(db, baseLog)
}
