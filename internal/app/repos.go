package app

import (
	"gorm.io/gorm"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/data/repos"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/platform/logger"
)

type Repos struct {
	Profile  repos.ProfileRepo
	Document repos.DocumentRepo
	Chat     repos.ChatRepo
	Plan     repos.PlanRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Profile:  repos.NewProfileRepo(db, log),
		Document: repos.NewDocumentRepo(db, log),
		Chat:     repos.NewChatRepo(db, log),
		Plan:     repos.NewPlanRepo(db, log),
	}
}
