package models

import (
	"bitbucket.org/mmdatafocus/collections_backend/config"
	"gorm.io/gorm"
)

// Repositories groups the gorm stores that share one connection pool.
type Repositories struct {
	Collections *CollectionRepository
	Deposits    *DepositRepository
	Balance     *BalanceRepository
	Reports     *ReportRepository
}

func NewRepositories(db *gorm.DB, settings config.Settings) *Repositories {
	return &Repositories{
		Collections: NewCollectionRepository(db),
		Deposits:    NewDepositRepository(db, settings.CollectionMaxAmount, settings.NotesMaxLength),
		Balance:     NewBalanceRepository(db),
		Reports:     NewReportRepository(db, settings.ReportLocation()),
	}
}
