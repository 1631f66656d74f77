package models

import "gorm.io/gorm"

// MigrateTable creates the tables for local development and integration tests.
// Production schema changes are applied outside this service.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Collection{},
		&CollectionHistory{},
		&BankDeposit{},
		&CollectionRequestKey{},
	)
}
