package db

import (
	"fanpool/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Pool{},
		&models.PoolOption{},
		&models.Bet{},
		&models.Settlement{},
		&models.SettlementRun{},
		&models.SystemSetting{},
	)
}
