package models

import (
	"time"

	"gorm.io/datatypes"
)

// SettlementRun records one invocation of the batch scheduler.
type SettlementRun struct {
	ID               string         `gorm:"primaryKey;type:varchar(64)"`
	PoolID           string         `gorm:"type:varchar(64);not null;index"`
	WinningOptionIDs datatypes.JSON `gorm:"column:winning_option_ids"`
	BatchSize        int            `gorm:"not null"`

	Processed   int    `gorm:"not null;default:0"`
	Succeeded   int    `gorm:"not null;default:0"`
	Failed      int    `gorm:"not null;default:0"`
	Skipped     int    `gorm:"not null;default:0"`
	PayoutTotal int64  `gorm:"not null;default:0"`
	RefundTotal int64  `gorm:"not null;default:0"`
	Cancelled   bool   `gorm:"not null;default:false"`
	Error       string `gorm:"type:text"`

	StartedAt  time.Time  `gorm:"not null;index"`
	FinishedAt *time.Time `gorm:"index"`
}

func (SettlementRun) TableName() string {
	return "settlement_runs"
}
