package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PoolStatusOpen     = "OPEN"
	PoolStatusClosed   = "CLOSED"
	PoolStatusSettling = "SETTLING"
	PoolStatusSettled  = "SETTLED"
)

// Pool is a pari-mutuel pool attached to one fan poll.
type Pool struct {
	ID     string `gorm:"primaryKey;type:varchar(64)"`
	PollID string `gorm:"type:varchar(64);not null;index"`
	Title  string `gorm:"type:text"`

	// Fraction in [0,1], e.g. 0.05.
	CommissionRate decimal.Decimal `gorm:"type:numeric(10,6);not null;default:0"`
	Status         string          `gorm:"type:varchar(16);not null;index"`

	TotalStaked     int64 `gorm:"not null;default:0"`
	CommissionTotal int64 `gorm:"not null;default:0"`
	DustTotal       int64 `gorm:"not null;default:0"`
	UnclaimedTotal  int64 `gorm:"not null;default:0"`

	// Recorded on CLOSED -> SETTLING; JSON array of option ids, [] for void.
	WinningOptionIDs datatypes.JSON `gorm:"column:winning_option_ids"`

	ClosedAt  *time.Time `gorm:"index"`
	SettledAt *time.Time `gorm:"index"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
}

func (Pool) TableName() string {
	return "pools"
}
