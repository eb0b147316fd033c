package models

import "time"

const (
	SettlementPayout = "PAYOUT"
	SettlementRefund = "REFUND"
	SettlementLoss   = "LOSS"
)

// Settlement is the append-only outcome for one participant in one pool.
// At most one row exists per (pool, participant).
type Settlement struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	PoolID        string `gorm:"type:varchar(64);not null;uniqueIndex:idx_settlement_pool_participant"`
	ParticipantID string `gorm:"type:varchar(128);not null;uniqueIndex:idx_settlement_pool_participant"`
	RunID         string `gorm:"type:varchar(64);not null;index"`

	Type   string `gorm:"type:varchar(10);not null;index"`
	Amount int64  `gorm:"not null"`

	ParticipantTotal   int64 `gorm:"not null"`
	ParticipantWinning int64 `gorm:"not null"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Settlement) TableName() string {
	return "settlements"
}
