package models

import "time"

// MaxBetAmount bounds a single stake in smallest units, leaving pool sums
// far from int64 overflow.
const MaxBetAmount int64 = 1_000_000_000_000_000

// Bet is an immutable stake by one participant on one option. A participant
// may hold many bets in the same pool, on one or several options.
type Bet struct {
	ID            string `gorm:"primaryKey;type:varchar(64)"`
	PoolID        string `gorm:"type:varchar(64);not null;index:idx_bets_pool_participant"`
	ParticipantID string `gorm:"type:varchar(128);not null;index:idx_bets_pool_participant"`
	OptionID      string `gorm:"type:varchar(64);not null;index"`
	Amount        int64  `gorm:"not null"`

	// txhash:logIndex for chain-sourced bets.
	SourceRef *string `gorm:"type:varchar(100);uniqueIndex"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (Bet) TableName() string {
	return "bets"
}
