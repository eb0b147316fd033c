package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"

	"fanpool/internal/models"
)

// MaxPageSize caps every internal page read, participant pages included.
const MaxPageSize = 5000

// ErrPoolNotOpen is returned by InsertBet when the pool is missing or no
// longer accepts bets.
var ErrPoolNotOpen = errors.New("pool is not accepting bets")

// BetLedger appends to and reads the bet ledger. InsertBet only succeeds
// while the pool is OPEN, and a concurrent close waits for it.
type BetLedger interface {
	InsertBet(ctx context.Context, item *models.Bet) (bool, error)
	ListPoolBets(ctx context.Context, poolID string, participantIDs []string) ([]models.Bet, error)
	ListParticipantBets(ctx context.Context, poolID string, participantID string) ([]models.Bet, error)
	SumPoolStakes(ctx context.Context, poolID string) (PoolStakeSummary, error)
}

// ParticipantLister enumerates the distinct participants of a pool in
// participant id order. After takes precedence over Offset.
type ParticipantLister interface {
	ListParticipantIDs(ctx context.Context, poolID string, params ListParticipantsParams) ([]string, error)
}

// SettlementStore is append-only. InsertSettlementIfAbsent reports false
// when a row for (pool, participant) already exists and leaves it untouched.
type SettlementStore interface {
	InsertSettlementIfAbsent(ctx context.Context, item *models.Settlement) (bool, error)
	ListSettlementsByParticipants(ctx context.Context, poolID string, participantIDs []string) ([]models.Settlement, error)
	ListSettlements(ctx context.Context, params ListSettlementsParams) ([]models.Settlement, error)
	CountSettlements(ctx context.Context, params ListSettlementsParams) (int64, error)
	SumSettlementsByType(ctx context.Context, poolID string) ([]SettlementTotal, error)
}

type PoolRepository interface {
	CreatePool(ctx context.Context, pool *models.Pool, options []models.PoolOption) error
	GetPool(ctx context.Context, id string) (*models.Pool, error)
	ListPools(ctx context.Context, params ListPoolsParams) ([]models.Pool, error)
	ListPoolOptions(ctx context.Context, poolID string) ([]models.PoolOption, error)
	// TransitionPool is a compare-and-set on status; it reports whether the
	// row was in status from and got updated.
	TransitionPool(ctx context.Context, poolID string, from string, update PoolUpdate) (bool, error)
}

type SettlementRunRepository interface {
	CreateSettlementRun(ctx context.Context, item *models.SettlementRun) error
	FinishSettlementRun(ctx context.Context, item *models.SettlementRun) error
	ListSettlementRuns(ctx context.Context, poolID string, limit int) ([]models.SettlementRun, error)
}

type SystemSettingRepository interface {
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
	CountSystemSettings(ctx context.Context, params ListSystemSettingsParams) (int64, error)
}

// Repository is everything the service layer needs from storage.
type Repository interface {
	BetLedger
	ParticipantLister
	SettlementStore
	PoolRepository
	SettlementRunRepository
	SystemSettingRepository
}

type OptionStake struct {
	OptionID string
	Total    int64
}

type PoolStakeSummary struct {
	ByOption     []OptionStake
	Participants int64
}

type SettlementTotal struct {
	Type  string
	Count int64
	Total int64
}

type ListParticipantsParams struct {
	After  string
	Offset int
	Limit  int
}

type ListSettlementsParams struct {
	PoolID string
	Type   *string
	// AfterParticipant pages by participant id instead of Offset when set.
	AfterParticipant string
	Limit            int
	Offset           int
}

type ListPoolsParams struct {
	Limit   int
	Offset  int
	Status  *string
	OrderBy string
	Asc     *bool
}

// PoolUpdate carries the columns written together with a status change.
type PoolUpdate struct {
	Status           string
	WinningOptionIDs datatypes.JSON
	TotalStaked      *int64
	CommissionTotal  *int64
	DustTotal        *int64
	UnclaimedTotal   *int64
	ClosedAt         *time.Time
	SettledAt        *time.Time
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}
