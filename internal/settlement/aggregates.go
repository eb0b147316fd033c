package settlement

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"fanpool/internal/models"
	"fanpool/internal/repository"
)

// Aggregates are the pool-wide sums every participant resolution reads.
// They are computed once per run and passed by value.
type Aggregates struct {
	TotalStaked       int64           `json:"total_staked"`
	WinningStaked     int64           `json:"winning_staked"`
	Commission        int64           `json:"commission"`
	DistributablePool int64           `json:"distributable_pool"`
	ParticipantCount  int64           `json:"participant_count"`
	CommissionRate    decimal.Decimal `json:"commission_rate"`
}

// NewAggregates derives aggregates from per-option stake sums.
func NewAggregates(stakes repository.PoolStakeSummary, rate decimal.Decimal, ws WinningSet) (Aggregates, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return Aggregates{}, fmt.Errorf("%w: %s", ErrInvalidCommissionRate, rate.String())
	}
	agg := Aggregates{
		ParticipantCount: stakes.Participants,
		CommissionRate:   rate,
	}
	var ok bool
	for _, row := range stakes.ByOption {
		if row.Total < 0 {
			return Aggregates{}, fmt.Errorf("%w: option %s sums to %d", ErrStakeOverflow, row.OptionID, row.Total)
		}
		if agg.TotalStaked, ok = addStake(agg.TotalStaked, row.Total); !ok {
			return Aggregates{}, fmt.Errorf("%w: total staked at option %s", ErrStakeOverflow, row.OptionID)
		}
		if ws.Contains(row.OptionID) {
			agg.WinningStaked += row.Total
		}
	}
	agg.Commission = decimal.NewFromInt(agg.TotalStaked).Mul(rate).Floor().IntPart()
	agg.DistributablePool = agg.TotalStaked - agg.Commission
	return agg, nil
}

// ComputeAggregates loads the pool and sums its ledger.
func (e *Engine) ComputeAggregates(ctx context.Context, poolID string, ws WinningSet) (Aggregates, error) {
	pool, err := e.loadPool(ctx, poolID)
	if err != nil {
		return Aggregates{}, err
	}
	return e.computeAggregates(ctx, pool, ws)
}

func (e *Engine) computeAggregates(ctx context.Context, pool *models.Pool, ws WinningSet) (Aggregates, error) {
	stakes, err := e.store.SumPoolStakes(ctx, pool.ID)
	if err != nil {
		return Aggregates{}, fmt.Errorf("%w: sum stakes for pool %s: %v", ErrLedgerUnavailable, pool.ID, err)
	}
	return NewAggregates(stakes, pool.CommissionRate, ws)
}

// addStake adds two non-negative stakes, reporting false on overflow.
func addStake(a, b int64) (int64, bool) {
	if b > math.MaxInt64-a {
		return 0, false
	}
	return a + b, true
}

func (e *Engine) loadPool(ctx context.Context, poolID string) (*models.Pool, error) {
	pool, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("%w: load pool %s: %v", ErrLedgerUnavailable, poolID, err)
	}
	if pool == nil {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}
	return pool, nil
}
