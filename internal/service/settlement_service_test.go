package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fanpool/internal/models"
	"fanpool/internal/repository"
	gormrepository "fanpool/internal/repository/gorm"
	"fanpool/internal/settlement"
)

func TestSettleScenarioAEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScenarioA(t, "pool-a")

	summary, err := f.settle.Settle(ctx, "pool-a", settlement.NewWinningSet("X"), 0)
	require.NoError(t, err)
	assert.True(t, summary.Settled)
	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, int64(474), summary.PayoutTotal)
	assert.Equal(t, int64(1), summary.House.Dust)

	pool, err := f.repo.GetPool(ctx, "pool-a")
	require.NoError(t, err)
	assert.Equal(t, models.PoolStatusSettled, pool.Status)
	assert.Equal(t, int64(25), pool.CommissionTotal)
	assert.Equal(t, int64(1), pool.DustTotal)

	assert.Len(t, f.events.settlements, 5)
	assert.Equal(t, 3, f.events.batches, "one publish per batch of two")
	require.Len(t, f.events.runs, 1)
	assert.Equal(t, summary.RunID, f.events.runs[0].RunID)

	report, err := f.settle.Engine.ValidateRun(ctx, "pool-a")
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 1.0, report.AccuracyRate)
}

func TestSettleRerunWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScenarioA(t, "pool-a")

	_, err := f.settle.Settle(ctx, "pool-a", settlement.NewWinningSet("X"), 0)
	require.NoError(t, err)
	again, err := f.settle.Settle(ctx, "pool-a", settlement.NewWinningSet("X"), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Processed)
	assert.Equal(t, 5, again.Skipped)
	assert.Len(t, f.events.settlements, 5, "skipped participants publish nothing")

	count, err := f.repo.CountSettlements(ctx, repository.ListSettlementsParams{PoolID: "pool-a"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestSettleRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScenarioA(t, "pool-a")

	release, ok, err := f.locker.Acquire(ctx, "settlement:pool-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.settle.Settle(ctx, "pool-a", settlement.NewWinningSet("X"), 0)
	assert.ErrorIs(t, err, ErrRunInProgress)

	release()
	_, err = f.settle.Settle(ctx, "pool-a", settlement.NewWinningSet("X"), 0)
	assert.NoError(t, err)
}

func TestSettlePoolLevelErrorsPublishNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScenarioA(t, "pool-a")

	_, err := f.settle.Settle(ctx, "pool-a", settlement.NewWinningSet("Z"), 0)
	assert.ErrorIs(t, err, settlement.ErrUnknownOption)
	_, err = f.settle.Settle(ctx, "missing", settlement.NewWinningSet("X"), 0)
	assert.ErrorIs(t, err, settlement.ErrPoolNotFound)
	assert.Empty(t, f.events.runs)
}

func TestSettleEventsSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScenarioA(t, "pool-a")
	require.NoError(t, f.flags.SetEnabled(ctx, FeatureSettlementEvents, false))

	_, err := f.settle.Settle(ctx, "pool-a", settlement.NewWinningSet("X"), 0)
	require.NoError(t, err)
	assert.Empty(t, f.events.settlements)
	assert.Empty(t, f.events.runs)
}

// countingSettings counts switch lookups on top of the real store.
type countingSettings struct {
	*gormrepository.Store
	lookups atomic.Int64
}

func (c *countingSettings) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	c.lookups.Add(1)
	return c.Store.GetSystemSettingByKey(ctx, key)
}

func TestSettleReadsEventsSwitchOncePerRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScenarioA(t, "pool-a")
	counting := &countingSettings{Store: f.repo}
	f.settle.Flags = &SystemSettingsService{Repo: counting}

	_, err := f.settle.Settle(ctx, "pool-a", settlement.NewWinningSet("X"), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counting.lookups.Load())
	assert.Equal(t, 5, f.events.batches)
	assert.Len(t, f.events.settlements, 5)
}

func TestSettleStopsPublishingAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScenarioA(t, "pool-a")
	f.events.failWith = errors.New("broker down")

	summary, err := f.settle.Settle(ctx, "pool-a", settlement.NewWinningSet("X"), 2)
	require.NoError(t, err)
	assert.True(t, summary.Settled)
	assert.Equal(t, 1, f.events.batches, "later batches skip publishing")
}

// seedLargePool writes n single-bet participants straight to the ledger.
func seedLargePool(t *testing.T, f *fixture, poolID string, n int) {
	t.Helper()
	ctx := context.Background()
	_, _, err := f.pools.CreatePool(ctx, CreatePoolInput{
		ID:             poolID,
		CommissionRate: decimal.RequireFromString("0.05"),
		Options:        []OptionInput{{ID: "X"}, {ID: "Y"}},
	})
	require.NoError(t, err)
	bets := make([]models.Bet, 0, n)
	for i := 0; i < n; i++ {
		option := "Y"
		if i%3 == 0 {
			option = "X"
		}
		bets = append(bets, models.Bet{
			ID:            fmt.Sprintf("%s-bet-%06d", poolID, i),
			PoolID:        poolID,
			ParticipantID: fmt.Sprintf("user-%06d", i),
			OptionID:      option,
			Amount:        10,
		})
	}
	require.NoError(t, f.repo.InTx(ctx, func(tx *gorm.DB) error {
		return tx.CreateInBatches(bets, 100).Error
	}))
	_, err = f.pools.ClosePool(ctx, poolID)
	require.NoError(t, err)
}

func TestSettleBatchSizeAboveStorePageCap(t *testing.T) {
	if testing.Short() {
		t.Skip("settles more participants than one store page")
	}
	f := newFixture(t)
	ctx := context.Background()
	n := repository.MaxPageSize + 3
	seedLargePool(t, f, "pool-big", n)
	f.settle.Engine = settlement.NewEngine(f.repo, zap.NewNop(), settlement.Options{
		DefaultBatchSize: 10000,
		MaxBatchSize:     10000,
	})

	summary, err := f.settle.Settle(ctx, "pool-big", settlement.NewWinningSet("X"), 10000)
	require.NoError(t, err)
	assert.Equal(t, n, summary.Succeeded)
	assert.Equal(t, 2, summary.Batches)
	assert.True(t, summary.Settled)

	count, err := f.repo.CountSettlements(ctx, repository.ListSettlementsParams{PoolID: "pool-big"})
	require.NoError(t, err)
	assert.Equal(t, int64(n), count)

	report, err := f.settle.Engine.ValidateRun(ctx, "pool-big")
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Zero(t, report.Unsettled)
}

// markSettling leaves a pool the way an interrupted run does.
func markSettling(t *testing.T, f *fixture, poolID string, ws settlement.WinningSet) {
	t.Helper()
	ok, err := f.repo.TransitionPool(context.Background(), poolID, models.PoolStatusClosed, repository.PoolUpdate{
		Status:           models.PoolStatusSettling,
		WinningOptionIDs: ws.JSON(),
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRetryPendingFinishesSettlingPools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScenarioA(t, "pool-a")
	markSettling(t, f, "pool-a", settlement.NewWinningSet("X"))

	f.settle.RetryPending(ctx)

	pool, err := f.repo.GetPool(ctx, "pool-a")
	require.NoError(t, err)
	assert.Equal(t, models.PoolStatusSettled, pool.Status)
	count, err := f.repo.CountSettlements(ctx, repository.ListSettlementsParams{PoolID: "pool-a"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestRetryPendingHonoursSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScenarioA(t, "pool-a")
	markSettling(t, f, "pool-a", settlement.NewWinningSet("X"))
	require.NoError(t, f.flags.SetEnabled(ctx, FeatureSettlementAutoRetry, false))

	f.settle.RetryPending(ctx)

	pool, err := f.repo.GetPool(ctx, "pool-a")
	require.NoError(t, err)
	assert.Equal(t, models.PoolStatusSettling, pool.Status)
}

func TestRetryPendingSkipsLockedPools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScenarioA(t, "pool-a")
	markSettling(t, f, "pool-a", settlement.NewWinningSet("X"))
	release, _, _ := f.locker.Acquire(ctx, "settlement:pool-a", time.Minute)
	defer release()

	f.settle.RetryPending(ctx)

	count, err := f.repo.CountSettlements(ctx, repository.ListSettlementsParams{PoolID: "pool-a"})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIsPoolLevel(t *testing.T) {
	assert.True(t, isPoolLevel(settlement.ErrWinningSetMismatch))
	assert.True(t, isPoolLevel(settlement.ErrStakeOverflow))
	assert.False(t, isPoolLevel(settlement.ErrRunIncomplete))
	assert.False(t, isPoolLevel(settlement.ErrRunCancelled))
	assert.False(t, isPoolLevel(errors.New("boom")))
}
