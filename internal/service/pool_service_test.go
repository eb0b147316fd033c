package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanpool/internal/models"
	gormrepository "fanpool/internal/repository/gorm"
	"fanpool/internal/settlement"
)

func TestCreatePoolValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.pools.CreatePool(ctx, CreatePoolInput{
		ID:             "p",
		CommissionRate: decimal.RequireFromString("1.5"),
		Options:        []OptionInput{{ID: "A"}, {ID: "B"}},
	})
	assert.ErrorIs(t, err, settlement.ErrInvalidCommissionRate)

	_, _, err = f.pools.CreatePool(ctx, CreatePoolInput{ID: "p", Options: []OptionInput{{ID: "A"}}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = f.pools.CreatePool(ctx, CreatePoolInput{ID: "p", Options: []OptionInput{{ID: "A"}, {ID: " A "}}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	pool, options, err := f.pools.CreatePool(ctx, CreatePoolInput{
		PollID:         "poll-9",
		CommissionRate: decimal.RequireFromString("0.1"),
		Options:        []OptionInput{{ID: "A", Label: "Home"}, {ID: "B", Label: "Away"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, pool.ID)
	assert.Equal(t, models.PoolStatusOpen, pool.Status)
	require.Len(t, options, 2)
	assert.Equal(t, 1, options[1].Position)

	_, _, err = f.pools.CreatePool(ctx, CreatePoolInput{ID: pool.ID, Options: []OptionInput{{ID: "A"}, {ID: "B"}}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPlaceBetRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.pools.CreatePool(ctx, CreatePoolInput{ID: "pool-1", Options: []OptionInput{{ID: "A"}, {ID: "B"}}})
	require.NoError(t, err)

	_, err = f.pools.PlaceBet(ctx, "pool-1", PlaceBetInput{ParticipantID: "u1", OptionID: "A", Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.pools.PlaceBet(ctx, "pool-1", PlaceBetInput{ParticipantID: "u1", OptionID: "A", Amount: models.MaxBetAmount + 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.pools.PlaceBet(ctx, "pool-1", PlaceBetInput{ParticipantID: "u1", OptionID: "C", Amount: 10})
	assert.ErrorIs(t, err, settlement.ErrUnknownOption)
	_, err = f.pools.PlaceBet(ctx, "nope", PlaceBetInput{ParticipantID: "u1", OptionID: "A", Amount: 10})
	assert.ErrorIs(t, err, settlement.ErrPoolNotFound)

	bet, err := f.pools.PlaceBet(ctx, "pool-1", PlaceBetInput{ParticipantID: "u1", OptionID: "A", Amount: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, bet.ID)

	pool, err := f.pools.ClosePool(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, models.PoolStatusClosed, pool.Status)
	assert.NotNil(t, pool.ClosedAt)

	_, err = f.pools.PlaceBet(ctx, "pool-1", PlaceBetInput{ParticipantID: "u2", OptionID: "A", Amount: 10})
	assert.ErrorIs(t, err, ErrPoolNotOpen)

	_, err = f.pools.ClosePool(ctx, "pool-1")
	assert.ErrorIs(t, err, settlement.ErrInvalidTransition)
}

// staleOpenView reports every pool as OPEN, the way a read taken just
// before a concurrent close does.
type staleOpenView struct {
	*gormrepository.Store
}

func (v staleOpenView) GetPool(ctx context.Context, id string) (*models.Pool, error) {
	pool, err := v.Store.GetPool(ctx, id)
	if pool != nil {
		pool.Status = models.PoolStatusOpen
	}
	return pool, err
}

func TestPlaceBetLosesRaceWithClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScenarioA(t, "pool-a")
	before, err := f.repo.SumPoolStakes(ctx, "pool-a")
	require.NoError(t, err)

	stale := &PoolService{Repo: staleOpenView{Store: f.repo}}
	_, err = stale.PlaceBet(ctx, "pool-a", PlaceBetInput{ParticipantID: "late", OptionID: "X", Amount: 1000})
	assert.ErrorIs(t, err, ErrPoolNotOpen)

	after, err := f.repo.SumPoolStakes(ctx, "pool-a")
	require.NoError(t, err)
	assert.Equal(t, before, after, "closed ledger must not change")
}

func TestFeatureSwitches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.True(t, f.flags.IsEnabled(ctx, FeatureChainIngest, false))
	require.NoError(t, f.flags.SetEnabled(ctx, FeatureChainIngest, false))
	assert.False(t, f.flags.IsEnabled(ctx, FeatureChainIngest, true))

	// defaults never overwrite operator choices
	require.NoError(t, f.flags.EnsureDefaultSwitches(ctx))
	assert.False(t, f.flags.IsEnabled(ctx, FeatureChainIngest, true))

	assert.True(t, f.flags.IsEnabled(ctx, "feature.unknown", true))
	var nilFlags *SystemSettingsService
	assert.False(t, nilFlags.IsEnabled(ctx, FeatureChainIngest, false))
}
