package service

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fanpool/internal/chainbets"
	"fanpool/internal/repository"
)

const testContract = "0x00000000000000000000000000000000000000aa"

func chainLog(t *testing.T, pool, option string, bettor common.Address, amount int64, index uint) types.Log {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(chainbets.BetPlacedABI))
	require.NoError(t, err)
	event := parsed.Events["BetPlaced"]
	data, err := event.Inputs.NonIndexed().Pack(chainbets.Bytes32(option), big.NewInt(amount))
	require.NoError(t, err)
	return types.Log{
		Address: common.HexToAddress(testContract),
		Topics: []common.Hash{
			event.ID,
			common.Hash(chainbets.Bytes32(pool)),
			common.BytesToHash(bettor.Bytes()),
		},
		Data:   data,
		TxHash: common.HexToHash("0xfeed"),
		Index:  index,
	}
}

func newIngest(t *testing.T, f *fixture) *ChainIngestService {
	t.Helper()
	decoder, err := chainbets.NewDecoder(testContract)
	require.NoError(t, err)
	return &ChainIngestService{Repo: f.repo, Decoder: decoder, Flags: f.flags, MaxLogs: 10, Logger: zap.NewNop()}
}

func TestChainIngest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.pools.CreatePool(ctx, CreatePoolInput{ID: "pool-1", Options: []OptionInput{{ID: "A"}, {ID: "B"}}})
	require.NoError(t, err)
	ingest := newIngest(t, f)

	alice := common.HexToAddress("0x0000000000000000000000000000000000000a11")
	logs := []types.Log{
		chainLog(t, "pool-1", "A", alice, 100, 0),
		chainLog(t, "pool-1", "B", alice, 50, 1),
		chainLog(t, "pool-9", "A", alice, 10, 2),
		chainLog(t, "pool-1", "A", alice, 0, 3),
	}
	result, err := ingest.Ingest(ctx, logs)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Accepted)
	assert.Len(t, result.Rejected, 2)

	// re-delivery of the same logs only produces duplicates
	result, err = ingest.Ingest(ctx, logs[:2])
	require.NoError(t, err)
	assert.Equal(t, 0, result.Accepted)
	assert.Equal(t, 2, result.Duplicates)

	stakes, err := f.repo.SumPoolStakes(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, []repository.OptionStake{{OptionID: "A", Total: 100}, {OptionID: "B", Total: 50}}, stakes.ByOption)
	assert.Equal(t, int64(1), stakes.Participants)
}

func TestChainIngestLimitsAndSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ingest := newIngest(t, f)
	ingest.MaxLogs = 1

	alice := common.HexToAddress("0x0a11")
	_, err := ingest.Ingest(ctx, []types.Log{
		chainLog(t, "pool-1", "A", alice, 1, 0),
		chainLog(t, "pool-1", "A", alice, 1, 1),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, f.flags.SetEnabled(ctx, FeatureChainIngest, false))
	_, err = ingest.Ingest(ctx, nil)
	assert.ErrorIs(t, err, ErrChainIngestDisabled)
}

func TestChainIngestRejectsPoolClosedMidCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedScenarioA(t, "pool-a")
	ingest := newIngest(t, f)
	ingest.Repo = staleOpenView{Store: f.repo}

	bob := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	result, err := ingest.Ingest(ctx, []types.Log{
		chainLog(t, "pool-a", "X", bob, 500, 0),
		chainLog(t, "pool-a", "Y", bob, 500, 1),
	})
	require.NoError(t, err)
	assert.Zero(t, result.Accepted)
	assert.Len(t, result.Rejected, 2)

	stakes, err := f.repo.SumPoolStakes(ctx, "pool-a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stakes.Participants)
}
