package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fanpool/internal/config"
	"fanpool/internal/lock"
	"fanpool/internal/models"
	"fanpool/internal/progress"
	gormrepository "fanpool/internal/repository/gorm"
	"fanpool/internal/settlement"
)

func setupRepo(t *testing.T) *gormrepository.Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, gdb.AutoMigrate(
		&models.Pool{},
		&models.PoolOption{},
		&models.Bet{},
		&models.Settlement{},
		&models.SettlementRun{},
		&models.SystemSetting{},
	))
	return gormrepository.New(gdb)
}

type recordingPublisher struct {
	mu          sync.Mutex
	settlements []models.Settlement
	batches     int
	failWith    error
	runs        []settlement.RunSummary
}

func (p *recordingPublisher) PublishSettlements(_ context.Context, items []models.Settlement) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches++
	if p.failWith != nil {
		return p.failWith
	}
	p.settlements = append(p.settlements, items...)
	return nil
}

func (p *recordingPublisher) PublishRunCompleted(_ context.Context, summary settlement.RunSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, summary)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	repo   *gormrepository.Store
	pools  *PoolService
	settle *SettlementService
	flags  *SystemSettingsService
	locker *lock.MemoryLocker
	events *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := setupRepo(t)
	flags := &SystemSettingsService{Repo: repo}
	require.NoError(t, flags.EnsureDefaultSwitches(context.Background()))

	engine := settlement.NewEngine(repo, zap.NewNop(), settlement.Options{DefaultBatchSize: 2, MaxBatchSize: 100})
	events := &recordingPublisher{}
	locker := lock.NewMemoryLocker()
	svc := &SettlementService{
		Repo:      repo,
		Engine:    engine,
		Locker:    locker,
		Publisher: events,
		Progress:  progress.NewHub(zap.NewNop()),
		Flags:     flags,
		Config:    config.SettlementConfig{DefaultBatchSize: 2, MaxBatchSize: 100, RetryPoolLimit: 10},
		Logger:    zap.NewNop(),
	}
	return &fixture{
		repo:   repo,
		pools:  &PoolService{Repo: repo},
		settle: svc,
		flags:  flags,
		locker: locker,
		events: events,
	}
}

// seedScenarioA creates a closed pool with three 100 stakes on X and two on Y.
func (f *fixture) seedScenarioA(t *testing.T, poolID string) {
	t.Helper()
	ctx := context.Background()
	_, _, err := f.pools.CreatePool(ctx, CreatePoolInput{
		ID:             poolID,
		PollID:         "poll-1",
		CommissionRate: decimal.RequireFromString("0.05"),
		Options:        []OptionInput{{ID: "X"}, {ID: "Y"}},
	})
	require.NoError(t, err)
	for _, bet := range []PlaceBetInput{
		{ParticipantID: "p1", OptionID: "X", Amount: 100},
		{ParticipantID: "p2", OptionID: "X", Amount: 100},
		{ParticipantID: "p3", OptionID: "X", Amount: 100},
		{ParticipantID: "p4", OptionID: "Y", Amount: 100},
		{ParticipantID: "p5", OptionID: "Y", Amount: 100},
	} {
		_, err := f.pools.PlaceBet(ctx, poolID, bet)
		require.NoError(t, err)
	}
	_, err = f.pools.ClosePool(ctx, poolID)
	require.NoError(t, err)
}
