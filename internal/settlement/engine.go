package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fanpool/internal/models"
	"fanpool/internal/repository"
)

// Store is the storage the engine reads and appends to.
type Store interface {
	repository.BetLedger
	repository.ParticipantLister
	repository.SettlementStore
	repository.PoolRepository
	repository.SettlementRunRepository
}

type Options struct {
	DefaultBatchSize int
	MaxBatchSize     int
}

// Hooks observe a run. OnSettlement is called from the batch goroutines and
// must be safe for concurrent use; OnBatch runs between batches.
type Hooks struct {
	OnSettlement func(ctx context.Context, item models.Settlement)
	OnBatch      func(ctx context.Context, progress BatchProgress)
}

// Engine settles pools: aggregates once, resolves participants in bounded
// batches, and verifies the result.
type Engine struct {
	store  Store
	logger *zap.Logger
	opts   Options
	now    func() time.Time
	newID  func() string
}

func NewEngine(store Store, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultBatchSize <= 0 {
		opts.DefaultBatchSize = 200
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 1000
	}
	if opts.MaxBatchSize > repository.MaxPageSize {
		opts.MaxBatchSize = repository.MaxPageSize
	}
	if opts.DefaultBatchSize > opts.MaxBatchSize {
		opts.DefaultBatchSize = opts.MaxBatchSize
	}
	return &Engine{
		store:  store,
		logger: logger,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// BatchSize applies the configured default and ceiling to a requested size.
func (e *Engine) BatchSize(requested int) int {
	if requested <= 0 {
		return e.opts.DefaultBatchSize
	}
	if requested > e.opts.MaxBatchSize {
		return e.opts.MaxBatchSize
	}
	return requested
}
