package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fanpool/internal/audit"
	"fanpool/internal/config"
	"fanpool/internal/lock"
	"fanpool/internal/metrics"
	"fanpool/internal/models"
	"fanpool/internal/progress"
	"fanpool/internal/publisher"
	"fanpool/internal/repository"
	"fanpool/internal/settlement"
)

var ErrRunInProgress = errors.New("settlement run already in progress for pool")

// SettlementService runs settlements for the HTTP API and the retry job.
// It serializes runs per pool and fans results out to metrics, events,
// progress subscribers, and the audit log.
type SettlementService struct {
	Repo      repository.Repository
	Engine    *settlement.Engine
	Locker    lock.Locker
	Publisher publisher.Publisher
	Progress  *progress.Hub
	Flags     *SystemSettingsService
	Config    config.SettlementConfig
	Logger    *zap.Logger
}

// runHooks feeds metrics, progress, and events for one run. Nothing here
// touches the database; events are published once per batch, between
// batches, and dropped for the rest of the run after the first failure.
func (s *SettlementService) runHooks(events bool) settlement.Hooks {
	var publishing atomic.Bool
	publishing.Store(events)
	return settlement.Hooks{
		OnSettlement: func(ctx context.Context, item models.Settlement) {
			metrics.ObserveSettlement(item)
		},
		OnBatch: func(ctx context.Context, p settlement.BatchProgress) {
			metrics.BatchesProcessed.Inc()
			s.Progress.PublishBatch(p)
			if !publishing.Load() || len(p.Applied) == 0 {
				return
			}
			pctx, cancel := context.WithTimeout(ctx, s.publishTimeout())
			defer cancel()
			if err := s.Publisher.PublishSettlements(pctx, p.Applied); err != nil {
				publishing.Store(false)
				s.logWarn("publish settlement events failed; skipping the rest of this run", err,
					zap.String("pool_id", p.PoolID),
					zap.String("run_id", p.RunID),
					zap.Int("batch", p.Batch),
				)
			}
		},
	}
}

func (s *SettlementService) Settle(ctx context.Context, poolID string, ws settlement.WinningSet, batchSize int) (settlement.RunSummary, error) {
	if s == nil || s.Engine == nil {
		return settlement.RunSummary{}, errors.New("settlement service unavailable")
	}
	if s.Locker != nil {
		ttl := s.Config.LockTTL
		if ttl <= 0 {
			ttl = 15 * time.Minute
		}
		release, ok, err := s.Locker.Acquire(ctx, "settlement:"+poolID, ttl)
		if err != nil {
			return settlement.RunSummary{PoolID: poolID}, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			return settlement.RunSummary{PoolID: poolID}, fmt.Errorf("%w: %s", ErrRunInProgress, poolID)
		}
		defer release()
	}

	events := s.eventsEnabled(ctx)
	started := time.Now()
	summary, err := s.Engine.RunSettlementWithHooks(ctx, poolID, ws, batchSize, s.runHooks(events))
	metrics.ObserveRun(summary, started, err)
	if isPoolLevel(err) {
		return summary, err
	}

	s.Progress.PublishRun(summary)
	if events {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout())
		if perr := s.Publisher.PublishRunCompleted(pctx, summary); perr != nil {
			s.logWarn("publish run event failed", perr, zap.String("pool_id", poolID))
		}
		cancel()
	}
	level := "info"
	if err != nil || summary.Failed > 0 {
		level = "warn"
	}
	audit.LogBestEffort(ctx, "settlement_run", level, map[string]any{
		"pool_id":      poolID,
		"run_id":       summary.RunID,
		"outcome":      metrics.RunOutcome(summary, err),
		"processed":    summary.Processed,
		"failed":       summary.Failed,
		"skipped":      summary.Skipped,
		"payout_total": summary.PayoutTotal,
		"refund_total": summary.RefundTotal,
		"dust":         summary.House.Dust,
	})
	return summary, err
}

// RetryPending re-runs pools left in SETTLING by a partial or cancelled run.
func (s *SettlementService) RetryPending(ctx context.Context) {
	if s == nil || s.Repo == nil {
		return
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureSettlementAutoRetry, true) {
		return
	}
	status := models.PoolStatusSettling
	pools, err := s.Repo.ListPools(ctx, repository.ListPoolsParams{
		Limit:   s.Config.RetryPoolLimit,
		Status:  &status,
		OrderBy: "updated_at",
		Asc:     boolPtr(true),
	})
	if err != nil {
		s.logWarn("list settling pools failed", err)
		return
	}
	for _, pool := range pools {
		if ctx.Err() != nil {
			return
		}
		ws, ok, err := settlement.ParseWinningSet(pool.WinningOptionIDs)
		if err != nil || !ok {
			s.logWarn("settling pool has no usable winning set", err, zap.String("pool_id", pool.ID))
			continue
		}
		summary, err := s.Settle(ctx, pool.ID, ws, 0)
		switch {
		case errors.Is(err, ErrRunInProgress):
			continue
		case err != nil:
			s.logWarn("settlement retry failed", err, zap.String("pool_id", pool.ID))
		case s.Logger != nil:
			s.Logger.Info("settlement retry finished",
				zap.String("pool_id", pool.ID),
				zap.Int("processed", summary.Processed),
				zap.Int("failed", summary.Failed),
				zap.Bool("settled", summary.Settled),
			)
		}
	}
}

func (s *SettlementService) publishTimeout() time.Duration {
	if s.Config.PublishTimeout > 0 {
		return s.Config.PublishTimeout
	}
	return 5 * time.Second
}

func (s *SettlementService) eventsEnabled(ctx context.Context) bool {
	if s.Publisher == nil {
		return false
	}
	return s.Flags == nil || s.Flags.IsEnabled(ctx, FeatureSettlementEvents, true)
}

// isPoolLevel reports errors raised before any participant was touched.
func isPoolLevel(err error) bool {
	return errors.Is(err, settlement.ErrPoolNotFound) ||
		errors.Is(err, settlement.ErrPoolNotClosed) ||
		errors.Is(err, settlement.ErrPoolNotSettling) ||
		errors.Is(err, settlement.ErrWinningSetMismatch) ||
		errors.Is(err, settlement.ErrUnknownOption) ||
		errors.Is(err, settlement.ErrInvalidCommissionRate) ||
		errors.Is(err, settlement.ErrStakeOverflow)
}

func (s *SettlementService) logWarn(msg string, err error, fields ...zap.Field) {
	if s == nil || s.Logger == nil {
		return
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.Logger.Warn(msg, fields...)
}

func boolPtr(v bool) *bool {
	return &v
}
