package settlement

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fanpool/internal/models"
	"fanpool/internal/repository"
)

type RunSummary struct {
	RunID       string     `json:"run_id"`
	PoolID      string     `json:"pool_id"`
	WinningSet  []string   `json:"winning_option_ids"`
	BatchSize   int        `json:"batch_size"`
	Batches     int        `json:"batches"`
	Processed   int        `json:"processed"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	PayoutTotal int64      `json:"payout_total"`
	RefundTotal int64      `json:"refund_total"`
	Cancelled   bool       `json:"cancelled"`
	Settled     bool       `json:"settled"`
	Aggregates  Aggregates `json:"aggregates"`
	House       HouseShare `json:"house"`
}

// BatchProgress carries running totals after each finished batch.
type BatchProgress struct {
	RunID       string `json:"run_id"`
	PoolID      string `json:"pool_id"`
	Batch       int    `json:"batch"`
	BatchLen    int    `json:"batch_len"`
	Processed   int    `json:"processed"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	PayoutTotal int64  `json:"payout_total"`
	RefundTotal int64  `json:"refund_total"`
	Total       int64  `json:"participants_total"`

	// Applied holds the settlements this batch inserted.
	Applied []models.Settlement `json:"-"`
}

// RunSettlement settles every participant of a pool for the given winning
// set. Re-running is safe: participants that already hold a settlement are
// skipped and never written twice.
func (e *Engine) RunSettlement(ctx context.Context, poolID string, ws WinningSet, batchSize int) (RunSummary, error) {
	return e.RunSettlementWithHooks(ctx, poolID, ws, batchSize, Hooks{})
}

// RunSettlementWithHooks is RunSettlement with observers for this run only.
func (e *Engine) RunSettlementWithHooks(ctx context.Context, poolID string, ws WinningSet, batchSize int, hooks Hooks) (RunSummary, error) {
	batchSize = e.BatchSize(batchSize)
	summary := RunSummary{
		RunID:      e.newID(),
		PoolID:     poolID,
		WinningSet: ws.IDs(),
		BatchSize:  batchSize,
	}
	log := e.logger.With(
		zap.String("pool_id", poolID),
		zap.String("run_id", summary.RunID),
		zap.String("winning_set", ws.String()),
		zap.Int("batch_size", batchSize),
	)

	pool, err := e.loadPool(ctx, poolID)
	if err != nil {
		return summary, err
	}
	if err := e.checkRunnable(ctx, pool, ws); err != nil {
		return summary, err
	}
	agg, err := e.computeAggregates(ctx, pool, ws)
	if err != nil {
		return summary, err
	}
	summary.Aggregates = agg

	if pool.Status == models.PoolStatusClosed {
		if err := e.beginSettling(ctx, pool, ws); err != nil {
			return summary, err
		}
	}

	run := &models.SettlementRun{
		ID:               summary.RunID,
		PoolID:           poolID,
		WinningOptionIDs: ws.JSON(),
		BatchSize:        batchSize,
		StartedAt:        e.now(),
	}
	if err := e.store.CreateSettlementRun(ctx, run); err != nil {
		log.Warn("settlement run record create failed", zap.Error(err))
	}
	log.Info("settlement run started",
		zap.Int64("total_staked", agg.TotalStaked),
		zap.Int64("winning_staked", agg.WinningStaked),
		zap.Int64("participants", agg.ParticipantCount),
	)

	runErr := e.processBatches(ctx, log, hooks, pool.ID, agg, ws, &summary)
	if runErr == nil && summary.Cancelled {
		runErr = ErrRunCancelled
	}
	if runErr == nil && summary.Failed == 0 {
		if err := e.finishSettling(ctx, pool, agg, ws, &summary); err != nil {
			runErr = err
		}
	}

	e.recordRun(log, run, summary, runErr)
	log.Info("settlement run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int64("payout_total", summary.PayoutTotal),
		zap.Int64("refund_total", summary.RefundTotal),
		zap.Bool("cancelled", summary.Cancelled),
		zap.Bool("settled", summary.Settled),
	)
	return summary, runErr
}

func (e *Engine) checkRunnable(ctx context.Context, pool *models.Pool, ws WinningSet) error {
	switch pool.Status {
	case models.PoolStatusOpen:
		return fmt.Errorf("%w: %s", ErrPoolNotClosed, pool.ID)
	case models.PoolStatusClosed:
		return e.checkOptions(ctx, pool.ID, ws)
	case models.PoolStatusSettling, models.PoolStatusSettled:
		recorded, ok, err := ParseWinningSet(pool.WinningOptionIDs)
		if err != nil {
			return fmt.Errorf("%w: decode recorded winning set: %v", ErrLedgerUnavailable, err)
		}
		if ok && !recorded.Equal(ws) {
			return fmt.Errorf("%w: recorded %s, requested %s", ErrWinningSetMismatch, recorded, ws)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, pool.Status)
	}
}

// checkOptions rejects winning ids the pool never offered. Pools created
// without an option list accept any id.
func (e *Engine) checkOptions(ctx context.Context, poolID string, ws WinningSet) error {
	if ws.Void() {
		return nil
	}
	options, err := e.store.ListPoolOptions(ctx, poolID)
	if err != nil {
		return fmt.Errorf("%w: list options: %v", ErrLedgerUnavailable, err)
	}
	if len(options) == 0 {
		return nil
	}
	offered := make([]string, 0, len(options))
	for _, opt := range options {
		offered = append(offered, opt.OptionID)
	}
	for _, id := range ws.IDs() {
		if !slices.Contains(offered, id) {
			return fmt.Errorf("%w: %s", ErrUnknownOption, id)
		}
	}
	return nil
}

func (e *Engine) beginSettling(ctx context.Context, pool *models.Pool, ws WinningSet) error {
	if err := CheckTransition(pool.Status, models.PoolStatusSettling); err != nil {
		return err
	}
	ok, err := e.store.TransitionPool(ctx, pool.ID, models.PoolStatusClosed, repository.PoolUpdate{
		Status:           models.PoolStatusSettling,
		WinningOptionIDs: ws.JSON(),
	})
	if err != nil {
		return fmt.Errorf("%w: mark pool settling: %v", ErrLedgerUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: pool %s left CLOSED concurrently", ErrInvalidTransition, pool.ID)
	}
	pool.Status = models.PoolStatusSettling
	pool.WinningOptionIDs = ws.JSON()
	return nil
}

// processBatches pages participants until the store returns an empty page.
// A short page is not treated as the last one, since the store may cap the
// page below the batch size.
func (e *Engine) processBatches(ctx context.Context, log *zap.Logger, hooks Hooks, poolID string, agg Aggregates, ws WinningSet, summary *RunSummary) error {
	cursor := ""
	for {
		if ctx.Err() != nil {
			summary.Cancelled = true
			log.Warn("settlement run cancelled between batches", zap.Int("batches", summary.Batches))
			return nil
		}
		// A started batch always runs to completion.
		batchCtx := context.WithoutCancel(ctx)
		ids, err := e.store.ListParticipantIDs(batchCtx, poolID, repository.ListParticipantsParams{
			After: cursor,
			Limit: summary.BatchSize,
		})
		if err != nil {
			return fmt.Errorf("%w: list participants after %q: %v", ErrLedgerUnavailable, cursor, err)
		}
		if len(ids) == 0 {
			return nil
		}

		res := e.runBatch(batchCtx, log, hooks, poolID, summary.RunID, ids, agg, ws, summary.BatchSize)
		summary.Batches++
		summary.Succeeded += res.succeeded
		summary.Failed += res.failed
		summary.Skipped += res.skipped
		summary.Processed = summary.Succeeded + summary.Failed
		summary.PayoutTotal += res.payoutTotal
		summary.RefundTotal += res.refundTotal
		if hooks.OnBatch != nil {
			hooks.OnBatch(batchCtx, BatchProgress{
				RunID:       summary.RunID,
				PoolID:      poolID,
				Batch:       summary.Batches,
				BatchLen:    len(ids),
				Processed:   summary.Processed,
				Succeeded:   summary.Succeeded,
				Failed:      summary.Failed,
				Skipped:     summary.Skipped,
				PayoutTotal: summary.PayoutTotal,
				RefundTotal: summary.RefundTotal,
				Total:       agg.ParticipantCount,
				Applied:     res.applied,
			})
		}
		cursor = ids[len(ids)-1]
	}
}

type batchResult struct {
	succeeded   int
	failed      int
	skipped     int
	payoutTotal int64
	refundTotal int64
	applied     []models.Settlement
}

func (e *Engine) runBatch(ctx context.Context, log *zap.Logger, hooks Hooks, poolID, runID string, ids []string, agg Aggregates, ws WinningSet, limit int) batchResult {
	var res batchResult

	settled := map[string]struct{}{}
	existing, err := e.store.ListSettlementsByParticipants(ctx, poolID, ids)
	if err != nil {
		// Insert-if-absent still guards against double writes.
		log.Warn("settlement prefetch failed", zap.Error(err), zap.Int("batch_len", len(ids)))
	}
	for _, row := range existing {
		settled[row.ParticipantID] = struct{}{}
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(limit)
	for _, participantID := range ids {
		if _, ok := settled[participantID]; ok {
			res.skipped++
			continue
		}
		g.Go(func() error {
			item, inserted, err := e.settleParticipant(ctx, hooks, poolID, runID, participantID, agg, ws)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.failed++
				log.Warn("participant settlement failed", zap.String("participant_id", participantID), zap.Error(err))
			case !inserted:
				res.skipped++
			default:
				res.succeeded++
				res.applied = append(res.applied, item)
				switch item.Type {
				case models.SettlementPayout:
					res.payoutTotal += item.Amount
				case models.SettlementRefund:
					res.refundTotal += item.Amount
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func (e *Engine) settleParticipant(ctx context.Context, hooks Hooks, poolID, runID, participantID string, agg Aggregates, ws WinningSet) (models.Settlement, bool, error) {
	c, err := e.ResolveParticipant(ctx, poolID, participantID, agg, ws)
	if err != nil {
		return models.Settlement{}, false, err
	}
	item := models.Settlement{
		PoolID:             poolID,
		ParticipantID:      participantID,
		RunID:              runID,
		Type:               c.Type,
		Amount:             c.Amount,
		ParticipantTotal:   c.ParticipantTotal,
		ParticipantWinning: c.ParticipantWinning,
		CreatedAt:          e.now(),
	}
	inserted, err := e.store.InsertSettlementIfAbsent(ctx, &item)
	if err != nil {
		return item, false, fmt.Errorf("insert settlement: %w", err)
	}
	if inserted && hooks.OnSettlement != nil {
		hooks.OnSettlement(ctx, item)
	}
	return item, inserted, nil
}

// finishSettling moves a fully settled pool to SETTLED and records the
// house share. Pools already SETTLED are left untouched; a pool with fewer
// settlements than participants stays SETTLING.
func (e *Engine) finishSettling(ctx context.Context, pool *models.Pool, agg Aggregates, ws WinningSet, summary *RunSummary) error {
	ctx = context.WithoutCancel(ctx)
	totals, err := e.store.SumSettlementsByType(ctx, pool.ID)
	if err != nil {
		return fmt.Errorf("%w: sum settlements: %v", ErrLedgerUnavailable, err)
	}
	var payoutTotal, settled int64
	for _, row := range totals {
		settled += row.Count
		if row.Type == models.SettlementPayout {
			payoutTotal = row.Total
		}
	}

	if pool.Status == models.PoolStatusSettled {
		summary.House = HouseShareFor(agg, ws, payoutTotal)
		summary.Settled = true
		return nil
	}
	if settled < agg.ParticipantCount {
		return fmt.Errorf("%w: %d of %d participants settled in pool %s", ErrRunIncomplete, settled, agg.ParticipantCount, pool.ID)
	}
	summary.House = HouseShareFor(agg, ws, payoutTotal)
	if err := CheckTransition(pool.Status, models.PoolStatusSettled); err != nil {
		return err
	}
	settledAt := e.now()
	totalStaked := agg.TotalStaked
	ok, err := e.store.TransitionPool(ctx, pool.ID, models.PoolStatusSettling, repository.PoolUpdate{
		Status:          models.PoolStatusSettled,
		TotalStaked:     &totalStaked,
		CommissionTotal: &summary.House.Commission,
		DustTotal:       &summary.House.Dust,
		UnclaimedTotal:  &summary.House.Unclaimed,
		SettledAt:       &settledAt,
	})
	if err != nil {
		return fmt.Errorf("%w: mark pool settled: %v", ErrLedgerUnavailable, err)
	}
	summary.Settled = ok
	return nil
}

func (e *Engine) recordRun(log *zap.Logger, run *models.SettlementRun, summary RunSummary, runErr error) {
	run.Processed = summary.Processed
	run.Succeeded = summary.Succeeded
	run.Failed = summary.Failed
	run.Skipped = summary.Skipped
	run.PayoutTotal = summary.PayoutTotal
	run.RefundTotal = summary.RefundTotal
	run.Cancelled = summary.Cancelled
	if runErr != nil && !errors.Is(runErr, ErrRunCancelled) {
		run.Error = runErr.Error()
	}
	finished := e.now()
	run.FinishedAt = &finished
	if err := e.store.FinishSettlementRun(context.Background(), run); err != nil {
		log.Warn("settlement run record update failed", zap.Error(err))
	}
}
