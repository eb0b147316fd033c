package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"fanpool/internal/chainbets"
	"fanpool/internal/metrics"
	"fanpool/internal/models"
	"fanpool/internal/repository"
)

var ErrChainIngestDisabled = errors.New("chain ingest is disabled")

// ChainIngestService appends already-fetched BetPlaced logs to the ledger.
// Logs are keyed by tx hash and log index, so re-delivery is harmless.
type ChainIngestService struct {
	Repo    repository.Repository
	Decoder *chainbets.Decoder
	Flags   *SystemSettingsService
	MaxLogs int
	Logger  *zap.Logger
}

type IngestRejection struct {
	SourceRef string `json:"source_ref"`
	Reason    string `json:"reason"`
}

type IngestResult struct {
	Accepted   int               `json:"accepted"`
	Duplicates int               `json:"duplicates"`
	Rejected   []IngestRejection `json:"rejected"`
}

func (s *ChainIngestService) Ingest(ctx context.Context, logs []types.Log) (IngestResult, error) {
	result := IngestResult{Rejected: []IngestRejection{}}
	if s == nil || s.Repo == nil || s.Decoder == nil {
		return result, errors.New("chain ingest unavailable")
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureChainIngest, true) {
		return result, ErrChainIngestDisabled
	}
	if s.MaxLogs > 0 && len(logs) > s.MaxLogs {
		return result, fmt.Errorf("%w: %d logs exceeds limit %d", ErrInvalidInput, len(logs), s.MaxLogs)
	}

	// Pools are looked up once per call.
	pools := map[string]*ingestPool{}
	for _, lg := range logs {
		ref := chainbets.SourceRef(lg)
		bet, err := s.Decoder.Decode(lg)
		if err != nil {
			result.reject(ref, err.Error())
			continue
		}
		pool, known := pools[bet.PoolID]
		if !known {
			pool, err = s.loadPool(ctx, bet.PoolID)
			if err != nil {
				return result, err
			}
			pools[bet.PoolID] = pool
		}
		if !pool.open {
			result.reject(ref, "pool "+bet.PoolID+" is missing or not open")
			continue
		}
		if !pool.accepts(bet.OptionID) {
			result.reject(ref, "unknown option "+bet.OptionID)
			continue
		}
		inserted, err := s.Repo.InsertBet(ctx, &bet)
		if errors.Is(err, repository.ErrPoolNotOpen) {
			// closed since it was cached
			pool.open = false
			result.reject(ref, "pool "+bet.PoolID+" is missing or not open")
			continue
		}
		if err != nil {
			return result, err
		}
		if inserted {
			result.Accepted++
			metrics.ChainBetsIngested.WithLabelValues("accepted").Inc()
		} else {
			result.Duplicates++
			metrics.ChainBetsIngested.WithLabelValues("duplicate").Inc()
		}
	}

	if s.Logger != nil && len(logs) > 0 {
		s.Logger.Info("chain bets ingested",
			zap.Int("logs", len(logs)),
			zap.Int("accepted", result.Accepted),
			zap.Int("duplicates", result.Duplicates),
			zap.Int("rejected", len(result.Rejected)),
		)
	}
	return result, nil
}

type ingestPool struct {
	open    bool
	options map[string]struct{}
}

// accepts reports whether optionID belongs to the pool. Pools without an
// option list accept any id.
func (p *ingestPool) accepts(optionID string) bool {
	if len(p.options) == 0 {
		return true
	}
	_, ok := p.options[optionID]
	return ok
}

func (s *ChainIngestService) loadPool(ctx context.Context, poolID string) (*ingestPool, error) {
	pool, err := s.Repo.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	out := &ingestPool{open: pool != nil && pool.Status == models.PoolStatusOpen}
	if !out.open {
		return out, nil
	}
	options, err := s.Repo.ListPoolOptions(ctx, poolID)
	if err != nil {
		return nil, err
	}
	out.options = make(map[string]struct{}, len(options))
	for _, opt := range options {
		out.options[opt.OptionID] = struct{}{}
	}
	return out, nil
}

func (r *IngestResult) reject(ref, reason string) {
	r.Rejected = append(r.Rejected, IngestRejection{SourceRef: ref, Reason: reason})
	metrics.ChainBetsIngested.WithLabelValues("rejected").Inc()
}
