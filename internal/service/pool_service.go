package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fanpool/internal/models"
	"fanpool/internal/repository"
	"fanpool/internal/settlement"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrPoolNotOpen  = errors.New("pool is not open")
)

type PoolService struct {
	Repo repository.Repository
}

type CreatePoolInput struct {
	ID             string
	PollID         string
	Title          string
	CommissionRate decimal.Decimal
	Options        []OptionInput
}

type OptionInput struct {
	ID    string
	Label string
}

type PlaceBetInput struct {
	ParticipantID string
	OptionID      string
	Amount        int64
}

func (s *PoolService) CreatePool(ctx context.Context, in CreatePoolInput) (*models.Pool, []models.PoolOption, error) {
	if s == nil || s.Repo == nil {
		return nil, nil, errors.New("pool service unavailable")
	}
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CommissionRate.IsNegative() || in.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, nil, settlement.ErrInvalidCommissionRate
	}
	if len(in.Options) < 2 {
		return nil, nil, fmt.Errorf("%w: a pool needs at least two options", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(in.Options))
	options := make([]models.PoolOption, 0, len(in.Options))
	for i, opt := range in.Options {
		id := strings.TrimSpace(opt.ID)
		if id == "" {
			return nil, nil, fmt.Errorf("%w: option %d has no id", ErrInvalidInput, i)
		}
		if _, dup := seen[id]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate option %q", ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
		options = append(options, models.PoolOption{
			PoolID:   in.ID,
			OptionID: id,
			Label:    strings.TrimSpace(opt.Label),
			Position: i,
		})
	}

	existing, err := s.Repo.GetPool(ctx, in.ID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, fmt.Errorf("%w: pool %s already exists", ErrInvalidInput, in.ID)
	}

	pool := &models.Pool{
		ID:             in.ID,
		PollID:         strings.TrimSpace(in.PollID),
		Title:          strings.TrimSpace(in.Title),
		CommissionRate: in.CommissionRate,
		Status:         models.PoolStatusOpen,
	}
	if err := s.Repo.CreatePool(ctx, pool, options); err != nil {
		return nil, nil, err
	}
	return pool, options, nil
}

// ClosePool stops accepting bets. The ledger is frozen from here on.
func (s *PoolService) ClosePool(ctx context.Context, poolID string) (*models.Pool, error) {
	pool, err := s.getPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if err := settlement.CheckTransition(pool.Status, models.PoolStatusClosed); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	ok, err := s.Repo.TransitionPool(ctx, pool.ID, models.PoolStatusOpen, repository.PoolUpdate{
		Status:   models.PoolStatusClosed,
		ClosedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: pool %s changed status concurrently", settlement.ErrInvalidTransition, pool.ID)
	}
	pool.Status = models.PoolStatusClosed
	pool.ClosedAt = &now
	return pool, nil
}

func (s *PoolService) PlaceBet(ctx context.Context, poolID string, in PlaceBetInput) (*models.Bet, error) {
	in.ParticipantID = strings.TrimSpace(in.ParticipantID)
	in.OptionID = strings.TrimSpace(in.OptionID)
	if in.ParticipantID == "" || in.OptionID == "" {
		return nil, fmt.Errorf("%w: participant_id and option_id are required", ErrInvalidInput)
	}
	if in.Amount <= 0 || in.Amount > models.MaxBetAmount {
		return nil, fmt.Errorf("%w: amount must be within [1, %d]", ErrInvalidInput, models.MaxBetAmount)
	}
	pool, err := s.getPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool.Status != models.PoolStatusOpen {
		return nil, fmt.Errorf("%w: %s is %s", ErrPoolNotOpen, pool.ID, pool.Status)
	}
	if err := s.checkOption(ctx, pool.ID, in.OptionID); err != nil {
		return nil, err
	}
	bet := &models.Bet{
		ID:            uuid.NewString(),
		PoolID:        pool.ID,
		ParticipantID: in.ParticipantID,
		OptionID:      in.OptionID,
		Amount:        in.Amount,
	}
	// The status check above is a fast path; the store re-checks it under
	// the pool row lock in the insert transaction.
	if _, err := s.Repo.InsertBet(ctx, bet); err != nil {
		if errors.Is(err, repository.ErrPoolNotOpen) {
			return nil, fmt.Errorf("%w: %s", ErrPoolNotOpen, pool.ID)
		}
		return nil, err
	}
	return bet, nil
}

func (s *PoolService) GetPool(ctx context.Context, poolID string) (*models.Pool, []models.PoolOption, error) {
	pool, err := s.getPool(ctx, poolID)
	if err != nil {
		return nil, nil, err
	}
	options, err := s.Repo.ListPoolOptions(ctx, pool.ID)
	if err != nil {
		return nil, nil, err
	}
	return pool, options, nil
}

func (s *PoolService) getPool(ctx context.Context, poolID string) (*models.Pool, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("pool service unavailable")
	}
	pool, err := s.Repo.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, fmt.Errorf("%w: %s", settlement.ErrPoolNotFound, strings.TrimSpace(poolID))
	}
	return pool, nil
}

// checkOption rejects unknown options. Pools created without options
// accept any id.
func (s *PoolService) checkOption(ctx context.Context, poolID, optionID string) error {
	options, err := s.Repo.ListPoolOptions(ctx, poolID)
	if err != nil {
		return err
	}
	if len(options) == 0 {
		return nil
	}
	for _, opt := range options {
		if opt.OptionID == optionID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", settlement.ErrUnknownOption, optionID)
}
