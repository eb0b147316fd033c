package gormrepository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fanpool/internal/models"
	"fanpool/internal/repository"
)

// InsertBet appends a bet to an OPEN pool. Bets carrying a SourceRef that
// was already recorded are ignored and reported as not inserted.
//
// The pool row is read FOR SHARE inside the insert transaction, so an
// OPEN -> CLOSED update blocks until the bet is committed and the ledger
// is frozen by the time a settlement run sums it.
func (s *Store) InsertBet(ctx context.Context, item *models.Bet) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pool models.Pool
		res := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id", "status").
			Where("id = ?", strings.TrimSpace(item.PoolID)).
			Limit(1).
			Find(&pool)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 || pool.Status != models.PoolStatusOpen {
			return fmt.Errorf("%w: %s", repository.ErrPoolNotOpen, item.PoolID)
		}
		// Chain bets derive their id from the source ref, so a re-delivered
		// log collides on both the id and source_ref.
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(item)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// ListPoolBets returns the bets of the given participants, or of the whole
// pool when participantIDs is empty.
func (s *Store) ListPoolBets(ctx context.Context, poolID string, participantIDs []string) ([]models.Bet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.Bet{}).
		Where("pool_id = ?", strings.TrimSpace(poolID))
	if ids := cleanStrings(participantIDs); len(ids) > 0 {
		query = query.Where("participant_id IN ?", ids)
	}
	var items []models.Bet
	if err := query.Order("participant_id asc").Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListParticipantBets(ctx context.Context, poolID string, participantID string) ([]models.Bet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Bet
	if err := s.db.WithContext(ctx).
		Model(&models.Bet{}).
		Where("pool_id = ?", strings.TrimSpace(poolID)).
		Where("participant_id = ?", participantID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SumPoolStakes(ctx context.Context, poolID string) (repository.PoolStakeSummary, error) {
	var out repository.PoolStakeSummary
	if s == nil || s.db == nil {
		return out, nil
	}
	poolID = strings.TrimSpace(poolID)
	var rows []struct {
		OptionID string
		Total    int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.Bet{}).
		Select("option_id, COALESCE(SUM(amount), 0) AS total").
		Where("pool_id = ?", poolID).
		Group("option_id").
		Order("option_id asc").
		Scan(&rows).Error; err != nil {
		return out, err
	}
	out.ByOption = make([]repository.OptionStake, 0, len(rows))
	for _, row := range rows {
		out.ByOption = append(out.ByOption, repository.OptionStake{OptionID: row.OptionID, Total: row.Total})
	}
	if err := s.db.WithContext(ctx).
		Model(&models.Bet{}).
		Where("pool_id = ?", poolID).
		Distinct("participant_id").
		Count(&out.Participants).Error; err != nil {
		return out, err
	}
	return out, nil
}

func (s *Store) ListParticipantIDs(ctx context.Context, poolID string, params repository.ListParticipantsParams) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.Bet{}).
		Where("pool_id = ?", strings.TrimSpace(poolID))
	if params.After != "" {
		query = query.Where("participant_id > ?", params.After)
	} else if offset := normalizeOffset(params.Offset); offset > 0 {
		query = query.Offset(offset)
	}
	var ids []string
	if err := query.
		Distinct().
		Order("participant_id asc").
		Limit(pageLimit(params.Limit)).
		Pluck("participant_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
