package gormrepository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fanpool/internal/models"
	"fanpool/internal/repository"
)

// InsertSettlementIfAbsent never overwrites: a conflicting row for the same
// (pool, participant) wins and the call reports false.
func (s *Store) InsertSettlementIfAbsent(ctx context.Context, item *models.Settlement) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pool_id"}, {Name: "participant_id"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListSettlementsByParticipants(ctx context.Context, poolID string, participantIDs []string) ([]models.Settlement, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	participantIDs = cleanStrings(participantIDs)
	if len(participantIDs) == 0 {
		return nil, nil
	}
	var items []models.Settlement
	if err := s.db.WithContext(ctx).
		Model(&models.Settlement{}).
		Where("pool_id = ?", strings.TrimSpace(poolID)).
		Where("participant_id IN ?", participantIDs).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListSettlements(ctx context.Context, params repository.ListSettlementsParams) ([]models.Settlement, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := settlementsQuery(s.db.WithContext(ctx), params)
	if params.AfterParticipant != "" {
		query = query.Where("participant_id > ?", params.AfterParticipant)
	} else {
		query = query.Offset(normalizeOffset(params.Offset))
	}
	var items []models.Settlement
	if err := query.
		Order("participant_id asc").
		Limit(pageLimit(params.Limit)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSettlements(ctx context.Context, params repository.ListSettlementsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := settlementsQuery(s.db.WithContext(ctx), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func settlementsQuery(db *gorm.DB, params repository.ListSettlementsParams) *gorm.DB {
	query := db.Model(&models.Settlement{}).Where("pool_id = ?", strings.TrimSpace(params.PoolID))
	if params.Type != nil && strings.TrimSpace(*params.Type) != "" {
		query = query.Where("type = ?", strings.ToUpper(strings.TrimSpace(*params.Type)))
	}
	return query
}

func (s *Store) SumSettlementsByType(ctx context.Context, poolID string) ([]repository.SettlementTotal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []repository.SettlementTotal
	if err := s.db.WithContext(ctx).
		Model(&models.Settlement{}).
		Select("type, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Where("pool_id = ?", strings.TrimSpace(poolID)).
		Group("type").
		Order("type asc").
		Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
