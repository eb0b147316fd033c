package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fanpool/internal/models"
	"fanpool/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- pools -------------------------------------------------------------------

func (s *Store) CreatePool(ctx context.Context, pool *models.Pool, options []models.PoolOption) error {
	if s == nil || s.db == nil || pool == nil {
		return nil
	}
	pool.ID = strings.TrimSpace(pool.ID)
	if pool.ID == "" {
		return errors.New("pool id is required")
	}
	return s.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(pool).Error; err != nil {
			return err
		}
		if len(options) == 0 {
			return nil
		}
		for i := range options {
			options[i].PoolID = pool.ID
		}
		return createInBatches(tx, options, 200)
	})
}

func (s *Store) GetPool(ctx context.Context, id string) (*models.Pool, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.Pool
	err := s.db.WithContext(ctx).Model(&models.Pool{}).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPools(ctx context.Context, params repository.ListPoolsParams) ([]models.Pool, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Pool{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.ToUpper(strings.TrimSpace(*params.Status)))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Pool
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPoolOptions(ctx context.Context, poolID string) ([]models.PoolOption, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PoolOption
	if err := s.db.WithContext(ctx).
		Model(&models.PoolOption{}).
		Where("pool_id = ?", strings.TrimSpace(poolID)).
		Order("position asc").
		Order("option_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) TransitionPool(ctx context.Context, poolID string, from string, update repository.PoolUpdate) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	if strings.TrimSpace(update.Status) == "" {
		return false, errors.New("target status is required")
	}
	updates := map[string]any{
		"status":     update.Status,
		"updated_at": time.Now().UTC(),
	}
	if update.WinningOptionIDs != nil {
		updates["winning_option_ids"] = update.WinningOptionIDs
	}
	if update.TotalStaked != nil {
		updates["total_staked"] = *update.TotalStaked
	}
	if update.CommissionTotal != nil {
		updates["commission_total"] = *update.CommissionTotal
	}
	if update.DustTotal != nil {
		updates["dust_total"] = *update.DustTotal
	}
	if update.UnclaimedTotal != nil {
		updates["unclaimed_total"] = *update.UnclaimedTotal
	}
	if update.ClosedAt != nil {
		updates["closed_at"] = *update.ClosedAt
	}
	if update.SettledAt != nil {
		updates["settled_at"] = *update.SettledAt
	}
	res := s.db.WithContext(ctx).
		Model(&models.Pool{}).
		Where("id = ?", poolID).
		Where("status = ?", from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// --- settlement runs ---------------------------------------------------------

func (s *Store) CreateSettlementRun(ctx context.Context, item *models.SettlementRun) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) FinishSettlementRun(ctx context.Context, item *models.SettlementRun) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.FinishedAt == nil {
		now := time.Now().UTC()
		item.FinishedAt = &now
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) ListSettlementRuns(ctx context.Context, poolID string, limit int) ([]models.SettlementRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 50)
	var items []models.SettlementRun
	if err := s.db.WithContext(ctx).
		Model(&models.SettlementRun{}).
		Where("pool_id = ?", strings.TrimSpace(poolID)).
		Order("started_at desc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- system settings ---------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := systemSettingsQuery(s.db.WithContext(ctx), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "key")
	limit := normalizeLimit(params.Limit, 500)
	offset := normalizeOffset(params.Offset)
	var items []models.SystemSetting
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := systemSettingsQuery(s.db.WithContext(ctx), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func systemSettingsQuery(db *gorm.DB, params repository.ListSystemSettingsParams) *gorm.DB {
	query := db.Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	return query
}

// --- helpers -----------------------------------------------------------------

var allowedOrderColumns = map[string]struct{}{
	"created_at":   {},
	"updated_at":   {},
	"status":       {},
	"key":          {},
	"id":           {},
	"total_staked": {},
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if _, ok := allowedOrderColumns[column]; !ok {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func createInBatches[T any](db *gorm.DB, items []T, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := db.Create(items[i:end]).Error; err != nil {
			return err
		}
	}
	return nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// pageLimit is normalizeLimit for internal paging, where callers size pages
// from the settlement batch size.
func pageLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > repository.MaxPageSize {
		return repository.MaxPageSize
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}
