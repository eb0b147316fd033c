package settlement

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"fanpool/internal/models"
	"fanpool/internal/repository"
)

// stubStore is an in-memory Store for engine tests. failInsert makes the
// next n inserts for a participant fail; pageCap caps participant pages the
// way the SQL store does; hidden participants are never listed.
type stubStore struct {
	mu          sync.Mutex
	pools       map[string]*models.Pool
	options     map[string][]models.PoolOption
	bets        []models.Bet
	settlements map[string]models.Settlement
	runs        map[string]models.SettlementRun
	failInsert  map[string]int
	failStakes  error
	onInsert    func(participantID string)
	inserts     int
	stakeSums   int
	pageCap     int
	hidden      map[string]bool
	nextID      uint64
}

func newStubStore() *stubStore {
	return &stubStore{
		pools:       map[string]*models.Pool{},
		options:     map[string][]models.PoolOption{},
		settlements: map[string]models.Settlement{},
		runs:        map[string]models.SettlementRun{},
		failInsert:  map[string]int{},
	}
}

func (s *stubStore) addPool(id, status string, rate string) {
	s.pools[id] = &models.Pool{
		ID:             id,
		Status:         status,
		CommissionRate: decimal.RequireFromString(rate),
	}
}

func (s *stubStore) addBet(poolID, participantID, optionID string, amount int64) {
	s.bets = append(s.bets, models.Bet{
		ID:            poolID + "-" + participantID + "-" + optionID + "-" + strconv.Itoa(len(s.bets)),
		PoolID:        poolID,
		ParticipantID: participantID,
		OptionID:      optionID,
		Amount:        amount,
	})
}

func settlementKey(poolID, participantID string) string {
	return poolID + "|" + participantID
}

func (s *stubStore) settlement(poolID, participantID string) (models.Settlement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.settlements[settlementKey(poolID, participantID)]
	return item, ok
}

func (s *stubStore) InsertBet(ctx context.Context, item *models.Bet) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bets = append(s.bets, *item)
	return true, nil
}

func (s *stubStore) ListPoolBets(ctx context.Context, poolID string, participantIDs []string) ([]models.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]struct{}{}
	for _, id := range participantIDs {
		want[id] = struct{}{}
	}
	var out []models.Bet
	for _, bet := range s.bets {
		if bet.PoolID != poolID {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[bet.ParticipantID]; !ok {
				continue
			}
		}
		out = append(out, bet)
	}
	return out, nil
}

func (s *stubStore) ListParticipantBets(ctx context.Context, poolID string, participantID string) ([]models.Bet, error) {
	return s.ListPoolBets(ctx, poolID, []string{participantID})
}

func (s *stubStore) SumPoolStakes(ctx context.Context, poolID string) (repository.PoolStakeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out repository.PoolStakeSummary
	s.stakeSums++
	if s.failStakes != nil {
		return out, s.failStakes
	}
	byOption := map[string]int64{}
	participants := map[string]struct{}{}
	for _, bet := range s.bets {
		if bet.PoolID != poolID {
			continue
		}
		byOption[bet.OptionID] += bet.Amount
		participants[bet.ParticipantID] = struct{}{}
	}
	for id, total := range byOption {
		out.ByOption = append(out.ByOption, repository.OptionStake{OptionID: id, Total: total})
	}
	sort.Slice(out.ByOption, func(i, j int) bool { return out.ByOption[i].OptionID < out.ByOption[j].OptionID })
	out.Participants = int64(len(participants))
	return out, nil
}

func (s *stubStore) ListParticipantIDs(ctx context.Context, poolID string, params repository.ListParticipantsParams) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	var ids []string
	for _, bet := range s.bets {
		if bet.PoolID != poolID {
			continue
		}
		if _, ok := seen[bet.ParticipantID]; ok || s.hidden[bet.ParticipantID] {
			continue
		}
		seen[bet.ParticipantID] = struct{}{}
		ids = append(ids, bet.ParticipantID)
	}
	sort.Strings(ids)
	start := 0
	if params.After != "" {
		start = sort.SearchStrings(ids, params.After)
		if start < len(ids) && ids[start] == params.After {
			start++
		}
	} else if params.Offset > 0 {
		start = params.Offset
	}
	if start >= len(ids) {
		return nil, nil
	}
	limit := params.Limit
	if s.pageCap > 0 && (limit <= 0 || limit > s.pageCap) {
		limit = s.pageCap
	}
	end := start + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}
	return append([]string(nil), ids[start:end]...), nil
}

func (s *stubStore) InsertSettlementIfAbsent(ctx context.Context, item *models.Settlement) (bool, error) {
	if s.onInsert != nil {
		s.onInsert(item.ParticipantID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if n := s.failInsert[item.ParticipantID]; n > 0 {
		s.failInsert[item.ParticipantID] = n - 1
		return false, errors.New("store unavailable")
	}
	key := settlementKey(item.PoolID, item.ParticipantID)
	if _, ok := s.settlements[key]; ok {
		return false, nil
	}
	s.nextID++
	item.ID = s.nextID
	s.settlements[key] = *item
	return true, nil
}

func (s *stubStore) ListSettlementsByParticipants(ctx context.Context, poolID string, participantIDs []string) ([]models.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Settlement
	for _, id := range participantIDs {
		if item, ok := s.settlements[settlementKey(poolID, id)]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubStore) ListSettlements(ctx context.Context, params repository.ListSettlementsParams) ([]models.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Settlement
	for _, item := range s.settlements {
		if item.PoolID != params.PoolID {
			continue
		}
		if params.Type != nil && item.Type != *params.Type {
			continue
		}
		if params.AfterParticipant != "" && item.ParticipantID <= params.AfterParticipant {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (s *stubStore) CountSettlements(ctx context.Context, params repository.ListSettlementsParams) (int64, error) {
	params.Limit = 0
	items, err := s.ListSettlements(ctx, params)
	return int64(len(items)), err
}

func (s *stubStore) SumSettlementsByType(ctx context.Context, poolID string) ([]repository.SettlementTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := map[string]*repository.SettlementTotal{}
	for _, item := range s.settlements {
		if item.PoolID != poolID {
			continue
		}
		row, ok := totals[item.Type]
		if !ok {
			row = &repository.SettlementTotal{Type: item.Type}
			totals[item.Type] = row
		}
		row.Count++
		row.Total += item.Amount
	}
	var out []repository.SettlementTotal
	for _, row := range totals {
		out = append(out, *row)
	}
	return out, nil
}

func (s *stubStore) CreatePool(ctx context.Context, pool *models.Pool, options []models.PoolOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pool
	s.pools[pool.ID] = &cp
	s.options[pool.ID] = append([]models.PoolOption(nil), options...)
	return nil
}

func (s *stubStore) GetPool(ctx context.Context, id string) (*models.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[id]
	if !ok {
		return nil, nil
	}
	cp := *pool
	return &cp, nil
}

func (s *stubStore) ListPools(ctx context.Context, params repository.ListPoolsParams) ([]models.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Pool
	for _, pool := range s.pools {
		if params.Status != nil && pool.Status != *params.Status {
			continue
		}
		out = append(out, *pool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubStore) ListPoolOptions(ctx context.Context, poolID string) ([]models.PoolOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options[poolID], nil
}

func (s *stubStore) TransitionPool(ctx context.Context, poolID string, from string, update repository.PoolUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[poolID]
	if !ok || pool.Status != from {
		return false, nil
	}
	pool.Status = update.Status
	if update.WinningOptionIDs != nil {
		pool.WinningOptionIDs = update.WinningOptionIDs
	}
	if update.TotalStaked != nil {
		pool.TotalStaked = *update.TotalStaked
	}
	if update.CommissionTotal != nil {
		pool.CommissionTotal = *update.CommissionTotal
	}
	if update.DustTotal != nil {
		pool.DustTotal = *update.DustTotal
	}
	if update.UnclaimedTotal != nil {
		pool.UnclaimedTotal = *update.UnclaimedTotal
	}
	if update.ClosedAt != nil {
		pool.ClosedAt = update.ClosedAt
	}
	if update.SettledAt != nil {
		pool.SettledAt = update.SettledAt
	}
	return true, nil
}

func (s *stubStore) CreateSettlementRun(ctx context.Context, item *models.SettlementRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[item.ID] = *item
	return nil
}

func (s *stubStore) FinishSettlementRun(ctx context.Context, item *models.SettlementRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[item.ID] = *item
	return nil
}

func (s *stubStore) ListSettlementRuns(ctx context.Context, poolID string, limit int) ([]models.SettlementRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SettlementRun
	for _, run := range s.runs {
		if run.PoolID == poolID {
			out = append(out, run)
		}
	}
	return out, nil
}
