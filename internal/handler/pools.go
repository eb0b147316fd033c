package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fanpool/internal/models"
	"fanpool/internal/repository"
	"fanpool/internal/service"
	"fanpool/internal/settlement"
)

type PoolHandler struct {
	Repo        repository.Repository
	Pools       *service.PoolService
	Settlements *service.SettlementService
	Logger      *zap.Logger
}

func (h *PoolHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/pools")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.POST("/:id/close", h.close)
	g.POST("/:id/bets", h.placeBet)
	g.POST("/:id/settle", h.settle)
	g.GET("/:id/aggregates", h.aggregates)
	g.GET("/:id/participants/:participant_id/resolution", h.resolution)
	g.GET("/:id/settlements", h.listSettlements)
	g.GET("/:id/runs", h.listRuns)
	g.GET("/:id/reconciliation", h.reconciliation)
}

type poolView struct {
	Pool    models.Pool         `json:"pool"`
	Options []models.PoolOption `json:"options"`
}

// @Summary List pools
// @Tags pools
// @Param status query string false "OPEN|CLOSED|SETTLING|SETTLED"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/pools [get]
func (h *PoolHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListPools(c.Request.Context(), repository.ListPoolsParams{
		Limit:   limit,
		Offset:  offset,
		Status:  strQueryPtr(c, "status"),
		OrderBy: c.Query("order_by"),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset})
}

type createPoolRequest struct {
	ID             string `json:"id"`
	PollID         string `json:"poll_id"`
	Title          string `json:"title"`
	CommissionRate string `json:"commission_rate"`
	Options        []struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	} `json:"options"`
}

// @Summary Create pool
// @Tags pools
// @Accept json
// @Param body body createPoolRequest true "pool"
// @Success 200 {object} apiResponse
// @Router /api/v1/pools [post]
func (h *PoolHandler) create(c *gin.Context) {
	if h.Pools == nil {
		Error(c, http.StatusInternalServerError, "pool service unavailable", nil)
		return
	}
	var req createPoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	rate := decimal.Zero
	if v := strings.TrimSpace(req.CommissionRate); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid commission_rate", nil)
			return
		}
		rate = parsed
	}
	in := service.CreatePoolInput{
		ID:             req.ID,
		PollID:         req.PollID,
		Title:          req.Title,
		CommissionRate: rate,
	}
	for _, opt := range req.Options {
		in.Options = append(in.Options, service.OptionInput{ID: opt.ID, Label: opt.Label})
	}
	pool, options, err := h.Pools.CreatePool(c.Request.Context(), in)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, poolView{Pool: *pool, Options: options}, nil)
}

// @Summary Get pool
// @Tags pools
// @Param id path string true "pool id"
// @Success 200 {object} apiResponse
// @Router /api/v1/pools/{id} [get]
func (h *PoolHandler) get(c *gin.Context) {
	if h.Pools == nil {
		Error(c, http.StatusInternalServerError, "pool service unavailable", nil)
		return
	}
	pool, options, err := h.Pools.GetPool(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, poolView{Pool: *pool, Options: options}, nil)
}

// @Summary Close pool for betting
// @Tags pools
// @Param id path string true "pool id"
// @Success 200 {object} apiResponse
// @Router /api/v1/pools/{id}/close [post]
func (h *PoolHandler) close(c *gin.Context) {
	if h.Pools == nil {
		Error(c, http.StatusInternalServerError, "pool service unavailable", nil)
		return
	}
	pool, err := h.Pools.ClosePool(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, pool, nil)
}

type placeBetRequest struct {
	ParticipantID string `json:"participant_id"`
	OptionID      string `json:"option_id"`
	Amount        int64  `json:"amount"`
}

// @Summary Place bet
// @Tags pools
// @Accept json
// @Param id path string true "pool id"
// @Param body body placeBetRequest true "bet"
// @Success 200 {object} apiResponse
// @Router /api/v1/pools/{id}/bets [post]
func (h *PoolHandler) placeBet(c *gin.Context) {
	if h.Pools == nil {
		Error(c, http.StatusInternalServerError, "pool service unavailable", nil)
		return
	}
	var req placeBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	bet, err := h.Pools.PlaceBet(c.Request.Context(), c.Param("id"), service.PlaceBetInput{
		ParticipantID: req.ParticipantID,
		OptionID:      req.OptionID,
		Amount:        req.Amount,
	})
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, bet, nil)
}

type settleRequest struct {
	// An empty list settles the pool as void.
	WinningOptionIDs *[]string `json:"winning_option_ids"`
	BatchSize        int       `json:"batch_size"`
}

// @Summary Settle pool
// @Tags settlement
// @Accept json
// @Param id path string true "pool id"
// @Param body body settleRequest true "winning set and batch size"
// @Success 200 {object} apiResponse
// @Router /api/v1/pools/{id}/settle [post]
func (h *PoolHandler) settle(c *gin.Context) {
	if h.Settlements == nil {
		Error(c, http.StatusInternalServerError, "settlement service unavailable", nil)
		return
	}
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if req.WinningOptionIDs == nil {
		Error(c, http.StatusBadRequest, "winning_option_ids is required", nil)
		return
	}
	if req.BatchSize < 0 {
		Error(c, http.StatusBadRequest, "invalid batch_size", nil)
		return
	}
	poolID := strings.TrimSpace(c.Param("id"))
	ws := settlement.NewWinningSet(cleanStrings(*req.WinningOptionIDs)...)
	summary, err := h.Settlements.Settle(c.Request.Context(), poolID, ws, req.BatchSize)
	if err != nil && summary.Processed == 0 && summary.Skipped == 0 {
		ServiceError(c, err)
		return
	}
	meta := map[string]any{}
	if err != nil {
		// The run wrote settlements; report it with the reason it stopped.
		meta["error"] = err.Error()
		if h.Logger != nil {
			h.Logger.Warn("settlement run incomplete", zap.String("pool_id", poolID), zap.Error(err))
		}
	}
	Ok(c, summary, meta)
}

// winningFromQuery reads ?winning=a,b. Without the parameter the set
// recorded on the pool is used.
func (h *PoolHandler) winningFromQuery(c *gin.Context, poolID string) (settlement.WinningSet, bool) {
	if raw, ok := c.GetQuery("winning"); ok {
		return settlement.NewWinningSet(splitList(raw)...), true
	}
	pool, err := h.Repo.GetPool(c.Request.Context(), poolID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return settlement.WinningSet{}, false
	}
	if pool == nil {
		Error(c, http.StatusNotFound, "pool not found", nil)
		return settlement.WinningSet{}, false
	}
	ws, ok, err := settlement.ParseWinningSet(pool.WinningOptionIDs)
	if err != nil || !ok {
		Error(c, http.StatusBadRequest, "winning query parameter is required", nil)
		return settlement.WinningSet{}, false
	}
	return ws, true
}

// @Summary Pool aggregates for a winning set
// @Tags settlement
// @Param id path string true "pool id"
// @Param winning query string false "comma separated winning option ids; empty for void"
// @Success 200 {object} apiResponse
// @Router /api/v1/pools/{id}/aggregates [get]
func (h *PoolHandler) aggregates(c *gin.Context) {
	if h.Settlements == nil || h.Repo == nil {
		Error(c, http.StatusInternalServerError, "settlement service unavailable", nil)
		return
	}
	poolID := strings.TrimSpace(c.Param("id"))
	ws, ok := h.winningFromQuery(c, poolID)
	if !ok {
		return
	}
	agg, err := h.Settlements.Engine.ComputeAggregates(c.Request.Context(), poolID, ws)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, agg, map[string]any{"winning_option_ids": ws.IDs()})
}

// @Summary Resolve one participant without writing
// @Tags settlement
// @Param id path string true "pool id"
// @Param participant_id path string true "participant id"
// @Param winning query string false "comma separated winning option ids; empty for void"
// @Success 200 {object} apiResponse
// @Router /api/v1/pools/{id}/participants/{participant_id}/resolution [get]
func (h *PoolHandler) resolution(c *gin.Context) {
	if h.Settlements == nil || h.Repo == nil {
		Error(c, http.StatusInternalServerError, "settlement service unavailable", nil)
		return
	}
	poolID := strings.TrimSpace(c.Param("id"))
	participantID := strings.TrimSpace(c.Param("participant_id"))
	ws, ok := h.winningFromQuery(c, poolID)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	agg, err := h.Settlements.Engine.ComputeAggregates(ctx, poolID, ws)
	if err != nil {
		ServiceError(c, err)
		return
	}
	candidate, err := h.Settlements.Engine.ResolveParticipant(ctx, poolID, participantID, agg, ws)
	if err != nil {
		Error(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	Ok(c, candidate, nil)
}

// @Summary List settlements of a pool
// @Tags settlement
// @Param id path string true "pool id"
// @Param type query string false "PAYOUT|REFUND|LOSS"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/pools/{id}/settlements [get]
func (h *PoolHandler) listSettlements(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListSettlementsParams{
		PoolID: strings.TrimSpace(c.Param("id")),
		Type:   strQueryPtr(c, "type"),
		Limit:  limit,
		Offset: offset,
	}
	items, err := h.Repo.ListSettlements(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountSettlements(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary List settlement runs of a pool
// @Tags settlement
// @Param id path string true "pool id"
// @Param limit query int false "limit"
// @Success 200 {object} apiResponse
// @Router /api/v1/pools/{id}/runs [get]
func (h *PoolHandler) listRuns(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListSettlementRuns(c.Request.Context(), strings.TrimSpace(c.Param("id")), intQuery(c, "limit", 20))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

// @Summary Reconcile stored settlements against the ledger
// @Tags settlement
// @Param id path string true "pool id"
// @Success 200 {object} apiResponse
// @Router /api/v1/pools/{id}/reconciliation [get]
func (h *PoolHandler) reconciliation(c *gin.Context) {
	if h.Settlements == nil {
		Error(c, http.StatusInternalServerError, "settlement service unavailable", nil)
		return
	}
	report, err := h.Settlements.Engine.ValidateRun(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, report, nil)
}
