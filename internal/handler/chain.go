package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gin-gonic/gin"

	"fanpool/internal/service"
)

type ChainHandler struct {
	Ingest *service.ChainIngestService
}

func (h *ChainHandler) Register(r *gin.Engine) {
	r.POST("/api/v1/chain/participations", h.ingest)
}

// @Summary Ingest BetPlaced logs
// @Description Accepts logs as returned by eth_getLogs. Re-delivered logs are reported as duplicates.
// @Tags chain
// @Accept json
// @Success 200 {object} apiResponse
// @Router /api/v1/chain/participations [post]
func (h *ChainHandler) ingest(c *gin.Context) {
	if h.Ingest == nil {
		Error(c, http.StatusInternalServerError, "chain ingest unavailable", nil)
		return
	}
	var logs []types.Log
	if err := c.ShouldBindJSON(&logs); err != nil {
		Error(c, http.StatusBadRequest, "invalid body: "+err.Error(), nil)
		return
	}
	result, err := h.Ingest.Ingest(c.Request.Context(), logs)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, result, nil)
}
