package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"fanpool/internal/service"
	"fanpool/internal/settlement"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// ServiceError maps domain errors onto HTTP statuses. Anything unknown is
// treated as a storage failure.
func ServiceError(c *gin.Context, err error) {
	Error(c, statusFor(err), err.Error(), nil)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, settlement.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrPoolNotClosed),
		errors.Is(err, settlement.ErrPoolNotSettling),
		errors.Is(err, settlement.ErrWinningSetMismatch),
		errors.Is(err, settlement.ErrInvalidTransition),
		errors.Is(err, service.ErrRunInProgress),
		errors.Is(err, service.ErrPoolNotOpen),
		errors.Is(err, service.ErrChainIngestDisabled),
		errors.Is(err, settlement.ErrStakeOverflow),
		errors.Is(err, settlement.ErrRunIncomplete):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, settlement.ErrUnknownOption),
		errors.Is(err, settlement.ErrInvalidCommissionRate):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

func boolPtr(v bool) *bool {
	return &v
}

func paginationMeta(limit, offset int, total int64) map[string]any {
	if limit <= 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	hasNext := int64(offset+limit) < total
	return map[string]any{
		"limit":    limit,
		"offset":   offset,
		"total":    total,
		"has_next": hasNext,
	}
}

// splitList reads a comma separated query value such as winning=a,b.
func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return cleanStrings(strings.Split(value, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, item := range items {
		val := strings.TrimSpace(item)
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
