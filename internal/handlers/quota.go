package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"video-effects-backend/internal/middleware"
	"video-effects-backend/internal/models"
)

type QuotaReader interface {
	GetQuota(ctx context.Context, userID uuid.UUID) (models.Quota, error)
}

type QuotaHandler struct {
	quotas QuotaReader
}

func NewQuotaHandler(quotas QuotaReader) *QuotaHandler {
	return &QuotaHandler{quotas: quotas}
}

// GetQuota godoc
// @Summary     Storage quota
// @Description Returns the caller's stored bytes and limit.
// @Tags        quota
// @Produce     json
// @Success     200 {object} models.QuotaResponse
// @Failure     401 {object} models.ErrorResponse
// @Security    Bearer
// @Router      /quota [get]
func (h *QuotaHandler) GetQuota(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "unauthorized"})
		return
	}
	q, err := h.quotas.GetQuota(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to get quota", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.QuotaResponse{Quota: q})
}
