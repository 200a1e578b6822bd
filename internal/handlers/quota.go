package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	pkgerrors "github.com/chapterhub/chapterhub-backend/internal/pkg/errors"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/services"
)

type QuotaHandler struct {
	log          *logger.Logger
	quotaService services.QuotaService
}

func NewQuotaHandler(log *logger.Logger, qsvc services.QuotaService) *QuotaHandler {
	return &QuotaHandler{
		log:          log.With("handler", "QuotaHandler"),
		quotaService: qsvc,
	}
}

// GET /api/chapters/:id/quota?content_type=video
// Read-only view of the current month window; never reserves.
func (h *QuotaHandler) Inspect(c *gin.Context) {
	chapterID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: id must be a uuid", pkgerrors.ErrInvalidArgument))
		return
	}
	contentType := c.Query("content_type")
	if contentType == "" {
		respondError(c, fmt.Errorf("%w: content_type is required", pkgerrors.ErrInvalidArgument))
		return
	}

	quota, err := h.quotaService.Inspect(c.Request.Context(), chapterID, contentType)
	if err != nil {
		respondError(c, err)
		return
	}
	limit := h.quotaService.LimitFor(contentType)
	if quota == nil {
		c.JSON(http.StatusOK, gin.H{"monthly_limit": limit, "current_usage": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"monthly_limit": quota.MonthlyLimit, "current_usage": quota.CurrentUsage, "period_start": quota.PeriodStart, "period_end": quota.PeriodEnd})
}
