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

type QueueHandler struct {
	log          *logger.Logger
	queueService services.TranscodeQueueService
}

func NewQueueHandler(log *logger.Logger, qsvc services.TranscodeQueueService) *QueueHandler {
	return &QueueHandler{
		log:          log.With("handler", "QueueHandler"),
		queueService: qsvc,
	}
}

// GET /api/transcode/jobs/:id
func (h *QueueHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: id must be a uuid", pkgerrors.ErrInvalidArgument))
		return
	}
	status, err := h.queueService.GetJobStatus(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": status})
}

// GET /api/transcode/stats
func (h *QueueHandler) Stats(c *gin.Context) {
	stats, err := h.queueService.GetQueueStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
