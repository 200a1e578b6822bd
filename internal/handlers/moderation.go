package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chapterhub/chapterhub-backend/internal/pkg/dbctx"
	pkgerrors "github.com/chapterhub/chapterhub-backend/internal/pkg/errors"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/repos"
	"github.com/chapterhub/chapterhub-backend/internal/requestdata"
	"github.com/chapterhub/chapterhub-backend/internal/services"
)

type ModerationHandler struct {
	log               *logger.Logger
	moderationService services.ModerationService
}

func NewModerationHandler(log *logger.Logger, msvc services.ModerationService) *ModerationHandler {
	return &ModerationHandler{
		log:               log.With("handler", "ModerationHandler"),
		moderationService: msvc,
	}
}

func (h *ModerationHandler) reviewer(c *gin.Context) *requestdata.RequestData {
	rd := requestdata.GetRequestData(c.Request.Context())
	if !rd.IsReviewer() {
		respondError(c, fmt.Errorf("%w: moderation requires a reviewer role", pkgerrors.ErrUnauthorized))
		return nil
	}
	return rd
}

// GET /api/moderation/queue?priority=&content_type=&severity=&created_from=&created_to=&limit=&offset=
func (h *ModerationHandler) ListPending(c *gin.Context) {
	if h.reviewer(c) == nil {
		return
	}
	filter := repos.FlagListFilter{
		ContentType: c.Query("content_type"),
		Severity:    c.Query("severity"),
	}
	if raw := c.Query("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, fmt.Errorf("%w: priority must be an integer", pkgerrors.ErrInvalidArgument))
			return
		}
		filter.Priority = &p
	}
	if raw := c.Query("created_from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, fmt.Errorf("%w: created_from must be RFC3339", pkgerrors.ErrInvalidArgument))
			return
		}
		filter.CreatedFrom = &t
	}
	if raw := c.Query("created_to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, fmt.Errorf("%w: created_to must be RFC3339", pkgerrors.ErrInvalidArgument))
			return
		}
		filter.CreatedTo = &t
	}

	items, err := h.moderationService.ListPending(
		dbctx.Context{Ctx: c.Request.Context()},
		filter,
		intQuery(c, "limit", 50),
		intQuery(c, "offset", 0),
	)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// POST /api/moderation/items/:id/resolve
func (h *ModerationHandler) Resolve(c *gin.Context) {
	rd := h.reviewer(c)
	if rd == nil {
		return
	}
	itemID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: id must be a uuid", pkgerrors.ErrInvalidArgument))
		return
	}
	var req struct {
		Action   string `json:"action"`
		Category string `json:"category"`
		Notes    string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: invalid request body", pkgerrors.ErrInvalidArgument))
		return
	}

	item, err := h.moderationService.Resolve(dbctx.Context{Ctx: c.Request.Context()}, services.ResolveRequest{
		ItemID:     itemID,
		ReviewerID: rd.UserID,
		Action:     req.Action,
		Category:   req.Category,
		Notes:      req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

// POST /api/moderation/items/bulk-resolve
func (h *ModerationHandler) BulkResolve(c *gin.Context) {
	rd := h.reviewer(c)
	if rd == nil {
		return
	}
	var req struct {
		ItemIDs []uuid.UUID `json:"item_ids"`
		Action  string      `json:"action"`
		Notes   string      `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: invalid request body", pkgerrors.ErrInvalidArgument))
		return
	}

	result, err := h.moderationService.BulkResolve(dbctx.Context{Ctx: c.Request.Context()}, services.BulkResolveRequest{
		ItemIDs:    req.ItemIDs,
		ReviewerID: rd.UserID,
		Action:     req.Action,
		Notes:      req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GET /api/moderation/stats?timeframe=24h|7d|30d
func (h *ModerationHandler) Stats(c *gin.Context) {
	if h.reviewer(c) == nil {
		return
	}
	stats, err := h.moderationService.Stats(dbctx.Context{Ctx: c.Request.Context()}, c.Query("timeframe"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
