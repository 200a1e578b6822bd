package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	pkgerrors "github.com/chapterhub/chapterhub-backend/internal/pkg/errors"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/repos"
	"github.com/chapterhub/chapterhub-backend/internal/requestdata"
	"github.com/chapterhub/chapterhub-backend/internal/services"
)

const maxUploadBytes = 2 << 30

type UploadHandler struct {
	log           *logger.Logger
	uploadService services.UploadService
}

func NewUploadHandler(log *logger.Logger, usvc services.UploadService) *UploadHandler {
	return &UploadHandler{
		log:           log.With("handler", "UploadHandler"),
		uploadService: usvc,
	}
}

// POST /api/uploads
// Multipart submission: file part plus title/file_type/chapter_id form fields.
func (h *UploadHandler) Submit(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		respondError(c, pkgerrors.ErrUnauthorized)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, fmt.Errorf("%w: missing file part", pkgerrors.ErrInvalidArgument))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, fmt.Errorf("%w: unreadable file part", pkgerrors.ErrInvalidArgument))
		return
	}
	defer file.Close()

	chapterID, err := uuid.Parse(c.PostForm("chapter_id"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: chapter_id must be a uuid", pkgerrors.ErrInvalidArgument))
		return
	}

	req := services.SubmitRequest{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		FileName:    fileHeader.Filename,
		FileType:    c.PostForm("file_type"),
		MimeType:    fileHeader.Header.Get("Content-Type"),
		SizeBytes:   fileHeader.Size,
		ChapterID:   chapterID,
		UploaderID:  rd.UserID,
		Category:    c.PostForm("category"),
		AutoApprove: c.PostForm("auto_approve") == "true" && rd.IsReviewer(),
		File:        file,
	}
	if tags := c.PostForm("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.Tags = append(req.Tags, t)
			}
		}
	}
	if parent := c.PostForm("parent_upload_id"); parent != "" {
		parentID, err := uuid.Parse(parent)
		if err != nil {
			respondError(c, fmt.Errorf("%w: parent_upload_id must be a uuid", pkgerrors.ErrInvalidArgument))
			return
		}
		req.ParentUploadID = &parentID
	}

	upload, err := h.uploadService.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"upload": upload})
}

// POST /api/uploads/:id/transcode
// Re-queues a video for transcoding. Owner or reviewer only.
func (h *UploadHandler) Retranscode(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		respondError(c, pkgerrors.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: id must be a uuid", pkgerrors.ErrInvalidArgument))
		return
	}
	upload, err := h.uploadService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !rd.IsReviewer() && upload.UploaderID != rd.UserID {
		respondError(c, pkgerrors.ErrUnauthorized)
		return
	}
	job, err := h.uploadService.Retranscode(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "upload_id": job.UploadID, "status": job.Status})
}

// GET /api/uploads/:id
func (h *UploadHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: id must be a uuid", pkgerrors.ErrInvalidArgument))
		return
	}
	upload, err := h.uploadService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload": upload})
}

// GET /api/uploads?chapter_id=&status=&file_type=&latest_only=&limit=&offset=
func (h *UploadHandler) List(c *gin.Context) {
	filter := repos.UploadListFilter{
		Status:     c.Query("status"),
		FileType:   c.Query("file_type"),
		LatestOnly: c.Query("latest_only") == "true",
	}
	if raw := c.Query("chapter_id"); raw != "" {
		chapterID, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, fmt.Errorf("%w: chapter_id must be a uuid", pkgerrors.ErrInvalidArgument))
			return
		}
		filter.ChapterID = chapterID
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	uploads, err := h.uploadService.List(c.Request.Context(), filter, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploads": uploads, "count": len(uploads)})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n < 0 {
		return fallback
	}
	return n
}
