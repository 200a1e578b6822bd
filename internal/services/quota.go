package services

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/chapterhub/chapterhub-backend/internal/pkg/dbctx"
	pkgerrors "github.com/chapterhub/chapterhub-backend/internal/pkg/errors"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/repos"
	"github.com/chapterhub/chapterhub-backend/internal/types"
)

// Default monthly submission limits per content type. 0 means unlimited.
// Overridable from a YAML file via QUOTA_LIMITS_PATH.
var defaultQuotaLimits = map[string]int{
	types.FileTypeVideo:    50,
	types.FileTypeDocument: 100,
	types.FileTypeImage:    200,
	types.FileTypeAudio:    50,
}

const quotaFallbackLimit = 50

type QuotaService interface {
	// CheckAndReserve admits or denies one submission against the current
	// calendar-month window. On denial it returns a QuotaExceededError; the
	// caller must not persist the upload. Usage is never decremented later.
	CheckAndReserve(ctx context.Context, chapterID uuid.UUID, contentType string) (*types.ContentQuota, error)
	// Inspect returns the current window's ledger row without reserving.
	// Nil when the (chapter, type) pair has not submitted this month.
	Inspect(ctx context.Context, chapterID uuid.UUID, contentType string) (*types.ContentQuota, error)
	LimitFor(contentType string) int
}

type quotaService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.ContentQuotaRepo
	limits map[string]int
	now    func() time.Time
}

func NewQuotaService(db *gorm.DB, baseLog *logger.Logger, repo repos.ContentQuotaRepo) QuotaService {
	serviceLog := baseLog.With("service", "QuotaService")
	return &quotaService{
		db:     db,
		log:    serviceLog,
		repo:   repo,
		limits: loadQuotaLimits(serviceLog),
		now:    time.Now,
	}
}

func loadQuotaLimits(log *logger.Logger) map[string]int {
	limits := make(map[string]int, len(defaultQuotaLimits))
	for k, v := range defaultQuotaLimits {
		limits[k] = v
	}
	path := strings.TrimSpace(os.Getenv("QUOTA_LIMITS_PATH"))
	if path == "" {
		return limits
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Could not read quota limits file, using defaults", "path", path, "error", err)
		return limits
	}
	var overrides map[string]int
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		log.Warn("Could not parse quota limits file, using defaults", "path", path, "error", err)
		return limits
	}
	for k, v := range overrides {
		if v < 0 {
			continue
		}
		limits[strings.ToLower(strings.TrimSpace(k))] = v
	}
	log.Info("Loaded quota limit overrides", "path", path, "count", len(overrides))
	return limits
}

func (s *quotaService) LimitFor(contentType string) int {
	if v, ok := s.limits[contentType]; ok {
		return v
	}
	return quotaFallbackLimit
}

// MonthWindow computes the calendar-month accounting window containing t:
// first day 00:00:00 through last day 23:59:59, in t's location.
func MonthWindow(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end
}

func (s *quotaService) CheckAndReserve(ctx context.Context, chapterID uuid.UUID, contentType string) (*types.ContentQuota, error) {
	if chapterID == uuid.Nil || contentType == "" {
		return nil, pkgerrors.ErrInvalidArgument
	}
	periodStart, periodEnd := MonthWindow(s.now())
	limit := s.LimitFor(contentType)

	admitted, quota, err := s.repo.CheckAndReserve(dbctx.Context{Ctx: ctx}, chapterID, contentType, limit, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	if !admitted {
		usage := 0
		effectiveLimit := limit
		if quota != nil {
			usage = quota.CurrentUsage
			effectiveLimit = quota.MonthlyLimit
		}
		s.log.Info("Quota admission denied",
			"chapter_id", chapterID,
			"content_type", contentType,
			"limit", effectiveLimit,
			"usage", usage,
		)
		return quota, &pkgerrors.QuotaExceededError{
			ChapterID:    chapterID.String(),
			ContentType:  contentType,
			MonthlyLimit: effectiveLimit,
			CurrentUsage: usage,
		}
	}
	return quota, nil
}

func (s *quotaService) Inspect(ctx context.Context, chapterID uuid.UUID, contentType string) (*types.ContentQuota, error) {
	if chapterID == uuid.Nil || contentType == "" {
		return nil, pkgerrors.ErrInvalidArgument
	}
	periodStart, _ := MonthWindow(s.now())
	return s.repo.Get(dbctx.Context{Ctx: ctx}, chapterID, contentType, periodStart)
}
