package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chapterhub/chapterhub-backend/internal/pkg/dbctx"
	pkgerrors "github.com/chapterhub/chapterhub-backend/internal/pkg/errors"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/repos"
	"github.com/chapterhub/chapterhub-backend/internal/types"
)

// ResolveRequest carries one reviewer decision on a flagged item.
type ResolveRequest struct {
	ItemID     uuid.UUID
	ReviewerID uuid.UUID
	Action     string
	Category   string
	Notes      string
}

// BulkResolveRequest applies one action to many items. Escalation is
// per-item judgment and is deliberately excluded here.
type BulkResolveRequest struct {
	ItemIDs    []uuid.UUID
	ReviewerID uuid.UUID
	Action     string
	Notes      string
}

type BulkResolveResult struct {
	Resolved int         `json:"resolved"`
	Failed   int         `json:"failed"`
	Errors   []uuid.UUID `json:"failed_ids,omitempty"`
}

type ModerationService interface {
	ListPending(dbc dbctx.Context, filter repos.FlagListFilter, limit, offset int) ([]*types.FlaggedContent, error)
	Resolve(dbc dbctx.Context, req ResolveRequest) (*types.FlaggedContent, error)
	BulkResolve(dbc dbctx.Context, req BulkResolveRequest) (*BulkResolveResult, error)
	Stats(dbc dbctx.Context, timeframe string) (*repos.FlagStats, error)
}

type moderationService struct {
	log     *logger.Logger
	flags   repos.FlaggedContentRepo
	uploads repos.ContentUploadRepo
	audit   repos.AuditLogRepo
	notify  UploadNotifier
	now     func() time.Time
}

func NewModerationService(
	baseLog *logger.Logger,
	flags repos.FlaggedContentRepo,
	uploads repos.ContentUploadRepo,
	audit repos.AuditLogRepo,
	notify UploadNotifier,
) ModerationService {
	return &moderationService{
		log:     baseLog.With("service", "ModerationService"),
		flags:   flags,
		uploads: uploads,
		audit:   audit,
		notify:  notify,
		now:     time.Now,
	}
}

func (s *moderationService) ListPending(dbc dbctx.Context, filter repos.FlagListFilter, limit, offset int) ([]*types.FlaggedContent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.flags.ListPending(dbc, filter, limit, offset)
}

func (s *moderationService) Resolve(dbc dbctx.Context, req ResolveRequest) (*types.FlaggedContent, error) {
	switch req.Action {
	case types.ReviewActionApprove, types.ReviewActionReject, types.ReviewActionEscalate:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", pkgerrors.ErrInvalidArgument, req.Action)
	}
	item, err := s.flags.GetByID(dbc, req.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: flagged item %s", pkgerrors.ErrNotFound, req.ItemID)
	}

	if req.Action == types.ReviewActionEscalate {
		return s.escalate(dbc, item, req)
	}
	return s.close(dbc, item, req)
}

func (s *moderationService) escalate(dbc dbctx.Context, item *types.FlaggedContent, req ResolveRequest) (*types.FlaggedContent, error) {
	newPriority := item.Priority + 1
	newSeverity := bumpSeverity(item.Severity)
	ok, err := s.flags.EscalateIfPending(dbc, item.ID, newPriority, newSeverity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: item %s already resolved", pkgerrors.ErrConflict, item.ID)
	}

	before := snapshot(item)
	item.Priority = newPriority
	item.Severity = newSeverity
	s.appendAudit(dbc, req.ReviewerID, "moderation.escalate", item.ID, before, snapshot(item))

	s.log.Info("Item escalated", "item_id", item.ID, "priority", newPriority, "severity", newSeverity)
	return item, nil
}

func (s *moderationService) close(dbc dbctx.Context, item *types.FlaggedContent, req ResolveRequest) (*types.FlaggedContent, error) {
	status := types.FlagStatusApproved
	if req.Action == types.ReviewActionReject {
		status = types.FlagStatusRejected
	}

	reviewedAt := s.now()
	ok, err := s.flags.ResolveIfPending(dbc, item.ID, status, req.ReviewerID, reviewedAt, req.Notes, req.Action)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: item %s already resolved", pkgerrors.ErrConflict, item.ID)
	}

	before := snapshot(item)
	item.Status = status
	item.ReviewedBy = &req.ReviewerID
	item.ReviewedAt = &reviewedAt
	item.ReviewNotes = req.Notes
	item.ActionTaken = req.Action
	s.appendAudit(dbc, req.ReviewerID, "moderation."+req.Action, item.ID, before, snapshot(item))

	if err := s.applyToUpload(dbc, item, req, reviewedAt); err != nil {
		s.log.Error("Upload write-back failed after resolve", "item_id", item.ID, "error", err)
	}

	s.notify.ItemResolved(item.ID, status)
	return item, nil
}

// applyToUpload propagates the reviewer decision to the underlying upload
// row when the flagged target is an upload.
func (s *moderationService) applyToUpload(dbc dbctx.Context, item *types.FlaggedContent, req ResolveRequest, reviewedAt time.Time) error {
	if item.ContentType != "upload" {
		return nil
	}
	upload, err := s.uploads.GetByID(dbc, item.ContentID)
	if err != nil {
		return err
	}
	if upload == nil {
		return fmt.Errorf("%w: upload %s for item %s", pkgerrors.ErrNotFound, item.ContentID, item.ID)
	}

	updates := map[string]interface{}{}
	if item.Status == types.FlagStatusApproved {
		updates["status"] = types.UploadStatusApproved
		updates["approved_by"] = req.ReviewerID
		updates["approved_at"] = reviewedAt
	} else {
		updates["status"] = types.UploadStatusRejected
		reason := req.Category
		if reason == "" {
			reason = req.Notes
		}
		updates["rejection_reason"] = reason
	}
	if err := s.uploads.UpdateFields(dbc, upload.ID, updates); err != nil {
		return err
	}

	if item.Status == types.FlagStatusApproved {
		s.notify.UploadApproved(upload.ID)
	} else {
		s.notify.UploadRejected(upload.ID, req.Category)
	}
	return nil
}

func (s *moderationService) BulkResolve(dbc dbctx.Context, req BulkResolveRequest) (*BulkResolveResult, error) {
	if req.Action != types.ReviewActionApprove && req.Action != types.ReviewActionReject {
		return nil, fmt.Errorf("%w: bulk action must be approve or reject, got %q", pkgerrors.ErrInvalidArgument, req.Action)
	}
	if len(req.ItemIDs) == 0 {
		return nil, fmt.Errorf("%w: empty item list", pkgerrors.ErrInvalidArgument)
	}

	result := &BulkResolveResult{}
	for _, id := range req.ItemIDs {
		_, err := s.Resolve(dbc, ResolveRequest{
			ItemID:     id,
			ReviewerID: req.ReviewerID,
			Action:     req.Action,
			Notes:      req.Notes,
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, id)
			s.log.Warn("Bulk resolve item failed", "item_id", id, "error", err)
			continue
		}
		result.Resolved++
	}
	return result, nil
}

func (s *moderationService) Stats(dbc dbctx.Context, timeframe string) (*repos.FlagStats, error) {
	var window time.Duration
	switch timeframe {
	case "", "7d":
		window = 7 * 24 * time.Hour
	case "24h":
		window = 24 * time.Hour
	case "30d":
		window = 30 * 24 * time.Hour
	default:
		return nil, fmt.Errorf("%w: unknown timeframe %q", pkgerrors.ErrInvalidArgument, timeframe)
	}
	return s.flags.Stats(dbc, s.now().Add(-window))
}

func (s *moderationService) appendAudit(dbc dbctx.Context, actorID uuid.UUID, action string, targetID uuid.UUID, before, after []byte) {
	entry := &types.AuditLog{
		ActorID:     actorID,
		Action:      action,
		TargetType:  "flagged_content",
		TargetID:    targetID,
		BeforeState: before,
		AfterState:  after,
	}
	if err := s.audit.Append(dbc, entry); err != nil {
		s.log.Error("Audit append failed", "action", action, "target_id", targetID, "error", err)
	}
}

func bumpSeverity(severity string) string {
	switch severity {
	case types.FlagSeverityLow:
		return types.FlagSeverityMedium
	case types.FlagSeverityMedium:
		return types.FlagSeverityHigh
	default:
		return types.FlagSeverityHigh
	}
}

func snapshot(item *types.FlaggedContent) []byte {
	raw, _ := json.Marshal(item)
	return raw
}
