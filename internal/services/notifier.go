package services

import (
	"context"

	"github.com/google/uuid"

	redisbus "github.com/chapterhub/chapterhub-backend/internal/clients/redis"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
)

// UploadNotifier informs the uploader on terminal transitions. Every method
// is fire-and-forget: a publish failure is logged and never surfaced to the
// pipeline.
type UploadNotifier interface {
	UploadApproved(uploadID uuid.UUID)
	UploadRejected(uploadID uuid.UUID, reason string)
	UploadFailed(uploadID uuid.UUID, errorMessage string)
	TranscodeCompleted(uploadID uuid.UUID)
	ItemResolved(itemID uuid.UUID, outcome string)
}

type uploadNotifier struct {
	log *logger.Logger
	bus redisbus.EventBus
}

func NewUploadNotifier(baseLog *logger.Logger, bus redisbus.EventBus) UploadNotifier {
	return &uploadNotifier{
		log: baseLog.With("service", "UploadNotifier"),
		bus: bus,
	}
}

func (n *uploadNotifier) publish(event redisbus.UploadEvent) {
	if n == nil || n.bus == nil {
		return
	}
	if err := n.bus.Publish(context.Background(), event); err != nil {
		n.log.Warn("Failed to publish upload event", "event_type", event.Type, "error", err)
	}
}

func (n *uploadNotifier) UploadApproved(uploadID uuid.UUID) {
	if uploadID == uuid.Nil {
		return
	}
	n.publish(redisbus.UploadEvent{
		Type:     "upload.approved",
		UploadID: uploadID.String(),
		Outcome:  "approved",
	})
}

func (n *uploadNotifier) UploadRejected(uploadID uuid.UUID, reason string) {
	if uploadID == uuid.Nil {
		return
	}
	n.publish(redisbus.UploadEvent{
		Type:     "upload.rejected",
		UploadID: uploadID.String(),
		Outcome:  "rejected",
		Detail:   reason,
	})
}

func (n *uploadNotifier) UploadFailed(uploadID uuid.UUID, errorMessage string) {
	if uploadID == uuid.Nil {
		return
	}
	n.publish(redisbus.UploadEvent{
		Type:     "upload.failed",
		UploadID: uploadID.String(),
		Outcome:  "failed",
		Detail:   errorMessage,
	})
}

func (n *uploadNotifier) TranscodeCompleted(uploadID uuid.UUID) {
	if uploadID == uuid.Nil {
		return
	}
	n.publish(redisbus.UploadEvent{
		Type:     "transcode.completed",
		UploadID: uploadID.String(),
		Outcome:  "approved",
	})
}

func (n *uploadNotifier) ItemResolved(itemID uuid.UUID, outcome string) {
	if itemID == uuid.Nil {
		return
	}
	n.publish(redisbus.UploadEvent{
		Type:    "moderation.resolved",
		ItemID:  itemID.String(),
		Outcome: outcome,
	})
}
