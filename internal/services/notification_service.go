package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/models"
	"github.com/oryxhealth/clinic-backend/internal/quota"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
	"github.com/oryxhealth/clinic-backend/internal/txn"
)

// NotificationService queues outbound notifications after reserving budget.
// Delivery itself is done by an external worker reading QUEUED rows.
type NotificationService struct {
	runner   *txn.Runner
	governor *quota.Governor
}

func NewNotificationService(runner *txn.Runner, governor *quota.Governor) *NotificationService {
	return &NotificationService{runner: runner, governor: governor}
}

func (s *NotificationService) Queue(ctx context.Context, actor tenant.Actor, req *dto.NotificationRequest) (*models.Notification, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, err
	}

	var n models.Notification
	err = s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.governor.ReserveNotificationBudget(ctx, actor, 1); err != nil {
			return err
		}

		scheduledFor := req.ScheduledFor
		if scheduledFor.IsZero() {
			scheduledFor = time.Now()
		}
		n = models.Notification{
			ID:           uuid.New(),
			TenantID:     actor.TenantID,
			UserID:       req.UserID,
			Kind:         models.NotificationGeneric,
			Payload:      payload,
			Status:       models.NotificationQueued,
			ScheduledFor: scheduledFor,
		}
		return tx.Create(&n).Error
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *NotificationService) ListPending(ctx context.Context, actor tenant.Actor) ([]models.Notification, error) {
	var out []models.Notification
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		return tx.Scopes(tenant.ForTenant(actor.TenantID)).
			Where("status = ?", models.NotificationQueued).
			Order("scheduled_for ASC").
			Find(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
