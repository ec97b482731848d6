package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oryxhealth/clinic-backend/internal/domain"
	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/models"
	"github.com/oryxhealth/clinic-backend/internal/quota"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
	"github.com/oryxhealth/clinic-backend/internal/txn"
)

var ErrInvalidSize = errors.New("attachment size must be positive")

// AttachmentService tracks clinical file metadata. Creating a record reserves
// the file's size against the storage quota; deleting it returns the bytes.
// The bytes themselves live in object storage handled elsewhere.
type AttachmentService struct {
	runner   *txn.Runner
	governor *quota.Governor
}

func NewAttachmentService(runner *txn.Runner, governor *quota.Governor) *AttachmentService {
	return &AttachmentService{runner: runner, governor: governor}
}

func (s *AttachmentService) Create(ctx context.Context, actor tenant.Actor, req *dto.AttachmentCreateRequest) (*models.Attachment, error) {
	if req.SizeBytes <= 0 {
		return nil, ErrInvalidSize
	}

	var att models.Attachment
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		var patient models.Patient
		err := tx.Scopes(tenant.ForTenant(actor.TenantID)).First(&patient, "id = ?", req.PatientID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NotFound("patient")
		}
		if err != nil {
			return err
		}

		if err := s.governor.ReserveStorageBytes(ctx, actor, req.SizeBytes); err != nil {
			return err
		}

		att = models.Attachment{
			ID:          uuid.New(),
			TenantID:    actor.TenantID,
			PatientID:   req.PatientID,
			FileName:    req.FileName,
			ContentType: req.ContentType,
			SizeBytes:   req.SizeBytes,
			UploadedBy:  actor.UserID,
		}
		return tx.Create(&att).Error
	})
	if err != nil {
		return nil, err
	}
	return &att, nil
}

func (s *AttachmentService) Delete(ctx context.Context, actor tenant.Actor, attachmentID uuid.UUID) error {
	return s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		var att models.Attachment
		err := tx.Scopes(tenant.ForTenant(actor.TenantID)).First(&att, "id = ?", attachmentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NotFound("attachment")
		}
		if err != nil {
			return err
		}

		if err := tx.Delete(&att).Error; err != nil {
			return err
		}
		return s.governor.ReleaseStorageBytes(ctx, actor, att.SizeBytes)
	})
}

func (s *AttachmentService) ListForPatient(ctx context.Context, actor tenant.Actor, patientID uuid.UUID) ([]models.Attachment, error) {
	var atts []models.Attachment
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		return tx.Scopes(tenant.ForTenant(actor.TenantID)).
			Where("patient_id = ?", patientID).
			Order("created_at DESC").
			Find(&atts).Error
	})
	if err != nil {
		return nil, err
	}
	return atts, nil
}
