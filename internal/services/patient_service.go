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

// PatientService registers and archives patients. A registration reserves a
// patient slot in the same transaction as the insert; archiving releases it.
type PatientService struct {
	runner   *txn.Runner
	governor *quota.Governor
}

func NewPatientService(runner *txn.Runner, governor *quota.Governor) *PatientService {
	return &PatientService{runner: runner, governor: governor}
}

func (s *PatientService) Register(ctx context.Context, actor tenant.Actor, req *dto.PatientCreateRequest) (*models.Patient, error) {
	var patient models.Patient
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.governor.ReservePatientSlot(ctx, actor); err != nil {
			return err
		}

		patient = models.Patient{
			ID:       uuid.New(),
			TenantID: actor.TenantID,
			FullName: req.FullName,
			Email:    req.Email,
			Phone:    req.Phone,
			Active:   true,
		}
		return tx.Create(&patient).Error
	})
	if err != nil {
		return nil, err
	}
	return &patient, nil
}

// Archive marks a patient inactive and returns their quota slot. Archiving an
// already-archived patient is a no-op.
func (s *PatientService) Archive(ctx context.Context, actor tenant.Actor, patientID uuid.UUID) error {
	return s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		patient, err := s.loadPatient(tx, actor.TenantID, patientID)
		if err != nil {
			return err
		}
		if !patient.Active {
			return nil
		}

		if err := tx.Model(patient).Update("active", false).Error; err != nil {
			return err
		}
		return s.governor.ReleasePatientSlot(ctx, actor)
	})
}

// Reactivate restores an archived patient, reserving a slot again.
func (s *PatientService) Reactivate(ctx context.Context, actor tenant.Actor, patientID uuid.UUID) error {
	return s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		patient, err := s.loadPatient(tx, actor.TenantID, patientID)
		if err != nil {
			return err
		}
		if patient.Active {
			return nil
		}

		if err := s.governor.ReservePatientSlot(ctx, actor); err != nil {
			return err
		}
		return tx.Model(patient).Update("active", true).Error
	})
}

func (s *PatientService) Get(ctx context.Context, actor tenant.Actor, patientID uuid.UUID) (*models.Patient, error) {
	var patient *models.Patient
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		patient, err = s.loadPatient(tx, actor.TenantID, patientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return patient, nil
}

func (s *PatientService) List(ctx context.Context, actor tenant.Actor, activeOnly bool) ([]models.Patient, error) {
	var patients []models.Patient
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		q := tx.Scopes(tenant.ForTenant(actor.TenantID)).Order("full_name ASC")
		if activeOnly {
			q = q.Where("active = ?", true)
		}
		return q.Find(&patients).Error
	})
	if err != nil {
		return nil, err
	}
	return patients, nil
}

func (s *PatientService) Update(ctx context.Context, actor tenant.Actor, patientID uuid.UUID, req *dto.PatientUpdateRequest) (*models.Patient, error) {
	var patient *models.Patient
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		patient, err = s.loadPatient(tx, actor.TenantID, patientID)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if req.FullName != "" {
			updates["full_name"] = req.FullName
		}
		if req.Email != "" {
			updates["email"] = req.Email
		}
		if req.Phone != "" {
			updates["phone"] = req.Phone
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(patient).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return patient, nil
}

func (s *PatientService) loadPatient(tx *gorm.DB, tenantID, patientID uuid.UUID) (*models.Patient, error) {
	var patient models.Patient
	err := tx.Scopes(tenant.ForTenant(tenantID)).First(&patient, "id = ?", patientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFound("patient")
	}
	if err != nil {
		return nil, err
	}
	return &patient, nil
}
