package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/oryxhealth/clinic-backend/internal/domain"
	"github.com/oryxhealth/clinic-backend/internal/models"
	"github.com/oryxhealth/clinic-backend/internal/quota"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
	"github.com/oryxhealth/clinic-backend/internal/txn"
)

// Statuses excluded from conflict checks.
var nonBlockingStatuses = []string{models.AppointmentCancelled, models.AppointmentNoShow}

// BookingRequest is a proposed appointment window.
type BookingRequest struct {
	PsychologistID uuid.UUID
	PatientID      uuid.UUID
	StartTime      time.Time
	EndTime        time.Time
	Notes          string
	Remind         bool
}

// BookingResult reports the stored appointment and whether a reminder was
// queued. A reminder budget denial never fails the booking.
type BookingResult struct {
	Appointment    *models.Appointment
	ReminderQueued bool
}

// Scheduler books, reschedules and cancels appointments. The conflict search
// and the insert share one transaction, so two concurrent bookings for the
// same psychologist and overlapping window cannot both commit.
type Scheduler struct {
	runner   *txn.Runner
	governor *quota.Governor
	now      func() time.Time
}

func NewScheduler(runner *txn.Runner, governor *quota.Governor) *Scheduler {
	return &Scheduler{runner: runner, governor: governor, now: time.Now}
}

// CheckConflicts returns every non-cancelled appointment of the psychologist
// overlapping [start, end), excluding excludeID when rechecking a reschedule.
func (s *Scheduler) CheckConflicts(ctx context.Context, actor tenant.Actor, psychologistID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]ConflictDetail, error) {
	var conflicts []ConflictDetail
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		conflicts, err = findConflicts(tx, actor.TenantID, psychologistID, start, end, excludeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}

// Book validates the window against the clinic's working-hours policy,
// searches for conflicts, and inserts the appointment, all in one
// transaction. When req.Remind is set it also reserves notification budget
// and queues a reminder, best-effort.
func (s *Scheduler) Book(ctx context.Context, actor tenant.Actor, req BookingRequest) (*BookingResult, error) {
	result := &BookingResult{}
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		settings, err := loadSettings(tx, actor.TenantID)
		if err != nil {
			return err
		}
		if err := ValidateWindow(settings, req.StartTime, req.EndTime, s.now()); err != nil {
			return err
		}

		conflicts, err := findConflicts(tx, actor.TenantID, req.PsychologistID, req.StartTime, req.EndTime, nil)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return conflictDenial(conflicts)
		}

		appt := &models.Appointment{
			ID:             uuid.New(),
			TenantID:       actor.TenantID,
			PsychologistID: req.PsychologistID,
			PatientID:      req.PatientID,
			StartTime:      req.StartTime,
			EndTime:        req.EndTime,
			Status:         models.AppointmentScheduled,
			Notes:          req.Notes,
			CreatedBy:      actor.UserID,
		}
		if err := tx.Create(appt).Error; err != nil {
			return err
		}
		result.Appointment = appt

		if req.Remind {
			result.ReminderQueued = s.queueReminder(ctx, tx, actor, appt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reschedule re-runs the full conflict check excluding the appointment's own
// prior row. COMPLETED appointments are immutable.
func (s *Scheduler) Reschedule(ctx context.Context, actor tenant.Actor, appointmentID uuid.UUID, start, end time.Time) (*models.Appointment, error) {
	var updated *models.Appointment
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		appt, err := loadAppointment(tx, actor.TenantID, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status == models.AppointmentCompleted {
			return domain.NewDenial(domain.CodeAppointmentImmutable,
				"completed appointments cannot be modified",
				map[string]any{"appointmentId": appt.ID, "status": appt.Status})
		}

		settings, err := loadSettings(tx, actor.TenantID)
		if err != nil {
			return err
		}
		if err := ValidateWindow(settings, start, end, s.now()); err != nil {
			return err
		}

		conflicts, err := findConflicts(tx, actor.TenantID, appt.PsychologistID, start, end, &appt.ID)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return conflictDenial(conflicts)
		}

		appt.StartTime = start
		appt.EndTime = end
		appt.Status = models.AppointmentScheduled
		if err := tx.Model(appt).Updates(map[string]any{
			"start_time": start,
			"end_time":   end,
			"status":     models.AppointmentScheduled,
		}).Error; err != nil {
			return err
		}
		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel marks an appointment CANCELLED or NO_SHOW, freeing its window.
func (s *Scheduler) Cancel(ctx context.Context, actor tenant.Actor, appointmentID uuid.UUID, asNoShow bool) error {
	return s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		appt, err := loadAppointment(tx, actor.TenantID, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status == models.AppointmentCompleted {
			return domain.NewDenial(domain.CodeAppointmentImmutable,
				"completed appointments cannot be modified",
				map[string]any{"appointmentId": appt.ID, "status": appt.Status})
		}

		status := models.AppointmentCancelled
		if asNoShow {
			status = models.AppointmentNoShow
		}
		return tx.Model(appt).Update("status", status).Error
	})
}

func (s *Scheduler) queueReminder(ctx context.Context, tx *gorm.DB, actor tenant.Actor, appt *models.Appointment) bool {
	err := s.governor.ReserveNotificationBudget(ctx, actor, 1)
	if err != nil {
		if _, ok := domain.AsDenial(err); ok {
			slog.Info("reminder skipped, notification budget denied",
				"tenant_id", actor.TenantID, "appointment_id", appt.ID)
			return false
		}
		slog.Error("reminder budget reservation failed",
			"tenant_id", actor.TenantID, "appointment_id", appt.ID, "error", err)
		return false
	}

	notification := &models.Notification{
		ID:            uuid.New(),
		TenantID:      actor.TenantID,
		UserID:        appt.PsychologistID,
		AppointmentID: &appt.ID,
		Kind:          models.NotificationReminder,
		Payload:       datatypes.JSON([]byte(`{"reason":"upcoming_appointment"}`)),
		Status:        models.NotificationQueued,
		ScheduledFor:  appt.StartTime.Add(-24 * time.Hour),
	}
	if err := tx.Create(notification).Error; err != nil {
		slog.Error("failed to queue reminder", "appointment_id", appt.ID, "error", err)
		return false
	}
	return true
}

func findConflicts(tx *gorm.DB, tenantID, psychologistID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]ConflictDetail, error) {
	query := tx.Model(&models.Appointment{}).
		Scopes(tenant.ForTenant(tenantID)).
		Where("psychologist_id = ?", psychologistID).
		Where("status NOT IN ?", nonBlockingStatuses).
		// Half-open overlap: existing.start < proposed.end AND
		// proposed.start < existing.end.
		Where("start_time < ? AND ? < end_time", end, start).
		Order("start_time ASC")
	if excludeID != nil {
		query = query.Where("id <> ?", *excludeID)
	}

	var appts []models.Appointment
	if err := query.Find(&appts).Error; err != nil {
		return nil, err
	}

	conflicts := make([]ConflictDetail, 0, len(appts))
	for _, a := range appts {
		conflicts = append(conflicts, ConflictDetail{
			AppointmentID:  a.ID,
			PsychologistID: a.PsychologistID,
			StartTime:      a.StartTime,
			EndTime:        a.EndTime,
			Status:         a.Status,
		})
	}
	return conflicts, nil
}

func conflictDenial(conflicts []ConflictDetail) error {
	return domain.NewDenial(domain.CodeScheduleConflict,
		"requested window overlaps existing appointments",
		map[string]any{"conflicts": conflicts})
}

func loadSettings(tx *gorm.DB, tenantID uuid.UUID) (*models.ClinicSettings, error) {
	var settings models.ClinicSettings
	err := tx.Scopes(tenant.ForTenant(tenantID)).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFound("clinic settings")
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func loadAppointment(tx *gorm.DB, tenantID, id uuid.UUID) (*models.Appointment, error) {
	var appt models.Appointment
	err := tx.Scopes(tenant.ForTenant(tenantID)).First(&appt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFound("appointment")
	}
	if err != nil {
		return nil, err
	}
	return &appt, nil
}
