package models

import (
	"time"

	"github.com/google/uuid"
)

// Appointment statuses. CANCELLED and NO_SHOW appointments are excluded
// from conflict checks; COMPLETED appointments are immutable.
const (
	AppointmentScheduled  = "SCHEDULED"
	AppointmentConfirmed  = "CONFIRMED"
	AppointmentInProgress = "IN_PROGRESS"
	AppointmentCompleted  = "COMPLETED"
	AppointmentCancelled  = "CANCELLED"
	AppointmentNoShow     = "NO_SHOW"
)

// Appointment is a booked session between a psychologist and a patient.
// The time range is half-open: [StartTime, EndTime).
type Appointment struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       uuid.UUID `gorm:"type:uuid;not null;index:idx_appointments_tenant_psy" json:"-"`
	PsychologistID uuid.UUID `gorm:"type:uuid;not null;index:idx_appointments_tenant_psy" json:"psychologist_id"`
	PatientID      uuid.UUID `gorm:"type:uuid;not null;index" json:"patient_id"`
	StartTime      time.Time `gorm:"not null;index" json:"start_time"`
	EndTime        time.Time `gorm:"not null" json:"end_time"`
	Status         string    `gorm:"size:20;not null;default:'SCHEDULED'" json:"status"`
	Notes          string    `gorm:"type:text" json:"notes,omitempty"`
	CreatedBy      uuid.UUID `gorm:"type:uuid" json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
