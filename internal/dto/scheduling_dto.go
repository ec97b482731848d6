package dto

import (
	"time"

	"github.com/google/uuid"
)

type BookAppointmentRequest struct {
	PsychologistID  uuid.UUID `json:"psychologist_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Notes           string    `json:"notes,omitempty"`
	Remind          bool      `json:"remind"`
}

type RescheduleRequest struct {
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

type CancelRequest struct {
	NoShow bool `json:"no_show"`
}

type ConflictCheckRequest struct {
	PsychologistID       uuid.UUID  `json:"psychologist_id"`
	StartTime            time.Time  `json:"start_time"`
	DurationMinutes      int        `json:"duration_minutes"`
	ExcludeAppointmentID *uuid.UUID `json:"exclude_appointment_id,omitempty"`
}
