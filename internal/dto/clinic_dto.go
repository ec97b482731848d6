package dto

import (
	"time"

	"github.com/google/uuid"
)

type TenantSignupRequest struct {
	ClinicName    string `json:"clinic_name"`
	Slug          string `json:"slug"`
	AdminName     string `json:"admin_name"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
}

type TenantSignupResponse struct {
	TenantID    uuid.UUID    `json:"tenant_id"`
	Slug        string       `json:"slug"`
	Admin       UserResponse `json:"admin"`
	TrialEndsAt time.Time    `json:"trial_ends_at"`
}

type StaffInviteRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type StaffInviteResponse struct {
	User UserResponse `json:"user"`
	// Returned once at invite time; only the bcrypt hash is stored.
	TemporaryPassword string `json:"temporary_password"`
}

type ChangeRoleRequest struct {
	Role string `json:"role"`
}

type SettingsUpdateRequest struct {
	WorkingDays       []int  `json:"working_days"`
	StartOfDayMinutes *int   `json:"start_of_day_minutes,omitempty"`
	EndOfDayMinutes   *int   `json:"end_of_day_minutes,omitempty"`
	Timezone          string `json:"timezone,omitempty"`
}

type PatientCreateRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type PatientUpdateRequest struct {
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type AttachmentCreateRequest struct {
	PatientID   uuid.UUID `json:"patient_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
}

type NotificationRequest struct {
	UserID       uuid.UUID      `json:"user_id"`
	Payload      map[string]any `json:"payload"`
	ScheduledFor time.Time      `json:"scheduled_for,omitempty"`
}
