package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Notification kinds and delivery states. Actual delivery is handled by an
// external worker; this backend only queues records after reserving budget.
const (
	NotificationReminder = "APPOINTMENT_REMINDER"
	NotificationGeneric  = "GENERIC"

	NotificationQueued = "QUEUED"
	NotificationSent   = "SENT"
)

type Notification struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"-"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	AppointmentID *uuid.UUID     `gorm:"type:uuid;index" json:"appointment_id,omitempty"`
	Kind          string         `gorm:"size:40;not null" json:"kind"`
	Payload       datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"payload"`
	Status        string         `gorm:"size:20;not null;default:'QUEUED'" json:"status"`
	ScheduledFor  time.Time      `json:"scheduled_for"`
	CreatedAt     time.Time      `json:"created_at"`
}
