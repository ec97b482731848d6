package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Staff roles within a clinic.
const (
	RoleAdmin        = "ADMIN"
	RolePsychologist = "PSYCHOLOGIST"
	RoleAssistant    = "ASSISTANT"
)

// User is a staff member of a clinic. Only active users with the
// PSYCHOLOGIST role consume a subscription seat.
type User struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_users_tenant_email" json:"-"`
	Email     string         `gorm:"not null;size:255;uniqueIndex:idx_users_tenant_email" json:"email"`
	Password  string         `gorm:"not null" json:"-"`
	FullName  string         `gorm:"size:255" json:"full_name"`
	Role      string         `gorm:"size:20;not null;default:'ASSISTANT'" json:"role"`
	Active    bool           `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
