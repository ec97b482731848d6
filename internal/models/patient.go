package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Patient is a clinic patient. Only active patients count against the
// subscription's patient quota; archiving releases the slot.
type Patient struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"-"`
	FullName  string         `gorm:"size:255;not null" json:"full_name"`
	Email     string         `gorm:"size:255" json:"email,omitempty"`
	Phone     string         `gorm:"size:50" json:"phone,omitempty"`
	Active    bool           `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
