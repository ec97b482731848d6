package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated clinic account, the unit of data partitioning.
// Tenants are deactivated by operators, never hard-deleted.
type Tenant struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Slug      string    `gorm:"size:100;not null;uniqueIndex" json:"slug"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
