package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Plan tiers, ordered by hierarchy (see subscription.PlanByTier).
const (
	TierTrial  = "TRIAL"
	TierBasic  = "BASIC"
	TierPro    = "PRO"
	TierCustom = "CUSTOM"
)

// Subscription statuses.
const (
	StatusTrialing   = "TRIALING"
	StatusActive     = "ACTIVE"
	StatusPastDue    = "PAST_DUE"
	StatusCanceled   = "CANCELED"
	StatusIncomplete = "INCOMPLETE"
	StatusUnpaid     = "UNPAID"
)

// Subscription holds the plan tier, status and resource counters for one
// tenant. The used/max counter pairs are the single point of contention for
// quota operations; they are only mutated through conditional updates so that
// used <= max holds after every committed mutation.
type Subscription struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"-"`

	PlanTier string `gorm:"size:20;not null;default:'TRIAL'" json:"plan_tier"`
	Status   string `gorm:"size:20;not null;default:'TRIALING'" json:"status"`

	SeatsMax          int   `gorm:"not null;default:0" json:"seats_max"`
	SeatsUsed         int   `gorm:"not null;default:0" json:"seats_used"`
	PatientsMax       int   `gorm:"not null;default:0" json:"patients_max"`
	PatientsUsed      int   `gorm:"not null;default:0" json:"patients_used"`
	StorageMaxBytes   int64 `gorm:"not null;default:0" json:"storage_max_bytes"`
	StorageUsedBytes  int64 `gorm:"not null;default:0" json:"storage_used_bytes"`
	NotificationsMax  int   `gorm:"not null;default:0" json:"notifications_max"`
	NotificationsUsed int   `gorm:"not null;default:0" json:"notifications_used"`

	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`

	// A scheduled downgrade recorded at request time and applied at
	// CurrentPeriodEnd. Cleared by any subsequent upgrade.
	ScheduledPlanChange   *string    `gorm:"size:20" json:"scheduled_plan_change,omitempty"`
	ScheduledPlanChangeAt *time.Time `json:"scheduled_plan_change_at,omitempty"`

	Features datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"features"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
