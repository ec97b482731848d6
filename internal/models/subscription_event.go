package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Subscription lifecycle event types.
const (
	EventPlanUpgraded            = "PLAN_UPGRADED"
	EventPlanDowngraded          = "PLAN_DOWNGRADED"
	EventPlanDowngradeScheduled  = "PLAN_DOWNGRADE_SCHEDULED"
	EventPlanDowngradeAborted    = "PLAN_DOWNGRADE_ABORTED"
	EventStatusChanged           = "STATUS_CHANGED"
	EventPeriodRenewed           = "PERIOD_RENEWED"
	EventTrialStarted            = "TRIAL_STARTED"
)

// SubscriptionEvent is an append-only log entry recording one lifecycle
// transition. Rows are never updated or deleted.
type SubscriptionEvent struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"-"`
	EventType      string         `gorm:"size:40;not null;index" json:"event_type"`
	PreviousTier   string         `gorm:"size:20" json:"previous_tier"`
	NewTier        string         `gorm:"size:20" json:"new_tier"`
	PreviousStatus string         `gorm:"size:20" json:"previous_status"`
	NewStatus      string         `gorm:"size:20" json:"new_status"`
	Metadata       datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"metadata"`
	TriggeredBy    uuid.UUID      `gorm:"type:uuid" json:"triggered_by"`
	CreatedAt      time.Time      `json:"created_at"`
}
