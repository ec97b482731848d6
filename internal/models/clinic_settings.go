package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ClinicSettings holds the per-tenant working-hours policy read by the
// scheduling conflict checks. StartOfDayMinutes/EndOfDayMinutes are
// minutes since midnight; WorkingDays stores a JSON array of weekday
// numbers (0 = Sunday .. 6 = Saturday).
type ClinicSettings struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID          uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"-"`
	WorkingDays       datatypes.JSON `gorm:"type:jsonb;default:'[1,2,3,4,5]'" json:"working_days"`
	StartOfDayMinutes int            `gorm:"not null;default:540" json:"start_of_day_minutes"`
	EndOfDayMinutes   int            `gorm:"not null;default:1080" json:"end_of_day_minutes"`
	Timezone          string         `gorm:"size:64;default:'UTC'" json:"timezone"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// WorkingDaySet decodes WorkingDays into a weekday lookup set. An empty or
// malformed value yields an empty set, which rejects every booking.
func (s *ClinicSettings) WorkingDaySet() map[time.Weekday]bool {
	set := make(map[time.Weekday]bool)
	var days []int
	if err := json.Unmarshal(s.WorkingDays, &days); err != nil {
		return set
	}
	for _, d := range days {
		if d >= 0 && d <= 6 {
			set[time.Weekday(d)] = true
		}
	}
	return set
}
