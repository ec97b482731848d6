package subscription

import (
	"encoding/json"
	"sort"

	"gorm.io/datatypes"

	"github.com/oryxhealth/clinic-backend/internal/models"
)

// Plan defines the limits and feature bundle of one tier. Bundles are fixed
// per tier: a plan change always replaces the whole set, never merges, and
// there are no per-tenant overrides.
type Plan struct {
	Tier             string          `json:"tier"`
	Name             string          `json:"name"`
	PriceMonthly     int             `json:"price_monthly"` // cents
	SeatsMax         int             `json:"seats_max"`
	PatientsMax      int             `json:"patients_max"`
	StorageMaxBytes  int64           `json:"storage_max_bytes"`
	NotificationsMax int             `json:"notifications_max"`
	Features         map[string]bool `json:"features"`
}

// Predefined plans.
var (
	PlanTrial = Plan{
		Tier:             models.TierTrial,
		Name:             "Trial",
		PriceMonthly:     0,
		SeatsMax:         1,
		PatientsMax:      10,
		StorageMaxBytes:  1 << 30, // 1 GB
		NotificationsMax: 50,
		Features: map[string]bool{
			"scheduling": true,
			"reminders":  true,
		},
	}

	PlanBasic = Plan{
		Tier:             models.TierBasic,
		Name:             "Basic",
		PriceMonthly:     4900, // $49
		SeatsMax:         3,
		PatientsMax:      100,
		StorageMaxBytes:  10 << 30, // 10 GB
		NotificationsMax: 500,
		Features: map[string]bool{
			"scheduling": true,
			"reminders":  true,
			"dataExport": true,
		},
	}

	PlanPro = Plan{
		Tier:             models.TierPro,
		Name:             "Pro",
		PriceMonthly:     14900, // $149
		SeatsMax:         10,
		PatientsMax:      1000,
		StorageMaxBytes:  100 << 30, // 100 GB
		NotificationsMax: 5000,
		Features: map[string]bool{
			"scheduling":        true,
			"reminders":         true,
			"dataExport":        true,
			"advancedAnalytics": true,
			"customBranding":    true,
		},
	}

	PlanCustom = Plan{
		Tier:             models.TierCustom,
		Name:             "Custom",
		PriceMonthly:     0, // negotiated pricing
		SeatsMax:         50,
		PatientsMax:      10000,
		StorageMaxBytes:  1 << 40, // 1 TB
		NotificationsMax: 50000,
		Features: map[string]bool{
			"scheduling":        true,
			"reminders":         true,
			"dataExport":        true,
			"advancedAnalytics": true,
			"customBranding":    true,
			"apiAccess":         true,
			"prioritySupport":   true,
		},
	}

	// AllPlans is ordered by hierarchy, lowest tier first.
	AllPlans = []Plan{PlanTrial, PlanBasic, PlanPro, PlanCustom}
)

// PlanByTier looks up a plan by tier name. Returns nil if unknown.
func PlanByTier(tier string) *Plan {
	for i := range AllPlans {
		if AllPlans[i].Tier == tier {
			p := AllPlans[i]
			return &p
		}
	}
	return nil
}

// HierarchyIndex returns the strict ordering of a tier, or -1 if unknown.
// Upgrades must move to a strictly higher index, downgrades strictly lower.
func HierarchyIndex(tier string) int {
	for i := range AllPlans {
		if AllPlans[i].Tier == tier {
			return i
		}
	}
	return -1
}

// FeaturesJSON encodes the plan's feature bundle for the subscription row.
func (p *Plan) FeaturesJSON() datatypes.JSON {
	b, err := json.Marshal(p.Features)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(b)
}

// FeatureDiff returns the features enabled in from but absent or disabled in
// to, sorted. These become the "will be lost" warnings on a downgrade.
func FeatureDiff(from, to *Plan) []string {
	var lost []string
	for name, enabled := range from.Features {
		if enabled && !to.Features[name] {
			lost = append(lost, name)
		}
	}
	sort.Strings(lost)
	return lost
}
