package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/oryxhealth/clinic-backend/internal/domain"
	"github.com/oryxhealth/clinic-backend/internal/models"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
	"github.com/oryxhealth/clinic-backend/internal/txn"
)

// Payment-provider webhook event types.
const (
	PaymentEventFailed    = "payment_failed"
	PaymentEventRecovered = "payment_recovered"
	PaymentEventRenewed   = "period_renewed"
	PaymentEventCanceled  = "subscription_canceled"
)

// View is the read model of a tenant's subscription returned to callers.
type View struct {
	PlanTier              string          `json:"plan_tier"`
	Status                string          `json:"status"`
	SeatsMax              int             `json:"seats_max"`
	SeatsUsed             int             `json:"seats_used"`
	PatientsMax           int             `json:"patients_max"`
	PatientsUsed          int             `json:"patients_used"`
	StorageMaxBytes       int64           `json:"storage_max_bytes"`
	StorageUsedBytes      int64           `json:"storage_used_bytes"`
	NotificationsMax      int             `json:"notifications_max"`
	NotificationsUsed     int             `json:"notifications_used"`
	CurrentPeriodStart    time.Time       `json:"current_period_start"`
	CurrentPeriodEnd      time.Time       `json:"current_period_end"`
	TrialEndsAt           *time.Time      `json:"trial_ends_at,omitempty"`
	ScheduledPlanChange   *string         `json:"scheduled_plan_change,omitempty"`
	ScheduledPlanChangeAt *time.Time      `json:"scheduled_plan_change_at,omitempty"`
	Features              map[string]bool `json:"features"`
}

// UpgradeResult reports an immediately applied tier change.
type UpgradeResult struct {
	PreviousTier        string          `json:"previous_tier"`
	NewTier             string          `json:"new_tier"`
	ProratedChargeCents int             `json:"prorated_charge_cents"`
	Features            map[string]bool `json:"features"`
	EffectiveAt         time.Time       `json:"effective_at"`
}

// DowngradeResult reports a downgrade scheduled for the period boundary.
type DowngradeResult struct {
	CurrentTier   string    `json:"current_tier"`
	ScheduledTier string    `json:"scheduled_tier"`
	EffectiveAt   time.Time `json:"effective_at"`
	Warnings      []string  `json:"warnings,omitempty"`
}

// UsageViolation itemizes one resource whose current usage exceeds the
// target tier's limit, blocking a downgrade.
type UsageViolation struct {
	Resource    string `json:"resource"`
	Current     int64  `json:"current"`
	TargetLimit int64  `json:"target_limit"`
}

// UsageReport is the read-only pre-check returned by CheckUsageLimit. It is
// a convenience for controllers, not a substitute for the governor's atomic
// reservation.
type UsageReport struct {
	Resource    string `json:"resource"`
	Used        int64  `json:"used"`
	Max         int64  `json:"max"`
	Remaining   int64  `json:"remaining"`
	WithinLimit bool   `json:"within_limit"`
}

// Lifecycle drives the subscription plan state machine: immediate upgrades,
// validated and deferred downgrades, feature bundle derivation, payment
// status transitions, and the background sweep that applies due changes.
type Lifecycle struct {
	runner *txn.Runner
	now    func() time.Time
}

func NewLifecycle(runner *txn.Runner) *Lifecycle {
	return &Lifecycle{runner: runner, now: time.Now}
}

// Get returns the current subscription view for the actor's tenant.
func (l *Lifecycle) Get(ctx context.Context, actor tenant.Actor) (*View, error) {
	var view *View
	err := l.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		sub, err := loadSubscription(tx, actor.TenantID)
		if err != nil {
			return err
		}
		view = subscriptionView(sub)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Upgrade applies a higher tier immediately: limits and the feature bundle
// are replaced, a prorated charge is computed over the remaining days of the
// period, any scheduled downgrade is cleared, and an event is appended, all
// within one transaction.
func (l *Lifecycle) Upgrade(ctx context.Context, actor tenant.Actor, newTier string) (*UpgradeResult, error) {
	target := PlanByTier(newTier)
	if target == nil {
		return nil, domain.NewDenial(domain.CodeIllegalPlanChange,
			"unknown plan tier", map[string]any{"requestedTier": newTier})
	}

	var result *UpgradeResult
	err := l.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		sub, err := loadSubscription(tx, actor.TenantID)
		if err != nil {
			return err
		}
		if sub.Status == models.StatusCanceled {
			return domain.NewDenial(domain.CodeSubscriptionInactive,
				"canceled subscriptions cannot change plans",
				map[string]any{"status": sub.Status, "planTier": sub.PlanTier})
		}
		if HierarchyIndex(newTier) <= HierarchyIndex(sub.PlanTier) {
			return domain.NewDenial(domain.CodeIllegalPlanChange,
				"target tier is not above the current tier, use downgrade",
				map[string]any{"currentTier": sub.PlanTier, "requestedTier": newTier})
		}

		now := l.now()
		current := PlanByTier(sub.PlanTier)
		charge := prorate(current.PriceMonthly, target.PriceMonthly,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now)

		newStatus := sub.Status
		if sub.Status == models.StatusTrialing {
			newStatus = models.StatusActive
		}

		updates := map[string]any{
			"plan_tier":                target.Tier,
			"status":                   newStatus,
			"seats_max":                target.SeatsMax,
			"patients_max":             target.PatientsMax,
			"storage_max_bytes":        target.StorageMaxBytes,
			"notifications_max":        target.NotificationsMax,
			"features":                 target.FeaturesJSON(),
			"scheduled_plan_change":    nil,
			"scheduled_plan_change_at": nil,
		}
		// Guarded on the tier we read: a concurrent plan change makes this a
		// no-op and the whole operation surfaces as transient contention.
		res := tx.Model(&models.Subscription{}).
			Where("tenant_id = ? AND plan_tier = ?", actor.TenantID, sub.PlanTier).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: concurrent plan change", domain.ErrContention)
		}

		if err := appendEvent(tx, sub, actor, models.EventPlanUpgraded, target.Tier, newStatus, map[string]any{
			"proratedChargeCents": charge,
			"periodEnd":           sub.CurrentPeriodEnd,
		}); err != nil {
			return err
		}

		result = &UpgradeResult{
			PreviousTier:        sub.PlanTier,
			NewTier:             target.Tier,
			ProratedChargeCents: charge,
			Features:            target.Features,
			EffectiveAt:         now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Downgrade validates current real usage against the target tier and, when
// clean, schedules the change for the period boundary. Any violation blocks
// the downgrade entirely with an itemized list; nothing is written.
func (l *Lifecycle) Downgrade(ctx context.Context, actor tenant.Actor, newTier string) (*DowngradeResult, error) {
	target := PlanByTier(newTier)
	if target == nil {
		return nil, domain.NewDenial(domain.CodeIllegalPlanChange,
			"unknown plan tier", map[string]any{"requestedTier": newTier})
	}

	var result *DowngradeResult
	err := l.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		sub, err := loadSubscription(tx, actor.TenantID)
		if err != nil {
			return err
		}
		if HierarchyIndex(newTier) >= HierarchyIndex(sub.PlanTier) {
			return domain.NewDenial(domain.CodeIllegalPlanChange,
				"target tier is not below the current tier, use upgrade",
				map[string]any{"currentTier": sub.PlanTier, "requestedTier": newTier})
		}

		violations, err := usageViolations(tx, actor.TenantID, sub, target)
		if err != nil {
			return err
		}
		if len(violations) > 0 {
			return domain.NewDenial(domain.CodeDowngradeBlocked,
				"current usage exceeds the target tier's limits",
				map[string]any{"violations": violations, "targetTier": target.Tier})
		}

		current := PlanByTier(sub.PlanTier)
		warnings := FeatureDiff(current, target)
		effectiveAt := sub.CurrentPeriodEnd

		res := tx.Model(&models.Subscription{}).
			Where("tenant_id = ? AND plan_tier = ?", actor.TenantID, sub.PlanTier).
			Updates(map[string]any{
				"scheduled_plan_change":    target.Tier,
				"scheduled_plan_change_at": effectiveAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: concurrent plan change", domain.ErrContention)
		}

		if err := appendEvent(tx, sub, actor, models.EventPlanDowngradeScheduled, sub.PlanTier, sub.Status, map[string]any{
			"scheduledTier": target.Tier,
			"effectiveAt":   effectiveAt,
			"warnings":      warnings,
		}); err != nil {
			return err
		}

		result = &DowngradeResult{
			CurrentTier:   sub.PlanTier,
			ScheduledTier: target.Tier,
			EffectiveAt:   effectiveAt,
			Warnings:      warnings,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CheckFeatureAccess reports whether the tenant's current bundle enables the
// named feature.
func (l *Lifecycle) CheckFeatureAccess(ctx context.Context, actor tenant.Actor, feature string) (bool, error) {
	var enabled bool
	err := l.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		sub, err := loadSubscription(tx, actor.TenantID)
		if err != nil {
			return err
		}
		features := decodeFeatures(sub.Features)
		enabled = features[feature]
		return nil
	})
	if err != nil {
		return false, err
	}
	return enabled, nil
}

// CheckUsageLimit returns the current committed counter values for one
// resource. Controllers use it for pre-flight display; reservations still go
// through the governor.
func (l *Lifecycle) CheckUsageLimit(ctx context.Context, actor tenant.Actor, resource string) (*UsageReport, error) {
	var report *UsageReport
	err := l.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		sub, err := loadSubscription(tx, actor.TenantID)
		if err != nil {
			return err
		}

		var used, max int64
		switch resource {
		case "seats":
			used, max = int64(sub.SeatsUsed), int64(sub.SeatsMax)
		case "patients":
			used, max = int64(sub.PatientsUsed), int64(sub.PatientsMax)
		case "storage":
			used, max = sub.StorageUsedBytes, sub.StorageMaxBytes
		case "notifications":
			used, max = int64(sub.NotificationsUsed), int64(sub.NotificationsMax)
		default:
			return fmt.Errorf("unknown resource %q", resource)
		}

		remaining := max - used
		if remaining < 0 {
			remaining = 0
		}
		report = &UsageReport{
			Resource:    resource,
			Used:        used,
			Max:         max,
			Remaining:   remaining,
			WithinLimit: used < max,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// HandlePaymentEvent applies a payment-provider webhook to the subscription
// status. Unknown event types are ignored.
func (l *Lifecycle) HandlePaymentEvent(ctx context.Context, tenantID uuid.UUID, eventType string) error {
	actor := tenant.System(tenantID)
	switch eventType {
	case PaymentEventFailed:
		return l.setStatus(ctx, actor, models.StatusPastDue)
	case PaymentEventRecovered:
		return l.setStatus(ctx, actor, models.StatusActive)
	case PaymentEventRenewed:
		return l.renewPeriod(ctx, actor)
	case PaymentEventCanceled:
		return l.setStatus(ctx, actor, models.StatusCanceled)
	default:
		return nil
	}
}

func (l *Lifecycle) setStatus(ctx context.Context, actor tenant.Actor, status string) error {
	return l.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		sub, err := loadSubscription(tx, actor.TenantID)
		if err != nil {
			return err
		}
		if sub.Status == status {
			return nil
		}
		res := tx.Model(&models.Subscription{}).
			Where("tenant_id = ? AND status = ?", actor.TenantID, sub.Status).
			Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: concurrent status change", domain.ErrContention)
		}
		return appendEvent(tx, sub, actor, models.EventStatusChanged, sub.PlanTier, status, nil)
	})
}

// renewPeriod advances the billing period, resets the monthly notification
// counter, and applies any scheduled downgrade that has come due.
func (l *Lifecycle) renewPeriod(ctx context.Context, actor tenant.Actor) error {
	return l.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		sub, err := loadSubscription(tx, actor.TenantID)
		if err != nil {
			return err
		}

		now := l.now()
		newStart, newEnd := models.AdvancePeriod(sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now)
		res := tx.Model(&models.Subscription{}).
			Where("tenant_id = ? AND current_period_end = ?", actor.TenantID, sub.CurrentPeriodEnd).
			UpdateColumns(map[string]any{
				"current_period_start": newStart,
				"current_period_end":   newEnd,
				"notifications_used":   0,
			})
		if res.Error != nil {
			return res.Error
		}
		if err := appendEvent(tx, sub, actor, models.EventPeriodRenewed, sub.PlanTier, sub.Status, map[string]any{
			"periodStart": newStart,
			"periodEnd":   newEnd,
		}); err != nil {
			return err
		}

		if sub.ScheduledPlanChange != nil && sub.ScheduledPlanChangeAt != nil && !sub.ScheduledPlanChangeAt.After(now) {
			return l.applyScheduledChange(ctx, tx, actor)
		}
		return nil
	})
}

// ApplyDueChanges is the periodic sweep applying scheduled downgrades whose
// effective time has passed.
func (l *Lifecycle) ApplyDueChanges(ctx context.Context) error {
	now := l.now()
	// The listing crosses tenants, so it runs through the runner as SYSTEM;
	// a bare handle would see no rows once the row policies are enforced.
	var tenantIDs []uuid.UUID
	err := l.runner.Run(ctx, tenant.System(uuid.Nil), func(ctx context.Context, tx *gorm.DB) error {
		return tx.Model(&models.Subscription{}).
			Where("scheduled_plan_change IS NOT NULL AND scheduled_plan_change_at <= ?", now).
			Pluck("tenant_id", &tenantIDs).Error
	})
	if err != nil {
		return fmt.Errorf("failed to list due plan changes: %w", err)
	}

	for _, id := range tenantIDs {
		actor := tenant.System(id)
		err := l.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
			return l.applyScheduledChange(ctx, tx, actor)
		})
		if err != nil {
			slog.Error("failed to apply scheduled plan change", "tenant_id", id, "error", err)
		}
	}
	return nil
}

// applyScheduledChange applies a due downgrade after re-validating usage.
// If usage grew past the target limits since scheduling, the change is
// abandoned with an event rather than force-applied.
func (l *Lifecycle) applyScheduledChange(ctx context.Context, tx *gorm.DB, actor tenant.Actor) error {
	sub, err := loadSubscription(tx, actor.TenantID)
	if err != nil {
		return err
	}
	if sub.ScheduledPlanChange == nil || sub.ScheduledPlanChangeAt == nil {
		return nil
	}
	if sub.ScheduledPlanChangeAt.After(l.now()) {
		return nil
	}

	target := PlanByTier(*sub.ScheduledPlanChange)
	if target == nil {
		return fmt.Errorf("subscription %s has unknown scheduled tier %q", sub.ID, *sub.ScheduledPlanChange)
	}

	violations, err := usageViolations(tx, actor.TenantID, sub, target)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		res := tx.Model(&models.Subscription{}).
			Where("tenant_id = ?", actor.TenantID).
			Updates(map[string]any{
				"scheduled_plan_change":    nil,
				"scheduled_plan_change_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		slog.Warn("scheduled downgrade aborted, usage exceeds target limits",
			"tenant_id", actor.TenantID, "target_tier", target.Tier)
		return appendEvent(tx, sub, actor, models.EventPlanDowngradeAborted, sub.PlanTier, sub.Status, map[string]any{
			"targetTier": target.Tier,
			"violations": violations,
		})
	}

	res := tx.Model(&models.Subscription{}).
		Where("tenant_id = ? AND plan_tier = ?", actor.TenantID, sub.PlanTier).
		Updates(map[string]any{
			"plan_tier":                target.Tier,
			"seats_max":                target.SeatsMax,
			"patients_max":             target.PatientsMax,
			"storage_max_bytes":        target.StorageMaxBytes,
			"notifications_max":        target.NotificationsMax,
			"features":                 target.FeaturesJSON(),
			"scheduled_plan_change":    nil,
			"scheduled_plan_change_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: concurrent plan change", domain.ErrContention)
	}
	return appendEvent(tx, sub, actor, models.EventPlanDowngraded, target.Tier, sub.Status, map[string]any{
		"previousTier": sub.PlanTier,
	})
}

// StartSweeper runs ApplyDueChanges on a ticker until done is closed.
func (l *Lifecycle) StartSweeper(interval time.Duration, done chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := l.ApplyDueChanges(context.Background()); err != nil {
					slog.Error("plan change sweep failed", "error", err)
				}
			case <-done:
				return
			}
		}
	}()
}

// usageViolations compares current real usage (not just counters) against
// the target plan's limits.
func usageViolations(tx *gorm.DB, tenantID uuid.UUID, sub *models.Subscription, target *Plan) ([]UsageViolation, error) {
	var psychologists int64
	err := tx.Model(&models.User{}).
		Scopes(tenant.ForTenant(tenantID)).
		Where("role = ? AND active = ?", models.RolePsychologist, true).
		Count(&psychologists).Error
	if err != nil {
		return nil, err
	}

	var patients int64
	err = tx.Model(&models.Patient{}).
		Scopes(tenant.ForTenant(tenantID)).
		Where("active = ?", true).
		Count(&patients).Error
	if err != nil {
		return nil, err
	}

	var violations []UsageViolation
	if psychologists > int64(target.SeatsMax) {
		violations = append(violations, UsageViolation{
			Resource: "seats", Current: psychologists, TargetLimit: int64(target.SeatsMax),
		})
	}
	if patients > int64(target.PatientsMax) {
		violations = append(violations, UsageViolation{
			Resource: "patients", Current: patients, TargetLimit: int64(target.PatientsMax),
		})
	}
	if sub.StorageUsedBytes > target.StorageMaxBytes {
		violations = append(violations, UsageViolation{
			Resource: "storage", Current: sub.StorageUsedBytes, TargetLimit: target.StorageMaxBytes,
		})
	}
	return violations, nil
}

// prorate computes the upgrade charge in cents: the target price minus the
// unused credit of the old plan, linear over the remaining whole days of the
// billing period, floored at zero.
func prorate(oldCents, newCents int, periodStart, periodEnd, now time.Time) int {
	totalDays := int(math.Round(periodEnd.Sub(periodStart).Hours() / 24))
	if totalDays <= 0 {
		return 0
	}
	remainingDays := int(math.Ceil(periodEnd.Sub(now).Hours() / 24))
	if remainingDays <= 0 {
		return 0
	}
	if remainingDays > totalDays {
		remainingDays = totalDays
	}

	charge := (newCents - oldCents) * remainingDays / totalDays
	if charge < 0 {
		return 0
	}
	return charge
}

func appendEvent(tx *gorm.DB, sub *models.Subscription, actor tenant.Actor, eventType, newTier, newStatus string, metadata map[string]any) error {
	meta := datatypes.JSON([]byte("{}"))
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode event metadata: %w", err)
		}
		meta = datatypes.JSON(b)
	}
	return tx.Create(&models.SubscriptionEvent{
		ID:             uuid.New(),
		TenantID:       sub.TenantID,
		EventType:      eventType,
		PreviousTier:   sub.PlanTier,
		NewTier:        newTier,
		PreviousStatus: sub.Status,
		NewStatus:      newStatus,
		Metadata:       meta,
		TriggeredBy:    actor.UserID,
	}).Error
}

func decodeFeatures(raw datatypes.JSON) map[string]bool {
	features := make(map[string]bool)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &features)
	}
	return features
}

func subscriptionView(sub *models.Subscription) *View {
	return &View{
		PlanTier:              sub.PlanTier,
		Status:                sub.Status,
		SeatsMax:              sub.SeatsMax,
		SeatsUsed:             sub.SeatsUsed,
		PatientsMax:           sub.PatientsMax,
		PatientsUsed:          sub.PatientsUsed,
		StorageMaxBytes:       sub.StorageMaxBytes,
		StorageUsedBytes:      sub.StorageUsedBytes,
		NotificationsMax:      sub.NotificationsMax,
		NotificationsUsed:     sub.NotificationsUsed,
		CurrentPeriodStart:    sub.CurrentPeriodStart,
		CurrentPeriodEnd:      sub.CurrentPeriodEnd,
		TrialEndsAt:           sub.TrialEndsAt,
		ScheduledPlanChange:   sub.ScheduledPlanChange,
		ScheduledPlanChangeAt: sub.ScheduledPlanChangeAt,
		Features:              decodeFeatures(sub.Features),
	}
}

func loadSubscription(tx *gorm.DB, tenantID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := tx.Scopes(tenant.ForTenant(tenantID)).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFound("subscription")
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
