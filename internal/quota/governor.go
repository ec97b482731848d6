package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/oryxhealth/clinic-backend/internal/domain"
	"github.com/oryxhealth/clinic-backend/internal/models"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
	"github.com/oryxhealth/clinic-backend/internal/txn"
)

// Statuses under which reservations are allowed.
var reservableStatuses = []string{models.StatusActive, models.StatusTrialing}

// resource describes one quota counter pair on the subscription row,
// including the detail keys used in denial payloads.
type resource struct {
	name      string
	usedCol   string
	maxCol    string
	limitCode string
	usedKey   string
	maxKey    string
}

var (
	resSeats = resource{
		name: "seats", usedCol: "seats_used", maxCol: "seats_max",
		limitCode: domain.CodeSeatLimitReached,
		usedKey:   "seatsPsychologistsUsed", maxKey: "seatsPsychologistsMax",
	}
	resPatients = resource{
		name: "patients", usedCol: "patients_used", maxCol: "patients_max",
		limitCode: domain.CodePatientLimitReached,
		usedKey:   "patientsUsed", maxKey: "patientsMax",
	}
	resStorage = resource{
		name: "storage", usedCol: "storage_used_bytes", maxCol: "storage_max_bytes",
		limitCode: domain.CodeStorageLimitReached,
		usedKey:   "storageUsedBytes", maxKey: "storageMaxBytes",
	}
	resNotifications = resource{
		name: "notifications", usedCol: "notifications_used", maxCol: "notifications_max",
		limitCode: domain.CodeNotificationLimitReached,
		usedKey:   "notificationsUsed", maxKey: "notificationsMax",
	}
)

// Governor makes "reserve one unit of resource X for tenant T" atomic under
// concurrent callers. Every reservation is a conditional single-statement
// update: the increment only happens when it keeps used within max, so two
// concurrent calls can never both succeed past the limit. Quota denials are
// terminal and never retried.
type Governor struct {
	runner *txn.Runner
	now    func() time.Time
}

func NewGovernor(runner *txn.Runner) *Governor {
	return &Governor{runner: runner, now: time.Now}
}

// ReserveSeat reserves one psychologist seat for the actor's tenant.
func (g *Governor) ReserveSeat(ctx context.Context, actor tenant.Actor) error {
	return g.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		return g.reserve(ctx, tx, actor, resSeats, 1)
	})
}

// ReleaseSeat returns one psychologist seat. Releasing at zero is a no-op.
func (g *Governor) ReleaseSeat(ctx context.Context, actor tenant.Actor) error {
	return g.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		return g.release(ctx, tx, actor, resSeats, 1)
	})
}

// ReservePatientSlot reserves one active-patient slot.
func (g *Governor) ReservePatientSlot(ctx context.Context, actor tenant.Actor) error {
	return g.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		return g.reserve(ctx, tx, actor, resPatients, 1)
	})
}

// ReleasePatientSlot returns one active-patient slot.
func (g *Governor) ReleasePatientSlot(ctx context.Context, actor tenant.Actor) error {
	return g.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		return g.release(ctx, tx, actor, resPatients, 1)
	})
}

// ReserveNotificationBudget reserves count notifications from the monthly
// budget, lazily rolling the billing period over first if it has elapsed.
func (g *Governor) ReserveNotificationBudget(ctx context.Context, actor tenant.Actor, count int) error {
	if count <= 0 {
		return fmt.Errorf("notification count must be positive, got %d", count)
	}
	return g.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		if err := g.rolloverIfDue(ctx, tx, actor); err != nil {
			return err
		}
		return g.reserve(ctx, tx, actor, resNotifications, int64(count))
	})
}

// ReserveStorageBytes reserves bytes of storage.
func (g *Governor) ReserveStorageBytes(ctx context.Context, actor tenant.Actor, bytes int64) error {
	if bytes <= 0 {
		return fmt.Errorf("storage bytes must be positive, got %d", bytes)
	}
	return g.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		return g.reserve(ctx, tx, actor, resStorage, bytes)
	})
}

// ReleaseStorageBytes returns bytes of storage. Never drives the counter
// below zero.
func (g *Governor) ReleaseStorageBytes(ctx context.Context, actor tenant.Actor, bytes int64) error {
	if bytes <= 0 {
		return fmt.Errorf("storage bytes must be positive, got %d", bytes)
	}
	return g.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		return g.release(ctx, tx, actor, resStorage, bytes)
	})
}

// reserve performs the conditional increment. Zero affected rows means the
// row policy blocked the statement, the subscription is inactive, or the
// limit is reached; the first case is retried once under the elevated role,
// the rest produce a structured denial from a fresh read.
func (g *Governor) reserve(ctx context.Context, tx *gorm.DB, actor tenant.Actor, res resource, n int64) error {
	result := g.conditionalIncrement(tx, actor, res, n)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 && actor.Role != tenant.RoleAdmin && actor.Role != tenant.RoleSystem {
		err := txn.WithElevatedRole(ctx, actor, "quota counter update: "+res.name, func(etx *gorm.DB) error {
			result = g.conditionalIncrement(etx, actor, res, n)
			return result.Error
		})
		if err != nil {
			return err
		}
	}

	if result.RowsAffected == 1 {
		return nil
	}
	return g.deny(ctx, tx, actor, res, n)
}

func (g *Governor) conditionalIncrement(tx *gorm.DB, actor tenant.Actor, res resource, n int64) *gorm.DB {
	return tx.Model(&models.Subscription{}).
		Where("tenant_id = ? AND status IN ?", actor.TenantID, reservableStatuses).
		Where(fmt.Sprintf("%s + ? <= %s", res.usedCol, res.maxCol), n).
		UpdateColumn(res.usedCol, gorm.Expr(res.usedCol+" + ?", n))
}

func (g *Governor) release(ctx context.Context, tx *gorm.DB, actor tenant.Actor, res resource, n int64) error {
	decrement := func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.Subscription{}).
			Where("tenant_id = ?", actor.TenantID).
			Where(res.usedCol+" >= ?", n).
			UpdateColumn(res.usedCol, gorm.Expr(res.usedCol+" - ?", n))
	}

	result := decrement(tx)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 && actor.Role != tenant.RoleAdmin && actor.Role != tenant.RoleSystem {
		if err := txn.WithElevatedRole(ctx, actor, "quota counter release: "+res.name, func(etx *gorm.DB) error {
			return decrement(etx).Error
		}); err != nil {
			return err
		}
	}
	// Zero rows after elevation means the counter is already at (or below)
	// the release amount: a double release, deliberately absorbed.
	return nil
}

// deny re-reads the subscription to produce an accurate denial payload.
func (g *Governor) deny(ctx context.Context, tx *gorm.DB, actor tenant.Actor, res resource, n int64) error {
	sub, err := g.readSubscription(ctx, tx, actor)
	if err != nil {
		return err
	}

	if sub.Status != models.StatusActive && sub.Status != models.StatusTrialing {
		return domain.NewDenial(domain.CodeSubscriptionInactive,
			"subscription is not active",
			map[string]any{"status": sub.Status, "planTier": sub.PlanTier})
	}

	details := map[string]any{
		res.usedKey: counterValue(sub, res, true),
		res.maxKey:  counterValue(sub, res, false),
		"planTier":  sub.PlanTier,
	}
	if n > 1 {
		details["requested"] = n
	}
	return domain.NewDenial(res.limitCode, res.name+" limit reached", details)
}

func (g *Governor) readSubscription(ctx context.Context, tx *gorm.DB, actor tenant.Actor) (*models.Subscription, error) {
	read := func(tx *gorm.DB) (*models.Subscription, error) {
		var sub models.Subscription
		err := tx.Scopes(tenant.ForTenant(actor.TenantID)).First(&sub).Error
		if err != nil {
			return nil, err
		}
		return &sub, nil
	}

	sub, err := read(tx)
	if errors.Is(err, gorm.ErrRecordNotFound) && actor.Role != tenant.RoleAdmin && actor.Role != tenant.RoleSystem {
		// Row policies can hide the subscription row from non-admin roles;
		// re-read elevated so denials carry real numbers.
		elevErr := txn.WithElevatedRole(ctx, actor, "quota subscription read", func(etx *gorm.DB) error {
			sub, err = read(etx)
			return nil
		})
		if elevErr != nil {
			return nil, elevErr
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFound("subscription")
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func counterValue(sub *models.Subscription, res resource, used bool) any {
	switch res.name {
	case "seats":
		if used {
			return sub.SeatsUsed
		}
		return sub.SeatsMax
	case "patients":
		if used {
			return sub.PatientsUsed
		}
		return sub.PatientsMax
	case "storage":
		if used {
			return sub.StorageUsedBytes
		}
		return sub.StorageMaxBytes
	default:
		if used {
			return sub.NotificationsUsed
		}
		return sub.NotificationsMax
	}
}

// rolloverIfDue resets the monthly notification counter when the billing
// period has elapsed, advancing the period by whole months. The update is
// guarded on the old period end so concurrent rollovers collapse to one.
func (g *Governor) rolloverIfDue(ctx context.Context, tx *gorm.DB, actor tenant.Actor) error {
	sub, err := g.readSubscription(ctx, tx, actor)
	if err != nil {
		return err
	}

	now := g.now()
	if sub.CurrentPeriodEnd.After(now) {
		return nil
	}

	newStart, newEnd := models.AdvancePeriod(sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now)
	result := tx.Model(&models.Subscription{}).
		Where("tenant_id = ? AND current_period_end = ?", actor.TenantID, sub.CurrentPeriodEnd).
		UpdateColumns(map[string]any{
			"notifications_used":   0,
			"current_period_start": newStart,
			"current_period_end":   newEnd,
		})
	// Zero rows: a concurrent transaction already rolled the period over.
	return result.Error
}
