package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oryxhealth/clinic-backend/internal/domain"
	"github.com/oryxhealth/clinic-backend/internal/models"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
	"github.com/oryxhealth/clinic-backend/internal/txn"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.Subscription{}, &models.SubscriptionEvent{},
		&models.User{}, &models.Patient{},
	); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	return db
}

type lcFixture struct {
	db        *gorm.DB
	lifecycle *Lifecycle
	actor     tenant.Actor
	now       time.Time
}

func newLifecycleFixture(t *testing.T, mutate func(*models.Subscription)) *lcFixture {
	t.Helper()
	db := openTestDB(t)
	runner := txn.NewRunner(db, 2, time.Millisecond)
	lc := NewLifecycle(runner)

	now := time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)
	lc.now = func() time.Time { return now }

	plan := PlanBasic
	sub := &models.Subscription{
		ID:                 uuid.New(),
		TenantID:           uuid.New(),
		PlanTier:           plan.Tier,
		Status:             models.StatusActive,
		SeatsMax:           plan.SeatsMax,
		PatientsMax:        plan.PatientsMax,
		StorageMaxBytes:    plan.StorageMaxBytes,
		NotificationsMax:   plan.NotificationsMax,
		CurrentPeriodStart: now.AddDate(0, 0, -10),
		CurrentPeriodEnd:   now.AddDate(0, 0, 20),
		Features:           plan.FeaturesJSON(),
	}
	if mutate != nil {
		mutate(sub)
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	return &lcFixture{
		db:        db,
		lifecycle: lc,
		actor:     tenant.Actor{TenantID: sub.TenantID, UserID: uuid.New(), Role: tenant.RoleAdmin},
		now:       now,
	}
}

func (f *lcFixture) sub(t *testing.T) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	if err := f.db.First(&sub, "tenant_id = ?", f.actor.TenantID).Error; err != nil {
		t.Fatalf("failed to read subscription: %v", err)
	}
	return &sub
}

func (f *lcFixture) lastEvent(t *testing.T) *models.SubscriptionEvent {
	t.Helper()
	var ev models.SubscriptionEvent
	if err := f.db.Where("tenant_id = ?", f.actor.TenantID).Order("created_at DESC").First(&ev).Error; err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return &ev
}

func TestUpgrade(t *testing.T) {
	t.Run("applies immediately with new limits and features", func(t *testing.T) {
		f := newLifecycleFixture(t, nil)

		result, err := f.lifecycle.Upgrade(context.Background(), f.actor, models.TierPro)
		if err != nil {
			t.Fatalf("Upgrade failed: %v", err)
		}
		if result.PreviousTier != models.TierBasic || result.NewTier != models.TierPro {
			t.Errorf("tiers = %s -> %s", result.PreviousTier, result.NewTier)
		}

		sub := f.sub(t)
		if sub.PlanTier != models.TierPro || sub.SeatsMax != PlanPro.SeatsMax {
			t.Errorf("limits not applied: tier=%s seats_max=%d", sub.PlanTier, sub.SeatsMax)
		}

		enabled, err := f.lifecycle.CheckFeatureAccess(context.Background(), f.actor, "advancedAnalytics")
		if err != nil {
			t.Fatalf("CheckFeatureAccess failed: %v", err)
		}
		if !enabled {
			t.Error("advancedAnalytics should be enabled after upgrade")
		}

		if ev := f.lastEvent(t); ev.EventType != models.EventPlanUpgraded {
			t.Errorf("event = %s, want PLAN_UPGRADED", ev.EventType)
		}
	})

	t.Run("charges prorated difference over remaining days", func(t *testing.T) {
		f := newLifecycleFixture(t, nil)
		result, err := f.lifecycle.Upgrade(context.Background(), f.actor, models.TierPro)
		if err != nil {
			t.Fatalf("Upgrade failed: %v", err)
		}
		// 20 of 30 days remain: (14900-4900)*20/30.
		want := (PlanPro.PriceMonthly - PlanBasic.PriceMonthly) * 20 / 30
		if result.ProratedChargeCents != want {
			t.Errorf("charge = %d, want %d", result.ProratedChargeCents, want)
		}
	})

	t.Run("activates a trialing subscription", func(t *testing.T) {
		f := newLifecycleFixture(t, func(s *models.Subscription) {
			s.PlanTier = models.TierTrial
			s.Status = models.StatusTrialing
		})
		if _, err := f.lifecycle.Upgrade(context.Background(), f.actor, models.TierBasic); err != nil {
			t.Fatalf("Upgrade failed: %v", err)
		}
		if sub := f.sub(t); sub.Status != models.StatusActive {
			t.Errorf("status = %s, want ACTIVE", sub.Status)
		}
	})

	t.Run("clears a scheduled downgrade", func(t *testing.T) {
		f := newLifecycleFixture(t, func(s *models.Subscription) {
			tier := models.TierTrial
			at := time.Now().AddDate(0, 0, 20)
			s.ScheduledPlanChange = &tier
			s.ScheduledPlanChangeAt = &at
		})
		if _, err := f.lifecycle.Upgrade(context.Background(), f.actor, models.TierPro); err != nil {
			t.Fatalf("Upgrade failed: %v", err)
		}
		if sub := f.sub(t); sub.ScheduledPlanChange != nil {
			t.Error("scheduled change not cleared by upgrade")
		}
	})

	t.Run("rejects a non-upgrade direction", func(t *testing.T) {
		f := newLifecycleFixture(t, nil)
		for _, tier := range []string{models.TierBasic, models.TierTrial} {
			_, err := f.lifecycle.Upgrade(context.Background(), f.actor, tier)
			if d, ok := domain.AsDenial(err); !ok || d.Code != domain.CodeIllegalPlanChange {
				t.Errorf("Upgrade to %s: expected ILLEGAL_PLAN_CHANGE, got %v", tier, err)
			}
		}
	})

	t.Run("rejects an unknown tier", func(t *testing.T) {
		f := newLifecycleFixture(t, nil)
		_, err := f.lifecycle.Upgrade(context.Background(), f.actor, "PLATINUM")
		if d, ok := domain.AsDenial(err); !ok || d.Code != domain.CodeIllegalPlanChange {
			t.Fatalf("expected ILLEGAL_PLAN_CHANGE, got %v", err)
		}
	})

	t.Run("rejects canceled subscriptions", func(t *testing.T) {
		f := newLifecycleFixture(t, func(s *models.Subscription) {
			s.Status = models.StatusCanceled
		})
		_, err := f.lifecycle.Upgrade(context.Background(), f.actor, models.TierPro)
		if d, ok := domain.AsDenial(err); !ok || d.Code != domain.CodeSubscriptionInactive {
			t.Fatalf("expected SUBSCRIPTION_INACTIVE, got %v", err)
		}
	})
}

func TestDowngrade(t *testing.T) {
	t.Run("schedules for the period boundary without touching limits", func(t *testing.T) {
		f := newLifecycleFixture(t, nil)

		result, err := f.lifecycle.Downgrade(context.Background(), f.actor, models.TierTrial)
		if err != nil {
			t.Fatalf("Downgrade failed: %v", err)
		}
		if !result.EffectiveAt.Equal(f.now.AddDate(0, 0, 20)) {
			t.Errorf("effective at %v, want period end", result.EffectiveAt)
		}

		sub := f.sub(t)
		if sub.PlanTier != models.TierBasic {
			t.Errorf("tier changed immediately: %s", sub.PlanTier)
		}
		if sub.ScheduledPlanChange == nil || *sub.ScheduledPlanChange != models.TierTrial {
			t.Error("scheduled change not recorded")
		}
		if ev := f.lastEvent(t); ev.EventType != models.EventPlanDowngradeScheduled {
			t.Errorf("event = %s", ev.EventType)
		}
	})

	t.Run("reports features that will be lost", func(t *testing.T) {
		f := newLifecycleFixture(t, nil)
		result, err := f.lifecycle.Downgrade(context.Background(), f.actor, models.TierTrial)
		if err != nil {
			t.Fatalf("Downgrade failed: %v", err)
		}
		if len(result.Warnings) != 1 || result.Warnings[0] != "dataExport" {
			t.Errorf("warnings = %v, want [dataExport]", result.Warnings)
		}
	})

	t.Run("blocked when usage exceeds target limits, nothing written", func(t *testing.T) {
		f := newLifecycleFixture(t, nil)
		// Trial allows 1 seat and 10 patients; create 2 active psychologists.
		for i := 0; i < 2; i++ {
			if err := f.db.Create(&models.User{
				ID: uuid.New(), TenantID: f.actor.TenantID,
				Email: uuid.NewString() + "@clinic.test", Password: "x",
				Role: models.RolePsychologist, Active: true,
			}).Error; err != nil {
				t.Fatalf("failed to seed user: %v", err)
			}
		}

		_, err := f.lifecycle.Downgrade(context.Background(), f.actor, models.TierTrial)
		denial, ok := domain.AsDenial(err)
		if !ok || denial.Code != domain.CodeDowngradeBlocked {
			t.Fatalf("expected DOWNGRADE_BLOCKED, got %v", err)
		}
		violations, ok := denial.Details["violations"].([]UsageViolation)
		if !ok || len(violations) != 1 || violations[0].Resource != "seats" {
			t.Fatalf("violations = %v", denial.Details["violations"])
		}
		if violations[0].Current != 2 || violations[0].TargetLimit != 1 {
			t.Errorf("violation = %+v", violations[0])
		}

		sub := f.sub(t)
		if sub.ScheduledPlanChange != nil {
			t.Error("blocked downgrade wrote a scheduled change")
		}
		var events int64
		f.db.Model(&models.SubscriptionEvent{}).Count(&events)
		if events != 0 {
			t.Errorf("blocked downgrade appended %d events", events)
		}
	})

	t.Run("inactive archived records do not count", func(t *testing.T) {
		f := newLifecycleFixture(t, nil)
		if err := f.db.Create(&models.User{
			ID: uuid.New(), TenantID: f.actor.TenantID,
			Email: "old@clinic.test", Password: "x",
			Role: models.RolePsychologist, Active: false,
		}).Error; err != nil {
			t.Fatalf("failed to seed user: %v", err)
		}

		if _, err := f.lifecycle.Downgrade(context.Background(), f.actor, models.TierTrial); err != nil {
			t.Fatalf("Downgrade failed: %v", err)
		}
	})

	t.Run("rejects a non-downgrade direction", func(t *testing.T) {
		f := newLifecycleFixture(t, nil)
		_, err := f.lifecycle.Downgrade(context.Background(), f.actor, models.TierPro)
		if d, ok := domain.AsDenial(err); !ok || d.Code != domain.CodeIllegalPlanChange {
			t.Fatalf("expected ILLEGAL_PLAN_CHANGE, got %v", err)
		}
	})
}

func TestApplyDueChanges(t *testing.T) {
	t.Run("applies a due downgrade", func(t *testing.T) {
		f := newLifecycleFixture(t, func(s *models.Subscription) {
			tier := models.TierTrial
			at := time.Date(2026, 9, 9, 0, 0, 0, 0, time.UTC) // before f.now
			s.ScheduledPlanChange = &tier
			s.ScheduledPlanChangeAt = &at
		})

		if err := f.lifecycle.ApplyDueChanges(context.Background()); err != nil {
			t.Fatalf("ApplyDueChanges failed: %v", err)
		}

		sub := f.sub(t)
		if sub.PlanTier != models.TierTrial || sub.SeatsMax != PlanTrial.SeatsMax {
			t.Errorf("downgrade not applied: tier=%s seats_max=%d", sub.PlanTier, sub.SeatsMax)
		}
		if sub.ScheduledPlanChange != nil {
			t.Error("scheduled change not cleared")
		}
		if ev := f.lastEvent(t); ev.EventType != models.EventPlanDowngraded {
			t.Errorf("event = %s, want PLAN_DOWNGRADED", ev.EventType)
		}
	})

	t.Run("does not apply a future change", func(t *testing.T) {
		f := newLifecycleFixture(t, func(s *models.Subscription) {
			tier := models.TierTrial
			at := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC) // after f.now
			s.ScheduledPlanChange = &tier
			s.ScheduledPlanChangeAt = &at
		})

		if err := f.lifecycle.ApplyDueChanges(context.Background()); err != nil {
			t.Fatalf("ApplyDueChanges failed: %v", err)
		}
		if sub := f.sub(t); sub.PlanTier != models.TierBasic {
			t.Errorf("future change applied early: %s", sub.PlanTier)
		}
	})

	t.Run("listing runs through the transaction runner", func(t *testing.T) {
		f := newLifecycleFixture(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := f.lifecycle.ApplyDueChanges(ctx); !domain.IsTimeout(err) {
			t.Fatalf("expected timeout from the runner, got %v", err)
		}
	})

	t.Run("aborts when usage grew past the target", func(t *testing.T) {
		f := newLifecycleFixture(t, func(s *models.Subscription) {
			tier := models.TierTrial
			at := time.Date(2026, 9, 9, 0, 0, 0, 0, time.UTC)
			s.ScheduledPlanChange = &tier
			s.ScheduledPlanChangeAt = &at
		})
		for i := 0; i < 2; i++ {
			if err := f.db.Create(&models.User{
				ID: uuid.New(), TenantID: f.actor.TenantID,
				Email: uuid.NewString() + "@clinic.test", Password: "x",
				Role: models.RolePsychologist, Active: true,
			}).Error; err != nil {
				t.Fatalf("failed to seed user: %v", err)
			}
		}

		if err := f.lifecycle.ApplyDueChanges(context.Background()); err != nil {
			t.Fatalf("ApplyDueChanges failed: %v", err)
		}

		sub := f.sub(t)
		if sub.PlanTier != models.TierBasic {
			t.Errorf("violated downgrade was applied: %s", sub.PlanTier)
		}
		if sub.ScheduledPlanChange != nil {
			t.Error("aborted change not cleared")
		}
		if ev := f.lastEvent(t); ev.EventType != models.EventPlanDowngradeAborted {
			t.Errorf("event = %s, want PLAN_DOWNGRADE_ABORTED", ev.EventType)
		}
	})
}

func TestHandlePaymentEvent(t *testing.T) {
	t.Run("payment failure and recovery", func(t *testing.T) {
		f := newLifecycleFixture(t, nil)

		if err := f.lifecycle.HandlePaymentEvent(context.Background(), f.actor.TenantID, PaymentEventFailed); err != nil {
			t.Fatalf("HandlePaymentEvent failed: %v", err)
		}
		if sub := f.sub(t); sub.Status != models.StatusPastDue {
			t.Errorf("status = %s, want PAST_DUE", sub.Status)
		}

		if err := f.lifecycle.HandlePaymentEvent(context.Background(), f.actor.TenantID, PaymentEventRecovered); err != nil {
			t.Fatalf("HandlePaymentEvent failed: %v", err)
		}
		if sub := f.sub(t); sub.Status != models.StatusActive {
			t.Errorf("status = %s, want ACTIVE", sub.Status)
		}
	})

	t.Run("renewal advances the period and resets notifications", func(t *testing.T) {
		f := newLifecycleFixture(t, func(s *models.Subscription) {
			s.NotificationsUsed = 42
			s.CurrentPeriodStart = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
			s.CurrentPeriodEnd = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
		})

		if err := f.lifecycle.HandlePaymentEvent(context.Background(), f.actor.TenantID, PaymentEventRenewed); err != nil {
			t.Fatalf("HandlePaymentEvent failed: %v", err)
		}

		sub := f.sub(t)
		if sub.NotificationsUsed != 0 {
			t.Errorf("notifications_used = %d, want 0", sub.NotificationsUsed)
		}
		if !sub.CurrentPeriodEnd.After(f.now) {
			t.Errorf("period end %v not advanced past %v", sub.CurrentPeriodEnd, f.now)
		}
	})

	t.Run("renewal tolerates a half-set scheduled change", func(t *testing.T) {
		f := newLifecycleFixture(t, func(s *models.Subscription) {
			tier := models.TierTrial
			s.ScheduledPlanChange = &tier
			s.ScheduledPlanChangeAt = nil
		})
		if err := f.lifecycle.HandlePaymentEvent(context.Background(), f.actor.TenantID, PaymentEventRenewed); err != nil {
			t.Fatalf("HandlePaymentEvent failed: %v", err)
		}
		if sub := f.sub(t); sub.PlanTier != models.TierBasic {
			t.Errorf("tier = %s, want BASIC untouched", sub.PlanTier)
		}
	})

	t.Run("cancellation", func(t *testing.T) {
		f := newLifecycleFixture(t, nil)
		if err := f.lifecycle.HandlePaymentEvent(context.Background(), f.actor.TenantID, PaymentEventCanceled); err != nil {
			t.Fatalf("HandlePaymentEvent failed: %v", err)
		}
		if sub := f.sub(t); sub.Status != models.StatusCanceled {
			t.Errorf("status = %s, want CANCELED", sub.Status)
		}
	})

	t.Run("unknown events are ignored", func(t *testing.T) {
		f := newLifecycleFixture(t, nil)
		if err := f.lifecycle.HandlePaymentEvent(context.Background(), f.actor.TenantID, "mystery_event"); err != nil {
			t.Fatalf("unknown event should be a no-op, got %v", err)
		}
	})
}

func TestCheckUsageLimit(t *testing.T) {
	f := newLifecycleFixture(t, func(s *models.Subscription) {
		s.SeatsUsed = 2
	})

	report, err := f.lifecycle.CheckUsageLimit(context.Background(), f.actor, "seats")
	if err != nil {
		t.Fatalf("CheckUsageLimit failed: %v", err)
	}
	if report.Used != 2 || report.Max != int64(PlanBasic.SeatsMax) || report.Remaining != 1 || !report.WithinLimit {
		t.Errorf("report = %+v", report)
	}

	if _, err := f.lifecycle.CheckUsageLimit(context.Background(), f.actor, "widgets"); err == nil {
		t.Error("expected error for unknown resource")
	}
}

func TestProrate(t *testing.T) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0) // 30 days

	cases := []struct {
		name     string
		old, new int
		now      time.Time
		want     int
	}{
		{"mid period", 4900, 14900, start.AddDate(0, 0, 15), 5000},
		{"period start", 4900, 14900, start, 10000},
		{"period end", 4900, 14900, end, 0},
		{"after period end", 4900, 14900, end.AddDate(0, 0, 5), 0},
		{"free to paid", 0, 4900, start.AddDate(0, 0, 15), 2450},
		{"to cheaper tier floors at zero", 14900, 0, start.AddDate(0, 0, 15), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := prorate(tc.old, tc.new, start, end, tc.now); got != tc.want {
				t.Errorf("prorate = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPlans(t *testing.T) {
	t.Run("hierarchy is strictly ordered", func(t *testing.T) {
		last := -1
		for _, p := range AllPlans {
			idx := HierarchyIndex(p.Tier)
			if idx <= last {
				t.Fatalf("tier %s out of order", p.Tier)
			}
			last = idx
		}
	})

	t.Run("unknown tier", func(t *testing.T) {
		if PlanByTier("PLATINUM") != nil {
			t.Error("unknown tier resolved to a plan")
		}
		if HierarchyIndex("PLATINUM") != -1 {
			t.Error("unknown tier has a hierarchy index")
		}
	})

	t.Run("feature diff", func(t *testing.T) {
		lost := FeatureDiff(&PlanPro, &PlanTrial)
		want := []string{"advancedAnalytics", "customBranding", "dataExport"}
		if len(lost) != len(want) {
			t.Fatalf("lost = %v, want %v", lost, want)
		}
		for i := range want {
			if lost[i] != want[i] {
				t.Fatalf("lost = %v, want %v", lost, want)
			}
		}
	})
}
