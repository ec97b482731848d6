package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/oryxhealth/clinic-backend/internal/config"
	"github.com/oryxhealth/clinic-backend/internal/domain"
	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/models"
	"github.com/oryxhealth/clinic-backend/internal/subscription"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
	"github.com/oryxhealth/clinic-backend/internal/txn"
)

var ErrSlugTaken = errors.New("clinic slug already in use")

// TenantService provisions and deactivates clinics. Signup creates the
// tenant, its trial subscription, default working-hours settings and the
// first admin user in one transaction, then registers the tenant with the
// resolver so requests can route to it immediately.
type TenantService struct {
	runner   *txn.Runner
	resolver *tenant.Resolver
	cfg      *config.Config
}

func NewTenantService(runner *txn.Runner, resolver *tenant.Resolver, cfg *config.Config) *TenantService {
	return &TenantService{runner: runner, resolver: resolver, cfg: cfg}
}

func (s *TenantService) Signup(ctx context.Context, req *dto.TenantSignupRequest) (*dto.TenantSignupResponse, error) {
	if s.resolver.GetBySlug(req.Slug) != nil {
		return nil, ErrSlugTaken
	}

	tenantID := uuid.New()
	now := time.Now()
	trialEnd := now.AddDate(0, 0, s.cfg.TrialDays)

	hash, err := bcrypt.GenerateFromPassword([]byte(req.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var resp *dto.TenantSignupResponse
	err = s.runner.Run(ctx, tenant.System(tenantID), func(ctx context.Context, tx *gorm.DB) error {
		t := models.Tenant{
			ID:     tenantID,
			Slug:   req.Slug,
			Name:   req.ClinicName,
			Active: true,
		}
		if err := tx.Create(&t).Error; err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}

		plan := subscription.PlanTrial
		sub := models.Subscription{
			ID:                 uuid.New(),
			TenantID:           tenantID,
			PlanTier:           plan.Tier,
			Status:             models.StatusTrialing,
			SeatsMax:           plan.SeatsMax,
			PatientsMax:        plan.PatientsMax,
			StorageMaxBytes:    plan.StorageMaxBytes,
			NotificationsMax:   plan.NotificationsMax,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   trialEnd,
			TrialEndsAt:        &trialEnd,
			Features:           plan.FeaturesJSON(),
		}
		if err := tx.Create(&sub).Error; err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}

		event := models.SubscriptionEvent{
			ID:        uuid.New(),
			TenantID:  tenantID,
			EventType: models.EventTrialStarted,
			NewTier:   plan.Tier,
			NewStatus: models.StatusTrialing,
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("failed to record trial event: %w", err)
		}

		settings := models.ClinicSettings{
			ID:       uuid.New(),
			TenantID: tenantID,
		}
		if err := tx.Create(&settings).Error; err != nil {
			return fmt.Errorf("failed to create clinic settings: %w", err)
		}

		admin := models.User{
			ID:       uuid.New(),
			TenantID: tenantID,
			Email:    req.AdminEmail,
			Password: string(hash),
			FullName: req.AdminName,
			Role:     models.RoleAdmin,
			Active:   true,
		}
		if err := tx.Create(&admin).Error; err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}

		resp = &dto.TenantSignupResponse{
			TenantID: tenantID,
			Slug:     t.Slug,
			Admin: dto.UserResponse{
				ID:       admin.ID,
				Email:    admin.Email,
				FullName: admin.FullName,
				Role:     admin.Role,
			},
			TrialEndsAt: trialEnd,
		}

		s.resolver.Register(&t)
		return nil
	})
	if err != nil {
		// Run may have retried after registering; keep the cache consistent
		// with the database on failure.
		s.resolver.Deregister(tenantID)
		return nil, err
	}

	slog.Info("tenant provisioned", "tenant_id", tenantID, "slug", req.Slug)
	return resp, nil
}

// GetSettings returns the clinic's working-hours settings.
func (s *TenantService) GetSettings(ctx context.Context, actor tenant.Actor) (*models.ClinicSettings, error) {
	var settings models.ClinicSettings
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		err := tx.Scopes(tenant.ForTenant(actor.TenantID)).First(&settings).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NotFound("clinic settings")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings changes the working-hours policy used by conflict checks.
func (s *TenantService) UpdateSettings(ctx context.Context, actor tenant.Actor, req *dto.SettingsUpdateRequest) (*models.ClinicSettings, error) {
	var settings models.ClinicSettings
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		err := tx.Scopes(tenant.ForTenant(actor.TenantID)).First(&settings).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NotFound("clinic settings")
		}
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if req.WorkingDays != nil {
			days, err := json.Marshal(req.WorkingDays)
			if err != nil {
				return err
			}
			updates["working_days"] = datatypes.JSON(days)
		}
		if req.StartOfDayMinutes != nil {
			updates["start_of_day_minutes"] = *req.StartOfDayMinutes
		}
		if req.EndOfDayMinutes != nil {
			updates["end_of_day_minutes"] = *req.EndOfDayMinutes
		}
		if req.Timezone != "" {
			updates["timezone"] = req.Timezone
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&settings).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// Deactivate takes a clinic out of rotation. Data is retained; the resolver
// stops routing requests to it.
func (s *TenantService) Deactivate(ctx context.Context, tenantID uuid.UUID) error {
	err := s.runner.Run(ctx, tenant.System(tenantID), func(ctx context.Context, tx *gorm.DB) error {
		result := tx.Model(&models.Tenant{}).Where("id = ?", tenantID).Update("active", false)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.NotFound("tenant")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.resolver.Deregister(tenantID)
	slog.Info("tenant deactivated", "tenant_id", tenantID)
	return nil
}
