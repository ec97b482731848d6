package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/oryxhealth/clinic-backend/internal/domain"
	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/models"
	"github.com/oryxhealth/clinic-backend/internal/quota"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
	"github.com/oryxhealth/clinic-backend/internal/txn"
)

var (
	ErrEmailTaken  = errors.New("email already registered in this clinic")
	ErrInvalidRole = errors.New("invalid staff role")
)

// StaffService manages clinic staff. Inviting or re-activating a
// psychologist reserves a seat through the quota governor inside the same
// transaction that creates or updates the user, so a failed reservation
// leaves no partial state.
type StaffService struct {
	runner   *txn.Runner
	governor *quota.Governor
}

func NewStaffService(runner *txn.Runner, governor *quota.Governor) *StaffService {
	return &StaffService{runner: runner, governor: governor}
}

// Invite creates a staff account with a generated temporary password.
func (s *StaffService) Invite(ctx context.Context, actor tenant.Actor, req *dto.StaffInviteRequest) (*dto.StaffInviteResponse, error) {
	if !validRole(req.Role) {
		return nil, ErrInvalidRole
	}

	var resp *dto.StaffInviteResponse
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		var existing models.User
		err := tx.Scopes(tenant.ForTenant(actor.TenantID)).Where("email = ?", req.Email).First(&existing).Error
		if err == nil {
			return ErrEmailTaken
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if req.Role == models.RolePsychologist {
			if err := s.governor.ReserveSeat(ctx, actor); err != nil {
				return err
			}
		}

		tempPassword, err := randomPassword()
		if err != nil {
			return err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		user := models.User{
			ID:       uuid.New(),
			TenantID: actor.TenantID,
			Email:    req.Email,
			Password: string(hash),
			FullName: req.FullName,
			Role:     req.Role,
			Active:   true,
		}
		if err := tx.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to create staff member: %w", err)
		}

		resp = &dto.StaffInviteResponse{
			User: dto.UserResponse{
				ID:       user.ID,
				Email:    user.Email,
				FullName: user.FullName,
				Role:     user.Role,
			},
			TemporaryPassword: tempPassword,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Deactivate disables a staff account, releasing its seat if the member was
// an active psychologist.
func (s *StaffService) Deactivate(ctx context.Context, actor tenant.Actor, userID uuid.UUID) error {
	return s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		user, err := s.loadUser(tx, actor.TenantID, userID)
		if err != nil {
			return err
		}
		if !user.Active {
			return nil
		}

		if err := tx.Model(user).Update("active", false).Error; err != nil {
			return err
		}
		if user.Role == models.RolePsychologist {
			return s.governor.ReleaseSeat(ctx, actor)
		}
		return nil
	})
}

// ChangeRole switches a staff member's role, reserving or releasing a seat
// when the PSYCHOLOGIST role is entered or left.
func (s *StaffService) ChangeRole(ctx context.Context, actor tenant.Actor, userID uuid.UUID, newRole string) error {
	if !validRole(newRole) {
		return ErrInvalidRole
	}
	return s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		user, err := s.loadUser(tx, actor.TenantID, userID)
		if err != nil {
			return err
		}
		if user.Role == newRole {
			return nil
		}

		if user.Active {
			entering := newRole == models.RolePsychologist
			leaving := user.Role == models.RolePsychologist
			if entering {
				if err := s.governor.ReserveSeat(ctx, actor); err != nil {
					return err
				}
			}
			if leaving {
				if err := s.governor.ReleaseSeat(ctx, actor); err != nil {
					return err
				}
			}
		}

		return tx.Model(user).Update("role", newRole).Error
	})
}

// List returns the clinic's staff members.
func (s *StaffService) List(ctx context.Context, actor tenant.Actor) ([]dto.UserResponse, error) {
	var out []dto.UserResponse
	err := s.runner.Run(ctx, actor, func(ctx context.Context, tx *gorm.DB) error {
		var users []models.User
		if err := tx.Scopes(tenant.ForTenant(actor.TenantID)).Order("created_at ASC").Find(&users).Error; err != nil {
			return err
		}
		out = make([]dto.UserResponse, 0, len(users))
		for _, u := range users {
			out = append(out, dto.UserResponse{
				ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *StaffService) loadUser(tx *gorm.DB, tenantID, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := tx.Scopes(tenant.ForTenant(tenantID)).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFound("staff member")
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func validRole(role string) bool {
	switch role {
	case models.RoleAdmin, models.RolePsychologist, models.RoleAssistant:
		return true
	}
	return false
}

func randomPassword() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
