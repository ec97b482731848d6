package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/oryxhealth/clinic-backend/internal/config"
	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/models"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
	"github.com/oryxhealth/clinic-backend/internal/txn"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired refresh token")
	ErrUserInactive       = errors.New("user account is deactivated")
)

// AuthService signs in invited staff and rotates refresh tokens. There is no
// self-registration: accounts are created by StaffService invitations.
type AuthService struct {
	runner *txn.Runner
	cfg    *config.Config
}

func NewAuthService(runner *txn.Runner, cfg *config.Config) *AuthService {
	return &AuthService{runner: runner, cfg: cfg}
}

func (s *AuthService) Login(ctx context.Context, tenantID uuid.UUID, req *dto.LoginRequest) (*dto.AuthResponse, error) {
	var resp *dto.AuthResponse
	err := s.runner.Run(ctx, tenant.System(tenantID), func(ctx context.Context, tx *gorm.DB) error {
		var user models.User
		if err := tx.Scopes(tenant.ForTenant(tenantID)).Where("email = ?", req.Email).First(&user).Error; err != nil {
			return ErrInvalidCredentials
		}
		if !user.Active {
			return ErrUserInactive
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			return ErrInvalidCredentials
		}

		pair, err := s.generateTokenPair(tx, &user)
		if err != nil {
			return err
		}
		resp = pair
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *AuthService) Refresh(ctx context.Context, tenantID uuid.UUID, req *dto.RefreshRequest) (*dto.AuthResponse, error) {
	tokenHash := hashToken(req.RefreshToken)

	var resp *dto.AuthResponse
	err := s.runner.Run(ctx, tenant.System(tenantID), func(ctx context.Context, tx *gorm.DB) error {
		var stored models.RefreshToken
		err := tx.Scopes(tenant.ForTenant(tenantID)).
			Where("token_hash = ? AND revoked = ? AND expires_at > ?", tokenHash, false, time.Now()).
			First(&stored).Error
		if err != nil {
			return ErrInvalidToken
		}

		var user models.User
		if err := tx.Scopes(tenant.ForTenant(tenantID)).First(&user, "id = ?", stored.UserID).Error; err != nil {
			return ErrInvalidToken
		}
		if !user.Active {
			return ErrUserInactive
		}

		// Rotate: revoke the presented token before issuing a new pair.
		if err := tx.Model(&stored).Update("revoked", true).Error; err != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}

		pair, err := s.generateTokenPair(tx, &user)
		if err != nil {
			return err
		}
		resp = pair
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *AuthService) Logout(ctx context.Context, tenantID uuid.UUID, req *dto.LogoutRequest) error {
	tokenHash := hashToken(req.RefreshToken)
	return s.runner.Run(ctx, tenant.System(tenantID), func(ctx context.Context, tx *gorm.DB) error {
		return tx.Model(&models.RefreshToken{}).
			Scopes(tenant.ForTenant(tenantID)).
			Where("token_hash = ?", tokenHash).
			Update("revoked", true).Error
	})
}

func (s *AuthService) generateTokenPair(tx *gorm.DB, user *models.User) (*dto.AuthResponse, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":       user.ID.String(),
		"tenant_id": user.TenantID.String(),
		"role":      user.Role,
		"email":     user.Email,
		"iat":       now.Unix(),
		"exp":       now.Add(s.cfg.JWTAccessExpiry).Unix(),
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := randomToken()
	if err != nil {
		return nil, err
	}
	record := models.RefreshToken{
		ID:        uuid.New(),
		TenantID:  user.TenantID,
		UserID:    user.ID,
		TokenHash: hashToken(refreshToken),
		ExpiresAt: now.Add(s.cfg.JWTRefreshExpiry),
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &dto.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User: dto.UserResponse{
			ID:       user.ID,
			Email:    user.Email,
			FullName: user.FullName,
			Role:     user.Role,
		},
	}, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum)
}
