package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oryxhealth/clinic-backend/internal/domain"
	"github.com/oryxhealth/clinic-backend/internal/dto"
	"github.com/oryxhealth/clinic-backend/internal/models"
	"github.com/oryxhealth/clinic-backend/internal/quota"
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
		&models.Subscription{}, &models.User{}, &models.Patient{},
		&models.Attachment{}, &models.Notification{},
	); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	return db
}

type svcFixture struct {
	db       *gorm.DB
	runner   *txn.Runner
	governor *quota.Governor
	actor    tenant.Actor
}

func newSvcFixture(t *testing.T, mutate func(*models.Subscription)) *svcFixture {
	t.Helper()
	db := openTestDB(t)
	runner := txn.NewRunner(db, 2, time.Millisecond)
	governor := quota.NewGovernor(runner)

	sub := &models.Subscription{
		ID:                 uuid.New(),
		TenantID:           uuid.New(),
		PlanTier:           models.TierBasic,
		Status:             models.StatusActive,
		SeatsMax:           2,
		PatientsMax:        3,
		StorageMaxBytes:    1000,
		NotificationsMax:   10,
		CurrentPeriodStart: time.Now().AddDate(0, 0, -10),
		CurrentPeriodEnd:   time.Now().AddDate(0, 0, 20),
	}
	if mutate != nil {
		mutate(sub)
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	return &svcFixture{
		db:       db,
		runner:   runner,
		governor: governor,
		actor:    tenant.Actor{TenantID: sub.TenantID, UserID: uuid.New(), Role: tenant.RoleAdmin},
	}
}

func (f *svcFixture) seatsUsed(t *testing.T) int {
	t.Helper()
	var sub models.Subscription
	if err := f.db.First(&sub, "tenant_id = ?", f.actor.TenantID).Error; err != nil {
		t.Fatalf("failed to read subscription: %v", err)
	}
	return sub.SeatsUsed
}

func TestStaffInvite(t *testing.T) {
	t.Run("psychologist invite reserves a seat", func(t *testing.T) {
		f := newSvcFixture(t, nil)
		svc := NewStaffService(f.runner, f.governor)

		resp, err := svc.Invite(context.Background(), f.actor, &dto.StaffInviteRequest{
			Email: "doc@clinic.test", FullName: "Doc", Role: models.RolePsychologist,
		})
		if err != nil {
			t.Fatalf("Invite failed: %v", err)
		}
		if resp.TemporaryPassword == "" {
			t.Error("no temporary password returned")
		}
		if f.seatsUsed(t) != 1 {
			t.Errorf("seats_used = %d, want 1", f.seatsUsed(t))
		}

		var user models.User
		if err := f.db.First(&user, "email = ?", "doc@clinic.test").Error; err != nil {
			t.Fatalf("user row missing: %v", err)
		}
		if user.Password == resp.TemporaryPassword {
			t.Error("password stored in plain text")
		}
	})

	t.Run("assistant invite does not consume a seat", func(t *testing.T) {
		f := newSvcFixture(t, nil)
		svc := NewStaffService(f.runner, f.governor)

		if _, err := svc.Invite(context.Background(), f.actor, &dto.StaffInviteRequest{
			Email: "front@clinic.test", FullName: "Front Desk", Role: models.RoleAssistant,
		}); err != nil {
			t.Fatalf("Invite failed: %v", err)
		}
		if f.seatsUsed(t) != 0 {
			t.Errorf("seats_used = %d, want 0", f.seatsUsed(t))
		}
	})

	t.Run("seat limit denies the invite atomically", func(t *testing.T) {
		f := newSvcFixture(t, func(s *models.Subscription) {
			s.SeatsMax = 1
			s.SeatsUsed = 1
		})
		svc := NewStaffService(f.runner, f.governor)

		_, err := svc.Invite(context.Background(), f.actor, &dto.StaffInviteRequest{
			Email: "doc@clinic.test", FullName: "Doc", Role: models.RolePsychologist,
		})
		denial, ok := domain.AsDenial(err)
		if !ok || denial.Code != domain.CodeSeatLimitReached {
			t.Fatalf("expected SEAT_LIMIT_REACHED, got %v", err)
		}

		var users int64
		f.db.Model(&models.User{}).Count(&users)
		if users != 0 {
			t.Errorf("denied invite created %d users", users)
		}
		if f.seatsUsed(t) != 1 {
			t.Errorf("seats_used = %d, want 1", f.seatsUsed(t))
		}
	})

	t.Run("duplicate email rolls back the seat reservation", func(t *testing.T) {
		f := newSvcFixture(t, nil)
		svc := NewStaffService(f.runner, f.governor)

		if _, err := svc.Invite(context.Background(), f.actor, &dto.StaffInviteRequest{
			Email: "doc@clinic.test", FullName: "Doc", Role: models.RolePsychologist,
		}); err != nil {
			t.Fatalf("first Invite failed: %v", err)
		}

		_, err := svc.Invite(context.Background(), f.actor, &dto.StaffInviteRequest{
			Email: "doc@clinic.test", FullName: "Doc Again", Role: models.RolePsychologist,
		})
		if !errors.Is(err, ErrEmailTaken) {
			t.Fatalf("expected ErrEmailTaken, got %v", err)
		}
		if f.seatsUsed(t) != 1 {
			t.Errorf("seats_used = %d, want 1 after rollback", f.seatsUsed(t))
		}
	})
}

func TestStaffDeactivate(t *testing.T) {
	f := newSvcFixture(t, nil)
	svc := NewStaffService(f.runner, f.governor)

	resp, err := svc.Invite(context.Background(), f.actor, &dto.StaffInviteRequest{
		Email: "doc@clinic.test", FullName: "Doc", Role: models.RolePsychologist,
	})
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	if err := svc.Deactivate(context.Background(), f.actor, resp.User.ID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if f.seatsUsed(t) != 0 {
		t.Errorf("seats_used = %d, want 0 after deactivation", f.seatsUsed(t))
	}

	// Deactivating again must not release a second seat.
	if err := svc.Deactivate(context.Background(), f.actor, resp.User.ID); err != nil {
		t.Fatalf("repeat Deactivate failed: %v", err)
	}
	if f.seatsUsed(t) != 0 {
		t.Errorf("seats_used = %d, want 0", f.seatsUsed(t))
	}
}

func TestStaffChangeRole(t *testing.T) {
	f := newSvcFixture(t, nil)
	svc := NewStaffService(f.runner, f.governor)

	resp, err := svc.Invite(context.Background(), f.actor, &dto.StaffInviteRequest{
		Email: "front@clinic.test", FullName: "Front Desk", Role: models.RoleAssistant,
	})
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	if err := svc.ChangeRole(context.Background(), f.actor, resp.User.ID, models.RolePsychologist); err != nil {
		t.Fatalf("ChangeRole failed: %v", err)
	}
	if f.seatsUsed(t) != 1 {
		t.Errorf("seats_used = %d, want 1 after promotion", f.seatsUsed(t))
	}

	if err := svc.ChangeRole(context.Background(), f.actor, resp.User.ID, models.RoleAssistant); err != nil {
		t.Fatalf("ChangeRole failed: %v", err)
	}
	if f.seatsUsed(t) != 0 {
		t.Errorf("seats_used = %d, want 0 after demotion", f.seatsUsed(t))
	}

	if err := svc.ChangeRole(context.Background(), f.actor, resp.User.ID, "JANITOR"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestPatientLifecycle(t *testing.T) {
	f := newSvcFixture(t, func(s *models.Subscription) {
		s.PatientsMax = 1
	})
	svc := NewPatientService(f.runner, f.governor)

	patient, err := svc.Register(context.Background(), f.actor, &dto.PatientCreateRequest{FullName: "Pat"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err = svc.Register(context.Background(), f.actor, &dto.PatientCreateRequest{FullName: "Too Many"})
	denial, ok := domain.AsDenial(err)
	if !ok || denial.Code != domain.CodePatientLimitReached {
		t.Fatalf("expected PATIENT_LIMIT_REACHED, got %v", err)
	}

	if err := svc.Archive(context.Background(), f.actor, patient.ID); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if _, err := svc.Register(context.Background(), f.actor, &dto.PatientCreateRequest{FullName: "Next"}); err != nil {
		t.Fatalf("Register after archive failed: %v", err)
	}

	// The slot freed by archiving is taken again; reactivation must be denied.
	err = svc.Reactivate(context.Background(), f.actor, patient.ID)
	denial, ok = domain.AsDenial(err)
	if !ok || denial.Code != domain.CodePatientLimitReached {
		t.Fatalf("expected PATIENT_LIMIT_REACHED on reactivate, got %v", err)
	}
}

func TestAttachmentStorageAccounting(t *testing.T) {
	f := newSvcFixture(t, func(s *models.Subscription) {
		s.StorageMaxBytes = 1000
		s.PatientsMax = 10
	})
	patients := NewPatientService(f.runner, f.governor)
	svc := NewAttachmentService(f.runner, f.governor)

	patient, err := patients.Register(context.Background(), f.actor, &dto.PatientCreateRequest{FullName: "Pat"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	att, err := svc.Create(context.Background(), f.actor, &dto.AttachmentCreateRequest{
		PatientID: patient.ID, FileName: "intake.pdf", ContentType: "application/pdf", SizeBytes: 700,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = svc.Create(context.Background(), f.actor, &dto.AttachmentCreateRequest{
		PatientID: patient.ID, FileName: "scan.pdf", ContentType: "application/pdf", SizeBytes: 400,
	})
	denial, ok := domain.AsDenial(err)
	if !ok || denial.Code != domain.CodeStorageLimitReached {
		t.Fatalf("expected STORAGE_LIMIT_REACHED, got %v", err)
	}

	if err := svc.Delete(context.Background(), f.actor, att.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	var sub models.Subscription
	f.db.First(&sub, "tenant_id = ?", f.actor.TenantID)
	if sub.StorageUsedBytes != 0 {
		t.Errorf("storage_used_bytes = %d, want 0 after delete", sub.StorageUsedBytes)
	}
}
