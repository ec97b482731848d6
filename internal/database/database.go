package database

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oryxhealth/clinic-backend/internal/config"
	"github.com/oryxhealth/clinic-backend/internal/models"
)

var DB *gorm.DB

func Connect(cfg *config.Config) error {
	var err error
	DB, err = gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	slog.Info("database connected")
	return nil
}

// Migrate runs AutoMigrate for all models.
func Migrate() error {
	return DB.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.RefreshToken{},
		&models.Subscription{},
		&models.SubscriptionEvent{},
		&models.Patient{},
		&models.Appointment{},
		&models.ClinicSettings{},
		&models.Attachment{},
		&models.Notification{},
		&models.SystemLog{},
	)
}

// tenantScopedTables carry a tenant_id column guarded by a row policy.
var tenantScopedTables = []string{
	"users",
	"refresh_tokens",
	"subscriptions",
	"subscription_events",
	"patients",
	"appointments",
	"clinic_settings",
	"attachments",
	"notifications",
}

// EnableRowPolicies installs row-level security on every tenant-scoped table.
// Policies read the transaction-local settings injected by the transaction
// runner: rows are visible and writable only when their tenant_id matches
// app.tenant_id, with the SYSTEM role passing for internal cross-checks.
// This is the isolation guarantee; application-level scopes are advisory.
func EnableRowPolicies() error {
	if DB.Dialector.Name() != "postgres" {
		return nil
	}

	for _, table := range tenantScopedTables {
		for _, stmt := range rowPolicyStatements(table) {
			if err := DB.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to install row policy on %s: %w", table, err)
			}
		}
	}

	slog.Info("row-level security policies installed", "tables", len(tenantScopedTables))
	return nil
}

// rowPolicyStatements builds the DDL installing tenant isolation on one
// table. FORCE extends the policy to the table owner: the app connects as
// the role that owns the tables (it runs the migrations), and owners bypass
// row security unless forced. The SYSTEM escape in the policy keeps
// cross-tenant internals (sweeps, signup, webhooks) working through the
// transaction runner.
func rowPolicyStatements(table string) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table),
		fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", table),
		fmt.Sprintf(`DO $$ BEGIN
			CREATE POLICY tenant_isolation ON %s
			USING (tenant_id = current_setting('app.tenant_id', true)::uuid
				OR current_setting('app.role', true) = 'SYSTEM');
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`, table),
	}
}

func Ping() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
