package tenant

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ForTenant returns a GORM scope that filters by tenant_id. The storage-layer
// row policies are the isolation guarantee; this scope keeps query plans
// narrow and makes intent explicit in application code.
func ForTenant(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}
