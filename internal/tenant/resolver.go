package tenant

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oryxhealth/clinic-backend/internal/models"
)

// Resolver is an in-memory cache of active tenants keyed by id and slug,
// backed by the database. The middleware consults it on every request; signup
// registers new tenants without a reload.
type Resolver struct {
	db     *gorm.DB
	mu     sync.RWMutex
	byID   map[uuid.UUID]*models.Tenant
	bySlug map[string]*models.Tenant
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{
		db:     db,
		byID:   make(map[uuid.UUID]*models.Tenant),
		bySlug: make(map[string]*models.Tenant),
	}
}

// Load replaces the cache with all active tenants from the database.
func (r *Resolver) Load() error {
	var tenants []models.Tenant
	if err := r.db.Where("active = ?", true).Find(&tenants).Error; err != nil {
		return fmt.Errorf("failed to load tenants: %w", err)
	}

	byID := make(map[uuid.UUID]*models.Tenant, len(tenants))
	bySlug := make(map[string]*models.Tenant, len(tenants))
	for i := range tenants {
		t := &tenants[i]
		byID[t.ID] = t
		bySlug[t.Slug] = t
	}

	r.mu.Lock()
	r.byID = byID
	r.bySlug = bySlug
	r.mu.Unlock()
	return nil
}

// Register adds or replaces a tenant in the cache.
func (r *Resolver) Register(t *models.Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = t
	r.bySlug[t.Slug] = t
}

// Deregister removes a tenant from the cache (operator deactivation).
func (r *Resolver) Deregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[id]; ok {
		delete(r.bySlug, t.Slug)
		delete(r.byID, id)
	}
}

func (r *Resolver) Get(id uuid.UUID) *models.Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

func (r *Resolver) GetBySlug(slug string) *models.Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bySlug[slug]
}

func (r *Resolver) Exists(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

func (r *Resolver) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
