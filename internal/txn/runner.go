package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/oryxhealth/clinic-backend/internal/domain"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
)

type ctxKey int

const activeTxKey ctxKey = iota

// Fn is a unit of work executed inside one transaction. The tx handle is
// already scoped to the actor's tenant via session configuration.
type Fn func(ctx context.Context, tx *gorm.DB) error

// Runner wraps mutations in a transaction carrying the actor context.
// It applies the actor as session-local configuration before any domain
// statement, commits or rolls back atomically, and retries the whole unit
// of work on serialization conflicts with jittered backoff.
type Runner struct {
	db          *gorm.DB
	maxRetries  int
	backoffBase time.Duration
}

// NewRunner creates a Runner. maxRetries bounds serialization-conflict
// retries (attempts = maxRetries + 1); backoffBase is the first retry delay,
// doubled per attempt with up to 50% jitter.
func NewRunner(db *gorm.DB, maxRetries int, backoffBase time.Duration) *Runner {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoffBase <= 0 {
		backoffBase = 10 * time.Millisecond
	}
	return &Runner{db: db, maxRetries: maxRetries, backoffBase: backoffBase}
}

// FromContext returns the active transaction handle, if the context is
// already inside a Run call.
func FromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(activeTxKey).(*gorm.DB)
	return tx, ok
}

// Run executes fn inside a transaction scoped to the actor. A nested Run
// reuses the already-open transaction instead of opening a second one.
// Denials and other terminal errors roll back and propagate unchanged;
// only serialization conflicts are retried.
func (r *Runner) Run(ctx context.Context, actor tenant.Actor, fn Fn) error {
	if tx, ok := FromContext(ctx); ok {
		return fn(ctx, tx)
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, attempt); err != nil {
				return err
			}
		}

		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := applySessionConfig(tx, actor); err != nil {
				return fmt.Errorf("failed to apply session config: %w", err)
			}
			return fn(context.WithValue(ctx, activeTxKey, tx), tx)
		}, r.txOptions()...)

		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", domain.ErrTimeout, ctxErr)
		}
		if !IsSerializationFailure(err) {
			return err
		}

		lastErr = err
		slog.Debug("serialization conflict, retrying transaction",
			"tenant_id", actor.TenantID, "attempt", attempt+1)
	}

	return fmt.Errorf("%w: %v", domain.ErrContention, lastErr)
}

func (r *Runner) txOptions() []*sql.TxOptions {
	// Serializable isolation backs the read-check-then-insert invariant for
	// bookings. SQLite (tests) serializes writers on its own and rejects
	// explicit isolation levels.
	if r.db.Dialector.Name() == "postgres" {
		return []*sql.TxOptions{{Isolation: sql.LevelSerializable}}
	}
	return nil
}

func (r *Runner) sleep(ctx context.Context, attempt int) error {
	backoff := r.backoffBase << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
	select {
	case <-time.After(backoff + jitter):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
	}
}

// applySessionConfig injects the actor as transaction-local settings read by
// the row-level security policies. Settings die with the transaction
// (set_config(..., true)), so pooled connections never leak a tenant.
func applySessionConfig(tx *gorm.DB, actor tenant.Actor) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(
		"SELECT set_config('app.tenant_id', ?, true), set_config('app.user_id', ?, true), set_config('app.role', ?, true)",
		actor.TenantID.String(), actor.UserID.String(), string(actor.Role),
	).Error
}

// WithElevatedRole re-executes fn under the SYSTEM role within the already
// open transaction, then restores the caller's role before returning. It
// exists for storage-policy gaps where a counter row is not writable by the
// caller's role; the conditional-update checks themselves still run against
// real current values. Internal to the quota package, never exposed to
// callers; every use is audited.
func WithElevatedRole(ctx context.Context, actor tenant.Actor, reason string, fn func(tx *gorm.DB) error) error {
	tx, ok := FromContext(ctx)
	if !ok {
		return errors.New("role elevation requires an active transaction")
	}

	slog.Info("elevated role statement",
		"tenant_id", actor.TenantID, "user_id", actor.UserID,
		"from_role", string(actor.Role), "reason", reason)

	if err := setRole(tx, tenant.RoleSystem); err != nil {
		return err
	}
	fnErr := fn(tx)
	if err := setRole(tx, actor.Role); err != nil {
		// A failed restore poisons the transaction; abort it rather than
		// run any later statement under SYSTEM.
		return fmt.Errorf("failed to restore role after elevation: %w", err)
	}
	return fnErr
}

func setRole(tx *gorm.DB, role tenant.Role) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT set_config('app.role', ?, true)", string(role)).Error
}

// IsSerializationFailure reports whether err is a store-level serialization
// conflict (SQLSTATE 40001) or deadlock (40P01) that warrants a retry of the
// whole unit of work.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
