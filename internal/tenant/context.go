package tenant

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role is a staff role carried in the actor context. RoleSystem is reserved
// for internal cross-checks (quota counter updates under row policies) and is
// never issued to a caller.
type Role string

const (
	RoleAdmin        Role = "ADMIN"
	RolePsychologist Role = "PSYCHOLOGIST"
	RoleAssistant    Role = "ASSISTANT"
	RoleSystem       Role = "SYSTEM"
)

// Actor is the immutable per-request identity bundle. It is passed explicitly
// through every call and injected into each transaction as session
// configuration so storage-level row policies scope every statement to
// TenantID.
type Actor struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	Role     Role
}

// System returns the internal actor used by background sweeps for a tenant.
func System(tenantID uuid.UUID) Actor {
	return Actor{TenantID: tenantID, Role: RoleSystem}
}

type ctxKey int

const actorKey ctxKey = iota

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext extracts the actor from a context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}

// LocalsActorKey is the Fiber locals key set by the actor middleware.
const LocalsActorKey = "actor"

// ActorFromFiber extracts the actor placed in Fiber locals by the middleware.
func ActorFromFiber(c *fiber.Ctx) (Actor, error) {
	if a, ok := c.Locals(LocalsActorKey).(Actor); ok {
		return a, nil
	}
	return Actor{}, errors.New("no actor in request context")
}

// ActorFromClaims builds an actor from verified JWT claims.
func ActorFromClaims(claims jwt.MapClaims) (Actor, error) {
	sub, _ := claims["sub"].(string)
	tid, _ := claims["tenant_id"].(string)
	role, _ := claims["role"].(string)

	userID, err := uuid.Parse(sub)
	if err != nil {
		return Actor{}, errors.New("missing or invalid sub claim")
	}
	tenantID, err := uuid.Parse(tid)
	if err != nil {
		return Actor{}, errors.New("missing or invalid tenant_id claim")
	}
	switch Role(role) {
	case RoleAdmin, RolePsychologist, RoleAssistant:
	default:
		return Actor{}, errors.New("missing or invalid role claim")
	}
	return Actor{TenantID: tenantID, UserID: userID, Role: Role(role)}, nil
}
