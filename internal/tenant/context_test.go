package tenant

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestActorFromClaims(t *testing.T) {
	userID := uuid.New()
	tenantID := uuid.New()

	valid := jwt.MapClaims{
		"sub":       userID.String(),
		"tenant_id": tenantID.String(),
		"role":      "PSYCHOLOGIST",
	}

	t.Run("valid claims", func(t *testing.T) {
		actor, err := ActorFromClaims(valid)
		if err != nil {
			t.Fatalf("ActorFromClaims failed: %v", err)
		}
		if actor.UserID != userID || actor.TenantID != tenantID || actor.Role != RolePsychologist {
			t.Errorf("actor = %+v", actor)
		}
	})

	t.Run("missing tenant", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": userID.String(), "role": "ADMIN"}
		if _, err := ActorFromClaims(claims); err == nil {
			t.Error("expected error for missing tenant_id")
		}
	})

	t.Run("malformed sub", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": "nope", "tenant_id": tenantID.String(), "role": "ADMIN"}
		if _, err := ActorFromClaims(claims); err == nil {
			t.Error("expected error for malformed sub")
		}
	})

	t.Run("system role is never accepted from a token", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": userID.String(), "tenant_id": tenantID.String(), "role": "SYSTEM"}
		if _, err := ActorFromClaims(claims); err == nil {
			t.Error("expected error for SYSTEM role claim")
		}
	})

	t.Run("unknown role", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": userID.String(), "tenant_id": tenantID.String(), "role": "JANITOR"}
		if _, err := ActorFromClaims(claims); err == nil {
			t.Error("expected error for unknown role")
		}
	})
}

func TestActorContextRoundTrip(t *testing.T) {
	actor := Actor{TenantID: uuid.New(), UserID: uuid.New(), Role: RoleAdmin}
	ctx := WithActor(context.Background(), actor)

	got, ok := ActorFromContext(ctx)
	if !ok || got != actor {
		t.Errorf("got %+v, ok=%v", got, ok)
	}

	if _, ok := ActorFromContext(context.Background()); ok {
		t.Error("empty context yielded an actor")
	}
}

func TestSystemActor(t *testing.T) {
	tenantID := uuid.New()
	actor := System(tenantID)
	if actor.TenantID != tenantID || actor.Role != RoleSystem {
		t.Errorf("actor = %+v", actor)
	}
	if actor.UserID != uuid.Nil {
		t.Errorf("system actor has a user id: %v", actor.UserID)
	}
}
