package authkit

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
)

type failingRoleStore struct {
	MemoryProfileStore
}

func (store *failingRoleStore) GetProfileRole(ctx context.Context, userID string) (string, error) {
	return "", errors.New("connection reset")
}

func TestResolveMissingRowDefaultsToUser(t *testing.T) {
	resolver := NewRoleResolver(NewMemoryProfileStore(), zaptest.NewLogger(t))
	if role := resolver.Resolve(context.Background(), "absent"); role != RoleUser {
		t.Fatalf("expected default role for missing row, got %q", role)
	}
}

func TestResolveQueryErrorDefaultsToUser(t *testing.T) {
	resolver := NewRoleResolver(&failingRoleStore{}, zaptest.NewLogger(t))
	if role := resolver.Resolve(context.Background(), "user-1"); role != RoleUser {
		t.Fatalf("expected default role on query failure, got %q", role)
	}
}

func TestResolveReturnsStoredAdminRole(t *testing.T) {
	store := NewMemoryProfileStore()
	store.SetRole("user-2", RoleAdmin)
	resolver := NewRoleResolver(store, zaptest.NewLogger(t))
	if role := resolver.Resolve(context.Background(), "user-2"); role != RoleAdmin {
		t.Fatalf("expected stored admin role, got %q", role)
	}
}

func TestResolveEmptyStoredRoleDefaultsToUser(t *testing.T) {
	store := NewMemoryProfileStore()
	if upsertErr := store.UpsertProfile(context.Background(), Profile{ID: "user-3", Email: "three@example.com"}); upsertErr != nil {
		t.Fatalf("unexpected upsert error: %v", upsertErr)
	}
	resolver := NewRoleResolver(store, zaptest.NewLogger(t))
	if role := resolver.Resolve(context.Background(), "user-3"); role != RoleUser {
		t.Fatalf("expected default role for empty stored value, got %q", role)
	}
}

func TestResolveNeverPersistsTheDefault(t *testing.T) {
	store := NewMemoryProfileStore()
	resolver := NewRoleResolver(store, zaptest.NewLogger(t))
	resolver.Resolve(context.Background(), "absent")
	if store.Count() != 0 {
		t.Fatalf("expected resolution to stay read-only, found %d rows", store.Count())
	}
}
