package authkit

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/tyemirov/bookwise/internal/identity"
)

func startedService(t *testing.T, client *scriptedClient, profiles ProfileStore) *AuthService {
	t.Helper()
	service := NewAuthService(client, &recordingAssetStore{}, profiles, zaptest.NewLogger(t), nil, NewCounterMetrics(), ServiceConfig{})
	service.Start(context.Background())
	t.Cleanup(service.Close)
	return service
}

func TestAuthServiceSignInEstablishesSessionAndSyncsProfile(t *testing.T) {
	client := newScriptedClient()
	profiles := NewMemoryProfileStore()
	service := startedService(t, client, profiles)
	client.ReleaseFetch(nil, nil)

	user := testUser("reader-1", "reader@example.com", map[string]string{"user_name": "reader"})
	client.Emit(identity.EventSignedIn, testSession(user))

	waitForCondition(t, "profile to be synchronized", func() bool {
		_, exists := profiles.GetProfile(context.Background(), "reader-1")
		return exists
	})
	waitForCondition(t, "snapshot to expose the session", func() bool {
		snapshot := service.Snapshot()
		return snapshot.User != nil && snapshot.User.ID == "reader-1" && !snapshot.Initializing
	})
	if snapshot := service.Snapshot(); snapshot.Role != RoleUser {
		t.Fatalf("expected default role for an unassigned user, got %q", snapshot.Role)
	}
}

func TestAuthServiceResolvesAssignedAdminRole(t *testing.T) {
	client := newScriptedClient()
	profiles := NewMemoryProfileStore()
	profiles.SetRole("admin-1", RoleAdmin)
	service := startedService(t, client, profiles)
	client.ReleaseFetch(nil, nil)

	client.Emit(identity.EventSignedIn, testSession(testUser("admin-1", "admin@example.com", nil)))

	waitForCondition(t, "admin role to be resolved", func() bool {
		return service.Snapshot().Role == RoleAdmin
	})
}

func TestAuthServiceSupersededSyncNeverLands(t *testing.T) {
	client := newScriptedClient()
	profiles := newBlockingProfileStore()
	service := startedService(t, client, profiles)
	client.ReleaseFetch(nil, nil)

	// User A's profile write and role read stall at the store.
	upsertGate := profiles.GateUpsert("user-a")
	roleGate := profiles.GateRole("user-a")
	client.Emit(identity.EventSignedIn, testSession(testUser("user-a", "a@example.com", nil)))

	// User B becomes current while A's synchronization is still in flight.
	profiles.inner.SetRole("user-b", RoleAdmin)
	client.Emit(identity.EventSignedIn, testSession(testUser("user-b", "b@example.com", nil)))
	waitForCondition(t, "user B's admin role to land", func() bool {
		return service.Snapshot().Role == RoleAdmin
	})

	// Release A's stalled operations; the cancelled generation must not
	// write a profile row or overwrite B's role.
	close(upsertGate)
	close(roleGate)
	waitForCondition(t, "user B to remain current", func() bool {
		snapshot := service.Snapshot()
		return snapshot.User != nil && snapshot.User.ID == "user-b" && snapshot.Role == RoleAdmin
	})
	for _, upsertedID := range profiles.UpsertedIDs() {
		if upsertedID == "user-a" {
			t.Fatalf("superseded synchronization wrote a profile row for user-a")
		}
	}
}

func TestAuthServiceSignOutClearsLocallyDespiteRemoteFailure(t *testing.T) {
	client := newScriptedClient()
	client.signOutErr = errors.New("provider unreachable")
	profiles := NewMemoryProfileStore()
	service := startedService(t, client, profiles)
	client.ReleaseFetch(testSession(testUser("reader-2", "out@example.com", nil)), nil)

	waitForCondition(t, "session to establish", func() bool {
		return service.Snapshot().User != nil
	})

	cancelledContext, cancel := context.WithCancel(context.Background())
	cancel()
	service.SignOut(cancelledContext)

	snapshot := service.Snapshot()
	if snapshot.User != nil || snapshot.Session != nil {
		t.Fatalf("expected local state cleared immediately after sign-out")
	}
	waitForCondition(t, "role to reset to default", func() bool {
		return service.Snapshot().Role == RoleUser
	})
	// The remote call still runs despite the cancelled request context.
	waitForCondition(t, "remote sign-out attempt", func() bool {
		client.mutex.Lock()
		defer client.mutex.Unlock()
		return client.signOutCalls == 1
	})
}

func TestAuthServiceSignInErrorSurfaces(t *testing.T) {
	client := newScriptedClient()
	client.signInErr = identity.ErrInvalidCredentials
	service := startedService(t, client, NewMemoryProfileStore())
	client.ReleaseFetch(nil, nil)

	_, signInErr := service.SignIn(context.Background(), "who@example.com", "wrong")
	if !errors.Is(signInErr, identity.ErrInvalidCredentials) {
		t.Fatalf("expected the credential error to surface, got %v", signInErr)
	}
}

func TestAuthServiceLoginWithGoogleReturnsRedirect(t *testing.T) {
	client := newScriptedClient()
	service := startedService(t, client, NewMemoryProfileStore())
	client.ReleaseFetch(nil, nil)

	redirectURL, oauthErr := service.LoginWithGoogle(context.Background())
	if oauthErr != nil {
		t.Fatalf("unexpected oauth error: %v", oauthErr)
	}
	if redirectURL != "https://provider.example/authorize?provider=google" {
		t.Fatalf("unexpected redirect url %q", redirectURL)
	}
}
