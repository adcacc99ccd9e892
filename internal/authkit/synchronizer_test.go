package authkit

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fixedClock struct {
	instant time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.instant
}

func TestSyncWritesDerivedProfile(t *testing.T) {
	store := NewMemoryProfileStore()
	instant := time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)
	synchronizer := NewProfileSynchronizer(store, zaptest.NewLogger(t), fixedClock{instant: instant})

	user := testUser("user-7", "reader@example.com", map[string]string{
		"user_name":  "reader",
		"full_name":  "Reader Example",
		"avatar_url": "https://assets.example/avatars/user-7.png",
	})
	synchronizer.Sync(context.Background(), user)

	profile, exists := store.GetProfile(context.Background(), "user-7")
	if !exists {
		t.Fatalf("expected a profile row for user-7")
	}
	if profile.Email != "reader@example.com" || profile.Username != "reader" || profile.FullName != "Reader Example" {
		t.Fatalf("unexpected derived fields: %+v", profile)
	}
	if profile.AvatarURL != "https://assets.example/avatars/user-7.png" {
		t.Fatalf("unexpected avatar url %q", profile.AvatarURL)
	}
	if !profile.LastLoginAt.Equal(instant) {
		t.Fatalf("expected last login %v, got %v", instant, profile.LastLoginAt)
	}
}

func TestSyncIsIdempotentAndRefreshesLastLogin(t *testing.T) {
	store := NewMemoryProfileStore()
	firstInstant := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	secondInstant := firstInstant.Add(45 * time.Minute)

	user := testUser("user-8", "repeat@example.com", map[string]string{"user_name": "repeat"})
	NewProfileSynchronizer(store, zaptest.NewLogger(t), fixedClock{instant: firstInstant}).Sync(context.Background(), user)
	NewProfileSynchronizer(store, zaptest.NewLogger(t), fixedClock{instant: secondInstant}).Sync(context.Background(), user)

	if store.Count() != 1 {
		t.Fatalf("expected one row after repeated syncs, got %d", store.Count())
	}
	profile, _ := store.GetProfile(context.Background(), "user-8")
	if !profile.LastLoginAt.Equal(secondInstant) {
		t.Fatalf("expected refreshed last login %v, got %v", secondInstant, profile.LastLoginAt)
	}
}

func TestSyncPreservesAssignedRole(t *testing.T) {
	store := NewMemoryProfileStore()
	store.SetRole("user-9", RoleAdmin)

	user := testUser("user-9", "admin@example.com", map[string]string{"user_name": "admin"})
	NewProfileSynchronizer(store, zaptest.NewLogger(t), nil).Sync(context.Background(), user)

	role, roleErr := store.GetProfileRole(context.Background(), "user-9")
	if roleErr != nil {
		t.Fatalf("unexpected role read error: %v", roleErr)
	}
	if role != string(RoleAdmin) {
		t.Fatalf("expected admin role to survive sync, got %q", role)
	}
}

func TestSyncCancelledContextWritesNothing(t *testing.T) {
	store := NewMemoryProfileStore()
	synchronizer := NewProfileSynchronizer(store, zaptest.NewLogger(t), nil)

	cancelledContext, cancel := context.WithCancel(context.Background())
	cancel()
	synchronizer.Sync(cancelledContext, testUser("user-10", "late@example.com", nil))

	if store.Count() != 0 {
		t.Fatalf("expected no rows from a cancelled sync, got %d", store.Count())
	}
}

func TestSyncNilUserIsNoOp(t *testing.T) {
	store := NewMemoryProfileStore()
	NewProfileSynchronizer(store, zaptest.NewLogger(t), nil).Sync(context.Background(), nil)
	if store.Count() != 0 {
		t.Fatalf("expected no rows for a nil user, got %d", store.Count())
	}
}

func TestDeriveUsernameFallbackOrder(t *testing.T) {
	testCases := []struct {
		name     string
		metadata map[string]string
		email    string
		expected string
	}{
		{name: "user_name wins", metadata: map[string]string{"user_name": "alpha", "full_name": "Beta", "name": "Gamma"}, email: "x@example.com", expected: "alpha"},
		{name: "empty user_name falls to full_name", metadata: map[string]string{"user_name": "", "full_name": "Jane Doe"}, email: "jane@example.com", expected: "Jane Doe"},
		{name: "name before email", metadata: map[string]string{"name": "Gamma"}, email: "x@example.com", expected: "Gamma"},
		{name: "email local part", metadata: map[string]string{}, email: "jane@example.com", expected: "jane"},
		{name: "whitespace-only values skipped", metadata: map[string]string{"user_name": "   "}, email: "pad@example.com", expected: "pad"},
		{name: "nothing usable", metadata: map[string]string{}, email: "", expected: ""},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			derived := DeriveUsername(testUser("id", testCase.email, testCase.metadata))
			if derived != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, derived)
			}
		})
	}
}

func TestDeriveFullNameFallbackOrder(t *testing.T) {
	user := testUser("id", "x@example.com", map[string]string{"user_name": "handle", "name": "Display Name"})
	if derived := DeriveFullName(user); derived != "Display Name" {
		t.Fatalf("expected name before user_name, got %q", derived)
	}
	user = testUser("id", "x@example.com", map[string]string{"user_name": "handle"})
	if derived := DeriveFullName(user); derived != "handle" {
		t.Fatalf("expected user_name fallback, got %q", derived)
	}
}

func TestDeriveAvatarURLPrefersAvatarURLOverPicture(t *testing.T) {
	user := testUser("id", "x@example.com", map[string]string{
		"avatar_url": "https://assets.example/a.png",
		"picture":    "https://assets.example/p.png",
	})
	if derived := DeriveAvatarURL(user); derived != "https://assets.example/a.png" {
		t.Fatalf("expected avatar_url to win, got %q", derived)
	}
	user = testUser("id", "x@example.com", map[string]string{"picture": "https://assets.example/p.png"})
	if derived := DeriveAvatarURL(user); derived != "https://assets.example/p.png" {
		t.Fatalf("expected picture fallback, got %q", derived)
	}
}
