package authkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryProfileStore is an in-memory store intended for tests and dev.
type MemoryProfileStore struct {
	mutex    sync.Mutex
	profiles map[string]Profile
}

// NewMemoryProfileStore creates an empty in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]Profile)}
}

// UpsertProfile inserts or refreshes the row keyed by id, preserving any
// previously assigned role.
func (store *MemoryProfileStore) UpsertProfile(ctx context.Context, profile Profile) error {
	if strings.TrimSpace(profile.ID) == "" {
		return fmt.Errorf("profile_store.upsert.memory: %w", ErrProfileEmptyID)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if existing, exists := store.profiles[profile.ID]; exists {
		profile.Role = existing.Role
	}
	store.profiles[profile.ID] = profile
	return nil
}

// GetProfileRole reads the stored role text for a user id.
func (store *MemoryProfileStore) GetProfileRole(ctx context.Context, userID string) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, exists := store.profiles[userID]
	if !exists {
		return "", fmt.Errorf("profile_store.role.memory: %w", ErrProfileNotFound)
	}
	return record.Role, nil
}

// GetProfile returns a stored row, for handlers and tests.
func (store *MemoryProfileStore) GetProfile(ctx context.Context, userID string) (Profile, bool) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, exists := store.profiles[userID]
	return record, exists
}

// SetRole assigns a role directly, the way an operator would out of band.
func (store *MemoryProfileStore) SetRole(userID string, role Role) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record := store.profiles[userID]
	record.ID = userID
	record.Role = string(role)
	store.profiles[userID] = record
}

// Count reports the number of stored rows.
func (store *MemoryProfileStore) Count() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.profiles)
}
