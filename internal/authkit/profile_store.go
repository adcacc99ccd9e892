package authkit

import (
	"context"
	"errors"
)

var (
	// ErrProfileNotFound indicates no profile row exists for the user id.
	ErrProfileNotFound = errors.New("profile_store.not_found")
	// ErrProfileEmptyID indicates an operation with an empty profile id.
	ErrProfileEmptyID = errors.New("profile_store.empty_id")
)

// ProfileStore persists profile rows keyed by user id. Upserts are
// last-writer-wins at row granularity; the store never deletes rows.
type ProfileStore interface {
	// UpsertProfile inserts the row or, on id conflict, refreshes every
	// field except the role. Repeated application is idempotent.
	UpsertProfile(ctx context.Context, profile Profile) error
	// GetProfileRole returns the stored role text for the user id, or
	// ErrProfileNotFound. Resolution is read-only; it never creates rows.
	GetProfileRole(ctx context.Context, userID string) (string, error)
}
