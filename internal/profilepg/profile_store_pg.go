package profilepg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tyemirov/bookwise/internal/authkit"
)

// PostgresProfileStore persists profile rows in PostgreSQL.
type PostgresProfileStore struct {
	pool *pgxpool.Pool
}

// NewPostgresProfileStore constructs a Postgres store.
func NewPostgresProfileStore(pool *pgxpool.Pool) *PostgresProfileStore {
	return &PostgresProfileStore{pool: pool}
}

// UpsertProfile inserts the row or refreshes it on id conflict. The role
// column is left untouched on conflict; roles are assigned out of band.
func (store *PostgresProfileStore) UpsertProfile(ctx context.Context, profile authkit.Profile) error {
	if profile.ID == "" {
		return fmt.Errorf("profile_store.upsert.pg: %w", authkit.ErrProfileEmptyID)
	}
	_, execErr := store.pool.Exec(ctx, `
INSERT INTO profiles (id, email, username, full_name, avatar_url, role, last_login_at)
VALUES ($1, $2, $3, $4, $5, '', $6)
ON CONFLICT (id) DO UPDATE SET
    email = EXCLUDED.email,
    username = EXCLUDED.username,
    full_name = EXCLUDED.full_name,
    avatar_url = EXCLUDED.avatar_url,
    last_login_at = EXCLUDED.last_login_at
`, profile.ID, profile.Email, profile.Username, profile.FullName, profile.AvatarURL, profile.LastLoginAt)
	if execErr != nil {
		return fmt.Errorf("profile_store.upsert.pg: %w", execErr)
	}
	return nil
}

// GetProfileRole reads the stored role text for a user id.
func (store *PostgresProfileStore) GetProfileRole(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("profile_store.role.pg: %w", authkit.ErrProfileEmptyID)
	}
	var roleValue string
	row := store.pool.QueryRow(ctx, `SELECT role FROM profiles WHERE id = $1`, userID)
	if scanErr := row.Scan(&roleValue); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return "", fmt.Errorf("profile_store.role.pg: %w", authkit.ErrProfileNotFound)
		}
		return "", fmt.Errorf("profile_store.role.pg: %w", scanErr)
	}
	return roleValue, nil
}
