package authkit

import (
	"context"

	"go.uber.org/zap"
)

// RoleResolver reads the authorization role for a user id. Resolution is
// strictly read-only: the default is never persisted as a side effect.
type RoleResolver struct {
	profiles ProfileStore
	logger   *zap.Logger
}

// NewRoleResolver constructs a resolver.
func NewRoleResolver(profiles ProfileStore, logger *zap.Logger) *RoleResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleResolver{profiles: profiles, logger: logger}
}

// Resolve returns the stored role, or RoleUser when the row is missing, the
// stored value is empty, or the query fails. Collapsing query errors into the
// default means a transient store failure momentarily demotes privileged
// users; that is the safe direction, and callers re-resolve on every session
// change.
func (resolver *RoleResolver) Resolve(ctx context.Context, userID string) Role {
	storedRole, queryErr := resolver.profiles.GetProfileRole(ctx, userID)
	if queryErr != nil {
		resolver.logger.Debug("role resolution fell back to default",
			zap.String("code", "role_resolver.fallback"),
			zap.String("user_id", userID),
			zap.Error(queryErr))
		return RoleUser
	}
	if storedRole == "" {
		return RoleUser
	}
	return ParseRole(storedRole)
}
