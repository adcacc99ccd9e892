package authkit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/bookwise/internal/identity"
)

// Metadata keys read when deriving profile fields.
const (
	metadataKeyUserName  = "user_name"
	metadataKeyFullName  = "full_name"
	metadataKeyName      = "name"
	metadataKeyAvatarURL = "avatar_url"
	metadataKeyPicture   = "picture"
)

// ProfileSynchronizer mirrors identity-provider user records into the profile
// store. It is idempotent: repeated runs for the same user refresh the same
// row, keyed by user id.
type ProfileSynchronizer struct {
	profiles ProfileStore
	logger   *zap.Logger
	clock    Clock
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewProfileSynchronizer constructs a synchronizer.
func NewProfileSynchronizer(profiles ProfileStore, logger *zap.Logger, clock Clock) *ProfileSynchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &ProfileSynchronizer{profiles: profiles, logger: logger, clock: clock}
}

// Sync upserts the profile row for the supplied user. The context doubles as
// the cancellation token: once it is cancelled no write is issued, so a run
// for a superseded user can never overwrite the newer user's state. Failure
// is logged only; the session remains the source of truth for "is logged in".
func (synchronizer *ProfileSynchronizer) Sync(ctx context.Context, user *identity.User) {
	if user == nil {
		return
	}
	profile := Profile{
		ID:          user.ID,
		Email:       user.Email,
		Username:    DeriveUsername(user),
		FullName:    DeriveFullName(user),
		AvatarURL:   DeriveAvatarURL(user),
		LastLoginAt: synchronizer.clock.Now(),
	}

	// Cancellation check before the write, not after: a cancelled run must
	// not reach the store at all.
	if ctx.Err() != nil {
		return
	}
	if upsertErr := synchronizer.profiles.UpsertProfile(ctx, profile); upsertErr != nil {
		if ctx.Err() != nil {
			return
		}
		synchronizer.logger.Warn("profile sync failed",
			zap.String("code", "profile_sync.upsert"),
			zap.String("user_id", user.ID),
			zap.Error(upsertErr))
	}
}

// DeriveUsername picks the first non-empty of user_name, full_name, name,
// then the local part of the email.
func DeriveUsername(user *identity.User) string {
	if value := metadataValue(user, metadataKeyUserName); value != "" {
		return value
	}
	if value := metadataValue(user, metadataKeyFullName); value != "" {
		return value
	}
	if value := metadataValue(user, metadataKeyName); value != "" {
		return value
	}
	if localPart, _, found := strings.Cut(user.Email, "@"); found && localPart != "" {
		return localPart
	}
	return ""
}

// DeriveFullName picks the first non-empty of full_name, name, user_name.
func DeriveFullName(user *identity.User) string {
	if value := metadataValue(user, metadataKeyFullName); value != "" {
		return value
	}
	if value := metadataValue(user, metadataKeyName); value != "" {
		return value
	}
	return metadataValue(user, metadataKeyUserName)
}

// DeriveAvatarURL picks the first non-empty of avatar_url, picture.
func DeriveAvatarURL(user *identity.User) string {
	if value := metadataValue(user, metadataKeyAvatarURL); value != "" {
		return value
	}
	return metadataValue(user, metadataKeyPicture)
}

func metadataValue(user *identity.User, key string) string {
	if user == nil || user.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(user.Metadata[key])
}
