package authkit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tyemirov/bookwise/internal/identity"
)

// AvatarBucket is the object-storage bucket holding user avatars.
const AvatarBucket = "avatars"

// AvatarAsset is the binary payload optionally supplied at sign-up. The
// storage key is derived from the user id, never from a client filename, so
// each user owns exactly one addressable avatar object across retries.
type AvatarAsset struct {
	ContentType string
	Data        []byte
}

// SignupOrchestrator sequences account creation, optional avatar upload,
// metadata update, and profile persistence as one logical operation. Only a
// failure of the account-creation step surfaces to the caller; every later
// step is a degraded-but-successful outcome.
type SignupOrchestrator struct {
	client         identity.Client
	assets         identity.AssetStore
	profiles       ProfileStore
	logger         *zap.Logger
	clock          Clock
	redirectTarget string
}

// NewSignupOrchestrator constructs an orchestrator. redirectTarget is passed
// to the provider for post-confirmation redirects and may be empty.
func NewSignupOrchestrator(client identity.Client, assets identity.AssetStore, profiles ProfileStore, logger *zap.Logger, clock Clock, redirectTarget string) *SignupOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &SignupOrchestrator{
		client:         client,
		assets:         assets,
		profiles:       profiles,
		logger:         logger,
		clock:          clock,
		redirectTarget: redirectTarget,
	}
}

// SignUp creates the account and runs the follow-up steps. The returned user
// is valid whenever the error is nil, even if avatar upload, metadata update,
// or profile persistence failed along the way.
func (orchestrator *SignupOrchestrator) SignUp(ctx context.Context, email string, password string, username string, avatar *AvatarAsset) (*identity.User, error) {
	result, signUpErr := orchestrator.client.SignUp(ctx, email, password, identity.SignUpOptions{
		RedirectTarget: orchestrator.redirectTarget,
		Metadata: map[string]string{
			metadataKeyUserName: username,
			metadataKeyFullName: username,
		},
	})
	if signUpErr != nil {
		return nil, fmt.Errorf("signup.create_account: %w", signUpErr)
	}
	if result == nil || result.User == nil {
		return nil, fmt.Errorf("signup.create_account: %w", ErrSignupNoUser)
	}
	createdUser := result.User

	avatarURL := ""
	if avatar != nil && len(avatar.Data) > 0 {
		avatarURL = orchestrator.uploadAvatar(ctx, createdUser.ID, avatar)
	}

	if avatarURL != "" {
		if updateErr := orchestrator.client.UpdateUserMetadata(ctx, map[string]string{
			metadataKeyAvatarURL: avatarURL,
		}); updateErr != nil {
			orchestrator.logger.Warn("avatar metadata update failed",
				zap.String("code", "signup.update_metadata"),
				zap.String("user_id", createdUser.ID),
				zap.Error(updateErr))
		} else {
			createdUser.Metadata[metadataKeyAvatarURL] = avatarURL
		}
	}

	profile := Profile{
		ID:          createdUser.ID,
		Email:       createdUser.Email,
		Username:    username,
		FullName:    username,
		AvatarURL:   avatarURL,
		LastLoginAt: orchestrator.clock.Now(),
	}
	if upsertErr := orchestrator.profiles.UpsertProfile(ctx, profile); upsertErr != nil {
		// The session-establishment path re-syncs the profile the moment
		// this user becomes current.
		orchestrator.logger.Warn("profile persistence failed during signup",
			zap.String("code", "signup.upsert_profile"),
			zap.String("user_id", createdUser.ID),
			zap.Error(upsertErr))
	}

	return createdUser, nil
}

// uploadAvatar stores the asset and returns its public URL, or empty when the
// upload failed. Failure never aborts the signup.
func (orchestrator *SignupOrchestrator) uploadAvatar(ctx context.Context, userID string, avatar *AvatarAsset) string {
	assetKey := AvatarKey(userID, avatar.ContentType)
	uploadErr := orchestrator.assets.UploadAsset(ctx, AvatarBucket, assetKey, avatar.Data, identity.UploadOptions{
		Overwrite:   true,
		ContentType: avatar.ContentType,
	})
	if uploadErr != nil {
		orchestrator.logger.Warn("avatar upload failed",
			zap.String("code", "signup.upload_avatar"),
			zap.String("user_id", userID),
			zap.Error(uploadErr))
		return ""
	}
	return orchestrator.assets.PublicAssetURL(AvatarBucket, assetKey)
}

// AvatarKey derives the deterministic storage key for a user's avatar from
// the user id and the declared content type.
func AvatarKey(userID string, contentType string) string {
	return userID + avatarExtension(contentType)
}

func avatarExtension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	default:
		return ".img"
	}
}
