// Package identity defines the contract the application consumes from its
// identity and object-storage provider, together with the session and user
// records that provider owns.
package identity

import (
	"context"
	"time"
)

// Session change event names delivered to OnSessionChange subscribers.
const (
	EventSignedIn       = "SIGNED_IN"
	EventSignedOut      = "SIGNED_OUT"
	EventTokenRefreshed = "TOKEN_REFRESHED"
	EventInitialSession = "INITIAL_SESSION"
)

// User is the provider's canonical record for an authenticated principal.
// The application never constructs one locally.
type User struct {
	ID       string
	Email    string
	Metadata map[string]string
}

// Session is provider-issued proof of authentication. At most one session is
// current per application instance.
type Session struct {
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	User        *User
}

// AuthResult is returned by credential operations. Session may be nil when
// the provider requires an out-of-band confirmation step before issuing one.
type AuthResult struct {
	User    *User
	Session *Session
}

// SignUpOptions carries the optional parameters of account creation.
type SignUpOptions struct {
	RedirectTarget string
	Metadata       map[string]string
}

// OAuthOptions carries the optional parameters of an OAuth redirect flow.
type OAuthOptions struct {
	RedirectTarget string
}

// UploadOptions controls object-storage writes.
type UploadOptions struct {
	Overwrite   bool
	ContentType string
}

// Subscription is the handle returned by OnSessionChange. Unsubscribe must be
// idempotent and safe to call even if no event was ever delivered.
type Subscription interface {
	Unsubscribe()
}

// ChangeCallback receives push notifications about session state. The session
// argument is nil after sign-out.
type ChangeCallback func(event string, session *Session)

// Client is the identity-provider contract consumed by the auth core.
type Client interface {
	// GetSession returns the current session, or nil when unauthenticated.
	GetSession(ctx context.Context) (*Session, error)
	// OnSessionChange registers a callback fired on every provider-observed
	// change: sign-in, sign-out, token refresh.
	OnSessionChange(callback ChangeCallback) Subscription
	// SignUp creates an account with the supplied credentials and metadata.
	SignUp(ctx context.Context, email string, password string, options SignUpOptions) (*AuthResult, error)
	// SignInWithPassword authenticates with email and password.
	SignInWithPassword(ctx context.Context, email string, password string) (*AuthResult, error)
	// SignInWithOAuth starts the provider's OAuth redirect flow and returns
	// the URL the caller must navigate to.
	SignInWithOAuth(ctx context.Context, provider string, options OAuthOptions) (string, error)
	// SignOut invalidates the current session on the provider side.
	SignOut(ctx context.Context) error
	// UpdateUserMetadata merges the supplied fields into the current user's
	// metadata mapping.
	UpdateUserMetadata(ctx context.Context, metadata map[string]string) error
}

// AssetStore is the object-storage contract consumed by the auth core. The
// store owns the bytes; the application holds only URLs.
type AssetStore interface {
	UploadAsset(ctx context.Context, bucket string, key string, data []byte, options UploadOptions) error
	PublicAssetURL(bucket string, key string) string
}
