package authkit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tyemirov/bookwise/internal/identity"
)

// ErrSignupNoUser indicates the provider reported success without a user.
var ErrSignupNoUser = errors.New("signup.no_user")

// Metric event names recorded by AuthService.
const (
	MetricSignUpSuccess  = "auth.signup.success"
	MetricSignUpFailure  = "auth.signup.failure"
	MetricSignInSuccess  = "auth.signin.success"
	MetricSignInFailure  = "auth.signin.failure"
	MetricSignOutRemote  = "auth.signout.remote_failure"
	MetricRoleResolution = "auth.role.resolved"
)

// Snapshot is the read model exposed to the rest of the application.
type Snapshot struct {
	Session      *identity.Session
	User         *identity.User
	Role         Role
	Initializing bool
}

// ServiceConfig configures an AuthService.
type ServiceConfig struct {
	// RedirectTarget is forwarded to the provider for post-confirmation
	// and OAuth redirects. May be empty.
	RedirectTarget string
}

// AuthService is the single authentication surface exposed to the rest of
// the application. It is initialized once per application lifetime.
type AuthService struct {
	client       identity.Client
	store        *SessionStore
	synchronizer *ProfileSynchronizer
	resolver     *RoleResolver
	orchestrator *SignupOrchestrator
	logger       *zap.Logger
	metrics      *CounterMetrics
	config       ServiceConfig

	mutex sync.Mutex
	role  Role
}

// NewAuthService wires the session store, profile synchronizer, role
// resolver, and signup orchestrator around the supplied collaborators.
func NewAuthService(client identity.Client, assets identity.AssetStore, profiles ProfileStore, logger *zap.Logger, clock Clock, metrics *CounterMetrics, config ServiceConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewCounterMetrics()
	}
	service := &AuthService{
		client:       client,
		synchronizer: NewProfileSynchronizer(profiles, logger, clock),
		resolver:     NewRoleResolver(profiles, logger),
		orchestrator: NewSignupOrchestrator(client, assets, profiles, logger, clock, config.RedirectTarget),
		logger:       logger,
		metrics:      metrics,
		config:       config,
		role:         RoleUser,
	}
	service.store = NewSessionStore(client, logger, service.handleUserChange)
	return service
}

// Start begins session tracking. Call exactly once.
func (service *AuthService) Start(ctx context.Context) {
	service.store.Start(ctx)
}

// Close tears down the provider subscription and cancels in-flight syncs.
func (service *AuthService) Close() {
	service.store.Close()
}

// Snapshot returns the current session, user, role, and initializing flag.
func (service *AuthService) Snapshot() Snapshot {
	service.mutex.Lock()
	role := service.role
	service.mutex.Unlock()
	return Snapshot{
		Session:      service.store.Session(),
		User:         service.store.User(),
		Role:         role,
		Initializing: service.store.Initializing(),
	}
}

// SignUp runs the orchestrated account-creation sequence. Account-creation
// failure is returned to the caller; degraded follow-up outcomes are not.
func (service *AuthService) SignUp(ctx context.Context, email string, password string, username string, avatar *AvatarAsset) (*identity.User, error) {
	createdUser, signUpErr := service.orchestrator.SignUp(ctx, email, password, username, avatar)
	if signUpErr != nil {
		service.metrics.Increment(MetricSignUpFailure)
		return nil, signUpErr
	}
	service.metrics.Increment(MetricSignUpSuccess)
	return createdUser, nil
}

// SignIn authenticates with email and password. Failures are returned for
// the caller to display.
func (service *AuthService) SignIn(ctx context.Context, email string, password string) (*identity.User, error) {
	result, signInErr := service.client.SignInWithPassword(ctx, email, password)
	if signInErr != nil {
		service.metrics.Increment(MetricSignInFailure)
		return nil, fmt.Errorf("auth.sign_in: %w", signInErr)
	}
	service.metrics.Increment(MetricSignInSuccess)
	return result.User, nil
}

// LoginWithGoogle returns the provider's OAuth redirect URL.
func (service *AuthService) LoginWithGoogle(ctx context.Context) (string, error) {
	redirectURL, oauthErr := service.client.SignInWithOAuth(ctx, "google", identity.OAuthOptions{
		RedirectTarget: service.config.RedirectTarget,
	})
	if oauthErr != nil {
		return "", fmt.Errorf("auth.oauth: %w", oauthErr)
	}
	return redirectURL, nil
}

// SignOut clears local session state immediately and invalidates the remote
// session best-effort. It never returns an error: once requested, sign-out
// is treated as locally successful so the application cannot remain stuck in
// an authenticated-looking state.
func (service *AuthService) SignOut(ctx context.Context) {
	service.store.ClearLocal()

	remoteContext := context.WithoutCancel(ctx)
	go func() {
		if signOutErr := service.client.SignOut(remoteContext); signOutErr != nil {
			service.metrics.Increment(MetricSignOutRemote)
			service.logger.Warn("remote sign-out failed",
				zap.String("code", "auth.sign_out.remote"),
				zap.Error(signOutErr))
		}
	}()
}

// handleUserChange runs on every applied session event. The context belongs
// to that event's generation and is cancelled when a newer event arrives.
func (service *AuthService) handleUserChange(ctx context.Context, user *identity.User) {
	if user == nil {
		service.setRole(ctx, RoleUser)
		return
	}

	var tasks sync.WaitGroup
	tasks.Add(2)
	go func() {
		defer tasks.Done()
		service.synchronizer.Sync(ctx, user)
	}()
	go func() {
		defer tasks.Done()
		resolvedRole := service.resolver.Resolve(ctx, user.ID)
		service.metrics.Increment(MetricRoleResolution)
		service.setRole(ctx, resolvedRole)
	}()
	tasks.Wait()
}

// setRole applies a resolved role unless this generation has been superseded.
// The cancellation check and the write share one critical section so a stale
// run can never land after a newer one.
func (service *AuthService) setRole(ctx context.Context, role Role) {
	service.mutex.Lock()
	defer service.mutex.Unlock()
	if ctx.Err() != nil {
		return
	}
	service.role = role
}
