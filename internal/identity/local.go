package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tyemirov/bookwise/pkg/sessiontoken"
)

var (
	// ErrEmailTaken indicates sign-up with an already-registered email.
	ErrEmailTaken = errors.New("identity.email_taken")
	// ErrInvalidCredentials indicates a failed password sign-in.
	ErrInvalidCredentials = errors.New("identity.invalid_credentials")
	// ErrWeakPassword indicates the supplied password is too short.
	ErrWeakPassword = errors.New("identity.weak_password")
	// ErrInvalidEmail indicates a malformed email address.
	ErrInvalidEmail = errors.New("identity.invalid_email")
	// ErrAssetExists indicates an upload without overwrite hit an existing key.
	ErrAssetExists = errors.New("identity.asset_exists")
	// ErrNoCurrentUser indicates a metadata update without an active session.
	ErrNoCurrentUser = errors.New("identity.no_current_user")
	// ErrUnsupportedOAuthProvider indicates an OAuth provider the local
	// implementation cannot redirect to.
	ErrUnsupportedOAuthProvider = errors.New("identity.unsupported_oauth_provider")
)

const minimumPasswordLength = 8

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// LocalConfig configures a LocalProvider.
type LocalConfig struct {
	Issuer            string
	TokenSigningKey   []byte
	SessionTTL        time.Duration
	PublicBaseURL     string
	GoogleWebClientID string
	GoogleRedirectURL string
	Clock             Clock
}

type localAccount struct {
	userID       string
	email        string
	passwordHash []byte
	metadata     map[string]string
}

// LocalProvider is a self-hosted, in-process identity and object-storage
// provider. It backs dev and demo runs and the test suite; hosted deployments
// use RestProvider instead.
type LocalProvider struct {
	config LocalConfig

	mutex          sync.Mutex
	accountsByMail map[string]*localAccount
	current        *Session
	subscribers    map[uint64]ChangeCallback
	subscriberSeq  uint64
	assets         map[string][]byte
}

// NewLocalProvider constructs a LocalProvider.
func NewLocalProvider(config LocalConfig) (*LocalProvider, error) {
	if len(config.TokenSigningKey) == 0 {
		return nil, errors.New("identity.local.missing_signing_key")
	}
	if strings.TrimSpace(config.Issuer) == "" {
		config.Issuer = "bookwise-identity"
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = time.Hour
	}
	if config.Clock == nil {
		config.Clock = systemClock{}
	}
	return &LocalProvider{
		config:         config,
		accountsByMail: make(map[string]*localAccount),
		subscribers:    make(map[uint64]ChangeCallback),
		assets:         make(map[string][]byte),
	}, nil
}

// GetSession returns a copy of the current session, or nil.
func (provider *LocalProvider) GetSession(ctx context.Context) (*Session, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	return cloneSession(provider.current), nil
}

// OnSessionChange registers a callback for session lifecycle events.
func (provider *LocalProvider) OnSessionChange(callback ChangeCallback) Subscription {
	provider.mutex.Lock()
	provider.subscriberSeq++
	subscriberID := provider.subscriberSeq
	provider.subscribers[subscriberID] = callback
	provider.mutex.Unlock()

	return &localSubscription{provider: provider, subscriberID: subscriberID}
}

type localSubscription struct {
	provider     *LocalProvider
	subscriberID uint64
	once         sync.Once
}

func (subscription *localSubscription) Unsubscribe() {
	subscription.once.Do(func() {
		subscription.provider.mutex.Lock()
		delete(subscription.provider.subscribers, subscription.subscriberID)
		subscription.provider.mutex.Unlock()
	})
}

// SignUp registers a new account and establishes its session.
func (provider *LocalProvider) SignUp(ctx context.Context, email string, password string, options SignUpOptions) (*AuthResult, error) {
	normalizedEmail := normalizeEmail(email)
	if normalizedEmail == "" {
		return nil, fmt.Errorf("identity.local.sign_up: %w", ErrInvalidEmail)
	}
	if len(password) < minimumPasswordLength {
		return nil, fmt.Errorf("identity.local.sign_up: %w", ErrWeakPassword)
	}

	passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if hashErr != nil {
		return nil, fmt.Errorf("identity.local.sign_up: %w", hashErr)
	}

	provider.mutex.Lock()
	if _, exists := provider.accountsByMail[normalizedEmail]; exists {
		provider.mutex.Unlock()
		return nil, fmt.Errorf("identity.local.sign_up: %w", ErrEmailTaken)
	}
	account := &localAccount{
		userID:       uuid.New().String(),
		email:        normalizedEmail,
		passwordHash: passwordHash,
		metadata:     cloneMetadata(options.Metadata),
	}
	provider.accountsByMail[normalizedEmail] = account
	session, mintErr := provider.mintSessionLocked(account)
	if mintErr != nil {
		provider.mutex.Unlock()
		return nil, fmt.Errorf("identity.local.sign_up: %w", mintErr)
	}
	provider.current = session
	provider.mutex.Unlock()

	provider.notify(EventSignedIn, session)
	return &AuthResult{User: cloneUser(session.User), Session: cloneSession(session)}, nil
}

// SignInWithPassword authenticates an existing account.
func (provider *LocalProvider) SignInWithPassword(ctx context.Context, email string, password string) (*AuthResult, error) {
	normalizedEmail := normalizeEmail(email)

	provider.mutex.Lock()
	account, exists := provider.accountsByMail[normalizedEmail]
	if !exists {
		provider.mutex.Unlock()
		return nil, fmt.Errorf("identity.local.sign_in: %w", ErrInvalidCredentials)
	}
	if compareErr := bcrypt.CompareHashAndPassword(account.passwordHash, []byte(password)); compareErr != nil {
		provider.mutex.Unlock()
		return nil, fmt.Errorf("identity.local.sign_in: %w", ErrInvalidCredentials)
	}
	session, mintErr := provider.mintSessionLocked(account)
	if mintErr != nil {
		provider.mutex.Unlock()
		return nil, fmt.Errorf("identity.local.sign_in: %w", mintErr)
	}
	provider.current = session
	provider.mutex.Unlock()

	provider.notify(EventSignedIn, session)
	return &AuthResult{User: cloneUser(session.User), Session: cloneSession(session)}, nil
}

// SignInWithOAuth returns the Google consent URL for the redirect flow. The
// flow completes through ExchangeGoogleIDToken.
func (provider *LocalProvider) SignInWithOAuth(ctx context.Context, oauthProvider string, options OAuthOptions) (string, error) {
	if !strings.EqualFold(oauthProvider, "google") {
		return "", fmt.Errorf("identity.local.oauth.%s: %w", oauthProvider, ErrUnsupportedOAuthProvider)
	}
	redirectURL := provider.config.GoogleRedirectURL
	if options.RedirectTarget != "" {
		redirectURL = options.RedirectTarget
	}
	query := url.Values{
		"client_id":     {provider.config.GoogleWebClientID},
		"redirect_uri":  {redirectURL},
		"response_type": {"id_token"},
		"scope":         {"openid email profile"},
	}
	return "https://accounts.google.com/o/oauth2/v2/auth?" + query.Encode(), nil
}

// SignOut clears the current session.
func (provider *LocalProvider) SignOut(ctx context.Context) error {
	provider.mutex.Lock()
	hadSession := provider.current != nil
	provider.current = nil
	provider.mutex.Unlock()

	if hadSession {
		provider.notify(EventSignedOut, nil)
	}
	return nil
}

// UpdateUserMetadata merges fields into the current user's metadata.
func (provider *LocalProvider) UpdateUserMetadata(ctx context.Context, metadata map[string]string) error {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if provider.current == nil || provider.current.User == nil {
		return fmt.Errorf("identity.local.update_metadata: %w", ErrNoCurrentUser)
	}
	account := provider.accountsByMail[provider.current.User.Email]
	if account == nil {
		return fmt.Errorf("identity.local.update_metadata: %w", ErrNoCurrentUser)
	}
	for key, value := range metadata {
		account.metadata[key] = value
		provider.current.User.Metadata[key] = value
	}
	return nil
}

// UploadAsset stores bytes under bucket/key.
func (provider *LocalProvider) UploadAsset(ctx context.Context, bucket string, key string, data []byte, options UploadOptions) error {
	assetPath := bucket + "/" + key
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if _, exists := provider.assets[assetPath]; exists && !options.Overwrite {
		return fmt.Errorf("identity.local.upload.%s: %w", assetPath, ErrAssetExists)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	provider.assets[assetPath] = stored
	return nil
}

// PublicAssetURL resolves the public URL for a stored object.
func (provider *LocalProvider) PublicAssetURL(bucket string, key string) string {
	base := strings.TrimRight(provider.config.PublicBaseURL, "/")
	return base + "/storage/v1/object/public/" + bucket + "/" + key
}

// AssetBytes returns a stored object, for serving and for tests.
func (provider *LocalProvider) AssetBytes(bucket string, key string) ([]byte, bool) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	data, exists := provider.assets[bucket+"/"+key]
	return data, exists
}

func (provider *LocalProvider) mintSessionLocked(account *localAccount) (*Session, error) {
	issuedAt := provider.config.Clock.Now()
	expiresAt := issuedAt.Add(provider.config.SessionTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessiontoken.Claims{
		UserID:       account.userID,
		UserEmail:    account.email,
		UserMetadata: cloneMetadata(account.metadata),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    provider.config.Issuer,
			Subject:   account.userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, signErr := token.SignedString(provider.config.TokenSigningKey)
	if signErr != nil {
		return nil, signErr
	}
	return &Session{
		AccessToken: signed,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
		User: &User{
			ID:       account.userID,
			Email:    account.email,
			Metadata: cloneMetadata(account.metadata),
		},
	}, nil
}

func (provider *LocalProvider) notify(event string, session *Session) {
	provider.mutex.Lock()
	callbacks := make([]ChangeCallback, 0, len(provider.subscribers))
	for _, callback := range provider.subscribers {
		callbacks = append(callbacks, callback)
	}
	provider.mutex.Unlock()

	for _, callback := range callbacks {
		callback(event, cloneSession(session))
	}
}

func normalizeEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	atIndex := strings.Index(normalized, "@")
	if atIndex <= 0 || atIndex == len(normalized)-1 {
		return ""
	}
	return normalized
}

func cloneMetadata(metadata map[string]string) map[string]string {
	cloned := make(map[string]string, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}

func cloneUser(user *User) *User {
	if user == nil {
		return nil
	}
	return &User{
		ID:       user.ID,
		Email:    user.Email,
		Metadata: cloneMetadata(user.Metadata),
	}
}

func cloneSession(session *Session) *Session {
	if session == nil {
		return nil
	}
	return &Session{
		AccessToken: session.AccessToken,
		IssuedAt:    session.IssuedAt,
		ExpiresAt:   session.ExpiresAt,
		User:        cloneUser(session.User),
	}
}
