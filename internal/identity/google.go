package identity

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

var (
	// ErrInvalidGoogleToken indicates the ID token failed validation.
	ErrInvalidGoogleToken = errors.New("identity.google.invalid_token")
	// ErrUnverifiedGoogleIdentity indicates the Google account lacks a
	// verified email or a stable subject.
	ErrUnverifiedGoogleIdentity = errors.New("identity.google.unverified_identity")
)

// GoogleTokenValidator validates Google-issued ID tokens.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error)
}

type googleAPIValidator struct {
	validator *idtoken.Validator
}

func (wrapper googleAPIValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	return wrapper.validator.Validate(ctx, token, audience)
}

// NewGoogleTokenValidator constructs a validator backed by Google's public keys.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, err
	}
	return googleAPIValidator{validator: validator}, nil
}

// ExchangeGoogleIDToken validates a Google ID token, provisions the matching
// account if needed, and establishes its session. This is the completion leg
// of the OAuth redirect started by SignInWithOAuth.
func (provider *LocalProvider) ExchangeGoogleIDToken(ctx context.Context, validator GoogleTokenValidator, rawIDToken string) (*AuthResult, error) {
	payload, validateErr := validator.Validate(ctx, rawIDToken, provider.config.GoogleWebClientID)
	if validateErr != nil {
		return nil, fmt.Errorf("identity.local.google_exchange: %w", ErrInvalidGoogleToken)
	}
	issuerValue, _ := payload.Claims["iss"].(string)
	if issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com" {
		return nil, fmt.Errorf("identity.local.google_exchange: %w", ErrInvalidGoogleToken)
	}
	googleSub, _ := payload.Claims["sub"].(string)
	userEmail, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	displayName, _ := payload.Claims["name"].(string)
	pictureURL, _ := payload.Claims["picture"].(string)
	if googleSub == "" || userEmail == "" || !emailVerified {
		return nil, fmt.Errorf("identity.local.google_exchange: %w", ErrUnverifiedGoogleIdentity)
	}

	normalizedEmail := normalizeEmail(userEmail)

	provider.mutex.Lock()
	account, exists := provider.accountsByMail[normalizedEmail]
	if !exists {
		account = &localAccount{
			userID:   "google:" + googleSub,
			email:    normalizedEmail,
			metadata: make(map[string]string),
		}
		provider.accountsByMail[normalizedEmail] = account
	}
	if displayName != "" {
		account.metadata["name"] = displayName
		account.metadata["full_name"] = displayName
	}
	if pictureURL != "" {
		account.metadata["picture"] = pictureURL
	}
	session, mintErr := provider.mintSessionLocked(account)
	if mintErr != nil {
		provider.mutex.Unlock()
		return nil, fmt.Errorf("identity.local.google_exchange: %w", mintErr)
	}
	provider.current = session
	provider.mutex.Unlock()

	provider.notify(EventSignedIn, session)
	return &AuthResult{User: cloneUser(session.User), Session: cloneSession(session)}, nil
}
