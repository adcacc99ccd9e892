package identity

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/api/idtoken"
)

type scriptedGoogleValidator struct {
	payload  *idtoken.Payload
	err      error
	audience string
}

func (validator *scriptedGoogleValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	validator.audience = audience
	return validator.payload, validator.err
}

func googlePayload(claims map[string]any) *idtoken.Payload {
	return &idtoken.Payload{Claims: claims}
}

func TestExchangeGoogleIDTokenProvisionsAccount(t *testing.T) {
	provider, providerErr := NewLocalProvider(LocalConfig{
		TokenSigningKey:   []byte("test-signing-key"),
		GoogleWebClientID: "client-123",
	})
	if providerErr != nil {
		t.Fatalf("unexpected provider construction error: %v", providerErr)
	}

	validator := &scriptedGoogleValidator{payload: googlePayload(map[string]any{
		"iss":            "https://accounts.google.com",
		"sub":            "998877",
		"email":          "G.User@Example.com",
		"email_verified": true,
		"name":           "G User",
		"picture":        "https://lh3.example/photo.jpg",
	})}

	result, exchangeErr := provider.ExchangeGoogleIDToken(context.Background(), validator, "raw-token")
	if exchangeErr != nil {
		t.Fatalf("unexpected exchange error: %v", exchangeErr)
	}
	if validator.audience != "client-123" {
		t.Fatalf("expected validation against the configured client id, got %q", validator.audience)
	}
	if result.User.ID != "google:998877" {
		t.Fatalf("unexpected user id %q", result.User.ID)
	}
	if result.User.Email != "g.user@example.com" {
		t.Fatalf("expected a normalized email, got %q", result.User.Email)
	}
	if result.User.Metadata["name"] != "G User" || result.User.Metadata["picture"] != "https://lh3.example/photo.jpg" {
		t.Fatalf("unexpected metadata %+v", result.User.Metadata)
	}
	if result.Session == nil || result.Session.AccessToken == "" {
		t.Fatalf("expected a minted session")
	}

	// A second exchange reuses the provisioned account.
	again, exchangeAgainErr := provider.ExchangeGoogleIDToken(context.Background(), validator, "raw-token")
	if exchangeAgainErr != nil {
		t.Fatalf("unexpected repeated exchange error: %v", exchangeAgainErr)
	}
	if again.User.ID != result.User.ID {
		t.Fatalf("expected a stable user id across exchanges")
	}
}

func TestExchangeGoogleIDTokenRejections(t *testing.T) {
	provider, providerErr := NewLocalProvider(LocalConfig{
		TokenSigningKey:   []byte("test-signing-key"),
		GoogleWebClientID: "client-123",
	})
	if providerErr != nil {
		t.Fatalf("unexpected provider construction error: %v", providerErr)
	}
	ctx := context.Background()

	failing := &scriptedGoogleValidator{err: errors.New("signature mismatch")}
	if _, exchangeErr := provider.ExchangeGoogleIDToken(ctx, failing, "forged"); !errors.Is(exchangeErr, ErrInvalidGoogleToken) {
		t.Fatalf("expected ErrInvalidGoogleToken for a failed validation, got %v", exchangeErr)
	}

	wrongIssuer := &scriptedGoogleValidator{payload: googlePayload(map[string]any{
		"iss": "https://evil.example", "sub": "1", "email": "x@example.com", "email_verified": true,
	})}
	if _, exchangeErr := provider.ExchangeGoogleIDToken(ctx, wrongIssuer, "t"); !errors.Is(exchangeErr, ErrInvalidGoogleToken) {
		t.Fatalf("expected ErrInvalidGoogleToken for a foreign issuer, got %v", exchangeErr)
	}

	unverified := &scriptedGoogleValidator{payload: googlePayload(map[string]any{
		"iss": "accounts.google.com", "sub": "1", "email": "x@example.com", "email_verified": false,
	})}
	if _, exchangeErr := provider.ExchangeGoogleIDToken(ctx, unverified, "t"); !errors.Is(exchangeErr, ErrUnverifiedGoogleIdentity) {
		t.Fatalf("expected ErrUnverifiedGoogleIdentity, got %v", exchangeErr)
	}
}
