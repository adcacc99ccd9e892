package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	// ErrProviderRejected indicates the remote provider returned a non-2xx
	// status for a credential operation.
	ErrProviderRejected = errors.New("identity.rest.rejected")
	// ErrMissingAPIKey indicates the client was constructed without an API key.
	ErrMissingAPIKey = errors.New("identity.rest.missing_api_key")
	// ErrMissingBaseURL indicates the client was constructed without a base URL.
	ErrMissingBaseURL = errors.New("identity.rest.missing_base_url")
)

// RestConfig configures a RestProvider.
type RestConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Clock      Clock
}

// RestProvider talks to a hosted identity/storage backend over its REST
// surface. Session-change events are emitted locally on the transitions this
// client itself observes, mirroring how browser SDKs for such backends behave.
type RestProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	clock      Clock

	mutex         sync.Mutex
	current       *Session
	subscribers   map[uint64]ChangeCallback
	subscriberSeq uint64
}

// NewRestProvider constructs a RestProvider.
func NewRestProvider(config RestConfig) (*RestProvider, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("identity.rest.new: %w", ErrMissingBaseURL)
	}
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("identity.rest.new: %w", ErrMissingAPIKey)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	clock := config.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &RestProvider{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		httpClient:  httpClient,
		clock:       clock,
		subscribers: make(map[uint64]ChangeCallback),
	}, nil
}

type restUserPayload struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	UserMetadata map[string]string `json:"user_metadata"`
}

type restSessionPayload struct {
	AccessToken string           `json:"access_token"`
	ExpiresIn   int64            `json:"expires_in"`
	User        *restUserPayload `json:"user"`
}

type restErrorPayload struct {
	Message          string `json:"msg"`
	ErrorDescription string `json:"error_description"`
}

// GetSession returns the session most recently established by this client.
func (provider *RestProvider) GetSession(ctx context.Context) (*Session, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	return cloneSession(provider.current), nil
}

// OnSessionChange registers a callback for session lifecycle events.
func (provider *RestProvider) OnSessionChange(callback ChangeCallback) Subscription {
	provider.mutex.Lock()
	provider.subscriberSeq++
	subscriberID := provider.subscriberSeq
	provider.subscribers[subscriberID] = callback
	provider.mutex.Unlock()
	return &restSubscription{provider: provider, subscriberID: subscriberID}
}

type restSubscription struct {
	provider     *RestProvider
	subscriberID uint64
	once         sync.Once
}

func (subscription *restSubscription) Unsubscribe() {
	subscription.once.Do(func() {
		subscription.provider.mutex.Lock()
		delete(subscription.provider.subscribers, subscription.subscriberID)
		subscription.provider.mutex.Unlock()
	})
}

// SignUp creates an account on the remote provider.
func (provider *RestProvider) SignUp(ctx context.Context, email string, password string, options SignUpOptions) (*AuthResult, error) {
	requestBody := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(options.Metadata) > 0 {
		requestBody["data"] = options.Metadata
	}
	endpoint := provider.baseURL + "/auth/v1/signup"
	if options.RedirectTarget != "" {
		endpoint += "?redirect_to=" + url.QueryEscape(options.RedirectTarget)
	}
	var payload restSessionPayload
	if err := provider.postJSON(ctx, endpoint, "", requestBody, &payload); err != nil {
		return nil, fmt.Errorf("identity.rest.sign_up: %w", err)
	}
	return provider.adoptSession(payload), nil
}

// SignInWithPassword authenticates against the remote provider.
func (provider *RestProvider) SignInWithPassword(ctx context.Context, email string, password string) (*AuthResult, error) {
	requestBody := map[string]any{
		"email":    email,
		"password": password,
	}
	endpoint := provider.baseURL + "/auth/v1/token?grant_type=password"
	var payload restSessionPayload
	if err := provider.postJSON(ctx, endpoint, "", requestBody, &payload); err != nil {
		return nil, fmt.Errorf("identity.rest.sign_in: %w", err)
	}
	return provider.adoptSession(payload), nil
}

// SignInWithOAuth returns the provider's OAuth authorize URL.
func (provider *RestProvider) SignInWithOAuth(ctx context.Context, oauthProvider string, options OAuthOptions) (string, error) {
	query := url.Values{"provider": {oauthProvider}}
	if options.RedirectTarget != "" {
		query.Set("redirect_to", options.RedirectTarget)
	}
	return provider.baseURL + "/auth/v1/authorize?" + query.Encode(), nil
}

// SignOut invalidates the current session remotely and clears it locally.
func (provider *RestProvider) SignOut(ctx context.Context) error {
	provider.mutex.Lock()
	accessToken := ""
	if provider.current != nil {
		accessToken = provider.current.AccessToken
	}
	provider.current = nil
	provider.mutex.Unlock()
	provider.notify(EventSignedOut, nil)

	if accessToken == "" {
		return nil
	}
	if err := provider.postJSON(ctx, provider.baseURL+"/auth/v1/logout", accessToken, nil, nil); err != nil {
		return fmt.Errorf("identity.rest.sign_out: %w", err)
	}
	return nil
}

// UpdateUserMetadata merges fields into the authenticated user's metadata.
func (provider *RestProvider) UpdateUserMetadata(ctx context.Context, metadata map[string]string) error {
	provider.mutex.Lock()
	if provider.current == nil {
		provider.mutex.Unlock()
		return fmt.Errorf("identity.rest.update_metadata: %w", ErrNoCurrentUser)
	}
	accessToken := provider.current.AccessToken
	provider.mutex.Unlock()

	requestBody := map[string]any{"data": metadata}
	var payload restUserPayload
	if err := provider.sendJSON(ctx, http.MethodPut, provider.baseURL+"/auth/v1/user", accessToken, requestBody, &payload); err != nil {
		return fmt.Errorf("identity.rest.update_metadata: %w", err)
	}

	provider.mutex.Lock()
	if provider.current != nil && provider.current.User != nil && provider.current.User.ID == payload.ID {
		for key, value := range payload.UserMetadata {
			provider.current.User.Metadata[key] = value
		}
	}
	provider.mutex.Unlock()
	return nil
}

// UploadAsset writes bytes to the remote object store.
func (provider *RestProvider) UploadAsset(ctx context.Context, bucket string, key string, data []byte, options UploadOptions) error {
	endpoint := provider.baseURL + "/storage/v1/object/" + bucket + "/" + key
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if requestErr != nil {
		return fmt.Errorf("identity.rest.upload: %w", requestErr)
	}
	provider.decorate(request, provider.currentAccessToken())
	if options.ContentType != "" {
		request.Header.Set("Content-Type", options.ContentType)
	}
	if options.Overwrite {
		request.Header.Set("x-upsert", "true")
	}
	response, doErr := provider.httpClient.Do(request)
	if doErr != nil {
		return fmt.Errorf("identity.rest.upload: %w", doErr)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("identity.rest.upload: %w", decodeRestError(response))
	}
	return nil
}

// PublicAssetURL resolves the public URL for a stored object.
func (provider *RestProvider) PublicAssetURL(bucket string, key string) string {
	return provider.baseURL + "/storage/v1/object/public/" + bucket + "/" + key
}

func (provider *RestProvider) adoptSession(payload restSessionPayload) *AuthResult {
	user := payloadUser(payload.User)
	result := &AuthResult{User: user}
	if payload.AccessToken == "" {
		return result
	}
	issuedAt := provider.clock.Now()
	session := &Session{
		AccessToken: payload.AccessToken,
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(time.Duration(payload.ExpiresIn) * time.Second),
		User:        cloneUser(user),
	}
	provider.mutex.Lock()
	provider.current = session
	provider.mutex.Unlock()
	provider.notify(EventSignedIn, session)
	result.Session = cloneSession(session)
	return result
}

func payloadUser(payload *restUserPayload) *User {
	if payload == nil {
		return nil
	}
	metadata := payload.UserMetadata
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &User{ID: payload.ID, Email: payload.Email, Metadata: metadata}
}

func (provider *RestProvider) currentAccessToken() string {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if provider.current == nil {
		return ""
	}
	return provider.current.AccessToken
}

func (provider *RestProvider) notify(event string, session *Session) {
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

func (provider *RestProvider) postJSON(ctx context.Context, endpoint string, accessToken string, requestBody any, out any) error {
	return provider.sendJSON(ctx, http.MethodPost, endpoint, accessToken, requestBody, out)
}

func (provider *RestProvider) sendJSON(ctx context.Context, method string, endpoint string, accessToken string, requestBody any, out any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, encodeErr := json.Marshal(requestBody)
		if encodeErr != nil {
			return encodeErr
		}
		bodyReader = bytes.NewReader(encoded)
	}
	request, requestErr := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if requestErr != nil {
		return requestErr
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	provider.decorate(request, accessToken)

	response, doErr := provider.httpClient.Do(request)
	if doErr != nil {
		return doErr
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return decodeRestError(response)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func (provider *RestProvider) decorate(request *http.Request, accessToken string) {
	request.Header.Set("apikey", provider.apiKey)
	if accessToken == "" {
		accessToken = provider.apiKey
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
}

func decodeRestError(response *http.Response) error {
	var payload restErrorPayload
	if decodeErr := json.NewDecoder(io.LimitReader(response.Body, 4096)).Decode(&payload); decodeErr == nil {
		message := payload.Message
		if message == "" {
			message = payload.ErrorDescription
		}
		if message != "" {
			return fmt.Errorf("%w: status %d: %s", ErrProviderRejected, response.StatusCode, message)
		}
	}
	return fmt.Errorf("%w: status %d", ErrProviderRejected, response.StatusCode)
}
