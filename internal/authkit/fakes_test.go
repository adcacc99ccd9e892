package authkit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tyemirov/bookwise/internal/identity"
)

// scriptedClient is a controllable identity.Client for store and service
// tests. The initial fetch blocks until ReleaseFetch is called.
type scriptedClient struct {
	mutex          sync.Mutex
	callback       identity.ChangeCallback
	subscribeCount int
	unsubscribes   int

	fetchGate    chan struct{}
	fetchSession *identity.Session
	fetchErr     error

	signUpResult *identity.AuthResult
	signUpErr    error
	signUpCalls  int

	signInResult *identity.AuthResult
	signInErr    error

	signOutErr   error
	signOutCalls int

	metadataUpdates []map[string]string
	metadataErr     error
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{fetchGate: make(chan struct{})}
}

func (client *scriptedClient) GetSession(ctx context.Context) (*identity.Session, error) {
	<-client.fetchGate
	client.mutex.Lock()
	defer client.mutex.Unlock()
	return client.fetchSession, client.fetchErr
}

// ReleaseFetch lets the pending initial fetch resolve with the given result.
func (client *scriptedClient) ReleaseFetch(session *identity.Session, err error) {
	client.mutex.Lock()
	client.fetchSession = session
	client.fetchErr = err
	client.mutex.Unlock()
	close(client.fetchGate)
}

func (client *scriptedClient) OnSessionChange(callback identity.ChangeCallback) identity.Subscription {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.callback = callback
	client.subscribeCount++
	return &scriptedSubscription{client: client}
}

// Emit delivers a stream event as the provider would.
func (client *scriptedClient) Emit(event string, session *identity.Session) {
	client.mutex.Lock()
	callback := client.callback
	client.mutex.Unlock()
	if callback != nil {
		callback(event, session)
	}
}

func (client *scriptedClient) SignUp(ctx context.Context, email string, password string, options identity.SignUpOptions) (*identity.AuthResult, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.signUpCalls++
	return client.signUpResult, client.signUpErr
}

func (client *scriptedClient) SignInWithPassword(ctx context.Context, email string, password string) (*identity.AuthResult, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	return client.signInResult, client.signInErr
}

func (client *scriptedClient) SignInWithOAuth(ctx context.Context, provider string, options identity.OAuthOptions) (string, error) {
	return "https://provider.example/authorize?provider=" + provider, nil
}

func (client *scriptedClient) SignOut(ctx context.Context) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.signOutCalls++
	return client.signOutErr
}

func (client *scriptedClient) UpdateUserMetadata(ctx context.Context, metadata map[string]string) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	if client.metadataErr != nil {
		return client.metadataErr
	}
	client.metadataUpdates = append(client.metadataUpdates, metadata)
	return nil
}

type scriptedSubscription struct {
	client *scriptedClient
	once   sync.Once
}

func (subscription *scriptedSubscription) Unsubscribe() {
	subscription.once.Do(func() {
		subscription.client.mutex.Lock()
		subscription.client.unsubscribes++
		subscription.client.mutex.Unlock()
	})
}

// recordingAssetStore counts uploads and can be scripted to fail.
type recordingAssetStore struct {
	mutex       sync.Mutex
	uploadErr   error
	uploadCalls int
	lastBucket  string
	lastKey     string
	lastData    []byte
}

func (store *recordingAssetStore) UploadAsset(ctx context.Context, bucket string, key string, data []byte, options identity.UploadOptions) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.uploadCalls++
	if store.uploadErr != nil {
		return store.uploadErr
	}
	store.lastBucket = bucket
	store.lastKey = key
	store.lastData = data
	return nil
}

func (store *recordingAssetStore) PublicAssetURL(bucket string, key string) string {
	return "https://assets.example/" + bucket + "/" + key
}

// blockingProfileStore wraps a MemoryProfileStore and blocks configured
// operations until released, honouring context cancellation the way a real
// remote store would.
type blockingProfileStore struct {
	inner *MemoryProfileStore

	mutex        sync.Mutex
	upsertGates  map[string]chan struct{}
	roleGates    map[string]chan struct{}
	upsertedIDs  []string
	upsertFailure error
}

func newBlockingProfileStore() *blockingProfileStore {
	return &blockingProfileStore{
		inner:       NewMemoryProfileStore(),
		upsertGates: make(map[string]chan struct{}),
		roleGates:   make(map[string]chan struct{}),
	}
}

// GateUpsert makes upserts for the user id wait until the returned channel
// is closed.
func (store *blockingProfileStore) GateUpsert(userID string) chan struct{} {
	gate := make(chan struct{})
	store.mutex.Lock()
	store.upsertGates[userID] = gate
	store.mutex.Unlock()
	return gate
}

// GateRole makes role reads for the user id wait until the returned channel
// is closed.
func (store *blockingProfileStore) GateRole(userID string) chan struct{} {
	gate := make(chan struct{})
	store.mutex.Lock()
	store.roleGates[userID] = gate
	store.mutex.Unlock()
	return gate
}

func (store *blockingProfileStore) UpsertProfile(ctx context.Context, profile Profile) error {
	store.mutex.Lock()
	gate := store.upsertGates[profile.ID]
	failErr := store.upsertFailure
	store.mutex.Unlock()
	if failErr != nil {
		return failErr
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	store.mutex.Lock()
	store.upsertedIDs = append(store.upsertedIDs, profile.ID)
	store.mutex.Unlock()
	return store.inner.UpsertProfile(ctx, profile)
}

func (store *blockingProfileStore) GetProfileRole(ctx context.Context, userID string) (string, error) {
	store.mutex.Lock()
	gate := store.roleGates[userID]
	store.mutex.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return store.inner.GetProfileRole(ctx, userID)
}

func (store *blockingProfileStore) UpsertedIDs() []string {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	cloned := make([]string, len(store.upsertedIDs))
	copy(cloned, store.upsertedIDs)
	return cloned
}

func testUser(userID string, email string, metadata map[string]string) *identity.User {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &identity.User{ID: userID, Email: email, Metadata: metadata}
}

func testSession(user *identity.User) *identity.Session {
	now := time.Now().UTC()
	return &identity.Session{
		AccessToken: "token-" + user.ID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
		User:        user,
	}
}

// waitForCondition polls until the predicate holds or the deadline expires.
func waitForCondition(t *testing.T, description string, predicate func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}
