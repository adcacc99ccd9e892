package authkit

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tyemirov/bookwise/internal/identity"
)

// UserChangeHandler is invoked after every applied session event. The context
// is cancelled as soon as a newer event arrives, so handlers must check it
// before writing any result derived from this user.
type UserChangeHandler func(ctx context.Context, user *identity.User)

// SessionStore holds the current session and derived user for the lifetime of
// the application. It subscribes exactly once to the provider's change stream
// and performs exactly one initial fetch; both paths feed the same store in
// arrival order.
type SessionStore struct {
	client  identity.Client
	logger  *zap.Logger
	handler UserChangeHandler

	mutex            sync.Mutex
	baseContext      context.Context
	session          *identity.Session
	user             *identity.User
	initializing     bool
	streamEventSeen  bool
	generationCancel context.CancelFunc
	subscription     identity.Subscription
	started          bool
	closeOnce        sync.Once
}

// NewSessionStore constructs a store. The handler may be nil.
func NewSessionStore(client identity.Client, logger *zap.Logger, handler UserChangeHandler) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{
		client:       client,
		logger:       logger,
		handler:      handler,
		initializing: true,
	}
}

// Start subscribes to the provider's change stream and then issues the
// initial session fetch. The subscription is registered before the fetch
// result can be applied, so no event delivered in between is lost.
func (store *SessionStore) Start(ctx context.Context) {
	store.mutex.Lock()
	if store.started {
		store.mutex.Unlock()
		return
	}
	store.started = true
	store.baseContext = ctx
	store.mutex.Unlock()

	store.subscription = store.client.OnSessionChange(func(event string, session *identity.Session) {
		store.applyStreamEvent(event, session)
	})

	go store.fetchInitialSession(ctx)
}

// Session returns the currently held session, or nil.
func (store *SessionStore) Session() *identity.Session {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.session
}

// User returns the currently held user, or nil.
func (store *SessionStore) User() *identity.User {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.user
}

// Initializing reports whether neither the initial fetch nor a stream event
// has resolved yet.
func (store *SessionStore) Initializing() bool {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.initializing
}

// ClearLocal drops the held session immediately, without waiting for the
// provider to confirm a sign-out. A later stale initial-fetch result will not
// revive the cleared session.
func (store *SessionStore) ClearLocal() {
	store.mutex.Lock()
	store.streamEventSeen = true
	store.applyLocked(identity.EventSignedOut, nil)
}

// Close unsubscribes from the change stream and cancels any in-flight
// synchronization. Safe to call more than once, and safe even if no event
// was ever received.
func (store *SessionStore) Close() {
	store.closeOnce.Do(func() {
		if store.subscription != nil {
			store.subscription.Unsubscribe()
		}
		store.mutex.Lock()
		cancel := store.generationCancel
		store.generationCancel = nil
		store.mutex.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

func (store *SessionStore) fetchInitialSession(ctx context.Context) {
	session, fetchErr := store.client.GetSession(ctx)
	if fetchErr != nil {
		// Treated as "no session": the subscription can still establish
		// one later.
		store.logger.Warn("initial session fetch failed",
			zap.String("code", "session_store.initial_fetch"),
			zap.Error(fetchErr))
		session = nil
	}

	store.mutex.Lock()
	if store.streamEventSeen {
		// A stream notification already carried fresher provider state;
		// applying the fetch result now would revert it.
		store.mutex.Unlock()
		store.logger.Debug("discarding stale initial fetch result",
			zap.String("code", "session_store.initial_fetch_stale"))
		return
	}
	store.applyLocked(identity.EventInitialSession, session)
}

func (store *SessionStore) applyStreamEvent(event string, session *identity.Session) {
	store.mutex.Lock()
	store.streamEventSeen = true
	store.applyLocked(event, session)
}

// applyLocked overwrites the held state, rotates the synchronization
// generation, and releases the mutex before invoking the handler.
func (store *SessionStore) applyLocked(event string, session *identity.Session) {
	store.session = session
	if session != nil {
		store.user = session.User
	} else {
		store.user = nil
	}
	store.initializing = false

	previousCancel := store.generationCancel
	baseContext := store.baseContext
	if baseContext == nil {
		baseContext = context.Background()
	}
	generationContext, generationCancel := context.WithCancel(baseContext)
	store.generationCancel = generationCancel
	user := store.user
	store.mutex.Unlock()

	if previousCancel != nil {
		previousCancel()
	}

	store.logger.Debug("session state applied",
		zap.String("code", "session_store.applied"),
		zap.String("event", event),
		zap.Bool("authenticated", user != nil))

	if store.handler != nil {
		go store.handler(generationContext, user)
	}
}
