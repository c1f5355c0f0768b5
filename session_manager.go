package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

var _ SessionSource = (*SessionManager)(nil)

// SessionManagerOption customizes SessionManager construction.
type SessionManagerOption func(*SessionManager)

// WithSessionConfig sets the configuration used for routes and timeouts.
func WithSessionConfig(cfg Config) SessionManagerOption {
	return func(m *SessionManager) {
		if cfg != nil {
			m.cfg = cfg
		}
	}
}

// WithSessionBypass overrides the elevated account rule used on normalization.
func WithSessionBypass(bypass BypassPolicy) SessionManagerOption {
	return func(m *SessionManager) {
		m.bypass = normalizeBypass(bypass)
		m.bypassSet = true
	}
}

// WithSessionActivitySink sets the sink used to publish session events.
func WithSessionActivitySink(sink ActivitySink) SessionManagerOption {
	return func(m *SessionManager) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithSessionLogger overrides the logger.
func WithSessionLogger(logger Logger) SessionManagerOption {
	return func(m *SessionManager) {
		m.logger = normalizeLogger(logger)
	}
}

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionManagerOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// SessionManager owns the single application session. It bootstraps the
// identity at most once, performs login with one retry on a stale security
// token and logs out without waiting on the remote call.
type SessionManager struct {
	gateway      IdentityGateway
	store        CredentialStore
	cfg          Config
	bypass       BypassPolicy
	bypassSet    bool
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
	id           string

	// stateMu serializes credential writes with the state change they imply
	stateMu sync.Mutex

	mu        sync.RWMutex
	status    SessionStatus
	user      *User
	updatedAt time.Time
	listeners map[int]func(TransitionContext)
	nextID    int

	bootMu      sync.Mutex
	bootStarted bool
	bootDone    chan struct{}

	loginInFlight atomic.Bool
	pending       sync.WaitGroup
}

// NewSessionManager returns a manager in the unauthenticated state
func NewSessionManager(gateway IdentityGateway, store CredentialStore, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{
		gateway:      gateway,
		store:        store,
		cfg:          Options{}.WithDefaults(),
		bypass:       normalizeBypass(nil),
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
		id:           uuid.NewString(),
		status:       SessionUnauthenticated,
		listeners:    map[int]func(TransitionContext){},
		bootDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if !m.bypassSet {
		m.bypass = ManagerEmailBypass(m.cfg.GetManagerEmail())
	}

	m.updatedAt = m.now()
	return m
}

// ID identifies this session instance in logs and activity events
func (m *SessionManager) ID() string {
	return m.id
}

// Bypass returns the bypass rule in effect
func (m *SessionManager) Bypass() BypassPolicy {
	return m.bypass
}

// Snapshot returns a copy of the current session state
func (m *SessionManager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		SessionID: m.id,
		Status:    m.status,
		User:      m.user.Clone(),
		UpdatedAt: m.updatedAt,
	}
}

// Subscribe registers fn to be called after every state change.
// Listeners run synchronously and must not call Login or Logout.
// The returned function removes the listener.
func (m *SessionManager) Subscribe(fn func(TransitionContext)) func() {
	if fn == nil {
		return func() {}
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Bootstrap resolves the session identity, sharing a single in flight
// fetch between all callers. Gateway failures never surface: they all
// resolve to a ready session without a user. The only error returned is
// the caller's context error when it gave up waiting.
func (m *SessionManager) Bootstrap(ctx context.Context, target string) (*User, error) {
	m.start(ctx, target)
	if err := m.Wait(ctx); err != nil {
		return nil, err
	}
	return m.Snapshot().User, nil
}

// Start launches bootstrap without waiting for it
func (m *SessionManager) Start(target string) {
	m.start(context.Background(), target)
}

// Wait blocks until bootstrap resolves. It returns immediately if
// bootstrap was never started.
func (m *SessionManager) Wait(ctx context.Context) error {
	m.bootMu.Lock()
	started := m.bootStarted
	done := m.bootDone
	m.bootMu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SessionManager) start(ctx context.Context, target string) {
	m.bootMu.Lock()
	defer m.bootMu.Unlock()

	if m.bootStarted {
		return
	}
	m.bootStarted = true

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.Snapshot().Status != SessionUnauthenticated {
		close(m.bootDone)
		return
	}

	if IsPublicRoute(m.cfg, target) {
		m.logger.Debug("bootstrap skipped for public route %s", target)
		m.transition(SessionReady, nil, "bootstrap_public_route")
		m.emit(ctx, ActivityEventBootstrapResolved, nil, "public_route", map[string]any{
			"target": target,
		})
		close(m.bootDone)
		return
	}

	m.transition(SessionBootstrapping, nil, "bootstrap")
	go m.runBootstrap(context.WithoutCancel(ctx), target)
}

func (m *SessionManager) runBootstrap(ctx context.Context, target string) {
	defer close(m.bootDone)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.GetRequestTimeout())
	defer cancel()

	user, err := m.gateway.CurrentUser(ctx)
	outcome := "resolved"
	meta := map[string]any{"target": target}

	switch {
	case err != nil:
		kind := Classify(err)
		meta["kind"] = kind.String()
		outcome = kind.String()
		user = nil

		if kind != KindUnauthenticated {
			m.logger.Error("bootstrap: identity fetch failed: %v", err)
		}
	case user == nil:
		outcome = "empty"
	default:
		user = NormalizeUser(user, m.bypass)
		m.logger.Debug("bootstrap: identity resolved %s", print.MaybePrettyJSON(user))
	}

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	// login or logout won the race, their result stands
	if m.Snapshot().Status != SessionBootstrapping {
		m.logger.Debug("bootstrap: session already resolved, discarding fetch result")
		return
	}

	if Classify(err) == KindUnauthenticated {
		m.logger.Debug("bootstrap: stored credential rejected, clearing")
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.logger.Error("bootstrap: clear credential: %v", clearErr)
		}
	}

	m.transition(SessionReady, user, "bootstrap")
	m.emit(ctx, ActivityEventBootstrapResolved, user, outcome, meta)
}

// Login exchanges credentials for a bearer token. A stale security token
// response triggers exactly one refresh and resubmission; when that
// retry fails the original failure is reported. Every failure clears the
// stored credential and carries a single user facing message.
func (m *SessionManager) Login(ctx context.Context, email, password string) (*User, error) {
	if !m.loginInFlight.CompareAndSwap(false, true) {
		return nil, ErrLoginInProgress
	}
	defer m.loginInFlight.Store(false)

	// login runs to completion once submitted
	ctx = context.WithoutCancel(ctx)

	result, err := m.attemptLogin(ctx, email, password)
	if err != nil {
		return nil, m.failLogin(ctx, email, err)
	}

	if result == nil || result.Token == "" || result.User == nil {
		return nil, m.failLogin(ctx, email, ErrUnexpected)
	}

	user := NormalizeUser(result.User, m.bypass)

	m.stateMu.Lock()
	if err := m.store.Set(ctx, result.Token); err != nil {
		m.stateMu.Unlock()
		m.logger.Error("login: store credential: %v", err)
		return nil, m.failLogin(ctx, email, err)
	}
	m.transition(SessionReady, user, "login")
	m.stateMu.Unlock()

	m.emit(ctx, ActivityEventLoginSuccess, user, "success", map[string]any{
		"email": email,
	})

	return user.Clone(), nil
}

func (m *SessionManager) attemptLogin(ctx context.Context, email, password string) (*LoginResult, error) {
	result, err := m.gateway.Login(ctx, email, password)
	if Classify(err) != KindStaleSecurityToken {
		return result, err
	}

	m.logger.Debug("login: stale security token, refreshing and retrying once")
	m.emit(ctx, ActivityEventLoginRetry, nil, "retry", map[string]any{
		"email": email,
	})

	if refreshErr := m.gateway.RefreshSecurityToken(ctx); refreshErr != nil {
		m.logger.Warn("login: security token refresh failed: %v", refreshErr)
		return nil, err
	}

	retried, retryErr := m.gateway.Login(ctx, email, password)
	if retryErr != nil {
		m.logger.Warn("login: retry failed: %v", retryErr)
		return nil, err
	}

	return retried, nil
}

func (m *SessionManager) failLogin(ctx context.Context, email string, err error) error {
	m.stateMu.Lock()
	if clearErr := m.store.Clear(ctx); clearErr != nil {
		m.logger.Error("login: clear credential: %v", clearErr)
	}
	// a pending bootstrap fetched with the cleared credential is discarded
	if snap := m.Snapshot(); snap.IsAuthenticated() || snap.Status == SessionBootstrapping {
		m.transition(SessionReady, nil, "login_failed")
	}
	m.stateMu.Unlock()

	surfaced := surfaceFailure(err, MessageLoginFailed)
	m.logger.Info("login failed for %s: %v", email, err)
	m.emit(ctx, ActivityEventLoginFailure, nil, Classify(err).String(), map[string]any{
		"email":   email,
		"message": surfaced.Message,
	})

	return surfaced
}

// Logout clears the credential and resolves the session to no user right
// away. The remote logout runs in the background and its failure is only
// logged. It returns the route to navigate to.
func (m *SessionManager) Logout(ctx context.Context) string {
	m.stateMu.Lock()
	token, err := m.store.Get(ctx)
	if err != nil {
		m.logger.Warn("logout: read credential: %v", err)
	}

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("logout: clear credential: %v", err)
	}

	previous := m.Snapshot().User
	m.transition(SessionReady, nil, "logout")
	m.stateMu.Unlock()

	m.emit(ctx, ActivityEventLogout, previous, "success", nil)

	remoteCtx := context.WithoutCancel(ctx)
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()

		rctx, cancel := context.WithTimeout(remoteCtx, m.cfg.GetRequestTimeout())
		defer cancel()

		if err := m.gateway.Logout(rctx, token); err != nil {
			m.logger.Debug("logout: remote call failed: %v", err)
		}
	}()

	return m.cfg.GetLoginRoute()
}

// Close waits for background remote logouts to finish
func (m *SessionManager) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SessionManager) transition(to SessionStatus, user *User, reason string) {
	m.mu.Lock()
	from := m.status
	if err := validateTransition(from, to); err != nil {
		m.mu.Unlock()
		m.logger.Error("session %s: %v", m.id, err)
		return
	}

	m.status = to
	m.user = user.Clone()
	m.updatedAt = m.now()

	listeners := make([]func(TransitionContext), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	tc := TransitionContext{
		SessionID: m.id,
		From:      from,
		To:        to,
		User:      user.Clone(),
		Reason:    reason,
	}
	for _, fn := range listeners {
		fn(tc)
	}
}

func (m *SessionManager) emit(ctx context.Context, eventType ActivityEventType, user *User, outcome string, meta map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		SessionID:  m.id,
		Outcome:    outcome,
		Metadata:   meta,
		OccurredAt: m.now(),
	}
	if user != nil {
		event.UserID = user.ID.String()
		event.Email = user.Email
	}

	if err := m.activitySink.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink error for %s: %v", eventType, err)
	}
}
