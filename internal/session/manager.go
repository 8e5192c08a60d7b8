package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"marketplace-client/internal/api"
	"marketplace-client/internal/logging"
)

const (
	refreshRequestTimeout = 15 * time.Second
	logoutRequestTimeout  = 10 * time.Second
)

// Authenticator is the remote auth service.
type Authenticator interface {
	Login(ctx context.Context, email string, password string) (string, error)
	Register(ctx context.Context, reg api.Registration) (string, error)
	Refresh(ctx context.Context) (string, error)
	Logout(ctx context.Context, accessToken string) error
}

type Hooks struct {
	// OnNavigate receives the route the front end should show next.
	OnNavigate func(route string)
	// OnSessionEnded fires after the session is cleared by a failed refresh.
	OnSessionEnded func(err error)
}

type Options struct {
	Clock         clockwork.Clock
	Lifetime      time.Duration
	RefreshMargin time.Duration
	Hooks         Hooks
}

type Manager struct {
	auth   Authenticator
	store  Store
	logger *logging.Logger
	clock  clockwork.Clock
	hooks  Hooks

	lifetime time.Duration
	margin   time.Duration

	// persistMu is taken before mu. It pairs every change of current with
	// the matching store write, so the store never trails memory.
	persistMu sync.Mutex

	mu      sync.Mutex
	current Snapshot
	phase   Phase
	timer   clockwork.Timer
	// epoch changes whenever the token is replaced or cleared; a refresh
	// response only applies to the epoch it was requested in.
	epoch uint64
	// inflight is the refresh request shared by every caller of its epoch.
	inflight *refreshCall
}

type refreshCall struct {
	epoch uint64
	done  chan struct{}
	err   error
}

func NewManager(auth Authenticator, store Store, logger *logging.Logger, opts Options) *Manager {
	if auth == nil {
		panic("session.NewManager: authenticator must not be nil")
	}
	if logger == nil {
		panic("session.NewManager: logger must not be nil")
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = TokenLifetime
	}
	if opts.RefreshMargin <= 0 || opts.RefreshMargin >= opts.Lifetime {
		opts.RefreshMargin = min(RefreshMargin, opts.Lifetime/2)
	}
	return &Manager{
		auth:     auth,
		store:    store,
		logger:   logger.With(logging.Field("component", "session")),
		clock:    opts.Clock,
		hooks:    opts.Hooks,
		lifetime: opts.Lifetime,
		margin:   opts.RefreshMargin,
	}
}

// Restore replaces the in-memory session with the persisted one. Any pending
// timer is dropped; call InitializeTimer afterwards.
func (m *Manager) Restore() error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	snapshot, err := m.store.Load()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.epoch++
	if snapshot.Empty() {
		m.current = Snapshot{}
		m.phase = Unauthenticated
		return nil
	}
	m.current = snapshot
	m.phase = PendingRefresh
	m.logger.Debug("restored persisted session",
		logging.Field("identity", snapshot.Identity),
		logging.Field("expires_at", snapshot.ExpiresAt.Format(time.RFC3339)),
	)
	return nil
}

func (m *Manager) Login(ctx context.Context, identity string, secret string) error {
	identity = strings.TrimSpace(identity)
	token, err := m.auth.Login(ctx, identity, secret)
	if err != nil {
		m.logger.Warn("login failed",
			logging.Field("identity", identity),
			logging.Field("kind", api.KindOf(err).String()),
			logging.Field("error", err),
		)
		return err
	}
	m.establish(token, identity)
	m.logger.Info("logged in", logging.Field("identity", identity))
	m.navigate(LandingRoute)
	return nil
}

// Register creates an account and signs in with the token it returns.
func (m *Manager) Register(ctx context.Context, reg api.Registration) error {
	reg.Email = strings.TrimSpace(reg.Email)
	token, err := m.auth.Register(ctx, reg)
	if err != nil {
		m.logger.Warn("registration failed",
			logging.Field("identity", reg.Email),
			logging.Field("error", err),
		)
		return err
	}
	m.establish(token, reg.Email)
	m.logger.Info("registered and signed in", logging.Field("identity", reg.Email))
	return nil
}

func (m *Manager) establish(token string, identity string) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	m.mu.Lock()
	m.epoch++
	m.current = Snapshot{
		AccessToken: token,
		Identity:    identity,
		ExpiresAt:   m.clock.Now().Add(m.lifetime),
	}
	m.phase = PendingRefresh
	m.scheduleLocked()
	snapshot := m.current
	m.mu.Unlock()
	m.persist(snapshot)
}

// RefreshAccessToken renews the token through the refresh cookie. Any
// failure clears the session. Callers arriving while a refresh is in flight
// wait for its outcome instead of sending a second request.
func (m *Manager) RefreshAccessToken(ctx context.Context) error {
	m.mu.Lock()
	if m.current.Empty() {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	if call := m.inflight; call != nil && call.epoch == m.epoch {
		m.mu.Unlock()
		m.logger.Debug("joining in-flight token refresh")
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &refreshCall{epoch: m.epoch, done: make(chan struct{})}
	m.inflight = call
	m.phase = Refreshing
	m.mu.Unlock()

	m.logger.Debug("refreshing access token")
	token, err := m.auth.Refresh(ctx)
	call.err = m.applyRefresh(call, token, err)
	close(call.done)
	return call.err
}

func (m *Manager) applyRefresh(call *refreshCall, token string, err error) error {
	m.persistMu.Lock()
	m.mu.Lock()
	if m.inflight == call {
		m.inflight = nil
	}
	if m.epoch != call.epoch {
		m.mu.Unlock()
		m.persistMu.Unlock()
		m.logger.Debug("discarding refresh result for a replaced session", logging.Field("error", err))
		return ErrSessionEnded
	}
	if err != nil {
		m.clearLocked()
		m.mu.Unlock()
		m.unpersist()
		m.persistMu.Unlock()
		m.logger.Warn("token refresh failed; session cleared",
			logging.Field("kind", api.KindOf(err).String()),
			logging.Field("error", err),
		)
		if m.hooks.OnSessionEnded != nil {
			m.hooks.OnSessionEnded(err)
		}
		return err
	}
	m.epoch++
	m.current.AccessToken = token
	m.current.ExpiresAt = m.clock.Now().Add(m.lifetime)
	m.phase = PendingRefresh
	m.scheduleLocked()
	snapshot := m.current
	m.mu.Unlock()
	m.persist(snapshot)
	m.persistMu.Unlock()

	m.logger.Debug("access token refreshed",
		logging.Token("token", token),
		logging.Field("expires_at", snapshot.ExpiresAt.Format(time.RFC3339)),
	)
	return nil
}

func (m *Manager) StartRefreshTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduleLocked()
}

// scheduleLocked is the only place a refresh timer is created; it always
// stops the previous one first.
func (m *Manager) scheduleLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.current.Empty() {
		return
	}
	delay := max(0, m.current.ExpiresAt.Sub(m.clock.Now())-m.margin)
	epoch := m.epoch
	m.timer = m.clock.AfterFunc(delay, func() { m.onRefreshTimer(epoch) })
	m.logger.Debug("refresh timer scheduled", logging.Field("delay", delay.String()))
}

func (m *Manager) onRefreshTimer(epoch uint64) {
	m.mu.Lock()
	warranted := m.epoch == epoch &&
		!m.current.Empty() &&
		m.phase != Refreshing &&
		m.current.ExpiresAt.Sub(m.clock.Now()) <= m.margin
	if m.epoch == epoch {
		m.timer = nil
	}
	m.mu.Unlock()
	if !warranted {
		m.logger.Debug("refresh timer fired; refresh not needed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshRequestTimeout)
	defer cancel()
	_ = m.RefreshAccessToken(ctx)
}

// InitializeTimer arms the timer for a restored session, refreshing first
// when the restored token has already expired.
func (m *Manager) InitializeTimer(ctx context.Context) error {
	m.mu.Lock()
	if m.current.Empty() {
		m.mu.Unlock()
		return nil
	}
	expired := m.isExpiredLocked()
	if !expired {
		m.scheduleLocked()
	}
	m.mu.Unlock()

	if expired {
		m.logger.Info("persisted access token expired; refreshing")
		return m.RefreshAccessToken(ctx)
	}
	return nil
}

func (m *Manager) IsAccessTokenExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isExpiredLocked()
}

func (m *Manager) isExpiredLocked() bool {
	return m.clock.Now().After(m.current.ExpiresAt)
}

// LogOut invalidates the refresh credential remotely on a best-effort basis
// and always clears the local session.
func (m *Manager) LogOut(ctx context.Context) {
	m.mu.Lock()
	token := m.current.AccessToken
	m.mu.Unlock()

	if strings.TrimSpace(token) != "" {
		logoutCtx, cancel := context.WithTimeout(ctx, logoutRequestTimeout)
		if err := m.auth.Logout(logoutCtx, token); err != nil {
			m.logger.Warn("remote logout failed", logging.Field("error", err))
		}
		cancel()
	}

	m.persistMu.Lock()
	m.mu.Lock()
	m.clearLocked()
	m.mu.Unlock()
	m.unpersist()
	m.persistMu.Unlock()
	m.logger.Info("logged out")
	m.navigate(LandingRoute)
}

func (m *Manager) clearLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.epoch++
	m.current = Snapshot{}
	m.phase = Unauthenticated
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.current.Empty()
}

func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.AccessToken
}

func (m *Manager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Identity
}

func (m *Manager) ExpiresAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.ExpiresAt
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// persist and unpersist run with persistMu held.
func (m *Manager) persist(snapshot Snapshot) {
	if err := m.store.Save(snapshot); err != nil {
		m.logger.Warn("failed to persist session", logging.Field("error", err))
	}
}

func (m *Manager) unpersist() {
	if err := m.store.Clear(); err != nil {
		m.logger.Warn("failed to clear persisted session", logging.Field("error", err))
	}
}

func (m *Manager) navigate(route string) {
	if m.hooks.OnNavigate != nil {
		m.hooks.OnNavigate(route)
	}
}
