package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"marketplace-client/internal/api"
	"marketplace-client/internal/chat"
	"marketplace-client/internal/config"
	"marketplace-client/internal/eventbus"
	"marketplace-client/internal/logging"
	"marketplace-client/internal/realtime"
	"marketplace-client/internal/runstatus"
	"marketplace-client/internal/session"
	"marketplace-client/internal/sessionstore"
)

const httpTimeout = 30 * time.Second

type Callbacks struct {
	OnNavigate     func(route string)
	OnStatusChange func(string)
	OnSessionEnded func(error)
}

// Deps are the collaborators New wires together. Build fills them for
// production use.
type Deps struct {
	API   *api.Client
	Store session.Store
	Dial  chat.DialFunc
	Clock clockwork.Clock
	Bus   *eventbus.Bus
}

type sessionWatcher interface {
	Watch(ctx context.Context, logger *logging.Logger, onChange func(session.Snapshot)) error
}

type MarketplaceApp struct {
	api       *api.Client
	store     session.Store
	session   *session.Manager
	messenger *chat.Messenger
	bus       *eventbus.Bus
	logger    *logging.Logger
	hooks     Callbacks
	status    runtimeStatusState

	unsubscribeStatus func()
}

// Build wires the production stack: a cookie-carrying HTTP client, the
// session file and the WebSocket broker.
func Build(ctx context.Context, opts config.Options, logger *logging.Logger, hooks Callbacks) (*MarketplaceApp, error) {
	if logger == nil {
		panic("app.Build: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}
	endpoints, err := config.BuildEndpoints(opts.BaseURL, opts.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoints: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	store, err := sessionstore.Open(opts.SessionFile, sessionstore.Options{Jar: jar, CookieURL: endpoints.RefreshURL})
	if err != nil {
		return nil, err
	}
	logger.Debug("application endpoints resolved",
		logging.Field("base_url", endpoints.BaseURL),
		logging.Field("broker_url", endpoints.BrokerURL),
		logging.Field("session_file", store.Path()),
	)

	client := api.New(&http.Client{Jar: jar, Timeout: httpTimeout}, endpoints, logger)
	return New(ctx, Deps{
		API:   client,
		Store: store,
		Dial: func(ctx context.Context) (chat.Broker, error) {
			conn, err := realtime.Dial(ctx, realtime.Config{BrokerURL: endpoints.BrokerURL, Logger: logger})
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	}, logger, hooks), nil
}

func New(ctx context.Context, deps Deps, logger *logging.Logger, hooks Callbacks) *MarketplaceApp {
	if logger == nil {
		panic("app.New: logger must not be nil")
	}
	if deps.API == nil {
		panic("app.New: api client must not be nil")
	}
	if deps.Dial == nil {
		panic("app.New: broker dial func must not be nil")
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.New()
	}
	if deps.Store == nil {
		deps.Store = session.NewMemoryStore()
	}

	a := &MarketplaceApp{
		api:    deps.API,
		store:  deps.Store,
		bus:    deps.Bus,
		logger: logger,
		hooks:  hooks,
	}
	a.session = session.NewManager(deps.API, deps.Store, logger, session.Options{
		Clock: deps.Clock,
		Hooks: session.Hooks{
			OnNavigate:     a.navigate,
			OnSessionEnded: a.sessionEnded,
		},
	})
	endpoints := deps.API.Endpoints()
	a.messenger = chat.New(ctx, chat.Options{
		Dial:            deps.Dial,
		ResolveUsername: a.resolveUsername,
		Bus:             deps.Bus,
		Logger:          logger,
		Destination:     endpoints.ChatDestination,
		UserQueue:       endpoints.UserQueueTemplate,
	})
	a.unsubscribeStatus = eventbus.On(deps.Bus, chat.TopicStatus, a.setRuntimeStatus)
	return a
}

func (a *MarketplaceApp) Session() *session.Manager { return a.session }

func (a *MarketplaceApp) Bus() *eventbus.Bus { return a.bus }

func (a *MarketplaceApp) Status() string {
	return a.status.get()
}

// Start restores the persisted session and arms its refresh timer,
// refreshing immediately when the stored token already expired.
func (a *MarketplaceApp) Start(ctx context.Context) error {
	if err := a.session.Restore(); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if !a.session.IsAuthenticated() {
		a.setRuntimeStatus(runstatus.SignedOut)
		return nil
	}
	if err := a.session.InitializeTimer(ctx); err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	a.logger.Info("session resumed",
		logging.Field("identity", a.session.Identity()),
		logging.Field("expires_at", a.session.ExpiresAt().Format(time.RFC3339)),
	)
	return nil
}

func (a *MarketplaceApp) Login(ctx context.Context, form LoginForm) error {
	form.normalize()
	if err := validateForm(form); err != nil {
		return err
	}
	return a.session.Login(ctx, form.Email, form.Password)
}

func (a *MarketplaceApp) Register(ctx context.Context, form RegisterForm) error {
	form.normalize()
	if err := validateForm(form); err != nil {
		return err
	}
	return a.session.Register(ctx, api.Registration{
		Email:     form.Email,
		FirstName: form.FirstName,
		LastName:  form.LastName,
		Password:  form.Password,
	})
}

func (a *MarketplaceApp) Refresh(ctx context.Context) error {
	return a.session.RefreshAccessToken(ctx)
}

// Logout closes the chat connection before ending the session.
func (a *MarketplaceApp) Logout(ctx context.Context) {
	a.messenger.Disconnect()
	a.session.LogOut(ctx)
	a.setRuntimeStatus(runstatus.SignedOut)
}

func (a *MarketplaceApp) ForgotPassword(ctx context.Context, form ForgotPasswordForm) error {
	form.Email = strings.TrimSpace(form.Email)
	if err := validateForm(form); err != nil {
		return err
	}
	return a.api.ForgotPassword(ctx, form.Email)
}

func (a *MarketplaceApp) ValidateResetToken(ctx context.Context, token string, email string) (api.ResetTokenStatus, error) {
	return a.api.ValidateResetToken(ctx, strings.TrimSpace(token), strings.TrimSpace(email))
}

// ResetPassword checks the reset link before submitting the new password.
func (a *MarketplaceApp) ResetPassword(ctx context.Context, form ResetPasswordForm) error {
	form.normalize()
	if err := validateForm(form); err != nil {
		return err
	}
	status, err := a.api.ValidateResetToken(ctx, form.Token, form.Email)
	if err != nil {
		return err
	}
	if !status.Valid {
		message := strings.TrimSpace(status.Message)
		if message == "" {
			message = "Invalid or expired reset link"
		}
		return &api.Error{Kind: api.KindAuth, Message: message}
	}
	return a.api.ResetPassword(ctx, form.Token, form.Email, form.Password)
}

// ConnectChat opens the broker connection for the signed-in user.
func (a *MarketplaceApp) ConnectChat() error {
	if !a.session.IsAuthenticated() {
		return session.ErrNotAuthenticated
	}
	a.messenger.Connect(a.session.Identity())
	return nil
}

func (a *MarketplaceApp) DisconnectChat() {
	a.messenger.Disconnect()
}

func (a *MarketplaceApp) ChatConnected() bool {
	return a.messenger.IsConnected()
}

func (a *MarketplaceApp) SendMessage(recipient string, itemID int64, content string) error {
	identity := a.session.Identity()
	if identity == "" {
		return session.ErrNotAuthenticated
	}
	return a.messenger.SendMessage(identity, strings.TrimSpace(recipient), itemID, content)
}

// History returns the conversation about itemID between the signed-in user
// and counterpart.
func (a *MarketplaceApp) History(ctx context.Context, itemID int64, counterpart string) ([]api.ChatMessage, error) {
	identity := a.session.Identity()
	return withSessionRetry(ctx, a, func(token string) ([]api.ChatMessage, error) {
		return a.api.ChatLog(ctx, token, itemID, identity, strings.TrimSpace(counterpart))
	})
}

func (a *MarketplaceApp) Chats(ctx context.Context, itemID int64) ([]api.ChatSummary, error) {
	identity := a.session.Identity()
	return withSessionRetry(ctx, a, func(token string) ([]api.ChatSummary, error) {
		return a.api.ChatList(ctx, token, itemID, identity)
	})
}

// WatchSession follows the session file so a login or logout in another
// process is mirrored here. It blocks until ctx is done and is a no-op for
// stores that cannot be watched.
func (a *MarketplaceApp) WatchSession(ctx context.Context) error {
	watcher, ok := a.store.(sessionWatcher)
	if !ok {
		return nil
	}
	return watcher.Watch(ctx, a.logger, func(next session.Snapshot) {
		current := a.session.Snapshot()
		if next.AccessToken == current.AccessToken && next.ExpiresAt.Equal(current.ExpiresAt) {
			return
		}
		a.logger.Info("session changed by another process",
			logging.Field("identity", next.Identity),
			logging.Field("signed_in", !next.Empty()),
		)
		if err := a.session.Restore(); err != nil {
			a.logger.Warn("failed to reload session", logging.Field("error", err))
			return
		}
		if next.Empty() {
			a.sessionEnded(session.ErrSessionEnded)
			return
		}
		if err := a.session.InitializeTimer(ctx); err != nil {
			a.logger.Warn("failed to resume reloaded session", logging.Field("error", err))
		}
	})
}

// Close stops the chat connection and waits up to timeout for it to drain.
func (a *MarketplaceApp) Close(timeout time.Duration) bool {
	drained := a.messenger.Shutdown(timeout)
	if a.unsubscribeStatus != nil {
		a.unsubscribeStatus()
	}
	return drained
}

func (a *MarketplaceApp) resolveUsername(ctx context.Context) (string, error) {
	return withSessionRetry(ctx, a, func(token string) (string, error) {
		return a.api.Username(ctx, token)
	})
}

// withSessionRetry runs call with the current token and, on a 401/403,
// refreshes once and retries. A failed refresh has already ended the
// session, so the original error is returned.
func withSessionRetry[T any](ctx context.Context, a *MarketplaceApp, call func(token string) (T, error)) (T, error) {
	var zero T
	token := a.session.AccessToken()
	if token == "" {
		return zero, session.ErrNotAuthenticated
	}
	result, err := call(token)
	if !api.IsUnauthorized(err) {
		return result, err
	}
	a.logger.Debug("request unauthorized; refreshing session", logging.Field("error", err))
	if refreshErr := a.session.RefreshAccessToken(ctx); refreshErr != nil {
		return zero, err
	}
	return call(a.session.AccessToken())
}

func (a *MarketplaceApp) navigate(route string) {
	a.logger.Debug("navigate", logging.Field("route", route))
	if a.hooks.OnNavigate != nil {
		a.hooks.OnNavigate(route)
	}
}

func (a *MarketplaceApp) sessionEnded(err error) {
	a.messenger.Disconnect()
	a.setRuntimeStatus(runstatus.SignedOut)
	if a.hooks.OnSessionEnded != nil {
		a.hooks.OnSessionEnded(err)
	}
}

type runtimeStatusState struct {
	mu      sync.Mutex
	current string
}

func (s *runtimeStatusState) update(status string) (string, string, bool) {
	trimmed := strings.TrimSpace(status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == trimmed {
		return s.current, trimmed, false
	}
	previous := s.current
	s.current = trimmed
	return previous, trimmed, true
}

func (s *runtimeStatusState) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (a *MarketplaceApp) setRuntimeStatus(status string) {
	previous, next, changed := a.status.update(status)
	if !changed {
		return
	}
	a.logger.Debug("runtime status transition",
		logging.Field("from", previous),
		logging.Field("to", next),
	)
	if a.hooks.OnStatusChange != nil {
		a.hooks.OnStatusChange(status)
	}
}
