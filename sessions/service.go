package sessions

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/helpdesk-session/authapi"
	"github.com/jrsteele09/helpdesk-session/expiry"
	"github.com/jrsteele09/helpdesk-session/interceptor"
	"github.com/jrsteele09/helpdesk-session/internal/broadcast"
	"github.com/jrsteele09/helpdesk-session/internal/config"
	apperrors "github.com/jrsteele09/helpdesk-session/internal/errors"
	"github.com/jrsteele09/helpdesk-session/permissions"
	"github.com/jrsteele09/helpdesk-session/refresh"
	"github.com/jrsteele09/helpdesk-session/token"
	"github.com/jrsteele09/helpdesk-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Service is the single entry point the application uses for authentication
// state. It owns the refresh coordinator, the expiry watcher and the request
// interceptor, all sharing one token store.
type Service struct {
	store       token.Store
	api         *authapi.Client
	coordinator *refresh.Coordinator
	watcher     *expiry.Watcher
	transport   *interceptor.Transport

	grants       permissions.Grants
	httpClient   *http.Client
	nowFunc      func() time.Time
	log          zerolog.Logger
	loginRoute   string
	defaultRoute string

	// transition serialises login, logout, refresh results and reloads.
	transition sync.Mutex
	mu         sync.RWMutex
	session    Session
	resolver   *permissions.Resolver
	sessions   *broadcast.Broadcaster[Session]
}

type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.log = logger
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) {
		s.nowFunc = now
	}
}

// WithGrants replaces the role to permission table.
func WithGrants(grants permissions.Grants) Option {
	return func(s *Service) {
		s.grants = grants
	}
}

// WithHTTPClient sets the plain client used for the auth endpoints. Its
// transport is also the one the intercepted client sends through.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		s.httpClient = c
	}
}

func New(store token.Store, cfg config.Config, options ...Option) *Service {
	s := &Service{
		store:        store,
		grants:       permissions.DefaultGrants,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		nowFunc:      time.Now,
		log:          log.Logger,
		loginRoute:   cfg.GetLoginRoute(),
		defaultRoute: cfg.GetDefaultRoute(),
		sessions:     broadcast.New[Session](),
	}
	for _, opt := range options {
		opt(s)
	}

	component := func(name string) zerolog.Logger {
		return s.log.With().Str("component", name).Logger()
	}

	s.api = authapi.NewClient(cfg.GetBaseURL(),
		authapi.WithHTTPClient(s.httpClient),
		authapi.WithLanguage(cfg.GetLanguage()),
		authapi.WithNowFunc(s.nowFunc),
		authapi.WithLogger(component("authapi.Client")),
	)
	s.coordinator = refresh.NewCoordinator(store, s.api,
		refresh.WithTimeout(cfg.GetRefreshTimeout()),
		refresh.WithNowFunc(s.nowFunc),
		refresh.WithLogger(component("refresh.Coordinator")),
		refresh.OnSuccess(s.onRefreshed),
		refresh.OnFailure(s.cascadeLogout),
	)
	s.watcher = expiry.New(cfg.GetWarningThreshold(),
		expiry.WithInterval(cfg.GetExpiryCheckInterval()),
		expiry.WithNowFunc(s.nowFunc),
		expiry.WithLogger(component("expiry.Watcher")),
	)

	base := s.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	s.transport = interceptor.New(store, s.coordinator,
		interceptor.WithBase(base),
		interceptor.WithLanguage(cfg.GetLanguage()),
		interceptor.WithNowFunc(s.nowFunc),
		interceptor.WithLogger(component("interceptor.Transport")),
		interceptor.OnUnauthenticated(s.cascadeLogout),
	)
	return s
}

// Init restores a stored session on start-up and, when the store can report
// outside changes, follows them until ctx is done.
func (s *Service) Init(ctx context.Context) error {
	if err := s.reload(ctx); err != nil {
		return err
	}
	if notifier, ok := s.store.(token.ChangeNotifier); ok {
		err := notifier.Watch(ctx, func() {
			if err := s.reload(ctx); err != nil {
				s.log.Err(err).Msg("Failed to reload session after store change")
			}
		})
		if err != nil {
			return fmt.Errorf("[Service.Init] watch store: %w", err)
		}
	}
	return nil
}

// Run drives the expiry watcher until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.watcher.Run(ctx)
}

// Close ends every Subscribe and WarningStatus stream.
func (s *Service) Close() {
	s.watcher.Close()
	s.sessions.Close()
}

func (s *Service) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Authenticated
}

// Session returns a copy of the current session.
func (s *Service) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.clone()
}

func (s *Service) GetCurrentUser() *users.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.User.Clone()
}

// GetToken returns a usable token set, refreshing a locally expired one.
func (s *Service) GetToken(ctx context.Context) (*token.Set, error) {
	tokens, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Service.GetToken] %w", err)
	}
	if tokens == nil {
		return nil, fmt.Errorf("[Service.GetToken] %w", apperrors.ErrUnauthenticated)
	}
	if !tokens.ExpiredAt(s.nowFunc()) {
		return tokens, nil
	}
	if !tokens.HasRefreshToken() {
		err := fmt.Errorf("[Service.GetToken] %w: %w", apperrors.ErrUnauthenticated, apperrors.ErrTokenExpired)
		s.cascadeLogout(err)
		return nil, err
	}
	return s.coordinator.Token(ctx, tokens.AccessToken)
}

// Login authenticates with the backend and starts a new session. Failed
// logins leave the current state untouched.
func (s *Service) Login(ctx context.Context, creds authapi.Credentials) (*Session, error) {
	resp, received, err := s.api.Login(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("[Service.Login] %w", err)
	}
	tokens := resp.TokenSet(received)

	s.transition.Lock()
	defer s.transition.Unlock()

	// A refresh still running for a previous session must not overwrite this one.
	s.coordinator.Reset(apperrors.ErrLoggedOut)
	if err := s.store.Save(ctx, tokens, resp.User); err != nil {
		return nil, fmt.Errorf("[Service.Login] save session: %w", err)
	}
	session := s.apply(tokens, resp.User)
	s.watcher.Watch(tokens.ExpiresAt)

	s.log.Info().Str("username", resp.User.Username).Time("expires_at", tokens.ExpiresAt).Msg("Logged in")
	return &session, nil
}

// Logout ends the session: in-flight refresh waiters fail, the store is
// cleared and subscribers see the unauthenticated session before Logout
// returns. Calling it again is a no-op.
func (s *Service) Logout(ctx context.Context) error {
	s.transition.Lock()
	defer s.transition.Unlock()
	_, err := s.logout(ctx)
	return err
}

// logout reports whether the session was authenticated until now.
func (s *Service) logout(ctx context.Context) (bool, error) {
	s.coordinator.Reset(apperrors.ErrLoggedOut)
	err := s.store.Clear(ctx)
	ended := s.end()
	if ended {
		s.log.Info().Msg("Logged out")
	}
	s.watcher.Stop()
	if err != nil {
		return ended, fmt.Errorf("[Service.Logout] clear store: %w", err)
	}
	return ended, nil
}

// ManualRefresh forces a refresh, e.g. from the "stay signed in" prompt.
func (s *Service) ManualRefresh(ctx context.Context) (*token.Set, error) {
	if !s.IsAuthenticated() {
		return nil, fmt.Errorf("[Service.ManualRefresh] %w", apperrors.ErrUnauthenticated)
	}
	return s.coordinator.Refresh(ctx)
}

// UpdateProfile stores the identity returned by a successful profile update.
func (s *Service) UpdateProfile(ctx context.Context, user *users.Identity) error {
	if user == nil {
		return fmt.Errorf("[Service.UpdateProfile] user is required")
	}
	s.transition.Lock()
	defer s.transition.Unlock()

	tokens, current, err := s.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("[Service.UpdateProfile] %w", err)
	}
	if tokens == nil {
		return fmt.Errorf("[Service.UpdateProfile] %w", apperrors.ErrUnauthenticated)
	}
	if current != nil && current.ID != user.ID {
		return fmt.Errorf("[Service.UpdateProfile] %w: profile belongs to another user", apperrors.ErrForbidden)
	}
	if err := s.store.Save(ctx, tokens, user); err != nil {
		return fmt.Errorf("[Service.UpdateProfile] %w", err)
	}
	s.apply(tokens, user)
	return nil
}

// CanActivate is the route guard. Unauthenticated navigation is sent to the
// login route with the requested URL preserved; forbidden navigation is sent
// to the default route with the denial reason.
func (s *Service) CanActivate(requestedURL string, req permissions.Requirement) permissions.Decision {
	s.mu.RLock()
	resolver := s.resolver
	s.mu.RUnlock()

	decision := permissions.Evaluate(resolver, req)
	switch decision.Outcome {
	case permissions.DenyUnauthenticated:
		decision.RedirectTo = loginRedirect(s.loginRoute, requestedURL)
	case permissions.DenyForbidden:
		decision.RedirectTo = s.defaultRoute
		s.log.Debug().Str("url", requestedURL).Str("reason", decision.Reason).Msg("Navigation denied")
	}
	return decision
}

func loginRedirect(loginRoute, returnURL string) string {
	if returnURL == "" || returnURL == loginRoute {
		return loginRoute
	}
	sep := "?"
	if strings.Contains(loginRoute, "?") {
		sep = "&"
	}
	return loginRoute + sep + "returnUrl=" + url.QueryEscape(returnURL)
}

// WarningStatus streams true when the session is about to expire and false
// once it no longer is. A reader that falls behind still receives both in
// order.
func (s *Service) WarningStatus() (<-chan bool, func()) {
	return s.watcher.Subscribe()
}

// Subscribe streams session changes. Slow readers only see the latest one.
func (s *Service) Subscribe() (<-chan Session, func()) {
	return s.sessions.Subscribe()
}

// HTTPClient returns a client that authenticates every request and recovers
// from expired tokens.
func (s *Service) HTTPClient() *http.Client {
	c := s.transport.Client()
	c.Timeout = s.httpClient.Timeout
	return c
}

// reload recomputes the session from the store.
func (s *Service) reload(ctx context.Context) error {
	s.transition.Lock()
	defer s.transition.Unlock()

	tokens, user, err := s.store.Snapshot(ctx)
	if apperrors.Is(err, apperrors.ErrStoreCorrupt) {
		s.log.Err(err).Msg("Discarding corrupt stored session")
		_, err = s.logout(ctx)
		return err
	}
	if err != nil {
		return fmt.Errorf("[Service.reload] %w", err)
	}

	if tokens == nil {
		if s.IsAuthenticated() {
			s.log.Info().Msg("Session ended outside this process")
			_, err = s.logout(ctx)
			return err
		}
		return nil
	}
	if tokens.ExpiredAt(s.nowFunc()) && !tokens.HasRefreshToken() {
		s.log.Info().Msg("Stored session expired")
		_, err = s.logout(ctx)
		return err
	}

	s.apply(tokens, user)
	s.watcher.Watch(tokens.ExpiresAt)
	return nil
}

// apply installs the session derived from a stored snapshot and publishes
// it when it changed.
func (s *Service) apply(tokens *token.Set, user *users.Identity) Session {
	session, resolver := deriveSession(tokens, user, s.grants)

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !s.session.equal(session)
	s.session = session
	s.resolver = resolver
	if changed {
		s.sessions.Publish(session.clone())
	}
	return session.clone()
}

// end switches to the unauthenticated session. It reports whether a
// transition happened.
func (s *Service) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.session.Authenticated {
		return false
	}
	s.session = Session{}
	s.resolver = nil
	s.sessions.Publish(Session{})
	return true
}

// onRefreshed rederives the session from the store rather than from the
// refreshed tokens, which a login may already have replaced.
func (s *Service) onRefreshed(*token.Set, *users.Identity) {
	s.transition.Lock()
	defer s.transition.Unlock()
	if !s.IsAuthenticated() {
		return
	}
	tokens, user, err := s.store.Snapshot(context.Background())
	if err != nil {
		s.log.Err(err).Msg("Failed to read refreshed session")
		return
	}
	if tokens == nil {
		return
	}
	s.apply(tokens, user)
	s.watcher.Watch(tokens.ExpiresAt)
}

func (s *Service) cascadeLogout(cause error) {
	s.transition.Lock()
	defer s.transition.Unlock()
	ended, err := s.logout(context.Background())
	if err != nil {
		s.log.Err(err).Msg("Failed to clear session")
	}
	if ended {
		s.log.Warn().Str("kind", string(apperrors.KindOf(cause))).Msg("Session ended by failed authentication")
	}
}
