// Package authtest runs an in-process helpdesk auth backend for tests:
// bcrypt accounts, HS256 access tokens, rotating refresh tokens and a
// protected ticket API that answers 401 for missing or expired tokens.
package authtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jrsteele09/helpdesk-session/authapi"
	"github.com/jrsteele09/helpdesk-session/users"
)

const (
	RouteTickets = "/api/tickets"
	RouteMe      = "/api/me"
	RouteProfile = "/auth/profile"

	contentTypeJSON = "application/json; charset=utf-8"
)

type account struct {
	passwordHash string
	user         users.Identity
}

// Server is the fake backend. Counters are safe to read from tests.
type Server struct {
	*httptest.Server

	secret    []byte
	accessTTL time.Duration
	nowFunc   func() time.Time

	mu              sync.Mutex
	accounts        map[string]account
	refreshTokens   map[string]storedRefreshToken
	failRefresh     bool
	omitRefreshUser bool
	refreshGate     chan struct{}
	lastLanguage    string

	LoginCalls   atomic.Int64
	RefreshCalls atomic.Int64
	APICalls     atomic.Int64
	Unauthorized atomic.Int64
}

type Option func(*Server)

// WithAccessTTL sets the lifetime of issued access tokens.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Server) {
		s.nowFunc = now
	}
}

// WithoutRefreshUser makes /auth/refresh omit the user payload.
func WithoutRefreshUser() Option {
	return func(s *Server) {
		s.omitRefreshUser = true
	}
}

// NewServer starts the backend and closes it when the test ends.
func NewServer(t testing.TB, options ...Option) *Server {
	t.Helper()
	s := &Server{
		secret:        []byte("authtest-secret-" + t.Name()),
		accessTTL:     time.Hour,
		nowFunc:       time.Now,
		accounts:      make(map[string]account),
		refreshTokens: make(map[string]storedRefreshToken),
	}
	for _, opt := range options {
		opt(s)
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(authapi.RouteLogin, s.loginHandler)
	r.Post(authapi.RouteRefresh, s.refreshHandler)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get(RouteTickets, s.listTicketsHandler)
		r.Post(RouteTickets, s.createTicketHandler)
		r.Get(RouteMe, s.meHandler)
		r.Get(RouteProfile, s.meHandler)
	})
	return r
}

func (s *Server) now() time.Time {
	return s.nowFunc()
}

// AddUser registers an account. The password is stored as a bcrypt hash.
func (s *Server) AddUser(password string, user users.Identity) {
	hash, err := users.HashPassword(password)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[user.Username] = account{passwordHash: hash, user: user}
}

// MintAccessToken returns a signed access token for username expiring at
// expiresAt, e.g. one that is already expired.
func (s *Server) MintAccessToken(username string, expiresAt time.Time) string {
	s.mu.Lock()
	acc, ok := s.accounts[username]
	s.mu.Unlock()
	if !ok {
		panic("authtest: unknown user " + username)
	}
	raw, err := s.createAccessToken(&acc.user, expiresAt)
	if err != nil {
		panic(err)
	}
	return raw
}

// FailRefresh makes every refresh call answer 401.
func (s *Server) FailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// RevokeRefreshTokens invalidates every issued refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]storedRefreshToken)
}

// HoldRefresh blocks refresh calls until the returned function is called.
func (s *Server) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.refreshGate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.refreshGate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// LastLanguage is the language header of the most recent API call.
func (s *Server) LastLanguage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLanguage
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	s.LoginCalls.Add(1)
	var creds authapi.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSONError(w, "invalid_request", "malformed body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[creds.Username]
	if !ok || !users.CheckPasswordHash(creds.Password, acc.passwordHash) {
		writeJSONError(w, "invalid_credentials", "invalid username or password", http.StatusUnauthorized)
		return
	}
	s.issueTokens(w, &acc.user, true)
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	s.RefreshCalls.Add(1)
	var req authapi.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid_request", "malformed body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	gate := s.refreshGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.refreshTokens[req.RefreshToken]
	if s.failRefresh || !ok {
		writeJSONError(w, "invalid_grant", "invalid refresh token", http.StatusUnauthorized)
		return
	}
	delete(s.refreshTokens, stored.Token)

	acc, ok := s.accounts[stored.Username]
	if !ok {
		writeJSONError(w, "invalid_grant", "unknown user", http.StatusUnauthorized)
		return
	}
	s.issueTokens(w, &acc.user, !s.omitRefreshUser)
}

// issueTokens must be called with mu held.
func (s *Server) issueTokens(w http.ResponseWriter, user *users.Identity, withUser bool) {
	expiresAt := s.now().Add(s.accessTTL)
	access, err := s.createAccessToken(user, expiresAt)
	if err != nil {
		writeJSONError(w, "server_error", err.Error(), http.StatusInternalServerError)
		return
	}
	refreshToken, err := s.createRefreshToken(user.Username)
	if err != nil {
		writeJSONError(w, "server_error", err.Error(), http.StatusInternalServerError)
		return
	}

	resp := authapi.TokenResponse{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresAt:    &authapi.Timestamp{Time: expiresAt},
	}
	if withUser {
		resp.User = user.Clone()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.APICalls.Add(1)
		s.mu.Lock()
		s.lastLanguage = r.Header.Get("language")
		s.mu.Unlock()

		authHeader := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || raw == "" {
			s.Unauthorized.Add(1)
			writeJSONError(w, "unauthorized", "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := s.validateAccessToken(raw); err != nil {
			s.Unauthorized.Add(1)
			writeJSONError(w, "unauthorized", err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listTicketsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]any{
		{"id": 1, "title": "Printer on fire", "status": "open"},
		{"id": 2, "title": "VPN drops hourly", "status": "pending"},
	})
}

// createTicketHandler echoes the request body so replays can be checked.
func (s *Server) createTicketHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	sub, _ := s.validateAccessToken(raw)
	writeJSON(w, http.StatusOK, map[string]string{"sub": sub})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code, description string, status int) {
	writeJSON(w, status, authapi.ErrorResponse{Error: code, ErrorDescription: description})
}
