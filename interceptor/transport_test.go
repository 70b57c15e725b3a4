package interceptor_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/helpdesk-session/authapi"
	"github.com/jrsteele09/helpdesk-session/interceptor"
	"github.com/jrsteele09/helpdesk-session/internal/authtest"
	apperrors "github.com/jrsteele09/helpdesk-session/internal/errors"
	"github.com/jrsteele09/helpdesk-session/refresh"
	"github.com/jrsteele09/helpdesk-session/token"
	"github.com/jrsteele09/helpdesk-session/users"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type harness struct {
	srv         *authtest.Server
	store       *token.MemoryStore
	coordinator *refresh.Coordinator
	client      *http.Client
	loggedOut   atomic.Int64
}

func newHarness(t *testing.T, options ...interceptor.Option) *harness {
	t.Helper()
	h := &harness{
		srv:   authtest.NewServer(t),
		store: token.NewMemoryStore(),
	}
	h.srv.AddUser("Secret123", users.Identity{ID: "u-1", Username: "alice", Roles: []users.RoleType{users.RoleAgent}})

	h.coordinator = refresh.NewCoordinator(h.store, authapi.NewClient(h.srv.URL),
		refresh.OnFailure(func(error) { h.logout() }),
	)
	options = append(options, interceptor.OnUnauthenticated(func(error) { h.logout() }))
	h.client = interceptor.New(h.store, h.coordinator, options...).Client()
	return h
}

func (h *harness) logout() {
	h.loggedOut.Add(1)
	h.coordinator.Reset(apperrors.ErrLoggedOut)
	_ = h.store.Clear(context.Background())
}

// login stores a real session and returns it.
func (h *harness) login(t *testing.T) *token.Set {
	t.Helper()
	resp, received, err := authapi.NewClient(h.srv.URL).Login(context.Background(), authapi.Credentials{Username: "alice", Password: "Secret123"})
	require.NoError(t, err)
	set := resp.TokenSet(received)
	require.NoError(t, h.store.Save(context.Background(), set, resp.User))
	return set
}

// expireAccessToken swaps the stored access token for one the server
// rejects while the client still believes it is valid.
func (h *harness) expireAccessToken(t *testing.T, set *token.Set) {
	t.Helper()
	expired := set.Clone()
	expired.AccessToken = h.srv.MintAccessToken("alice", time.Now().Add(-time.Minute))
	expired.ExpiresAt = time.Time{}
	require.NoError(t, h.store.Save(context.Background(), expired, nil))
}

func (h *harness) get(t *testing.T) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+authtest.RouteTickets, nil)
	require.NoError(t, err)
	return h.client.Do(req)
}

func TestTransport_AttachesBearerToken(t *testing.T) {
	h := newHarness(t, interceptor.WithLanguage("fr"))
	h.login(t)

	resp, err := h.get(t)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "fr", h.srv.LastLanguage())
	require.EqualValues(t, 0, h.srv.RefreshCalls.Load())
}

func TestTransport_AuthenticatesAPIRoutesUnderAuthPath(t *testing.T) {
	profile := func(t *testing.T, h *harness) {
		t.Helper()
		resp, err := h.client.Get(h.srv.URL + authtest.RouteProfile)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, "u-1", body["sub"])
	}

	t.Run("bearer token attached", func(t *testing.T) {
		h := newHarness(t)
		h.login(t)
		profile(t, h)
		require.EqualValues(t, 0, h.srv.Unauthorized.Load())
	})

	t.Run("refreshed and replayed after 401", func(t *testing.T) {
		h := newHarness(t)
		h.expireAccessToken(t, h.login(t))
		profile(t, h)
		require.EqualValues(t, 1, h.srv.Unauthorized.Load())
		require.EqualValues(t, 1, h.srv.RefreshCalls.Load())
	})

	t.Run("login endpoint untouched", func(t *testing.T) {
		h := newHarness(t)
		h.expireAccessToken(t, h.login(t))

		resp, err := h.client.Post(h.srv.URL+authapi.RouteLogin, "application/json",
			strings.NewReader(`{"username":"alice","password":"wrong"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.EqualValues(t, 0, h.srv.RefreshCalls.Load())
		require.EqualValues(t, 0, h.loggedOut.Load())
	})
}

func TestTransport_RefreshesAndReplaysOnce(t *testing.T) {
	h := newHarness(t)
	h.expireAccessToken(t, h.login(t))

	body := `{"title":"Keyboard missing keys"}`
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+authtest.RouteTickets, io.NopCloser(strings.NewReader(body)))
	require.NoError(t, err)
	req.GetBody = nil

	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	echoed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, body, string(echoed), "replayed request carries the original body")
	require.EqualValues(t, 1, h.srv.RefreshCalls.Load())
	require.EqualValues(t, 1, h.srv.Unauthorized.Load())
}

func TestTransport_ConcurrentRequestsShareOneRefresh(t *testing.T) {
	h := newHarness(t)
	h.expireAccessToken(t, h.login(t))
	release := h.srv.HoldRefresh()

	g := new(errgroup.Group)
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			resp, err := h.get(t)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return errors.New(resp.Status)
			}
			return nil
		})
	}
	require.Eventually(t, func() bool { return h.srv.RefreshCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	release()

	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, h.srv.RefreshCalls.Load())
}

func TestTransport_ProactiveRefreshOfLocallyExpiredToken(t *testing.T) {
	h := newHarness(t)
	set := h.login(t)
	set.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, h.store.Save(context.Background(), set, nil))

	resp, err := h.get(t)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, h.srv.RefreshCalls.Load())
	require.EqualValues(t, 0, h.srv.Unauthorized.Load(), "no avoidable 401")
}

func TestTransport_InvalidRefreshTokenLogsOut(t *testing.T) {
	h := newHarness(t)
	h.expireAccessToken(t, h.login(t))
	h.srv.RevokeRefreshTokens()

	_, err := h.get(t)
	require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
	require.EqualValues(t, 1, h.loggedOut.Load())

	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestTransport_NoRefreshTokenIsUnauthenticated(t *testing.T) {
	h := newHarness(t)
	set := h.login(t)
	set.AccessToken = h.srv.MintAccessToken("alice", time.Now().Add(-time.Minute))
	set.RefreshToken = ""
	set.ExpiresAt = time.Time{}
	require.NoError(t, h.store.Save(context.Background(), set, nil))

	_, err := h.get(t)
	require.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	require.Equal(t, apperrors.KindUnauthenticated, apperrors.KindOf(err))
	require.EqualValues(t, 0, h.srv.RefreshCalls.Load())
	require.EqualValues(t, 1, h.loggedOut.Load())
}

// rejectingTransport answers 401 to everything but the refresh endpoint.
type rejectingTransport struct {
	calls atomic.Int64
}

func (r *rejectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r.calls.Add(1)
	return &http.Response{
		StatusCode: http.StatusUnauthorized,
		Body:       io.NopCloser(strings.NewReader(`{"error":"forbidden resource"}`)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

type staticSource struct {
	calls atomic.Int64
}

func (s *staticSource) Token(context.Context, string) (*token.Set, error) {
	s.calls.Add(1)
	return &token.Set{AccessToken: "fresh", RefreshToken: "rt"}, nil
}

func TestTransport_SecondUnauthorizedIsReturned(t *testing.T) {
	store := token.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), &token.Set{AccessToken: "stale", RefreshToken: "rt"}, nil))
	base := &rejectingTransport{}
	source := &staticSource{}
	client := interceptor.New(store, source, interceptor.WithBase(base)).Client()

	resp, err := client.Get("http://helpdesk.test/api/tickets")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.EqualValues(t, 2, base.calls.Load(), "original plus exactly one replay")
	require.EqualValues(t, 1, source.calls.Load())

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "forbidden resource", body["error"])
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestTransport_NetworkErrorPassesThrough(t *testing.T) {
	store := token.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), &token.Set{AccessToken: "a", RefreshToken: "rt"}, nil))
	source := &staticSource{}
	var unauthenticated atomic.Int64
	client := interceptor.New(store, source,
		interceptor.WithBase(failingTransport{}),
		interceptor.OnUnauthenticated(func(error) { unauthenticated.Add(1) }),
	).Client()

	_, err := client.Get("http://helpdesk.test/api/tickets")
	require.ErrorContains(t, err, "connection refused")
	require.NotErrorIs(t, err, apperrors.ErrUnauthenticated)
	require.EqualValues(t, 0, source.calls.Load())
	require.EqualValues(t, 0, unauthenticated.Load())

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", stored.AccessToken, "network errors never end the session")
}
