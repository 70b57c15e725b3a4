package refresh_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/helpdesk-session/authapi"
	apperrors "github.com/jrsteele09/helpdesk-session/internal/errors"
	"github.com/jrsteele09/helpdesk-session/internal/metrics"
	"github.com/jrsteele09/helpdesk-session/refresh"
	"github.com/jrsteele09/helpdesk-session/token"
	"github.com/jrsteele09/helpdesk-session/users"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeRefresher counts calls and can hold them until released.
type fakeRefresher struct {
	mu      sync.Mutex
	calls   atomic.Int64
	gate    chan struct{}
	started chan struct{}
	err     error
	user    *users.Identity
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{started: make(chan struct{}, 16)}
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*authapi.TokenResponse, time.Time, error) {
	n := f.calls.Add(1)
	f.started <- struct{}{}

	f.mu.Lock()
	gate, err, user := f.gate, f.err, f.user
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, time.Time{}, ctx.Err()
		}
	}
	if err != nil {
		return nil, now, err
	}
	at := authapi.Timestamp{Time: now.Add(time.Hour)}
	return &authapi.TokenResponse{
		AccessToken:  "access-" + string(rune('0'+n)),
		RefreshToken: "refresh-" + string(rune('0'+n)),
		ExpiresAt:    &at,
		User:         user,
	}, now, nil
}

func (f *fakeRefresher) hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func seededStore(t *testing.T) *token.MemoryStore {
	t.Helper()
	store := token.NewMemoryStore()
	err := store.Save(context.Background(), &token.Set{
		AccessToken:  "access-0",
		RefreshToken: "refresh-0",
		ExpiresAt:    now.Add(-time.Minute),
	}, &users.Identity{ID: "u1", Username: "alice"})
	require.NoError(t, err)
	return store
}

func TestCoordinator_SingleFlight(t *testing.T) {
	store := seededStore(t)
	api := newFakeRefresher()
	gate := api.hold()

	successCycles := testutil.ToFloat64(metrics.RefreshTotal.WithLabelValues(metrics.OutcomeSuccess))

	var successes atomic.Int64
	c := refresh.NewCoordinator(store, api,
		refresh.WithNowFunc(func() time.Time { return now }),
		refresh.OnSuccess(func(*token.Set, *users.Identity) { successes.Add(1) }),
	)

	const callers = 8
	results := make([]*token.Set, callers)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			set, err := c.Token(ctx, "access-0")
			results[i] = set
			return err
		})
	}

	<-api.started
	require.Eventually(t, c.InFlight, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)

	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, api.calls.Load())
	require.EqualValues(t, 1, successes.Load())
	require.Equal(t, successCycles+1, testutil.ToFloat64(metrics.RefreshTotal.WithLabelValues(metrics.OutcomeSuccess)))
	for _, set := range results {
		require.Equal(t, "access-1", set.AccessToken)
	}

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", stored.AccessToken)
	require.Equal(t, "refresh-1", stored.RefreshToken)
	require.True(t, stored.ExpiresAt.Equal(now.Add(time.Hour)))
	require.False(t, c.InFlight())
}

func TestCoordinator_FailTogether(t *testing.T) {
	store := seededStore(t)
	api := newFakeRefresher()
	api.err = errors.New("invalid refresh token")
	gate := api.hold()

	var failures atomic.Int64
	c := refresh.NewCoordinator(store, api,
		refresh.OnFailure(func(error) { failures.Add(1) }),
	)

	const callers = 5
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Token(context.Background(), "access-0")
		}()
	}
	<-api.started
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.EqualValues(t, 1, api.calls.Load())
	require.EqualValues(t, 1, failures.Load())
	for _, err := range errs {
		require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
		require.Equal(t, apperrors.KindRefreshFailed, apperrors.KindOf(err))
	}
}

func TestCoordinator_NoRefreshToken(t *testing.T) {
	store := token.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), &token.Set{AccessToken: "access-0"}, nil))
	api := newFakeRefresher()

	c := refresh.NewCoordinator(store, api)
	_, err := c.Refresh(context.Background())
	require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
	require.ErrorIs(t, err, apperrors.ErrNoRefreshToken)
	require.EqualValues(t, 0, api.calls.Load())
}

func TestCoordinator_ReusesReplacedToken(t *testing.T) {
	store := token.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), &token.Set{
		AccessToken:  "access-new",
		RefreshToken: "refresh-new",
		ExpiresAt:    now.Add(time.Hour),
	}, nil))
	api := newFakeRefresher()

	c := refresh.NewCoordinator(store, api, refresh.WithNowFunc(func() time.Time { return now }))
	set, err := c.Token(context.Background(), "access-old")
	require.NoError(t, err)
	require.Equal(t, "access-new", set.AccessToken)
	require.EqualValues(t, 0, api.calls.Load())

	t.Run("forced refresh always calls the backend", func(t *testing.T) {
		set, err := c.Refresh(context.Background())
		require.NoError(t, err)
		require.Equal(t, "access-1", set.AccessToken)
		require.EqualValues(t, 1, api.calls.Load())
	})
}

func TestCoordinator_KeepsUserAndRefreshTokenWhenOmitted(t *testing.T) {
	store := seededStore(t)
	api := newFakeRefresher()
	c := refresh.NewCoordinator(store, api)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	_, user, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)

	api.user = &users.Identity{ID: "u1", Username: "alice", FirstName: "Alice"}
	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
	user, err = store.CurrentUser(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Alice", user.FirstName)
}

func TestCoordinator_ResetDiscardsInFlight(t *testing.T) {
	store := seededStore(t)
	api := newFakeRefresher()
	gate := api.hold()

	var successes atomic.Int64
	c := refresh.NewCoordinator(store, api,
		refresh.OnSuccess(func(*token.Set, *users.Identity) { successes.Add(1) }),
	)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Token(context.Background(), "access-0")
		errCh <- err
	}()
	<-api.started
	require.Eventually(t, c.InFlight, time.Second, time.Millisecond)

	require.NoError(t, store.Clear(context.Background()))
	c.Reset(apperrors.ErrLoggedOut)

	err := <-errCh
	require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
	require.ErrorIs(t, err, apperrors.ErrLoggedOut)
	require.False(t, c.InFlight())

	close(gate)
	require.Eventually(t, func() bool { return api.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Nil(t, stored, "late refresh result must not resurrect the session")
	require.EqualValues(t, 0, successes.Load())
}

func TestCoordinator_WaiterCancellation(t *testing.T) {
	store := seededStore(t)
	api := newFakeRefresher()
	gate := api.hold()
	c := refresh.NewCoordinator(store, api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Token(ctx, "access-0")
		errCh <- err
	}()
	<-api.started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	// The shared call is not cancelled with the waiter.
	close(gate)
	require.Eventually(t, func() bool { return !c.InFlight() }, time.Second, time.Millisecond)
	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", stored.AccessToken)
}
