package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/helpdesk-session/authapi"
	apperrors "github.com/jrsteele09/helpdesk-session/internal/errors"
	"github.com/jrsteele09/helpdesk-session/internal/metrics"
	"github.com/jrsteele09/helpdesk-session/token"
	"github.com/jrsteele09/helpdesk-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultTimeout = 10 * time.Second

// Refresher calls the backend refresh endpoint.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*authapi.TokenResponse, time.Time, error)
}

var _ Refresher = (*authapi.Client)(nil)

type result struct {
	tokens *token.Set
	err    error
}

// Coordinator guarantees at most one refresh call is in flight. Every caller
// that needs a new token while a refresh is running waits for that refresh
// and receives the same outcome.
type Coordinator struct {
	store     token.Store
	api       Refresher
	timeout   time.Duration
	nowFunc   func() time.Time
	log       zerolog.Logger
	onSuccess func(tokens *token.Set, user *users.Identity)
	onFailure func(err error)

	mu         sync.Mutex
	inFlight   bool
	waiters    []chan result
	generation uint64
}

type Option func(*Coordinator)

// WithTimeout bounds each call to the refresh endpoint.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = logger
	}
}

// OnSuccess is called after the refreshed tokens are saved and before any
// waiter is released.
func OnSuccess(fn func(tokens *token.Set, user *users.Identity)) Option {
	return func(c *Coordinator) {
		c.onSuccess = fn
	}
}

// OnFailure is called once per failed cycle, before any waiter is released.
func OnFailure(fn func(err error)) Option {
	return func(c *Coordinator) {
		c.onFailure = fn
	}
}

func NewCoordinator(store token.Store, api Refresher, options ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		api:     api,
		timeout: defaultTimeout,
		nowFunc: time.Now,
		log:     log.With().Str("component", "refresh.Coordinator").Logger(),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c
}

// Token returns a usable token set after rejected was refused by the server
// (or found locally expired). When the stored access token has already been
// replaced by another cycle it is returned without a new refresh.
func (c *Coordinator) Token(ctx context.Context, rejected string) (*token.Set, error) {
	return c.join(ctx, rejected)
}

// Refresh forces a refresh cycle, joining one that is already running.
func (c *Coordinator) Refresh(ctx context.Context) (*token.Set, error) {
	return c.join(ctx, "")
}

// InFlight reports whether a refresh call is running.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Reset discards the running cycle, if any. Its waiters fail immediately with
// reason and a late result is never saved.
func (c *Coordinator) Reset(reason error) {
	c.mu.Lock()
	c.generation++
	waiters := c.waiters
	wasInFlight := c.inFlight
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	if wasInFlight {
		c.log.Debug().Int("waiters", len(waiters)).Msg("In-flight refresh discarded")
	}
	release(waiters, result{err: fmt.Errorf("[Coordinator.Reset] %w: %w", apperrors.ErrRefreshFailed, reason)})
}

func (c *Coordinator) join(ctx context.Context, rejected string) (*token.Set, error) {
	c.mu.Lock()
	if rejected != "" && !c.inFlight {
		current, err := c.store.Load(ctx)
		if err == nil && current != nil && current.AccessToken != rejected && !current.ExpiredAt(c.nowFunc()) {
			c.mu.Unlock()
			metrics.RefreshTotal.WithLabelValues(metrics.OutcomeReused).Inc()
			return current, nil
		}
	}

	ch := make(chan result, 1)
	c.waiters = append(c.waiters, ch)
	if !c.inFlight {
		c.inFlight = true
		go c.run(c.generation)
	}
	c.mu.Unlock()

	select {
	case r := <-ch:
		return r.tokens, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) run(generation uint64) {
	logger := c.log.With().Str("cycle", uuid.NewString()).Logger()
	logger.Debug().Msg("Refreshing session")

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	tokens, user, err := c.call(ctx)

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		metrics.RefreshTotal.WithLabelValues(metrics.OutcomeDiscarded).Inc()
		logger.Info().Msg("Refresh result discarded after reset")
		return
	}
	if err == nil {
		err = c.store.Save(context.WithoutCancel(ctx), tokens, user)
	}
	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	metrics.RefreshWaiters.Observe(float64(len(waiters)))

	if err != nil {
		err = fmt.Errorf("[Coordinator.run] %w: %w", apperrors.ErrRefreshFailed, err)
		metrics.RefreshTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		logger.Err(err).Int("waiters", len(waiters)).Msg("Refresh failed")
		if c.onFailure != nil {
			c.onFailure(err)
		}
		release(waiters, result{err: err})
		return
	}

	metrics.RefreshTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	logger.Info().Int("waiters", len(waiters)).Time("expires_at", tokens.ExpiresAt).Msg("Session refreshed")
	if c.onSuccess != nil {
		c.onSuccess(tokens.Clone(), user.Clone())
	}
	for _, ch := range waiters {
		ch <- result{tokens: tokens.Clone()}
	}
}

// call performs the refresh request and builds the new tokens. The previous
// user snapshot and refresh token are kept when the response omits them.
func (c *Coordinator) call(ctx context.Context) (*token.Set, *users.Identity, error) {
	current, user, err := c.store.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !current.HasRefreshToken() {
		return nil, nil, apperrors.ErrNoRefreshToken
	}

	resp, received, err := c.api.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return nil, nil, err
	}

	tokens := resp.TokenSet(received)
	if !tokens.HasRefreshToken() {
		tokens.RefreshToken = current.RefreshToken
	}
	if resp.User != nil {
		user = resp.User
	}
	return tokens, user, nil
}

func release(waiters []chan result, r result) {
	for _, ch := range waiters {
		ch <- r
	}
}
