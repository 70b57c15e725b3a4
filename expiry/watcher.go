package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/helpdesk-session/internal/broadcast"
	"github.com/jrsteele09/helpdesk-session/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Unread signals kept per subscriber. Signals alternate, so a reader that
// falls behind still sees the last crossing and its recovery in order.
const signalDepth = 4

// State of the watcher.
type State int

const (
	Dormant  State = iota // no session
	Watching              // session present, expiry being checked
)

func (s State) String() string {
	if s == Watching {
		return "watching"
	}
	return "dormant"
}

// Watcher raises a warning when the access token is about to expire.
// It signals true once per crossing into the warning window and false when
// the session leaves it again (refresh) or ends. It never touches the store.
type Watcher struct {
	mu        sync.Mutex
	threshold time.Duration
	interval  time.Duration
	nowFunc   func() time.Time
	state     State
	expiresAt time.Time
	warning   bool
	signals   *broadcast.Broadcaster[bool]
	log       zerolog.Logger
}

type Option func(*Watcher)

func WithNowFunc(now func() time.Time) Option {
	return func(w *Watcher) {
		w.nowFunc = now
	}
}

// WithInterval sets how often Run checks the expiry.
func WithInterval(interval time.Duration) Option {
	return func(w *Watcher) {
		w.interval = interval
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) {
		w.log = logger
	}
}

func New(threshold time.Duration, options ...Option) *Watcher {
	w := &Watcher{
		threshold: threshold,
		signals:   broadcast.NewQueued[bool](signalDepth),
		log:       log.With().Str("component", "expiry.Watcher").Logger(),
	}
	for _, opt := range options {
		opt(w)
	}
	if w.interval <= 0 {
		w.interval = 15 * time.Second
	}
	if w.nowFunc == nil {
		w.nowFunc = time.Now
	}
	return w
}

// Watch enters (or stays in) Watching for a token expiring at expiresAt and
// checks it immediately. A zero expiresAt means the expiry is unknown and
// never warns.
func (w *Watcher) Watch(expiresAt time.Time) {
	w.mu.Lock()
	w.state = Watching
	w.expiresAt = expiresAt
	w.mu.Unlock()
	w.Check()
}

// Stop returns to Dormant, clearing any active warning.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = Dormant
	w.expiresAt = time.Time{}
	w.setWarning(false)
}

// Check compares the remaining lifetime against the threshold and signals a
// change of warning status.
func (w *Watcher) Check() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Watching || w.expiresAt.IsZero() {
		w.setWarning(false)
		return
	}
	remaining := w.expiresAt.Sub(w.nowFunc())
	w.setWarning(remaining <= w.threshold)
}

// setWarning must be called with mu held.
func (w *Watcher) setWarning(warning bool) {
	if w.warning == warning {
		return
	}
	w.warning = warning
	if warning {
		metrics.ExpiryWarnings.Inc()
		w.log.Info().Time("expires_at", w.expiresAt).Msg("Session is about to expire")
	}
	w.signals.Publish(warning)
}

func (w *Watcher) Warning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.warning
}

func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Subscribe streams warning status changes. A reader more than signalDepth
// signals behind loses the oldest ones.
func (w *Watcher) Subscribe() (<-chan bool, func()) {
	return w.signals.Subscribe()
}

// Run checks the expiry on every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Close ends all subscriptions.
func (w *Watcher) Close() {
	w.signals.Close()
}
