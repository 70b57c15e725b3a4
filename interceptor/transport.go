package interceptor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/helpdesk-session/authapi"
	apperrors "github.com/jrsteele09/helpdesk-session/internal/errors"
	"github.com/jrsteele09/helpdesk-session/internal/metrics"
	"github.com/jrsteele09/helpdesk-session/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const languageHeader = "language"

// TokenSource hands out a fresh token set once rejected is no longer usable.
type TokenSource interface {
	Token(ctx context.Context, rejected string) (*token.Set, error)
}

// Transport attaches the session's bearer token to every request and, on a
// 401, refreshes once and replays the request with the new token.
type Transport struct {
	base              http.RoundTripper
	store             token.Store
	tokens            TokenSource
	language          string
	nowFunc           func() time.Time
	onUnauthenticated func(err error)
	log               zerolog.Logger
}

var _ http.RoundTripper = (*Transport)(nil)

type Option func(*Transport)

// WithBase sets the transport requests are sent through.
func WithBase(base http.RoundTripper) Option {
	return func(t *Transport) {
		t.base = base
	}
}

// WithLanguage sets the UI locale sent in the language header.
func WithLanguage(language string) Option {
	return func(t *Transport) {
		t.language = language
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(t *Transport) {
		t.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		t.log = logger
	}
}

// OnUnauthenticated is called when a 401 arrives and there is no refresh
// token to recover with.
func OnUnauthenticated(fn func(err error)) Option {
	return func(t *Transport) {
		t.onUnauthenticated = fn
	}
}

func New(store token.Store, tokens TokenSource, options ...Option) *Transport {
	t := &Transport{
		base:    http.DefaultTransport,
		store:   store,
		tokens:  tokens,
		nowFunc: time.Now,
		log:     log.With().Str("component", "interceptor.Transport").Logger(),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Client returns an http.Client that sends through t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if isCredentialExchange(req.URL.Path) {
		return t.base.RoundTrip(t.prepare(req, req.Body, nil))
	}

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, fmt.Errorf("[Transport.RoundTrip] buffer body: %w", err)
	}
	firstBody := req.Body
	if req.GetBody == nil && getBody != nil {
		firstBody, _ = getBody()
	}

	tokens, err := t.currentTokens(ctx)
	if err != nil {
		closeBody(firstBody)
		return nil, err
	}

	resp, err := t.base.RoundTrip(t.prepare(req, firstBody, tokens))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	stored, err := t.store.Load(ctx)
	if err != nil {
		return resp, nil
	}
	if !stored.HasRefreshToken() {
		drain(resp)
		err := fmt.Errorf("[Transport.RoundTrip] %s %s: %w", req.Method, req.URL.Path, apperrors.ErrUnauthenticated)
		if t.onUnauthenticated != nil {
			t.onUnauthenticated(err)
		}
		return nil, err
	}

	rejected := ""
	if tokens != nil {
		rejected = tokens.AccessToken
	}
	fresh, err := t.tokens.Token(ctx, rejected)
	if err != nil {
		drain(resp)
		metrics.ReplayTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}

	var body io.ReadCloser
	if getBody != nil {
		if body, err = getBody(); err != nil {
			drain(resp)
			return nil, fmt.Errorf("[Transport.RoundTrip] rewind body: %w", err)
		}
	}
	drain(resp)

	replayed, err := t.base.RoundTrip(t.prepare(req, body, fresh))
	if err != nil {
		return nil, err
	}
	if replayed.StatusCode == http.StatusUnauthorized {
		metrics.ReplayTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		t.log.Warn().Str("path", req.URL.Path).Msg("Request rejected again after refresh")
	} else {
		metrics.ReplayTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	}
	return replayed, nil
}

// currentTokens returns the token to send. A locally expired token is
// refreshed first when possible, otherwise it is not sent at all.
func (t *Transport) currentTokens(ctx context.Context) (*token.Set, error) {
	tokens, err := t.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Transport.currentTokens] %w", err)
	}
	if tokens == nil || !tokens.ExpiredAt(t.nowFunc()) {
		return tokens, nil
	}
	if !tokens.HasRefreshToken() {
		return nil, nil
	}
	return t.tokens.Token(ctx, tokens.AccessToken)
}

func (t *Transport) prepare(req *http.Request, body io.ReadCloser, tokens *token.Set) *http.Request {
	out := req.Clone(req.Context())
	out.Body = body
	out.Header.Del("Authorization")
	if tokens != nil && tokens.AccessToken != "" {
		tokens.OAuth2().SetAuthHeader(out)
	}
	if t.language != "" && out.Header.Get(languageHeader) == "" {
		out.Header.Set(languageHeader, t.language)
	}
	return out
}

// replayableBody returns a function producing fresh copies of the request
// body, buffering it when the request cannot rewind itself.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		return req.GetBody, nil
	}
	data, err := io.ReadAll(req.Body)
	closeBody(req.Body)
	if err != nil {
		return nil, err
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}

func closeBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

// isCredentialExchange reports whether path is the login or refresh endpoint,
// which carry credentials in the body instead of a bearer token.
func isCredentialExchange(path string) bool {
	return strings.HasSuffix(path, authapi.RouteLogin) || strings.HasSuffix(path, authapi.RouteRefresh)
}
