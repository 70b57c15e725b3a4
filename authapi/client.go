package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/helpdesk-session/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	RouteLogin   = "/auth/login"
	RouteRefresh = "/auth/refresh"

	contentTypeJSON = "application/json; charset=utf-8"
	maxErrorBody    = 4 << 10
)

// Client calls the helpdesk auth endpoints. It must use a plain HTTP client,
// never one wired with the session interceptor.
type Client struct {
	baseURL    string
	httpClient *http.Client
	language   string
	nowFunc    func() time.Time
	log        zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLanguage sets the UI locale sent in the language header.
func WithLanguage(language string) Option {
	return func(cl *Client) {
		cl.language = language
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(cl *Client) {
		cl.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(cl *Client) {
		cl.log = logger
	}
}

func NewClient(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		nowFunc:    time.Now,
		log:        log.With().Str("component", "authapi.Client").Logger(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a token response. A 400 or 401 from the
// backend is ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, creds Credentials) (*TokenResponse, time.Time, error) {
	resp, received, err := c.post(ctx, RouteLogin, creds)
	if err != nil {
		if isStatus(err, http.StatusBadRequest, http.StatusUnauthorized) {
			return nil, received, fmt.Errorf("[Client.Login] %w", apperrors.ErrInvalidCredentials)
		}
		return nil, received, fmt.Errorf("[Client.Login] %w", err)
	}
	if resp.User == nil {
		return nil, received, fmt.Errorf("[Client.Login] %w: no user", apperrors.ErrMissingResponse)
	}
	return resp, received, nil
}

// Refresh exchanges a refresh token for a new token response. Any non-2xx
// status is an error.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, time.Time, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, time.Time{}, fmt.Errorf("[Client.Refresh] %w", apperrors.ErrNoRefreshToken)
	}
	resp, received, err := c.post(ctx, RouteRefresh, RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, received, fmt.Errorf("[Client.Refresh] %w", err)
	}
	return resp, received, nil
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       ErrorResponse
}

func (e *StatusError) Error() string {
	if e.Body.Error != "" {
		return fmt.Sprintf("auth endpoint returned %d: %s", e.StatusCode, e.Body.Error)
	}
	return fmt.Sprintf("auth endpoint returned %d", e.StatusCode)
}

func isStatus(err error, codes ...int) bool {
	var se *StatusError
	if !apperrors.As(err, &se) {
		return false
	}
	for _, code := range codes {
		if se.StatusCode == code {
			return true
		}
	}
	return false
}

func (c *Client) post(ctx context.Context, route string, body any) (*TokenResponse, time.Time, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, time.Time{}, apperrors.Wrapf(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(payload))
	if err != nil {
		return nil, time.Time{}, apperrors.Wrapf(err, "create request")
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", "application/json")
	if c.language != "" {
		req.Header.Set("language", c.language)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer resp.Body.Close()
	received := c.nowFunc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&se.Body)
		c.log.Debug().Str("route", route).Int("status", resp.StatusCode).Msg("Auth request rejected")
		return nil, received, se
	}

	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, received, apperrors.Wrapf(err, "decode %s response", route)
	}
	if strings.TrimSpace(tr.AccessToken) == "" {
		return nil, received, fmt.Errorf("%w: no access_token", apperrors.ErrMissingResponse)
	}
	return &tr, received, nil
}
