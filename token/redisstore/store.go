package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/helpdesk-session/internal/errors"
	"github.com/jrsteele09/helpdesk-session/internal/metrics"
	"github.com/jrsteele09/helpdesk-session/token"
	"github.com/jrsteele09/helpdesk-session/users"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "helpdesk:session:"

// Store is a Redis-backed token.Store. The tokens and user keys are written
// in one MULTI/EXEC transaction, read with one MGET and removed with one DEL.
type Store struct {
	client    *redis.Client
	tokensKey string
	userKey   string
	ttl       time.Duration
}

var _ token.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTTL expires both keys after ttl unless they are saved again. Zero keeps them until cleared.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// New creates a store for the session of origin. Keys are
// <prefix><origin-key>:tokens and <prefix><origin-key>:user.
func New(client *redis.Client, prefix, origin string, opts ...Option) *Store {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	base := prefix + token.OriginKey(origin)
	s := &Store{
		client:    client,
		tokensKey: base + ":" + token.TokensKey,
		userKey:   base + ":" + token.UserKey,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Dial parses a redis:// URL and pings the server.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (s *Store) Save(ctx context.Context, tokens *token.Set, user *users.Identity) error {
	defer observe("save", time.Now())
	if tokens == nil || tokens.AccessToken == "" {
		return fmt.Errorf("[redisstore.Save] %w: access token is required", apperrors.ErrMissingResponse)
	}

	tokenData, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("[redisstore.Save] marshal tokens: %w", err)
	}
	var userData []byte
	if user != nil {
		if userData, err = json.Marshal(user); err != nil {
			return fmt.Errorf("[redisstore.Save] marshal user: %w", err)
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokensKey, tokenData, s.ttl)
		if userData != nil {
			pipe.Set(ctx, s.userKey, userData, s.ttl)
		} else {
			pipe.Del(ctx, s.userKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("[redisstore.Save] exec: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (*token.Set, error) {
	tokens, _, err := s.Snapshot(ctx)
	return tokens, err
}

func (s *Store) CurrentUser(ctx context.Context) (*users.Identity, error) {
	_, user, err := s.Snapshot(ctx)
	return user, err
}

func (s *Store) Snapshot(ctx context.Context) (*token.Set, *users.Identity, error) {
	defer observe("snapshot", time.Now())

	values, err := s.client.MGet(ctx, s.tokensKey, s.userKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("[redisstore.Snapshot] mget: %w", err)
	}

	tokenData, _ := values[0].(string)
	if tokenData == "" {
		return nil, nil, nil
	}
	var tokens token.Set
	if err := json.Unmarshal([]byte(tokenData), &tokens); err != nil {
		return nil, nil, fmt.Errorf("[redisstore.Snapshot] %w: %v", apperrors.ErrStoreCorrupt, err)
	}

	var user *users.Identity
	if userData, _ := values[1].(string); userData != "" {
		user = &users.Identity{}
		if err := json.Unmarshal([]byte(userData), user); err != nil {
			return nil, nil, fmt.Errorf("[redisstore.Snapshot] %w: %v", apperrors.ErrStoreCorrupt, err)
		}
	}
	return &tokens, user, nil
}

func (s *Store) Clear(ctx context.Context) error {
	defer observe("clear", time.Now())
	if err := s.client.Del(ctx, s.tokensKey, s.userKey).Err(); err != nil {
		return fmt.Errorf("[redisstore.Clear] del: %w", err)
	}
	return nil
}

func observe(op string, start time.Time) {
	metrics.StoreDurationMs.WithLabelValues("redis", op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}
