package main

import (
	"context"
	"fmt"

	"github.com/jrsteele09/helpdesk-session/internal/config"
	"github.com/jrsteele09/helpdesk-session/sessions"
	"github.com/jrsteele09/helpdesk-session/token"
	"github.com/jrsteele09/helpdesk-session/token/redisstore"
	"github.com/rs/zerolog/log"
)

// openStore returns the configured token store, scoped to the base URL.
func openStore(ctx context.Context, cfg config.Config) (token.Store, func(), error) {
	switch cfg.GetStorageBackend() {
	case config.StorageMemoryBackend:
		return token.NewMemoryStore(), func() {}, nil
	case config.StorageRedisBackend:
		client, err := redisstore.Dial(ctx, cfg.GetRedisURL())
		if err != nil {
			return nil, nil, err
		}
		store := redisstore.New(client, cfg.GetRedisKeyPrefix(), cfg.GetBaseURL())
		return store, func() { _ = client.Close() }, nil
	default:
		store, err := token.NewFileStore(cfg.GetDataFolder(), cfg.GetBaseURL())
		if err != nil {
			return nil, nil, err
		}
		log.Debug().Str("path", store.Path()).Msg("Using file session store")
		return store, func() {}, nil
	}
}

// openService builds the session service and restores the stored session.
func (a *app) openService(ctx context.Context) (*sessions.Service, func(), error) {
	store, closeStore, err := openStore(ctx, a.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	svc := sessions.New(store, a.cfg)
	watchCtx, cancel := context.WithCancel(ctx)
	closeFn := func() {
		cancel()
		svc.Close()
		closeStore()
	}
	if err := svc.Init(watchCtx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return svc, closeFn, nil
}
