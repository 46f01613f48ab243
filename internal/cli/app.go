package cli

import (
	"context"
	"fmt"

	"github.com/Sternrassler/console-store/internal/config"
	"github.com/Sternrassler/console-store/pkg/client"
	"github.com/Sternrassler/console-store/pkg/logging"
	"github.com/Sternrassler/console-store/pkg/pagination"
	"github.com/Sternrassler/console-store/pkg/schema"
	"github.com/Sternrassler/console-store/pkg/store"
	"github.com/redis/go-redis/v9"
)

// app wires the client, the optional Redis connection and the store.
type app struct {
	redis  *redis.Client
	client *client.Client
	store  *store.Store
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := logging.NewLogger("cli")
	reg := schema.NewConsoleRegistry()

	a := &app{}
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	ccfg := client.DefaultConfig(cfg.API.BaseURL)
	ccfg.Token = cfg.API.Token
	ccfg.Endpoint = cfg.API.Endpoint
	ccfg.UserAgent = cfg.API.UserAgent
	ccfg.Timeout = cfg.API.Timeout
	ccfg.Registry = reg
	if a.redis != nil {
		ccfg.Redis = a.redis
	}

	c, err := client.New(ccfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	a.client = c

	scfg := store.DefaultConfig()
	scfg.Pagination = pagination.Config{
		DefaultPageSize: cfg.Store.PageSize,
		MaxConcurrency:  cfg.Store.MaxConcurrency,
		Timeout:         cfg.Store.PageTimeout,
	}
	a.store = store.New(scfg, c, reg)
	return a, nil
}

func (a *app) Close() {
	if a.client != nil {
		a.client.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
