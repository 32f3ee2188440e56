package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/lazypower/retain/internal/config"
	"github.com/lazypower/retain/internal/redistracker"
	"github.com/lazypower/retain/internal/store"
	"github.com/lazypower/retain/internal/tracker"
)

// backend is an open tracker plus what the server needs to report on it.
type backend struct {
	name    string
	where   string
	tracker tracker.Tracker
	ping    func(context.Context) error
	close   func() error
}

func openBackend(ctx context.Context, cfg config.TrackerConfig) (*backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendMemory:
		shards := cfg.Shards
		if shards == 0 {
			shards = tracker.DefaultShards
		}
		return &backend{
			name:    config.BackendMemory,
			where:   fmt.Sprintf("%d shards", shards),
			tracker: tracker.NewSharded(shards),
			close:   func() error { return nil },
		}, nil

	case config.BackendSQLite:
		path := cfg.SQLite.Path
		if path == "" {
			var err error
			path, err = store.DefaultDBPath()
			if err != nil {
				return nil, fmt.Errorf("resolve db path: %w", err)
			}
		}
		db, err := store.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return &backend{
			name:    config.BackendSQLite,
			where:   path,
			tracker: db,
			ping:    db.PingContext,
			close:   db.Close,
		}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		tr := redistracker.New(client, cfg.Redis.Prefix)
		if err := tr.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return &backend{
			name:    config.BackendRedis,
			where:   cfg.Redis.Addr,
			tracker: tr,
			ping:    tr.Ping,
			close:   client.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown tracker backend %q", cfg.Backend)
}

// openDurable opens the configured backend and refuses the in-memory one,
// whose state would not outlive this process.
func openDurable(ctx context.Context, cfg config.TrackerConfig) (*backend, error) {
	if strings.ToLower(cfg.Backend) == config.BackendMemory {
		return nil, fmt.Errorf("tracker backend is %q; set tracker.backend to sqlite or redis", cfg.Backend)
	}
	return openBackend(ctx, cfg)
}
