// Package substrate wires a pubsub.Broker implementation from configuration,
// so every module executable shares one connection-setup path instead of
// repeating it per command.
package substrate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/voltproto/tradecore/kv"
	"github.com/voltproto/tradecore/pubsub"
)

// Kind selects which broker implementation to construct.
type Kind string

const (
	Memory   Kind = "memory"
	Postgres Kind = "postgres"
	Redis    Kind = "redis"
)

// Config names the substrate to connect to.
type Config struct {
	Kind    string `default:"memory" desc:"substrate backend: memory, postgres, or redis"`
	Address string `desc:"connection string or host:port for the chosen backend"`
}

// Open connects to the configured substrate and returns a ready broker. No
// separate closer is returned: the Postgres pool or Redis client opened here
// stays open for the life of the process.
func Open(ctx context.Context, cfg Config) (pubsub.Broker, error) {
	switch Kind(cfg.Kind) {
	case Postgres:
		pool, err := pgxpool.New(ctx, cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("substrate: connect postgres: %w", err)
		}
		return pubsub.NewPostgres(pool), nil

	case Redis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Address})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("substrate: connect redis: %w", err)
		}
		return pubsub.NewRedis(client), nil

	case Memory, "":
		return pubsub.NewInMemory(), nil

	default:
		return nil, fmt.Errorf("substrate: unknown kind %q", cfg.Kind)
	}
}

// OpenStore connects a kv.Store for the configured substrate, so a SourcePostgres
// backtest data source has somewhere real to read from
// instead of always failing with "no store configured". Kind Redis has no
// kv.Store counterpart in this module and returns (nil, nil): callers must
// treat a nil store the same way backtest.Engine already does - as "no
// persistent backing store", leaving Postgres-sourced backtests alone to
// error clearly at resolve time.
func OpenStore(ctx context.Context, cfg Config) (kv.Store, error) {
	switch Kind(cfg.Kind) {
	case Postgres:
		pool, err := pgxpool.New(ctx, cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("substrate: connect postgres store: %w", err)
		}
		store := kv.NewPostgresStore(pool)
		if err := store.CreateTable(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("substrate: create kv table: %w", err)
		}
		return store, nil

	case Memory, "":
		return kv.NewMemoryStore(), nil

	case Redis:
		return nil, nil

	default:
		return nil, fmt.Errorf("substrate: unknown kind %q", cfg.Kind)
	}
}
