package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/chatflow/internal/config"
	"github.com/petrijr/chatflow/internal/persistence"
	"github.com/petrijr/chatflow/internal/taskqueue"
)

const keyPrefix = "chatflow:"

// backends opens store connections on first use and shares them between
// the execution store and the worker queue.
type backends struct {
	cfg    config.Config
	logger *slog.Logger

	sqlDBs map[string]*sql.DB
	redis  *redis.Client
	mongo  map[string]*mongo.Client
}

func newBackends(cfg config.Config, logger *slog.Logger) *backends {
	return &backends{
		cfg:    cfg,
		logger: logger,
		sqlDBs: make(map[string]*sql.DB),
		mongo:  make(map[string]*mongo.Client),
	}
}

func (b *backends) sqlDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	key := driver + "|" + dsn
	if db, ok := b.sqlDBs[key]; ok {
		return db, nil
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// One writer at a time avoids SQLITE_BUSY between the store and the queue.
		db.SetMaxOpenConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ping: %w", driver, err)
	}
	b.sqlDBs[key] = db
	return db, nil
}

func (b *backends) redisClient() *redis.Client {
	if b.redis == nil {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     b.cfg.Redis.Addr,
			Password: b.cfg.Redis.Password,
			DB:       b.cfg.Redis.DB,
		})
	}
	return b.redis
}

func (b *backends) mongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	if c, ok := b.mongo[uri]; ok {
		return c, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := c.Ping(connectCtx, nil); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	b.mongo[uri] = c
	return c, nil
}

// persistence builds the stores for the configured driver. Graphs always
// live in memory and are registered again at startup from flows.dir.
func (b *backends) persistence(ctx context.Context) (persistence.Persistence, error) {
	mem := persistence.NewInMemoryStore()
	p := persistence.Persistence{Executions: mem, Graphs: mem, Events: mem}

	switch b.cfg.Store.Driver {
	case "memory":
	case "sqlite":
		db, err := b.sqlDB(ctx, "sqlite", b.cfg.Store.DSN)
		if err != nil {
			return p, err
		}
		execs, err := persistence.NewSQLiteExecutionStore(db)
		if err != nil {
			return p, err
		}
		events, err := persistence.NewSQLiteEventStore(db)
		if err != nil {
			return p, err
		}
		p.Executions, p.Events = execs, events
	case "postgres":
		db, err := b.sqlDB(ctx, "pgx", b.cfg.Store.DSN)
		if err != nil {
			return p, err
		}
		execs, err := persistence.NewPostgresExecutionStore(db)
		if err != nil {
			return p, err
		}
		p.Executions = execs
	case "redis":
		client := b.redisClient()
		if err := client.Ping(ctx).Err(); err != nil {
			return p, fmt.Errorf("redis ping: %w", err)
		}
		p.Executions = persistence.NewRedisExecutionStore(client, keyPrefix)
	case "mongo":
		client, err := b.mongoClient(ctx, b.cfg.Store.DSN)
		if err != nil {
			return p, err
		}
		p.Executions = persistence.NewMongoExecutionStore(client, "", "")
	default:
		return p, fmt.Errorf("unknown driver %q", b.cfg.Store.Driver)
	}
	return p, nil
}

func (b *backends) queue(ctx context.Context) (taskqueue.Queue, error) {
	switch b.cfg.Worker.Queue {
	case "memory":
		return taskqueue.NewInMemoryQueue(1024), nil
	case "sqlite":
		db, err := b.sqlDB(ctx, "sqlite", b.cfg.QueueDSN())
		if err != nil {
			return nil, err
		}
		return taskqueue.NewSQLiteQueue(db)
	case "redis":
		return taskqueue.NewRedisQueue(b.redisClient(), keyPrefix, b.logger), nil
	case "mongo":
		client, err := b.mongoClient(ctx, b.cfg.QueueDSN())
		if err != nil {
			return nil, err
		}
		return taskqueue.NewMongoQueue(client, "", "", b.logger), nil
	default:
		return nil, fmt.Errorf("unknown queue %q", b.cfg.Worker.Queue)
	}
}

func (b *backends) Close() {
	for _, db := range b.sqlDBs {
		if err := db.Close(); err != nil {
			b.logger.Warn("db_close_failed", slog.Any("error", err))
		}
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	for _, c := range b.mongo {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.Disconnect(ctx)
		cancel()
	}
}
