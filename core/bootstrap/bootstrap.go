// Package bootstrap brings up shared infrastructure in a fixed order: logger, Postgres, migrations, Redis.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/chainbot/core/config"
	"github.com/m3rciful/chainbot/core/database"
	"github.com/m3rciful/chainbot/core/logger"
)

const waitForDB = 30 * time.Second

// Options control the bootstrap pipeline. Nil hooks use the real implementations.
type Options struct {
	Config *config.Config
	// SkipMigrations leaves the schema alone, for processes that only read and write rows.
	SkipMigrations bool

	LoggerInit   func(*config.Config) error
	WaitDB       func(ctx context.Context, dsn string, timeout time.Duration) error
	Connect      func(config.DatabaseConfig) (*sqlx.DB, error)
	Migrate      func(config.DatabaseConfig) error
	ConnectRedis func(config.RedisConfig) (*redis.Client, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	DB    *sqlx.DB
	Redis *redis.Client
}

// Close releases the connections.
func (r *Result) Close() error {
	var errs []error
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}

// Run initializes the logger, connects to the database, applies migrations and connects to Redis.
func Run(opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	wait := opts.WaitDB
	if wait == nil {
		wait = database.WaitForPostgres
	}
	if err := wait(context.Background(), database.DSN(cfg.Database), waitForDB); err != nil {
		return nil, fmt.Errorf("bootstrap: database not ready: %w", err)
	}

	connect := opts.Connect
	if connect == nil {
		connect = database.Connect
	}
	db, err := connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}
	res := &Result{DB: db}

	if !opts.SkipMigrations {
		migrate := opts.Migrate
		if migrate == nil {
			migrate = database.RunMigrations
		}
		if err := migrate(cfg.Database); err != nil {
			_ = res.Close()
			return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
	}

	connectRedis := opts.ConnectRedis
	if connectRedis == nil {
		connectRedis = ConnectRedis
	}
	rdb, err := connectRedis(cfg.Redis)
	if err != nil {
		_ = res.Close()
		return nil, fmt.Errorf("bootstrap: redis initialization failed: %w", err)
	}
	res.Redis = rdb
	return res, nil
}
