package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/chainbot/core/config"
)

func testConfig(redisURL string) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Host: "db", Port: "5432", Name: "chainbot"},
		Redis:    config.RedisConfig{URL: redisURL, Queue: "mailing_tasks"},
	}
}

func noWait(context.Context, string, time.Duration) error { return nil }

func TestRunOrderAndMigrationFailure(t *testing.T) {
	var steps []string
	opts := Options{
		Config:     testConfig("redis://localhost:6379/0"),
		LoggerInit: func(*config.Config) error { steps = append(steps, "logger"); return nil },
		WaitDB:     func(context.Context, string, time.Duration) error { steps = append(steps, "wait"); return nil },
		Connect: func(config.DatabaseConfig) (*sqlx.DB, error) {
			steps = append(steps, "connect")
			return nil, nil
		},
		Migrate: func(config.DatabaseConfig) error {
			steps = append(steps, "migrate")
			return errors.New("dirty schema")
		},
		ConnectRedis: func(config.RedisConfig) (*redis.Client, error) {
			steps = append(steps, "redis")
			return nil, nil
		},
	}

	_, err := Run(opts)
	require.ErrorContains(t, err, "migrations failed")
	require.Equal(t, []string{"logger", "wait", "connect", "migrate"}, steps)
}

func TestRunConnectsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	res, err := Run(Options{
		Config:         testConfig("redis://" + mr.Addr() + "/0"),
		SkipMigrations: true,
		LoggerInit:     func(*config.Config) error { return nil },
		WaitDB:         noWait,
		Connect:        func(config.DatabaseConfig) (*sqlx.DB, error) { return nil, nil },
	})
	require.NoError(t, err)
	require.NotNil(t, res.Redis)
	require.NoError(t, res.Redis.Ping(context.Background()).Err())
	require.NoError(t, res.Close())
}

func TestConnectRedisRejectsBadURL(t *testing.T) {
	_, err := ConnectRedis(config.RedisConfig{URL: "http://nope"})
	require.Error(t, err)
}
