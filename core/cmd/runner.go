// Package cmd holds the process lifecycle shared by the chainbot binaries.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/m3rciful/chainbot/core/bootstrap"
	"github.com/m3rciful/chainbot/core/config"
	"github.com/m3rciful/chainbot/core/logger"
)

// ServeFunc runs the process until ctx is cancelled.
type ServeFunc func(ctx context.Context, cfg *config.Config, infra *bootstrap.Result) error

// Options describe how to load configuration, bootstrap infrastructure, and run a process.
type Options struct {
	// Name tags the ready and shutdown log lines.
	Name string

	ConfigEnvVar      string
	DefaultConfigPath string
	// EnvFile is loaded before configuration when present.
	EnvFile string

	SkipMigrations bool

	LoadConfig     func(path string) (*config.Config, error)
	Bootstrap      func(bootstrap.Options) (*bootstrap.Result, error)
	ShutdownLogger func() error
	Serve          ServeFunc
}

// Run loads configuration, bootstraps infrastructure and serves until SIGINT or SIGTERM.
func Run(opts Options) error {
	if opts.Serve == nil {
		return fmt.Errorf("cmd: Serve is required")
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cmd: failed to load %s: %w", envFile, err)
	}

	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	cfgPath := os.Getenv(env)
	if cfgPath == "" {
		cfgPath = opts.DefaultConfigPath
	}
	if cfgPath == "" {
		return fmt.Errorf("cmd: config path not provided via %s or DefaultConfigPath", env)
	}

	load := opts.LoadConfig
	if load == nil {
		load = config.Load
	}
	log.Printf("loading config: %s", cfgPath)
	cfg, err := load(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	boot := opts.Bootstrap
	if boot == nil {
		boot = bootstrap.Run
	}
	startedAt := time.Now()
	infra, err := boot(bootstrap.Options{Config: cfg, SkipMigrations: opts.SkipMigrations})
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	defer func() {
		if err := infra.Close(); err != nil {
			logger.L.With("component", "app").Warn("close failed",
				slog.String("event", "shutdown"),
				slog.String("err", err.Error()),
			)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := logger.L.With("component", "app")
	app.Info("app ready",
		slog.String("event", "ready"),
		slog.String("process", opts.Name),
		slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
	)
	err = opts.Serve(ctx, cfg, infra)
	app.Info("shutting down...",
		slog.String("event", "shutdown"),
		slog.String("process", opts.Name),
	)
	return err
}
