// Command chainbot serves Telegram webhooks and the admin API.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/m3rciful/chainbot/core/api"
	"github.com/m3rciful/chainbot/core/bootstrap"
	"github.com/m3rciful/chainbot/core/bots"
	"github.com/m3rciful/chainbot/core/chains"
	"github.com/m3rciful/chainbot/core/cmd"
	"github.com/m3rciful/chainbot/core/config"
	"github.com/m3rciful/chainbot/core/engine"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/mailing"
	"github.com/m3rciful/chainbot/core/store"
	"github.com/m3rciful/chainbot/core/telegram"
)

func main() {
	err := cmd.Run(cmd.Options{
		Name:              "chainbot",
		DefaultConfigPath: "config.yaml",
		Serve:             serve,
	})
	if err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, cfg *config.Config, infra *bootstrap.Result) error {
	st := store.NewPostgres(infra.DB)
	tg := telegram.NewFactory(cfg.Telegram)

	srv := &api.Server{
		Bots:    bots.NewService(st, tg, cfg.WebhookURL, cfg.Engine.MenuFooterButton),
		Chains:  chains.NewService(st, tg),
		Engine:  engine.NewFromConfig(st, tg, cfg.Engine),
		Mailing: mailing.NewService(st, mailing.NewRedisQueue(infra.Redis, cfg.Redis.Queue), cfg.Mailing.ChunkSize),
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           srv.Router(cfg.HTTP.APIPrefix),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.API.Info("http listening",
			slog.String("event", "http.listen"),
			slog.String("addr", cfg.HTTP.Listen),
			slog.String("prefix", cfg.HTTP.APIPrefix),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
