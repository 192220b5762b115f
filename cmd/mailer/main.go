// Command mailer consumes the mailing queue and delivers broadcasts.
package main

import (
	"context"
	"log"
	"time"

	"github.com/m3rciful/chainbot/core/bootstrap"
	"github.com/m3rciful/chainbot/core/cmd"
	"github.com/m3rciful/chainbot/core/config"
	"github.com/m3rciful/chainbot/core/mailing"
	"github.com/m3rciful/chainbot/core/store"
	"github.com/m3rciful/chainbot/core/telegram"
)

func main() {
	err := cmd.Run(cmd.Options{
		Name:              "mailer",
		DefaultConfigPath: "config.yaml",
		SkipMigrations:    true,
		Serve:             serve,
	})
	if err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, cfg *config.Config, infra *bootstrap.Result) error {
	w := mailing.NewWorker(
		store.NewPostgres(infra.DB),
		mailing.NewRedisQueue(infra.Redis, cfg.Redis.Queue),
		telegram.NewFactory(cfg.Telegram),
		cfg.Mailing.SendsPerSecond,
	)
	return w.Serve(ctx, time.Duration(cfg.Mailing.StopTimeoutSeconds)*time.Second)
}
