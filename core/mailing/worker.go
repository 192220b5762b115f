package mailing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/store"
	"github.com/m3rciful/chainbot/core/telegram"
)

// errInterrupted marks a job left unacknowledged because the worker is shutting down.
// Recover hands it out again and processing resumes at the saved offset.
var errInterrupted = errors.New("mailing interrupted")

// Worker consumes mailing jobs and sends them chunk by chunk.
type Worker struct {
	store   store.Store
	queue   Queue
	tg      telegram.Factory
	limiter *rate.Limiter

	// PollTimeout bounds one blocking consume.
	PollTimeout time.Duration
	// ErrorBackoff is the pause after a failed consume.
	ErrorBackoff time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewWorker returns a worker sending at most sendsPerSecond messages per second.
func NewWorker(st store.Store, q Queue, tg telegram.Factory, sendsPerSecond int) *Worker {
	if sendsPerSecond <= 0 {
		sendsPerSecond = 1
	}
	return &Worker{
		store:        st,
		queue:        q,
		tg:           tg,
		limiter:      rate.NewLimiter(rate.Limit(sendsPerSecond), sendsPerSecond),
		PollTimeout:  time.Second,
		ErrorBackoff: time.Second,
		stop:         make(chan struct{}),
	}
}

// Stop asks the worker to finish the chunk in flight and return.
// The interrupted job stays unacknowledged and resumes from its saved offset.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Run consumes jobs until Stop is called or ctx is done.
// Cancelling ctx interrupts sends immediately; Stop lets the current chunk complete.
func (w *Worker) Run(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-pollCtx.Done():
		}
	}()

	if _, err := w.queue.Recover(pollCtx); err != nil {
		logger.LogEvent(ctx, logger.Mailing, slog.LevelWarn, "worker.recover",
			slog.String("outcome", "fail"),
			slog.String("err", err.Error()),
		)
	}
	logger.LogEvent(ctx, logger.Mailing, slog.LevelInfo, "worker.start")

	for {
		if pollCtx.Err() != nil {
			logger.LogEvent(context.Background(), logger.Mailing, slog.LevelInfo, "worker.stop")
			return nil
		}
		d, err := w.queue.Consume(pollCtx, w.PollTimeout)
		if err != nil {
			if pollCtx.Err() != nil {
				continue
			}
			logger.LogEvent(ctx, logger.Mailing, slog.LevelWarn, "worker.consume",
				slog.String("outcome", "fail"),
				slog.String("err", err.Error()),
			)
			select {
			case <-pollCtx.Done():
			case <-time.After(w.ErrorBackoff):
			}
			continue
		}
		if d == nil {
			continue
		}
		w.handle(ctx, d)
	}
}

// Serve runs the worker until ctx is done, then stops it gracefully.
// Sends still running after grace are interrupted.
func (w *Worker) Serve(ctx context.Context, grace time.Duration) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	w.Stop()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		logger.LogEvent(runCtx, logger.Mailing, slog.LevelWarn, "worker.stop",
			slog.String("outcome", "timeout"),
			slog.Duration("grace", grace),
		)
		cancel()
		return <-done
	}
}

func (w *Worker) handle(ctx context.Context, d *Delivery) {
	jobCtx := logger.WithMailingID(logger.WithBotID(ctx, d.Job.BotID), d.Job.MailingID)
	err := w.Process(jobCtx, d.Job)
	if errors.Is(err, errInterrupted) {
		logger.LogEvent(jobCtx, logger.Mailing, slog.LevelInfo, "mailing.interrupted")
		return
	}
	if err != nil {
		logger.LogEvent(jobCtx, logger.Mailing, slog.LevelError, "mailing.failed",
			slog.String("outcome", "fail"),
			slog.String("err", telegram.Redact(err)),
		)
		if ferr := w.store.FailMailing(context.WithoutCancel(jobCtx), d.Job.MailingID, telegram.Redact(err)); ferr != nil && !errors.Is(ferr, apperr.ErrNotFound) {
			logger.LogEvent(jobCtx, logger.Mailing, slog.LevelWarn, "mailing.fail_mark",
				slog.String("outcome", "fail"),
				slog.String("err", ferr.Error()),
			)
		}
	}
	if err := d.Ack(context.WithoutCancel(jobCtx)); err != nil {
		logger.LogEvent(jobCtx, logger.Mailing, slog.LevelWarn, "queue.ack",
			slog.String("outcome", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

// Process runs one job to completion, cancellation or interruption.
// Deliveries of finished mailings are ignored.
func (w *Worker) Process(ctx context.Context, job Job) error {
	m, err := w.store.GetMailing(ctx, job.MailingID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.Terminal() {
		logger.LogEvent(ctx, logger.Mailing, slog.LevelDebug, "mailing.skip",
			slog.String("outcome", "noop"),
			slog.String("status", m.Status),
		)
		return nil
	}
	if m.Status == store.MailingCancelling {
		return w.finishCancelled(ctx, m)
	}
	if _, err := w.store.TransitionMailing(ctx, m.ID, store.MailingRunning, store.MailingQueued, store.MailingRunning); err != nil {
		return err
	}

	total, err := w.store.CountSubscribers(ctx, job.BotID)
	if err != nil {
		return err
	}
	client, err := w.tg.New(job.BotToken)
	if err != nil {
		return err
	}
	chunk := job.ChunkSize
	if chunk <= 0 {
		chunk = m.ChunkSize
	}
	if chunk <= 0 {
		chunk = 1
	}

	progress := store.MailingProgress{Total: total, Success: m.Success, Failed: m.Failed, Processed: m.Processed}
	start := time.Now()
	for {
		if ctx.Err() != nil || w.stopping() {
			return errInterrupted
		}
		cur, err := w.store.GetMailing(ctx, m.ID)
		if err != nil {
			return err
		}
		if cur.Status == store.MailingCancelling {
			return w.finishCancelled(ctx, cur)
		}

		subs, err := w.store.ListSubscribers(ctx, job.BotID, store.Page{Limit: chunk, Offset: progress.Processed})
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			break
		}

		ok, failed := w.sendChunk(ctx, client, subs, job.Message)
		if ctx.Err() != nil {
			// Part of the chunk may have gone out; it is resent after recovery.
			return errInterrupted
		}
		progress.Success += ok
		progress.Failed += failed
		progress.Processed += len(subs)
		if progress.Processed > progress.Total {
			progress.Total = progress.Processed
		}
		if err := w.store.SaveMailingProgress(ctx, m.ID, progress); err != nil {
			return err
		}
		logger.LogEvent(ctx, logger.Mailing, slog.LevelDebug, "mailing.chunk",
			slog.Int("processed", progress.Processed),
			slog.Int("total", progress.Total),
		)
	}

	if _, err := w.store.TransitionMailing(ctx, m.ID, store.MailingCompleted, store.MailingRunning); err != nil {
		return err
	}
	logger.LogEvent(ctx, logger.Mailing, slog.LevelInfo, "mailing.completed",
		slog.String("outcome", "ok"),
		slog.Int("total", progress.Total),
		slog.Int("success", progress.Success),
		slog.Int("failed", progress.Failed),
		slog.Duration("took", logger.Took(start)),
	)
	return nil
}

func (w *Worker) finishCancelled(ctx context.Context, m *store.Mailing) error {
	if _, err := w.store.TransitionMailing(ctx, m.ID, store.MailingCancelled, store.MailingCancelling); err != nil {
		return err
	}
	logger.LogEvent(ctx, logger.Mailing, slog.LevelInfo, "mailing.cancelled",
		slog.Int("processed", m.Processed),
	)
	return nil
}

// sendChunk sends text to every subscriber concurrently, paced by the shared limiter.
func (w *Worker) sendChunk(ctx context.Context, client telegram.Client, subs []store.Subscriber, text string) (ok, failed int) {
	var okN, failN atomic.Int64
	var g errgroup.Group
	g.SetLimit(len(subs))
	for _, sub := range subs {
		g.Go(func() error {
			if err := w.send(ctx, client, sub.UserID, text); err != nil {
				failN.Add(1)
				logger.LogEvent(ctx, logger.Mailing, slog.LevelDebug, "mailing.send",
					slog.String("outcome", "fail"),
					slog.Int64("user_id", sub.UserID),
					slog.String("err", telegram.Redact(err)),
				)
				return nil
			}
			okN.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(okN.Load()), int(failN.Load())
}

// send delivers one message, honouring a single flood-control pause from Telegram.
func (w *Worker) send(ctx context.Context, client telegram.Client, chatID int64, text string) error {
	for attempt := 0; ; attempt++ {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := client.SendMessage(ctx, chatID, text, telegram.SendOptions{})
		retry, flood := telegram.RetryAfter(err)
		if err == nil || !flood || attempt > 0 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(retry) * time.Second):
		}
	}
}
