package mailing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/store"
)

const maxMessageLen = 4096

// Started is returned when a mailing has been accepted.
type Started struct {
	MailingID string `json:"mailing_id"`
	Status    string `json:"status"`
	BotID     int64  `json:"bot_id"`
}

// Service accepts and tracks mailings. Delivery happens in Worker.
type Service struct {
	store     store.Store
	queue     Queue
	chunkSize int
}

// NewService returns a mailing service publishing jobs of chunkSize recipients per batch.
func NewService(st store.Store, q Queue, chunkSize int) *Service {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	return &Service{store: st, queue: q, chunkSize: chunkSize}
}

// Create records a queued mailing for botID and publishes its job.
func (s *Service) Create(ctx context.Context, botID int64, text string) (*Started, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Invalid("message must not be empty")
	}
	if len([]rune(text)) > maxMessageLen {
		return nil, apperr.Invalid("message exceeds %d characters", maxMessageLen)
	}
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}

	m := &store.Mailing{
		ID:        uuid.NewString(),
		BotID:     bot.ID,
		Message:   text,
		ChunkSize: s.chunkSize,
		Status:    store.MailingQueued,
	}
	if err := s.store.CreateMailing(ctx, m); err != nil {
		return nil, err
	}
	ctx = logger.WithMailingID(ctx, m.ID)

	job := Job{MailingID: m.ID, BotID: bot.ID, BotToken: bot.Token, Message: text, ChunkSize: s.chunkSize}
	if err := s.queue.Publish(ctx, job); err != nil {
		if ferr := s.store.FailMailing(ctx, m.ID, "queue unavailable"); ferr != nil {
			logger.LogEvent(ctx, logger.Mailing, slog.LevelWarn, "mailing.fail_mark",
				slog.String("outcome", "fail"),
				slog.String("err", ferr.Error()),
			)
		}
		return nil, apperr.Upstream(err, "publish mailing")
	}

	logger.LogEvent(ctx, logger.Mailing, slog.LevelInfo, "mailing.queued",
		slog.Int64("bot_id", bot.ID),
		slog.Int("chunk_size", s.chunkSize),
	)
	return &Started{MailingID: m.ID, Status: m.Status, BotID: bot.ID}, nil
}

// Status returns the mailing with its counters.
func (s *Service) Status(ctx context.Context, id string) (*store.Mailing, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	return s.store.GetMailing(ctx, id)
}

// Cancel asks the worker to stop a queued or running mailing. Finished mailings are returned as is.
func (s *Service) Cancel(ctx context.Context, id string) (*store.Mailing, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	moved, err := s.store.TransitionMailing(ctx, id, store.MailingCancelling, store.MailingQueued, store.MailingRunning)
	if err != nil {
		return nil, err
	}
	if moved {
		logger.LogEvent(logger.WithMailingID(ctx, id), logger.Mailing, slog.LevelInfo, "mailing.cancel_requested")
	}
	return s.store.GetMailing(ctx, id)
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.NotFound("mailing %s", id)
	}
	return nil
}
