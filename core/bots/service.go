// Package bots manages bot registration, webhook credentials and the main menu.
package bots

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/store"
	"github.com/m3rciful/chainbot/core/telegram"
)

const (
	maxTextLen   = 3000
	secretBytes  = 16
	componentBot = "bots"
)

// CreateInput registers a bot.
type CreateInput struct {
	Token        string  `json:"token"`
	Name         *string `json:"name"`
	DefaultReply *string `json:"default_reply"`
}

// UpdateInput patches a bot; nil fields are left alone.
type UpdateInput struct {
	Token        *string `json:"token"`
	Name         *string `json:"name"`
	DefaultReply *string `json:"default_reply"`
	IsActive     *bool   `json:"is_active"`
}

// Service is the bot registry.
type Service struct {
	store      store.Store
	tg         telegram.Factory
	webhookURL func(botID int64) string
	forbidden  map[string]struct{}
}

// NewService returns a registry. webhookURL builds the public webhook address of a bot.
// reserved lists menu button texts that may not be used, such as the menu footer.
func NewService(st store.Store, tg telegram.Factory, webhookURL func(botID int64) string, reserved ...string) *Service {
	forbidden := map[string]struct{}{"/start": {}}
	for _, r := range reserved {
		if r = strings.TrimSpace(r); r != "" {
			forbidden[r] = struct{}{}
		}
	}
	return &Service{store: st, tg: tg, webhookURL: webhookURL, forbidden: forbidden}
}

// Verify authenticates a webhook delivery and returns the bot it is addressed to.
func (s *Service) Verify(ctx context.Context, botID int64, secret string) (*store.Bot, error) {
	b, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(b.SecretToken), []byte(secret)) != 1 {
		return nil, apperr.Unauthorized("bad secret token for bot %d", botID)
	}
	if !b.IsActive {
		return nil, apperr.Unauthorized("bot %d is deactivated", botID)
	}
	return b, nil
}

// Get returns a bot.
func (s *Service) Get(ctx context.Context, id int64) (*store.Bot, error) {
	return s.store.GetBot(ctx, id)
}

// List returns every registered bot.
func (s *Service) List(ctx context.Context) ([]store.Bot, error) {
	return s.store.ListBots(ctx)
}

// Create validates the token with getMe, stores the bot and registers its webhook.
// A failed webhook registration removes the stored bot again.
func (s *Service) Create(ctx context.Context, in CreateInput) (*store.Bot, error) {
	token := strings.TrimSpace(in.Token)
	if token == "" {
		return nil, apperr.Invalid("token is required")
	}
	if err := checkText("default_reply", in.DefaultReply); err != nil {
		return nil, err
	}

	client, me, err := s.probe(ctx, token)
	if err != nil {
		return nil, err
	}
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}

	b := &store.Bot{
		Token:        token,
		SecretToken:  secret,
		IsActive:     true,
		DefaultReply: in.DefaultReply,
		Username:     &me.Username,
		Name:         in.Name,
	}
	if b.Name == nil && me.FirstName != "" {
		b.Name = &me.FirstName
	}
	if err := s.store.CreateBot(ctx, b); err != nil {
		return nil, err
	}
	ctx = logger.WithBotID(ctx, b.ID)

	if err := client.SetWebhook(ctx, s.webhookURL(b.ID), secret); err != nil {
		if delErr := s.store.DeleteBot(ctx, b.ID); delErr != nil {
			logger.Error(ctx, componentBot, "bot.rollback",
				slog.String("outcome", "fail"),
				slog.String("err", delErr.Error()),
			)
		}
		return nil, apperr.Upstream(errors.New(telegram.Redact(err)), "register webhook for bot %d", b.ID)
	}

	logger.Info(ctx, componentBot, "bot.create",
		slog.String("outcome", "ok"),
		slog.String("username", me.Username),
	)
	return b, nil
}

// Update patches a bot. A new token is validated and its webhook registered before the row is
// written; the previous token's webhook is removed afterwards.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*store.Bot, error) {
	b, err := s.store.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithBotID(ctx, id)
	if err := checkText("default_reply", in.DefaultReply); err != nil {
		return nil, err
	}

	oldToken := b.Token
	var newClient telegram.Client
	if in.Token != nil {
		token := strings.TrimSpace(*in.Token)
		if token == "" {
			return nil, apperr.Invalid("token must not be empty")
		}
		if token != oldToken {
			client, me, err := s.probe(ctx, token)
			if err != nil {
				return nil, err
			}
			if err := client.SetWebhook(ctx, s.webhookURL(id), b.SecretToken); err != nil {
				return nil, apperr.Upstream(errors.New(telegram.Redact(err)), "register webhook for bot %d", id)
			}
			newClient = client
			b.Token = token
			b.Username = &me.Username
		}
	}
	if in.Name != nil {
		b.Name = in.Name
	}
	if in.DefaultReply != nil {
		b.DefaultReply = in.DefaultReply
	}
	if in.IsActive != nil {
		b.IsActive = *in.IsActive
	}

	if err := s.store.UpdateBot(ctx, b); err != nil {
		if newClient != nil {
			s.removeWebhook(ctx, newClient)
		}
		return nil, err
	}

	if newClient != nil {
		if old, err := s.tg.New(oldToken); err == nil {
			s.removeWebhook(ctx, old)
		}
		logger.Info(ctx, componentBot, "bot.token.rotate", slog.String("outcome", "ok"))
	}
	return b, nil
}

// Delete deregisters the webhook best effort and removes the bot with everything it owns.
func (s *Service) Delete(ctx context.Context, id int64) error {
	b, err := s.store.GetBot(ctx, id)
	if err != nil {
		return err
	}
	ctx = logger.WithBotID(ctx, id)
	if client, err := s.tg.New(b.Token); err == nil {
		s.removeWebhook(ctx, client)
	}
	if err := s.store.DeleteBot(ctx, id); err != nil {
		return err
	}
	logger.Info(ctx, componentBot, "bot.delete", slog.String("outcome", "ok"))
	return nil
}

func (s *Service) probe(ctx context.Context, token string) (telegram.Client, *tele.User, error) {
	client, err := s.tg.New(token)
	if err != nil {
		return nil, nil, apperr.Invalid("invalid bot token")
	}
	me, err := client.GetMe(ctx)
	if err != nil {
		if telegram.StatusFromError(err) == 0 && telegram.Retryable(err) {
			return nil, nil, apperr.Upstream(errors.New(telegram.Redact(err)), "telegram getMe")
		}
		return nil, nil, apperr.Invalid("telegram rejected the token: %s", telegram.Redact(err))
	}
	return client, me, nil
}

func (s *Service) removeWebhook(ctx context.Context, client telegram.Client) {
	if err := client.DeleteWebhook(ctx); err != nil {
		logger.Warn(ctx, componentBot, "bot.webhook.remove",
			slog.String("outcome", "fail"),
			slog.String("err", telegram.Redact(err)),
		)
	}
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func checkText(field string, v *string) error {
	if v != nil && len([]rune(*v)) > maxTextLen {
		return apperr.Invalid("%s exceeds %d characters", field, maxTextLen)
	}
	return nil
}
