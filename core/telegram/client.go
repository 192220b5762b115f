// Package telegram wraps the Bot API calls the service makes on behalf of registered bots.
//
// Clients are cheap: one is built per request for the token at hand, and all of them share a
// single pooled http.Client from BuildHTTPClient.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/chainbot/core/config"
	"github.com/m3rciful/chainbot/core/logger"
)

// SendOptions adjusts an outgoing text message.
type SendOptions struct {
	// ReplyTo is the message id to reply to; 0 sends a plain message.
	ReplyTo int64
	Markup  *tele.ReplyMarkup
}

// Client is the subset of the Bot API used by the service.
type Client interface {
	GetMe(ctx context.Context) (*tele.User, error)
	SetWebhook(ctx context.Context, url, secret string) error
	DeleteWebhook(ctx context.Context) error
	SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (int64, error)
	RemoveInlineKeyboard(ctx context.Context, chatID, messageID int64) error
	AnswerCallback(ctx context.Context, callbackID string) error
	GetChat(ctx context.Context, chatID int64) (*tele.Chat, error)
	// ProfilePhoto returns the file id of the user's current avatar, "" when there is none.
	ProfilePhoto(ctx context.Context, userID int64) (string, error)
}

// Factory builds a Client bound to one bot token.
type Factory interface {
	New(token string) (Client, error)
}

// BotFactory creates telebot-backed clients.
type BotFactory struct {
	apiURL string
	http   *http.Client
}

// NewFactory returns a factory for the configured Bot API endpoint.
func NewFactory(cfg config.TelegramConfig) *BotFactory {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	return &BotFactory{
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		http:   BuildHTTPClient(timeout),
	}
}

// New returns a client for token. No network call is made.
func (f *BotFactory) New(token string) (Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram: empty bot token")
	}
	b, err := tele.NewBot(tele.Settings{
		URL:         f.apiURL,
		Token:       token,
		Client:      f.http,
		Offline:     true,
		Synchronous: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: init client: %w", err)
	}
	return &botClient{bot: b}, nil
}

type botClient struct {
	bot *tele.Bot
}

// call runs fn and logs its outcome under the tg component.
func (c *botClient) call(ctx context.Context, method string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.Duration("duration", logger.Took(start)),
	}
	switch {
	case err == nil:
		if logger.ShouldSampleDebug() {
			logger.Debug(ctx, "tg", "tg.call", append(attrs, slog.String("outcome", "ok"))...)
		}
	case IsBenign(err):
		logger.Debug(ctx, "tg", "tg.call", append(attrs,
			slog.String("outcome", "noop"),
			slog.String("err", Redact(err)),
		)...)
	default:
		logger.Warn(ctx, "tg", "tg.call", append(attrs,
			slog.String("outcome", "fail"),
			slog.String("error_kind", Classify(err)),
			slog.String("err", Redact(err)),
		)...)
	}
	return err
}

func (c *botClient) GetMe(ctx context.Context) (*tele.User, error) {
	var me tele.User
	err := c.call(ctx, "getMe", func() error {
		data, err := c.bot.Raw("getMe", nil)
		if err != nil {
			return err
		}
		var resp struct {
			Result tele.User `json:"result"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("decode getMe: %w", err)
		}
		me = resp.Result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &me, nil
}

func (c *botClient) SetWebhook(ctx context.Context, url, secret string) error {
	return c.call(ctx, "setWebhook", func() error {
		return c.bot.SetWebhook(&tele.Webhook{
			SecretToken:    secret,
			AllowedUpdates: []string{"message", "callback_query"},
			Endpoint:       &tele.WebhookEndpoint{PublicURL: url},
		})
	})
}

func (c *botClient) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", func() error {
		return c.bot.RemoveWebhook()
	})
}

func (c *botClient) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (int64, error) {
	var id int64
	err := c.call(ctx, "sendMessage", func() error {
		send := &tele.SendOptions{ReplyMarkup: opts.Markup}
		if opts.ReplyTo != 0 {
			send.ReplyTo = &tele.Message{ID: int(opts.ReplyTo)}
		}
		msg, err := c.bot.Send(tele.ChatID(chatID), text, send)
		if err != nil {
			return err
		}
		id = int64(msg.ID)
		return nil
	})
	return id, err
}

func (c *botClient) RemoveInlineKeyboard(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "editMessageReplyMarkup", func() error {
		msg := tele.StoredMessage{MessageID: strconv.FormatInt(messageID, 10), ChatID: chatID}
		_, err := c.bot.EditReplyMarkup(msg, &tele.ReplyMarkup{})
		return err
	})
}

func (c *botClient) AnswerCallback(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", func() error {
		return c.bot.Respond(&tele.Callback{ID: callbackID})
	})
}

func (c *botClient) GetChat(ctx context.Context, chatID int64) (*tele.Chat, error) {
	var chat *tele.Chat
	err := c.call(ctx, "getChat", func() error {
		var err error
		chat, err = c.bot.ChatByID(chatID)
		return err
	})
	return chat, err
}

func (c *botClient) ProfilePhoto(ctx context.Context, userID int64) (string, error) {
	var fileID string
	err := c.call(ctx, "getUserProfilePhotos", func() error {
		photos, err := c.bot.ProfilePhotosOf(&tele.User{ID: userID})
		if err != nil {
			return err
		}
		if len(photos) > 0 {
			fileID = photos[0].FileID
		}
		return nil
	})
	return fileID, err
}
