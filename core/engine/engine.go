// Package engine runs the conversation state machine: one webhook update in, at most one session
// transition out. The engine keeps no state between calls; sessions live in the store and survive
// across deliveries through signed callback tokens.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/config"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/store"
	"github.com/m3rciful/chainbot/core/telegram"
	"github.com/m3rciful/chainbot/core/telegram/callbacks"
)

const component = "engine"

// ErrUnsupportedUpdate is returned for update kinds other than messages and callback queries.
var ErrUnsupportedUpdate = fmt.Errorf("%w: unsupported update type", apperr.ErrInvalidArgument)

// Texts are the instance-wide fallbacks used when a bot has no own setting.
type Texts struct {
	DefaultReply   string
	DefaultWelcome string
	ChainNotFound  string
	// MenuFooter is an extra menu row that reopens the menu; empty disables it.
	MenuFooter string
}

// Engine dispatches inbound updates.
type Engine struct {
	store  store.Store
	tg     telegram.Factory
	signer *callbacks.Signer
	texts  Texts
}

// New returns an engine.
func New(st store.Store, tg telegram.Factory, signer *callbacks.Signer, texts Texts) *Engine {
	return &Engine{store: st, tg: tg, signer: signer, texts: texts}
}

// NewFromConfig builds an engine from the engine config section.
func NewFromConfig(st store.Store, tg telegram.Factory, cfg config.EngineConfig) *Engine {
	return New(st, tg, callbacks.NewSigner(cfg.CallbackSecret), Texts{
		DefaultReply:   cfg.DefaultReply,
		DefaultWelcome: cfg.DefaultWelcome,
		ChainNotFound:  cfg.ChainNotFoundText,
		MenuFooter:     cfg.MenuFooterButton,
	})
}

// HandleUpdate processes one update addressed to bot. Stale or duplicate deliveries are no-ops;
// only malformed input is reported as apperr.ErrInvalidArgument.
func (e *Engine) HandleUpdate(ctx context.Context, bot *store.Bot, upd *tele.Update) error {
	if upd == nil {
		return ErrUnsupportedUpdate
	}
	ctx = logger.WithBotID(ctx, bot.ID)

	switch {
	case upd.Callback != nil:
		cb := upd.Callback
		ctx = logger.WithUpdateMeta(ctx, upd.ID, senderID(cb.Sender), callbackChatID(cb))
		client, err := e.tg.New(bot.Token)
		if err != nil {
			return err
		}
		return e.handleCallback(ctx, bot, client, cb)
	case upd.Message != nil:
		msg := upd.Message
		ctx = logger.WithUpdateMeta(ctx, upd.ID, senderID(msg.Sender), messageChatID(msg))
		client, err := e.tg.New(bot.Token)
		if err != nil {
			return err
		}
		return e.handleMessage(ctx, bot, client, msg)
	default:
		return ErrUnsupportedUpdate
	}
}

func (e *Engine) handleMessage(ctx context.Context, bot *store.Bot, client telegram.Client, msg *tele.Message) error {
	if msg.Sender == nil {
		return nil
	}
	e.rememberUser(ctx, bot.ID, msg.Sender)

	chatID := messageChatID(msg)
	replyTo := int64(msg.ID)
	text := strings.TrimSpace(msg.Text)

	if isStartCommand(text) || (e.texts.MenuFooter != "" && text == e.texts.MenuFooter) {
		return e.sendMenu(ctx, bot, client, chatID)
	}

	if text != "" {
		handled, err := e.handleTextInput(ctx, bot, client, msg.Sender.ID, chatID, replyTo, text)
		if err != nil || handled {
			return err
		}
		if btn, err := e.store.FindMenuButton(ctx, bot.ID, text); err == nil {
			return e.handleMenuButton(ctx, bot, client, btn, msg.Sender.ID, chatID, replyTo)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
	}

	return e.send(ctx, client, chatID, e.defaultReply(bot), telegram.SendOptions{ReplyTo: replyTo})
}

func (e *Engine) handleMenuButton(ctx context.Context, bot *store.Bot, client telegram.Client, btn *store.MenuButton, userID, chatID, replyTo int64) error {
	switch {
	case btn.ChainID != nil:
		return e.StartChain(ctx, bot, client, userID, chatID, *btn.ChainID, replyTo)
	case btn.ReplyText != nil && *btn.ReplyText != "":
		return e.send(ctx, client, chatID, *btn.ReplyText, telegram.SendOptions{ReplyTo: replyTo})
	default:
		return e.send(ctx, client, chatID, e.defaultReply(bot), telegram.SendOptions{ReplyTo: replyTo})
	}
}

func (e *Engine) defaultReply(bot *store.Bot) string {
	if bot.DefaultReply != nil && strings.TrimSpace(*bot.DefaultReply) != "" {
		return *bot.DefaultReply
	}
	return e.texts.DefaultReply
}

// send delivers a message outside any session.
func (e *Engine) send(ctx context.Context, client telegram.Client, chatID int64, text string, opts telegram.SendOptions) error {
	if _, err := client.SendMessage(ctx, chatID, text, opts); err != nil {
		return apperr.Upstream(errors.New(telegram.Redact(err)), "send message")
	}
	return nil
}

// rememberUser upserts the sender into the bot's audience. Failures are logged only.
func (e *Engine) rememberUser(ctx context.Context, botID int64, u *tele.User) {
	sub := &store.Subscriber{
		BotID:     botID,
		UserID:    u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
	if err := e.store.UpsertSubscriber(ctx, sub); err != nil {
		logger.Warn(ctx, component, "subscriber.upsert",
			slog.String("outcome", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

func isStartCommand(text string) bool {
	if text == "/start" {
		return true
	}
	return strings.HasPrefix(text, "/start ") || strings.HasPrefix(text, "/start@")
}

func senderID(u *tele.User) int64 {
	if u == nil {
		return 0
	}
	return u.ID
}

func messageChatID(msg *tele.Message) int64 {
	if msg.Chat != nil {
		return msg.Chat.ID
	}
	return senderID(msg.Sender)
}

func callbackChatID(cb *tele.Callback) int64 {
	if cb.Message != nil && cb.Message.Chat != nil {
		return cb.Message.Chat.ID
	}
	return senderID(cb.Sender)
}
