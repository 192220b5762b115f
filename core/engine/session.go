package engine

import (
	"context"
	"errors"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/store"
	"github.com/m3rciful/chainbot/core/telegram"
	"github.com/m3rciful/chainbot/core/telegram/keyboard"
)

// StartChain opens a new session on the chain's first step and sends its message.
// A missing chain or first step is answered with the chain-not-found text.
func (e *Engine) StartChain(ctx context.Context, bot *store.Bot, client telegram.Client, userID, chatID, chainID, replyTo int64) error {
	first, err := e.firstStep(ctx, bot.ID, chainID)
	if errors.Is(err, apperr.ErrNotFound) {
		logger.Info(ctx, component, "chain.start",
			slog.String("outcome", "noop"),
			slog.Int64("chain_id", chainID),
			slog.String("reason", "chain_not_found"),
		)
		return e.send(ctx, client, chatID, e.texts.ChainNotFound, telegram.SendOptions{ReplyTo: replyTo})
	}
	if err != nil {
		return err
	}

	// Only the newest chain may collect free text.
	released, err := e.store.ReleaseTextInput(ctx, bot.ID, userID)
	if err != nil {
		return err
	}
	if released > 0 {
		logger.Debug(ctx, component, "session.release",
			slog.Int("sessions", released),
		)
	}

	sess := &store.Session{
		UserID:           userID,
		BotID:            bot.ID,
		ChainID:          &chainID,
		StepID:           &first.ID,
		ExpectsTextInput: first.TextInput,
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return err
	}
	logger.Info(ctx, component, "chain.start",
		slog.String("outcome", "ok"),
		slog.Int64("chain_id", chainID),
		slog.Int64("session_id", sess.ID),
	)
	return e.sendStep(ctx, client, sess, first, chatID, replyTo)
}

func (e *Engine) firstStep(ctx context.Context, botID, chainID int64) (*store.Step, error) {
	chain, err := e.store.GetChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if chain.BotID != botID || chain.FirstStepID == nil {
		return nil, apperr.NotFound("chain %d", chainID)
	}
	return e.store.GetStep(ctx, *chain.FirstStepID)
}

// handleCallback advances a session after a button press.
func (e *Engine) handleCallback(ctx context.Context, bot *store.Bot, client telegram.Client, cb *tele.Callback) error {
	sessionID, buttonID, err := e.signer.Decode(cb.Data)
	if err != nil {
		return err
	}
	if cb.Sender != nil {
		e.rememberUser(ctx, bot.ID, cb.Sender)
	}

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return noopIfMissing(ctx, err, "session_not_found")
	}
	btn, err := e.store.GetButton(ctx, buttonID)
	if err != nil {
		return noopIfMissing(ctx, err, "button_not_found")
	}
	if sess.BotID != bot.ID || (cb.Sender != nil && sess.UserID != cb.Sender.ID) {
		logger.Warn(ctx, component, "callback.foreign",
			slog.String("outcome", "noop"),
			slog.Int64("session_id", sess.ID),
		)
		return nil
	}

	e.bestEffort(ctx, "callback.answer", client.AnswerCallback(ctx, cb.ID))
	chatID := callbackChatID(cb)
	var replyTo int64
	if cb.Message != nil {
		replyTo = int64(cb.Message.ID)
		e.bestEffort(ctx, "keyboard.strip", client.RemoveInlineKeyboard(ctx, chatID, replyTo))
	}

	if sess.StepID == nil {
		return noop(ctx, "session_orphaned", sess.ID)
	}
	step, err := e.store.GetStep(ctx, *sess.StepID)
	if err != nil {
		return noopIfMissing(ctx, err, "step_not_found")
	}
	if btn.StepID != step.ID {
		return noop(ctx, "stale_button", sess.ID)
	}

	sess.Result.Set(step.Message, btn.Text)
	next, err := e.nextStep(ctx, btn.NextStepID)
	if err != nil {
		return err
	}
	if next == nil {
		return e.save(ctx, sess, "chain.end")
	}
	return e.advance(ctx, client, sess, next, chatID, replyTo)
}

// handleTextInput consumes a free-text answer when the user's latest session waits for one.
// It reports false when no such session exists and routing should continue.
func (e *Engine) handleTextInput(ctx context.Context, bot *store.Bot, client telegram.Client, userID, chatID, replyTo int64, text string) (bool, error) {
	sess, err := e.store.FindTextInputSession(ctx, bot.ID, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var step *store.Step
	if sess.StepID != nil {
		step, err = e.store.GetStep(ctx, *sess.StepID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return false, err
		}
	}
	if step == nil {
		// The step was deleted under the session; park it and route the text normally.
		sess.ExpectsTextInput = false
		if err := e.save(ctx, sess, "session.park"); err != nil {
			return false, err
		}
		return false, nil
	}

	sess.Result.Set(step.Message, text)
	if sess.LastMessageID != nil {
		e.bestEffort(ctx, "keyboard.strip", client.RemoveInlineKeyboard(ctx, chatID, *sess.LastMessageID))
	}

	next, err := e.nextStep(ctx, step.NextStepID)
	if err != nil {
		return true, err
	}
	if next == nil {
		sess.ExpectsTextInput = false
		return true, e.save(ctx, sess, "chain.end")
	}
	return true, e.advance(ctx, client, sess, next, chatID, replyTo)
}

func (e *Engine) nextStep(ctx context.Context, id *int64) (*store.Step, error) {
	if id == nil {
		return nil, nil
	}
	st, err := e.store.GetStep(ctx, *id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return st, err
}

// advance moves the session onto next and sends it. The move is persisted first so a concurrent
// duplicate delivery loses the version race and sends nothing.
func (e *Engine) advance(ctx context.Context, client telegram.Client, sess *store.Session, next *store.Step, chatID, replyTo int64) error {
	sess.StepID = &next.ID
	sess.ExpectsTextInput = next.TextInput
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return duplicateOrErr(ctx, err, sess.ID)
	}
	logger.Info(ctx, component, "session.advance",
		slog.String("outcome", "ok"),
		slog.Int64("session_id", sess.ID),
		slog.Int64("step_id", next.ID),
	)
	return e.sendStep(ctx, client, sess, next, chatID, replyTo)
}

// sendStep sends the step message with one inline button per row and records the sent message id.
func (e *Engine) sendStep(ctx context.Context, client telegram.Client, sess *store.Session, step *store.Step, chatID, replyTo int64) error {
	buttons, err := e.store.ListButtons(ctx, step.ID)
	if err != nil {
		return err
	}
	inline := make([]keyboard.InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		inline = append(inline, keyboard.InlineBtn{Text: b.Text, Data: e.signer.Encode(sess.ID, b.ID)})
	}

	msgID, err := client.SendMessage(ctx, chatID, step.Message, telegram.SendOptions{
		ReplyTo: replyTo,
		Markup:  keyboard.Inline(inline),
	})
	if err != nil {
		return apperr.Upstream(errors.New(telegram.Redact(err)), "send step %d", step.ID)
	}

	sess.LastMessageID = &msgID
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return duplicateOrErr(ctx, err, sess.ID)
	}
	return nil
}

func (e *Engine) save(ctx context.Context, sess *store.Session, event string) error {
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return duplicateOrErr(ctx, err, sess.ID)
	}
	logger.Info(ctx, component, event,
		slog.String("outcome", "ok"),
		slog.Int64("session_id", sess.ID),
	)
	return nil
}

// bestEffort logs a failed side call; benign Telegram refusals are expected.
func (e *Engine) bestEffort(ctx context.Context, action string, err error) {
	switch {
	case err == nil:
	case telegram.IsBenign(err):
		logger.Debug(ctx, component, action, slog.String("outcome", "noop"), slog.String("err", telegram.Redact(err)))
	default:
		logger.Warn(ctx, component, action, slog.String("outcome", "fail"), slog.String("err", telegram.Redact(err)))
	}
}

func duplicateOrErr(ctx context.Context, err error, sessionID int64) error {
	if errors.Is(err, apperr.ErrConflict) {
		logger.Info(ctx, component, "session.update",
			slog.String("outcome", "duplicate"),
			slog.Int64("session_id", sessionID),
		)
		return nil
	}
	return noopIfMissing(ctx, err, "session_not_found")
}

func noopIfMissing(ctx context.Context, err error, reason string) error {
	if errors.Is(err, apperr.ErrNotFound) {
		logger.Debug(ctx, component, "update.skip", slog.String("outcome", "noop"), slog.String("reason", reason))
		return nil
	}
	return err
}

func noop(ctx context.Context, reason string, sessionID int64) error {
	logger.Debug(ctx, component, "update.skip",
		slog.String("outcome", "noop"),
		slog.String("reason", reason),
		slog.Int64("session_id", sessionID),
	)
	return nil
}
