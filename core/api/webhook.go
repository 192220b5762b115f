package api

import (
	"errors"
	"log/slog"
	"net/http"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/telegram"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

type statusBody struct {
	Status string `json:"status"`
}

// webhook accepts one Telegram update. Anything but a rejected request answers 200 so Telegram
// does not redeliver updates whose processing failed downstream.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	botID, err := pathID(r, "bot_id")
	if err != nil {
		writeError(w, r, apperr.NotFound("bot"))
		return
	}
	ctx := logger.WithBotID(r.Context(), botID)

	bot, err := s.Bots.Verify(ctx, botID, r.Header.Get(secretHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var upd tele.Update
	if err := decode(r, &upd); err != nil {
		writeError(w, r, err)
		return
	}

	err = s.Engine.HandleUpdate(ctx, bot, &upd)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrInvalidArgument):
		writeError(w, r, err)
		return
	default:
		setErr(r, err)
		logger.LogEvent(ctx, logger.Engine, slog.LevelWarn, "update.failed",
			slog.String("outcome", "fail"),
			slog.Int("update_id", upd.ID),
			slog.String("err", telegram.Redact(err)),
		)
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}
