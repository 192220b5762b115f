package engine

import (
	"context"
	"log/slog"

	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/store"
	"github.com/m3rciful/chainbot/core/telegram"
	"github.com/m3rciful/chainbot/core/telegram/keyboard"
)

// sendMenu shows the main menu as a persistent reply keyboard.
func (e *Engine) sendMenu(ctx context.Context, bot *store.Bot, client telegram.Client, chatID int64) error {
	menu, err := e.store.EnsureMainMenu(ctx, bot.ID)
	if err != nil {
		return err
	}
	buttons, err := e.store.ListMenuButtons(ctx, bot.ID)
	if err != nil {
		return err
	}
	labels := make([]string, 0, len(buttons))
	for _, b := range buttons {
		labels = append(labels, b.ButtonText)
	}

	text := e.texts.DefaultWelcome
	if menu.WelcomeMessage != nil && *menu.WelcomeMessage != "" {
		text = *menu.WelcomeMessage
	}
	if err := e.send(ctx, client, chatID, text, telegram.SendOptions{Markup: keyboard.Menu(labels, e.texts.MenuFooter)}); err != nil {
		return err
	}
	logger.Debug(ctx, component, "menu.show",
		slog.String("outcome", "ok"),
		slog.Int("buttons", len(labels)),
	)
	return nil
}
