package bots

import (
	"context"
	"errors"
	"strings"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/store"
)

const maxButtonTextLen = 64

// Menu is a main menu together with its buttons.
type Menu struct {
	store.MainMenu
	Buttons []store.MenuButton `json:"buttons"`
}

// MenuButtonInput creates a menu button.
type MenuButtonInput struct {
	BotID      int64   `json:"bot_id"`
	ButtonText string  `json:"button_text"`
	ReplyText  *string `json:"reply_text"`
	ChainID    *int64  `json:"chain_id"`
}

// MenuButtonPatch updates a menu button; nil fields are left alone.
type MenuButtonPatch struct {
	ButtonText *string `json:"button_text"`
	ReplyText  *string `json:"reply_text"`
	ChainID    *int64  `json:"chain_id"`
}

// Menu returns the bot's main menu, creating it on first access.
func (s *Service) Menu(ctx context.Context, botID int64) (*Menu, error) {
	if _, err := s.store.GetBot(ctx, botID); err != nil {
		return nil, err
	}
	m, err := s.store.EnsureMainMenu(ctx, botID)
	if err != nil {
		return nil, err
	}
	buttons, err := s.store.ListMenuButtons(ctx, botID)
	if err != nil {
		return nil, err
	}
	return &Menu{MainMenu: *m, Buttons: buttons}, nil
}

// UpdateWelcome replaces the /start welcome text; nil restores the default.
func (s *Service) UpdateWelcome(ctx context.Context, botID int64, welcome *string) (*Menu, error) {
	if err := checkText("welcome_message", welcome); err != nil {
		return nil, err
	}
	menu, err := s.Menu(ctx, botID)
	if err != nil {
		return nil, err
	}
	menu.WelcomeMessage = welcome
	if err := s.store.UpdateMainMenu(ctx, &menu.MainMenu); err != nil {
		return nil, err
	}
	return menu, nil
}

// CreateMenuButton adds a reply button to the bot's menu.
func (s *Service) CreateMenuButton(ctx context.Context, in MenuButtonInput) (*store.MenuButton, error) {
	text, err := s.checkButtonText(in.ButtonText)
	if err != nil {
		return nil, err
	}
	if err := checkText("reply_text", in.ReplyText); err != nil {
		return nil, err
	}
	if err := s.checkChain(ctx, in.BotID, in.ChainID); err != nil {
		return nil, err
	}
	menu, err := s.Menu(ctx, in.BotID)
	if err != nil {
		return nil, err
	}
	b := &store.MenuButton{
		MainMenuID: menu.ID,
		BotID:      in.BotID,
		ButtonText: text,
		ReplyText:  in.ReplyText,
		ChainID:    in.ChainID,
	}
	if err := s.store.CreateMenuButton(ctx, b); err != nil {
		return nil, duplicateAsInvalid(err, text)
	}
	return b, nil
}

// GetMenuButton returns one menu button.
func (s *Service) GetMenuButton(ctx context.Context, id int64) (*store.MenuButton, error) {
	return s.store.GetMenuButton(ctx, id)
}

// UpdateMenuButton patches a menu button.
func (s *Service) UpdateMenuButton(ctx context.Context, id int64, p MenuButtonPatch) (*store.MenuButton, error) {
	b, err := s.store.GetMenuButton(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ButtonText != nil {
		text, err := s.checkButtonText(*p.ButtonText)
		if err != nil {
			return nil, err
		}
		b.ButtonText = text
	}
	if p.ReplyText != nil {
		if err := checkText("reply_text", p.ReplyText); err != nil {
			return nil, err
		}
		b.ReplyText = p.ReplyText
	}
	if p.ChainID != nil {
		if err := s.checkChain(ctx, b.BotID, p.ChainID); err != nil {
			return nil, err
		}
		b.ChainID = p.ChainID
	}
	if err := s.store.UpdateMenuButton(ctx, b); err != nil {
		return nil, duplicateAsInvalid(err, b.ButtonText)
	}
	return b, nil
}

// DeleteMenuButton removes a menu button.
func (s *Service) DeleteMenuButton(ctx context.Context, id int64) error {
	return s.store.DeleteMenuButton(ctx, id)
}

func (s *Service) checkButtonText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	switch {
	case text == "":
		return "", apperr.Invalid("button_text is required")
	case len([]rune(text)) > maxButtonTextLen:
		return "", apperr.Invalid("button_text exceeds %d characters", maxButtonTextLen)
	}
	if _, bad := s.forbidden[text]; bad {
		return "", apperr.Invalid("a button with this name is forbidden")
	}
	return text, nil
}

// checkChain requires a referenced chain to belong to botID.
func (s *Service) checkChain(ctx context.Context, botID int64, chainID *int64) error {
	if chainID == nil {
		return nil
	}
	c, err := s.store.GetChain(ctx, *chainID)
	if err != nil {
		return err
	}
	if c.BotID != botID {
		return apperr.Invalid("chain %d belongs to another bot", c.ID)
	}
	return nil
}

func duplicateAsInvalid(err error, text string) error {
	if errors.Is(err, apperr.ErrConflict) {
		return apperr.Invalid("menu button %q already exists", text)
	}
	return err
}
