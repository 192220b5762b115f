// Package store is the persistence gateway for bots, chains and conversation state.
//
// Two implementations share the Store contract: PostgresStore (sqlx + lib/pq) and Memory,
// an id-indexed arena with the same cascade and set-null rules as the SQL schema.
// Missing rows are reported as apperr.ErrNotFound and uniqueness violations as apperr.ErrConflict.
package store

import "context"

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

// BotStore persists bots.
type BotStore interface {
	CreateBot(ctx context.Context, b *Bot) error
	GetBot(ctx context.Context, id int64) (*Bot, error)
	ListBots(ctx context.Context) ([]Bot, error)
	UpdateBot(ctx context.Context, b *Bot) error
	// DeleteBot removes the bot together with its menu, chains, sessions, subscribers and mailings.
	DeleteBot(ctx context.Context, id int64) error
}

// MenuStore persists main menus and their reply buttons.
type MenuStore interface {
	// EnsureMainMenu returns the bot's menu, creating an empty one on first use.
	EnsureMainMenu(ctx context.Context, botID int64) (*MainMenu, error)
	UpdateMainMenu(ctx context.Context, m *MainMenu) error
	ListMenuButtons(ctx context.Context, botID int64) ([]MenuButton, error)
	CreateMenuButton(ctx context.Context, b *MenuButton) error
	GetMenuButton(ctx context.Context, id int64) (*MenuButton, error)
	FindMenuButton(ctx context.Context, botID int64, text string) (*MenuButton, error)
	UpdateMenuButton(ctx context.Context, b *MenuButton) error
	DeleteMenuButton(ctx context.Context, id int64) error
}

// ChainStore persists chains, steps and buttons.
type ChainStore interface {
	CreateChain(ctx context.Context, c *Chain) error
	GetChain(ctx context.Context, id int64) (*Chain, error)
	FindChainByName(ctx context.Context, name string) (*Chain, error)
	ListChains(ctx context.Context, botID int64) ([]Chain, error)
	UpdateChain(ctx context.Context, c *Chain) error
	// DeleteChain removes steps and buttons; sessions keep their rows with chain and step cleared.
	DeleteChain(ctx context.Context, id int64) error

	CreateStep(ctx context.Context, s *Step) error
	GetStep(ctx context.Context, id int64) (*Step, error)
	ListSteps(ctx context.Context, chainID int64) ([]Step, error)
	UpdateStep(ctx context.Context, s *Step) error
	// DeleteStep removes the step and its buttons and clears every pointer to it.
	DeleteStep(ctx context.Context, id int64) error

	CreateButton(ctx context.Context, b *Button) error
	GetButton(ctx context.Context, id int64) (*Button, error)
	ListButtons(ctx context.Context, stepID int64) ([]Button, error)
	ListChainButtons(ctx context.Context, chainID int64) ([]Button, error)
	UpdateButton(ctx context.Context, b *Button) error
	DeleteButton(ctx context.Context, id int64) error
}

// SessionStore persists conversation sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id int64) (*Session, error)
	// UpdateSession writes s only if the stored version still equals s.Version and bumps it.
	// A stale version yields apperr.ErrConflict.
	UpdateSession(ctx context.Context, s *Session) error
	// FindTextInputSession returns the most recently updated session of the user awaiting text.
	FindTextInputSession(ctx context.Context, botID, userID int64) (*Session, error)
	// ReleaseTextInput stops every session of the user from awaiting text and returns how many changed.
	ReleaseTextInput(ctx context.Context, botID, userID int64) (int, error)
	ListChainSessions(ctx context.Context, chainID int64, page Page) ([]Session, int, error)
}

// SubscriberStore persists the audience of each bot.
type SubscriberStore interface {
	UpsertSubscriber(ctx context.Context, s *Subscriber) error
	ListSubscribers(ctx context.Context, botID int64, page Page) ([]Subscriber, error)
	CountSubscribers(ctx context.Context, botID int64) (int, error)
	GetSubscribers(ctx context.Context, botID int64, userIDs []int64) (map[int64]Subscriber, error)
}

// MailingStore persists broadcast bookkeeping.
type MailingStore interface {
	CreateMailing(ctx context.Context, m *Mailing) error
	GetMailing(ctx context.Context, id string) (*Mailing, error)
	// TransitionMailing moves the mailing to status `to` when its current status is one of from.
	// It reports whether the transition happened.
	TransitionMailing(ctx context.Context, id, to string, from ...string) (bool, error)
	SaveMailingProgress(ctx context.Context, id string, p MailingProgress) error
	FailMailing(ctx context.Context, id, reason string) error
}

// Store is the full persistence gateway.
type Store interface {
	BotStore
	MenuStore
	ChainStore
	SessionStore
	SubscriberStore
	MailingStore

	// WithTx runs fn against a transactional view; any error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
