package store

import "time"

// Bot is a registered Telegram bot and its webhook credentials.
type Bot struct {
	ID           int64     `db:"id" json:"id"`
	Token        string    `db:"token" json:"-"`
	SecretToken  string    `db:"secret_token" json:"-"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	DefaultReply *string   `db:"default_reply" json:"default_reply"`
	Username     *string   `db:"username" json:"username"`
	Name         *string   `db:"name" json:"name"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// MainMenu holds the /start welcome text of a bot.
type MainMenu struct {
	ID             int64     `db:"id" json:"id"`
	BotID          int64     `db:"bot_id" json:"bot_id"`
	WelcomeMessage *string   `db:"welcome_message" json:"welcome_message"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// MenuButton is a reply-keyboard entry of the main menu.
// A button either starts ChainID or answers with ReplyText.
type MenuButton struct {
	ID         int64     `db:"id" json:"id"`
	MainMenuID int64     `db:"main_menu_id" json:"main_menu_id"`
	BotID      int64     `db:"bot_id" json:"bot_id"`
	ButtonText string    `db:"button_text" json:"button_text"`
	ReplyText  *string   `db:"reply_text" json:"reply_text"`
	ChainID    *int64    `db:"chain_id" json:"chain_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Chain is a named conversational flow owned by a bot.
type Chain struct {
	ID          int64     `db:"id" json:"id"`
	BotID       int64     `db:"bot_id" json:"bot_id"`
	Name        string    `db:"name" json:"name"`
	FirstStepID *int64    `db:"first_step_id" json:"first_chain_step_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Step is one prompt of a chain.
type Step struct {
	ID         int64     `db:"id" json:"id"`
	ChainID    int64     `db:"chain_id" json:"chain_id"`
	Name       string    `db:"name" json:"name"`
	Message    string    `db:"message" json:"message"`
	NextStepID *int64    `db:"next_step_id" json:"next_step_id"`
	TextInput  bool      `db:"text_input" json:"text_input"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Button is a choice offered at a step.
type Button struct {
	ID         int64     `db:"id" json:"id"`
	StepID     int64     `db:"step_id" json:"step_id"`
	Text       string    `db:"text" json:"text"`
	Callback   *string   `db:"callback" json:"callback"`
	NextStepID *int64    `db:"next_step_id" json:"next_step_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Session is the per-user progress marker through a chain.
type Session struct {
	ID               int64     `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"user_id"`
	BotID            int64     `db:"bot_id" json:"bot_id"`
	ChainID          *int64    `db:"chain_id" json:"chain_id"`
	StepID           *int64    `db:"step_id" json:"step_id"`
	ExpectsTextInput bool      `db:"expects_text_input" json:"expects_text_input"`
	Result           Answers   `db:"result" json:"result"`
	LastMessageID    *int64    `db:"last_message_id" json:"last_message_id"`
	Version          int64     `db:"version" json:"version"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Subscriber is a Telegram user that has talked to a bot.
type Subscriber struct {
	ID        int64     `db:"id" json:"id"`
	BotID     int64     `db:"bot_id" json:"bot_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Username  string    `db:"username" json:"username"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Mailing statuses.
const (
	MailingQueued     = "queued"
	MailingRunning    = "running"
	MailingCancelling = "cancelling"
	MailingCancelled  = "cancelled"
	MailingCompleted  = "completed"
	MailingFailed     = "failed"
)

// Mailing tracks one broadcast.
type Mailing struct {
	ID         string     `db:"id" json:"mailing_id"`
	BotID      int64      `db:"bot_id" json:"bot_id"`
	Message    string     `db:"message" json:"message"`
	ChunkSize  int        `db:"chunk_size" json:"chunk_size"`
	Status     string     `db:"status" json:"status"`
	Total      int        `db:"total" json:"total"`
	Success    int        `db:"success" json:"success"`
	Failed     int        `db:"failed" json:"failed"`
	Processed  int        `db:"processed" json:"processed"`
	Error      string     `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	StartedAt  *time.Time `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at"`
}

// Terminal reports whether no further work is expected for the mailing.
func (m *Mailing) Terminal() bool {
	switch m.Status {
	case MailingCancelled, MailingCompleted, MailingFailed:
		return true
	}
	return false
}

// MailingProgress is the counter update persisted after each chunk.
type MailingProgress struct {
	Total     int
	Success   int
	Failed    int
	Processed int
}
