package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/logger"
)

// PostgresStore implements Store over sqlx. Cascades are enforced by the schema foreign keys.
type PostgresStore struct {
	db *sqlx.DB
	q  sqlx.ExtContext
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// WithTx runs fn inside a database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	start := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.DB.Warn("rollback failed",
				slog.String("event", "db.tx.rollback"),
				slog.String("err", rbErr.Error()),
			)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapErr(err, "transaction"))
	}
	logger.DB.Debug("tx committed",
		slog.String("event", "db.tx.commit"),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// mapErr converts driver errors into the apperr taxonomy.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("%s", what)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return apperr.Conflict("%s: %s", what, pqErr.Constraint)
		case "foreign_key_violation":
			return apperr.NotFound("%s: referenced row (%s)", what, pqErr.Constraint)
		case "check_violation":
			return apperr.Invalid("%s: %s", what, pqErr.Constraint)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *PostgresStore) get(ctx context.Context, dest any, what, query string, args ...any) error {
	return mapErr(sqlx.GetContext(ctx, s.q, dest, query, args...), what)
}

func (s *PostgresStore) selectAll(ctx context.Context, dest any, what, query string, args ...any) error {
	return mapErr(sqlx.SelectContext(ctx, s.q, dest, query, args...), what)
}

// execOne runs a mutation that must touch exactly one row.
func (s *PostgresStore) execOne(ctx context.Context, what, query string, args ...any) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return apperr.NotFound("%s", what)
	}
	return nil
}

// Bots

const botColumns = `id, token, secret_token, is_active, default_reply, username, name, created_at, updated_at`

func (s *PostgresStore) CreateBot(ctx context.Context, b *Bot) error {
	return s.get(ctx, b, "create bot", `
		INSERT INTO bots (token, secret_token, is_active, default_reply, username, name)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+botColumns,
		b.Token, b.SecretToken, b.IsActive, b.DefaultReply, b.Username, b.Name)
}

func (s *PostgresStore) GetBot(ctx context.Context, id int64) (*Bot, error) {
	var b Bot
	if err := s.get(ctx, &b, fmt.Sprintf("bot %d", id), `SELECT `+botColumns+` FROM bots WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) ListBots(ctx context.Context) ([]Bot, error) {
	var out []Bot
	err := s.selectAll(ctx, &out, "list bots", `SELECT `+botColumns+` FROM bots ORDER BY id`)
	return out, err
}

func (s *PostgresStore) UpdateBot(ctx context.Context, b *Bot) error {
	return s.get(ctx, b, fmt.Sprintf("bot %d", b.ID), `
		UPDATE bots
		SET token = $2, secret_token = $3, is_active = $4, default_reply = $5, username = $6, name = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING `+botColumns,
		b.ID, b.Token, b.SecretToken, b.IsActive, b.DefaultReply, b.Username, b.Name)
}

func (s *PostgresStore) DeleteBot(ctx context.Context, id int64) error {
	return s.execOne(ctx, fmt.Sprintf("bot %d", id), `DELETE FROM bots WHERE id = $1`, id)
}

// Main menu

const menuButtonColumns = `id, main_menu_id, bot_id, button_text, reply_text, chain_id, created_at, updated_at`

func (s *PostgresStore) EnsureMainMenu(ctx context.Context, botID int64) (*MainMenu, error) {
	var m MainMenu
	err := s.get(ctx, &m, fmt.Sprintf("main menu of bot %d", botID), `
		INSERT INTO main_menus (bot_id) VALUES ($1)
		ON CONFLICT (bot_id) DO UPDATE SET bot_id = EXCLUDED.bot_id
		RETURNING id, bot_id, welcome_message, created_at, updated_at`, botID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) UpdateMainMenu(ctx context.Context, m *MainMenu) error {
	return s.get(ctx, m, fmt.Sprintf("main menu %d", m.ID), `
		UPDATE main_menus SET welcome_message = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, bot_id, welcome_message, created_at, updated_at`, m.ID, m.WelcomeMessage)
}

func (s *PostgresStore) ListMenuButtons(ctx context.Context, botID int64) ([]MenuButton, error) {
	var out []MenuButton
	err := s.selectAll(ctx, &out, "list menu buttons",
		`SELECT `+menuButtonColumns+` FROM menu_buttons WHERE bot_id = $1 ORDER BY id`, botID)
	return out, err
}

func (s *PostgresStore) CreateMenuButton(ctx context.Context, b *MenuButton) error {
	return s.get(ctx, b, "create menu button", `
		INSERT INTO menu_buttons (main_menu_id, bot_id, button_text, reply_text, chain_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+menuButtonColumns,
		b.MainMenuID, b.BotID, b.ButtonText, b.ReplyText, b.ChainID)
}

func (s *PostgresStore) GetMenuButton(ctx context.Context, id int64) (*MenuButton, error) {
	var b MenuButton
	if err := s.get(ctx, &b, fmt.Sprintf("menu button %d", id),
		`SELECT `+menuButtonColumns+` FROM menu_buttons WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) FindMenuButton(ctx context.Context, botID int64, text string) (*MenuButton, error) {
	var b MenuButton
	if err := s.get(ctx, &b, fmt.Sprintf("menu button %q", text),
		`SELECT `+menuButtonColumns+` FROM menu_buttons WHERE bot_id = $1 AND button_text = $2`, botID, text); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) UpdateMenuButton(ctx context.Context, b *MenuButton) error {
	return s.get(ctx, b, fmt.Sprintf("menu button %d", b.ID), `
		UPDATE menu_buttons SET button_text = $2, reply_text = $3, chain_id = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+menuButtonColumns,
		b.ID, b.ButtonText, b.ReplyText, b.ChainID)
}

func (s *PostgresStore) DeleteMenuButton(ctx context.Context, id int64) error {
	return s.execOne(ctx, fmt.Sprintf("menu button %d", id), `DELETE FROM menu_buttons WHERE id = $1`, id)
}

// Chains

const (
	chainColumns  = `id, bot_id, name, first_step_id, created_at, updated_at`
	stepColumns   = `id, chain_id, name, message, next_step_id, text_input, created_at, updated_at`
	buttonColumns = `id, step_id, text, callback, next_step_id, created_at, updated_at`
)

func (s *PostgresStore) CreateChain(ctx context.Context, c *Chain) error {
	return s.get(ctx, c, "create chain", `
		INSERT INTO chains (bot_id, name, first_step_id) VALUES ($1, $2, $3)
		RETURNING `+chainColumns, c.BotID, c.Name, c.FirstStepID)
}

func (s *PostgresStore) GetChain(ctx context.Context, id int64) (*Chain, error) {
	var c Chain
	if err := s.get(ctx, &c, fmt.Sprintf("chain %d", id), `SELECT `+chainColumns+` FROM chains WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) FindChainByName(ctx context.Context, name string) (*Chain, error) {
	var c Chain
	if err := s.get(ctx, &c, fmt.Sprintf("chain %q", name), `SELECT `+chainColumns+` FROM chains WHERE name = $1`, name); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) ListChains(ctx context.Context, botID int64) ([]Chain, error) {
	var out []Chain
	err := s.selectAll(ctx, &out, "list chains", `SELECT `+chainColumns+` FROM chains WHERE bot_id = $1 ORDER BY id`, botID)
	return out, err
}

func (s *PostgresStore) UpdateChain(ctx context.Context, c *Chain) error {
	return s.get(ctx, c, fmt.Sprintf("chain %d", c.ID), `
		UPDATE chains SET name = $2, first_step_id = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+chainColumns, c.ID, c.Name, c.FirstStepID)
}

func (s *PostgresStore) DeleteChain(ctx context.Context, id int64) error {
	return s.execOne(ctx, fmt.Sprintf("chain %d", id), `DELETE FROM chains WHERE id = $1`, id)
}

// Steps

func (s *PostgresStore) CreateStep(ctx context.Context, st *Step) error {
	return s.get(ctx, st, "create step", `
		INSERT INTO chain_steps (chain_id, name, message, next_step_id, text_input)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+stepColumns,
		st.ChainID, st.Name, st.Message, st.NextStepID, st.TextInput)
}

func (s *PostgresStore) GetStep(ctx context.Context, id int64) (*Step, error) {
	var st Step
	if err := s.get(ctx, &st, fmt.Sprintf("step %d", id), `SELECT `+stepColumns+` FROM chain_steps WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, chainID int64) ([]Step, error) {
	var out []Step
	err := s.selectAll(ctx, &out, "list steps",
		`SELECT `+stepColumns+` FROM chain_steps WHERE chain_id = $1 ORDER BY id`, chainID)
	return out, err
}

func (s *PostgresStore) UpdateStep(ctx context.Context, st *Step) error {
	return s.get(ctx, st, fmt.Sprintf("step %d", st.ID), `
		UPDATE chain_steps SET name = $2, message = $3, next_step_id = $4, text_input = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+stepColumns,
		st.ID, st.Name, st.Message, st.NextStepID, st.TextInput)
}

func (s *PostgresStore) DeleteStep(ctx context.Context, id int64) error {
	return s.execOne(ctx, fmt.Sprintf("step %d", id), `DELETE FROM chain_steps WHERE id = $1`, id)
}

// Buttons

func (s *PostgresStore) CreateButton(ctx context.Context, b *Button) error {
	return s.get(ctx, b, "create button", `
		INSERT INTO chain_buttons (step_id, text, callback, next_step_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+buttonColumns,
		b.StepID, b.Text, b.Callback, b.NextStepID)
}

func (s *PostgresStore) GetButton(ctx context.Context, id int64) (*Button, error) {
	var b Button
	if err := s.get(ctx, &b, fmt.Sprintf("button %d", id), `SELECT `+buttonColumns+` FROM chain_buttons WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) ListButtons(ctx context.Context, stepID int64) ([]Button, error) {
	var out []Button
	err := s.selectAll(ctx, &out, "list buttons",
		`SELECT `+buttonColumns+` FROM chain_buttons WHERE step_id = $1 ORDER BY id`, stepID)
	return out, err
}

func (s *PostgresStore) ListChainButtons(ctx context.Context, chainID int64) ([]Button, error) {
	var out []Button
	err := s.selectAll(ctx, &out, "list chain buttons", `
		SELECT b.id, b.step_id, b.text, b.callback, b.next_step_id, b.created_at, b.updated_at
		FROM chain_buttons b
		JOIN chain_steps st ON st.id = b.step_id
		WHERE st.chain_id = $1
		ORDER BY b.id`, chainID)
	return out, err
}

func (s *PostgresStore) UpdateButton(ctx context.Context, b *Button) error {
	return s.get(ctx, b, fmt.Sprintf("button %d", b.ID), `
		UPDATE chain_buttons SET text = $2, callback = $3, next_step_id = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+buttonColumns,
		b.ID, b.Text, b.Callback, b.NextStepID)
}

func (s *PostgresStore) DeleteButton(ctx context.Context, id int64) error {
	return s.execOne(ctx, fmt.Sprintf("button %d", id), `DELETE FROM chain_buttons WHERE id = $1`, id)
}

// Sessions

const sessionColumns = `id, user_id, bot_id, chain_id, step_id, expects_text_input, result, last_message_id, version, created_at, updated_at`

func (s *PostgresStore) CreateSession(ctx context.Context, ss *Session) error {
	return s.get(ctx, ss, "create session", `
		INSERT INTO user_sessions (user_id, bot_id, chain_id, step_id, expects_text_input, result, last_message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+sessionColumns,
		ss.UserID, ss.BotID, ss.ChainID, ss.StepID, ss.ExpectsTextInput, ss.Result, ss.LastMessageID)
}

func (s *PostgresStore) GetSession(ctx context.Context, id int64) (*Session, error) {
	var ss Session
	if err := s.get(ctx, &ss, fmt.Sprintf("session %d", id), `SELECT `+sessionColumns+` FROM user_sessions WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &ss, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, ss *Session) error {
	err := s.get(ctx, ss, fmt.Sprintf("session %d", ss.ID), `
		UPDATE user_sessions
		SET chain_id = $3, step_id = $4, expects_text_input = $5, result = $6, last_message_id = $7,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING `+sessionColumns,
		ss.ID, ss.Version, ss.ChainID, ss.StepID, ss.ExpectsTextInput, ss.Result, ss.LastMessageID)
	if errors.Is(err, apperr.ErrNotFound) {
		// Distinguish a stale version from a deleted row.
		var exists bool
		if qErr := sqlx.GetContext(ctx, s.q, &exists, `SELECT EXISTS (SELECT 1 FROM user_sessions WHERE id = $1)`, ss.ID); qErr == nil && exists {
			return apperr.Conflict("session %d changed concurrently", ss.ID)
		}
	}
	return err
}

func (s *PostgresStore) FindTextInputSession(ctx context.Context, botID, userID int64) (*Session, error) {
	var ss Session
	err := s.get(ctx, &ss, fmt.Sprintf("text input session for user %d", userID), `
		SELECT `+sessionColumns+` FROM user_sessions
		WHERE bot_id = $1 AND user_id = $2 AND expects_text_input
		ORDER BY updated_at DESC, id DESC
		LIMIT 1`, botID, userID)
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

func (s *PostgresStore) ReleaseTextInput(ctx context.Context, botID, userID int64) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE user_sessions
		SET expects_text_input = FALSE, version = version + 1, updated_at = NOW()
		WHERE bot_id = $1 AND user_id = $2 AND expects_text_input`, botID, userID)
	if err != nil {
		return 0, mapErr(err, "release text input")
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) ListChainSessions(ctx context.Context, chainID int64, page Page) ([]Session, int, error) {
	var total int
	if err := s.get(ctx, &total, "count chain sessions", `SELECT COUNT(*) FROM user_sessions WHERE chain_id = $1`, chainID); err != nil {
		return nil, 0, err
	}
	var out []Session
	err := s.selectAll(ctx, &out, "list chain sessions", `
		SELECT `+sessionColumns+` FROM user_sessions
		WHERE chain_id = $1
		ORDER BY updated_at DESC, id DESC
		LIMIT $2 OFFSET $3`, chainID, page.Limit, page.Offset)
	return out, total, err
}

// Subscribers

const subscriberColumns = `id, bot_id, user_id, username, first_name, last_name, created_at, updated_at`

func (s *PostgresStore) UpsertSubscriber(ctx context.Context, sub *Subscriber) error {
	return s.get(ctx, sub, "upsert subscriber", `
		INSERT INTO bot_users (bot_id, user_id, username, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (bot_id, user_id) DO UPDATE
		SET username = EXCLUDED.username, first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name, updated_at = NOW()
		RETURNING `+subscriberColumns,
		sub.BotID, sub.UserID, sub.Username, sub.FirstName, sub.LastName)
}

func (s *PostgresStore) ListSubscribers(ctx context.Context, botID int64, page Page) ([]Subscriber, error) {
	var out []Subscriber
	err := s.selectAll(ctx, &out, "list subscribers", `
		SELECT `+subscriberColumns+` FROM bot_users
		WHERE bot_id = $1 ORDER BY id LIMIT $2 OFFSET $3`, botID, page.Limit, page.Offset)
	return out, err
}

func (s *PostgresStore) CountSubscribers(ctx context.Context, botID int64) (int, error) {
	var n int
	err := s.get(ctx, &n, "count subscribers", `SELECT COUNT(*) FROM bot_users WHERE bot_id = $1`, botID)
	return n, err
}

func (s *PostgresStore) GetSubscribers(ctx context.Context, botID int64, userIDs []int64) (map[int64]Subscriber, error) {
	out := make(map[int64]Subscriber, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []Subscriber
	if err := s.selectAll(ctx, &rows, "get subscribers", `
		SELECT `+subscriberColumns+` FROM bot_users
		WHERE bot_id = $1 AND user_id = ANY($2)`, botID, pq.Array(userIDs)); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.UserID] = r
	}
	return out, nil
}

// Mailings

const mailingColumns = `id, bot_id, message, chunk_size, status, total, success, failed, processed, error, created_at, started_at, finished_at`

func (s *PostgresStore) CreateMailing(ctx context.Context, m *Mailing) error {
	return s.get(ctx, m, "create mailing", `
		INSERT INTO mailings (id, bot_id, message, chunk_size, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+mailingColumns,
		m.ID, m.BotID, m.Message, m.ChunkSize, m.Status)
}

func (s *PostgresStore) GetMailing(ctx context.Context, id string) (*Mailing, error) {
	var m Mailing
	if err := s.get(ctx, &m, fmt.Sprintf("mailing %s", id), `SELECT `+mailingColumns+` FROM mailings WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) TransitionMailing(ctx context.Context, id, to string, from ...string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE mailings
		SET status = $2::text,
		    started_at = CASE WHEN $2::text = 'running' THEN COALESCE(started_at, NOW()) ELSE started_at END,
		    finished_at = CASE WHEN $2::text IN ('cancelled', 'completed', 'failed') THEN NOW() ELSE finished_at END
		WHERE id = $1 AND status = ANY($3)`, id, to, pq.Array(from))
	if err != nil {
		return false, mapErr(err, fmt.Sprintf("mailing %s", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetMailing(ctx, id); err != nil {
			return false, err
		}
	}
	return n > 0, nil
}

func (s *PostgresStore) SaveMailingProgress(ctx context.Context, id string, p MailingProgress) error {
	return s.execOne(ctx, fmt.Sprintf("mailing %s", id), `
		UPDATE mailings SET total = $2, success = $3, failed = $4, processed = $5
		WHERE id = $1`, id, p.Total, p.Success, p.Failed, p.Processed)
}

func (s *PostgresStore) FailMailing(ctx context.Context, id, reason string) error {
	return s.execOne(ctx, fmt.Sprintf("mailing %s", id), `
		UPDATE mailings SET status = 'failed', error = $2, finished_at = NOW()
		WHERE id = $1`, id, reason)
}
