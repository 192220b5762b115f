package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgresTC "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/config"
	"github.com/m3rciful/chainbot/core/database"
)

// newPostgres starts a throwaway Postgres, applies the schema and returns a store over it.
func newPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration tests are skipped with -short")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	ctr, err := postgresTC.Run(ctx,
		"postgres:16-alpine",
		postgresTC.WithDatabase("chainbot"),
		postgresTC.WithUsername("chainbot"),
		postgresTC.WithPassword("chainbot"),
		postgresTC.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start postgres container")

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Host:           host,
		Port:           port.Port(),
		User:           "chainbot",
		Password:       "chainbot",
		Name:           "chainbot",
		SSLMode:        "disable",
		MaxConnections: 4,
		MigrationsDir:  "../../migrations",
	}
	require.NoError(t, database.RunMigrations(cfg))
	db, err := database.Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db)
}

func reset(t *testing.T, s *PostgresStore) {
	t.Helper()
	_, err := s.db.ExecContext(context.Background(), `TRUNCATE bots RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
}

func TestPostgresStore(t *testing.T) {
	s := newPostgres(t)

	t.Run("session version conflict and deleted row", func(t *testing.T) {
		reset(t, s)
		ctx := context.Background()
		f := seed(t, s)
		require.Equal(t, int64(1), f.session.Version)

		a, err := s.GetSession(ctx, f.session.ID)
		require.NoError(t, err)
		b, err := s.GetSession(ctx, f.session.ID)
		require.NoError(t, err)

		a.Result.Set("Start of chain", "Go")
		require.NoError(t, s.UpdateSession(ctx, a))
		require.Equal(t, int64(2), a.Version)

		b.ExpectsTextInput = true
		require.ErrorIs(t, s.UpdateSession(ctx, b), apperr.ErrConflict)

		got, err := s.GetSession(ctx, f.session.ID)
		require.NoError(t, err)
		require.False(t, got.ExpectsTextInput, "the losing write is discarded")

		require.NoError(t, s.DeleteBot(ctx, f.bot.ID))
		require.ErrorIs(t, s.UpdateSession(ctx, a), apperr.ErrNotFound)
	})

	t.Run("driver errors map to the error taxonomy", func(t *testing.T) {
		reset(t, s)
		ctx := context.Background()
		f := seed(t, s)

		dup := Chain{BotID: f.bot.ID, Name: f.chain.Name}
		require.ErrorIs(t, s.CreateChain(ctx, &dup), apperr.ErrConflict)

		orphan := Step{ChainID: f.chain.ID + 1000, Message: "lost"}
		require.ErrorIs(t, s.CreateStep(ctx, &orphan), apperr.ErrNotFound)

		loop := Button{StepID: f.first.ID, Text: "loop", NextStepID: &f.first.ID}
		require.ErrorIs(t, s.CreateButton(ctx, &loop), apperr.ErrInvalidArgument)

		menu, err := s.EnsureMainMenu(ctx, f.bot.ID)
		require.NoError(t, err)
		first := MenuButton{MainMenuID: menu.ID, BotID: f.bot.ID, ButtonText: "About"}
		require.NoError(t, s.CreateMenuButton(ctx, &first))
		second := MenuButton{MainMenuID: menu.ID, BotID: f.bot.ID, ButtonText: "About"}
		require.ErrorIs(t, s.CreateMenuButton(ctx, &second), apperr.ErrConflict)

		_, err = s.GetChain(ctx, f.chain.ID+1000)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("deleting a chain keeps sessions with chain and step cleared", func(t *testing.T) {
		reset(t, s)
		ctx := context.Background()
		f := seed(t, s)
		f.session.Result.Set("Start of chain", "Go")
		require.NoError(t, s.UpdateSession(ctx, &f.session))

		require.NoError(t, s.DeleteChain(ctx, f.chain.ID))

		got, err := s.GetSession(ctx, f.session.ID)
		require.NoError(t, err)
		require.Nil(t, got.ChainID)
		require.Nil(t, got.StepID)
		require.Equal(t, 1, got.Result.Len())
		_, err = s.GetStep(ctx, f.first.ID)
		require.ErrorIs(t, err, apperr.ErrNotFound)
		_, err = s.GetButton(ctx, f.button.ID)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("text input lookup prefers the most recently updated session", func(t *testing.T) {
		reset(t, s)
		ctx := context.Background()
		f := seed(t, s)

		older := Session{UserID: 42, BotID: f.bot.ID, ChainID: &f.chain.ID, StepID: &f.second.ID, ExpectsTextInput: true}
		require.NoError(t, s.CreateSession(ctx, &older))
		newer := Session{UserID: 42, BotID: f.bot.ID, ChainID: &f.chain.ID, StepID: &f.second.ID, ExpectsTextInput: true}
		require.NoError(t, s.CreateSession(ctx, &newer))

		got, err := s.FindTextInputSession(ctx, f.bot.ID, 42)
		require.NoError(t, err)
		require.Equal(t, newer.ID, got.ID)

		time.Sleep(10 * time.Millisecond)
		older.Result.Set("Your name?", "draft")
		require.NoError(t, s.UpdateSession(ctx, &older))
		got, err = s.FindTextInputSession(ctx, f.bot.ID, 42)
		require.NoError(t, err)
		require.Equal(t, older.ID, got.ID)

		n, err := s.ReleaseTextInput(ctx, f.bot.ID, 42)
		require.NoError(t, err)
		require.Equal(t, 2, n)
		_, err = s.FindTextInputSession(ctx, f.bot.ID, 42)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("answers keep their order through the json column", func(t *testing.T) {
		reset(t, s)
		ctx := context.Background()
		f := seed(t, s)
		f.session.Result.Set("zeta", "1")
		f.session.Result.Set("alpha", "2")
		require.NoError(t, s.UpdateSession(ctx, &f.session))

		got, err := s.GetSession(ctx, f.session.ID)
		require.NoError(t, err)
		require.Equal(t, []string{"zeta", "alpha"}, got.Result.Keys())
	})

	t.Run("transactions roll back on error", func(t *testing.T) {
		reset(t, s)
		ctx := context.Background()
		f := seed(t, s)

		err := s.WithTx(ctx, func(tx Store) error {
			c := Chain{BotID: f.bot.ID, Name: "draft"}
			if err := tx.CreateChain(ctx, &c); err != nil {
				return err
			}
			return apperr.Invalid("abort")
		})
		require.ErrorIs(t, err, apperr.ErrInvalidArgument)
		_, err = s.FindChainByName(ctx, "draft")
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})
}
