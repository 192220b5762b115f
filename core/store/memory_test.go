package store

import (
	"context"
	"errors"
	"testing"

	"github.com/m3rciful/chainbot/core/apperr"
)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	bot     Bot
	chain   Chain
	first   Step
	second  Step
	button  Button
	session Session
}

func seed(t *testing.T, m Store) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{bot: Bot{Token: "1:abc", SecretToken: "s", IsActive: true}}
	if err := m.CreateBot(ctx, &f.bot); err != nil {
		t.Fatalf("create bot: %v", err)
	}
	f.chain = Chain{BotID: f.bot.ID, Name: "survey"}
	if err := m.CreateChain(ctx, &f.chain); err != nil {
		t.Fatalf("create chain: %v", err)
	}
	f.first = Step{ChainID: f.chain.ID, Name: "First step", Message: "Start of chain"}
	if err := m.CreateStep(ctx, &f.first); err != nil {
		t.Fatalf("create step: %v", err)
	}
	f.second = Step{ChainID: f.chain.ID, Message: "Your name?", TextInput: true}
	if err := m.CreateStep(ctx, &f.second); err != nil {
		t.Fatalf("create step: %v", err)
	}
	f.chain.FirstStepID = &f.first.ID
	if err := m.UpdateChain(ctx, &f.chain); err != nil {
		t.Fatalf("update chain: %v", err)
	}
	f.button = Button{StepID: f.first.ID, Text: "Go", NextStepID: &f.second.ID}
	if err := m.CreateButton(ctx, &f.button); err != nil {
		t.Fatalf("create button: %v", err)
	}
	f.session = Session{UserID: 42, BotID: f.bot.ID, ChainID: &f.chain.ID, StepID: &f.first.ID}
	if err := m.CreateSession(ctx, &f.session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return f
}

func TestMemoryButtonSelfLoopRejected(t *testing.T) {
	m := NewMemory()
	f := seed(t, m)
	b := Button{StepID: f.first.ID, Text: "loop", NextStepID: &f.first.ID}
	err := m.CreateButton(context.Background(), &b)
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestMemoryDeleteStepClearsPointers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	f := seed(t, m)

	if err := m.DeleteStep(ctx, f.second.ID); err != nil {
		t.Fatalf("delete step: %v", err)
	}
	b, err := m.GetButton(ctx, f.button.ID)
	if err != nil {
		t.Fatalf("get button: %v", err)
	}
	if b.NextStepID != nil {
		t.Fatalf("button next step should be cleared, got %d", *b.NextStepID)
	}

	if err := m.DeleteStep(ctx, f.first.ID); err != nil {
		t.Fatalf("delete first step: %v", err)
	}
	if _, err := m.GetButton(ctx, f.button.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("button of deleted step should be gone, got %v", err)
	}
	c, _ := m.GetChain(ctx, f.chain.ID)
	if c.FirstStepID != nil {
		t.Fatalf("chain first step should be cleared")
	}
	s, _ := m.GetSession(ctx, f.session.ID)
	if s.StepID != nil {
		t.Fatalf("session step should be cleared")
	}
}

func TestMemoryDeleteChainKeepsSessions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	f := seed(t, m)

	menu, err := m.EnsureMainMenu(ctx, f.bot.ID)
	if err != nil {
		t.Fatalf("ensure menu: %v", err)
	}
	mb := MenuButton{MainMenuID: menu.ID, BotID: f.bot.ID, ButtonText: "Survey", ChainID: &f.chain.ID}
	if err := m.CreateMenuButton(ctx, &mb); err != nil {
		t.Fatalf("create menu button: %v", err)
	}

	if err := m.DeleteChain(ctx, f.chain.ID); err != nil {
		t.Fatalf("delete chain: %v", err)
	}
	if steps, _ := m.ListSteps(ctx, f.chain.ID); len(steps) != 0 {
		t.Fatalf("steps should be removed, got %d", len(steps))
	}
	s, err := m.GetSession(ctx, f.session.ID)
	if err != nil {
		t.Fatalf("session should survive chain deletion: %v", err)
	}
	if s.ChainID != nil || s.StepID != nil {
		t.Fatalf("session pointers should be cleared: %+v", s)
	}
	got, _ := m.GetMenuButton(ctx, mb.ID)
	if got.ChainID != nil {
		t.Fatalf("menu button chain should be cleared")
	}
}

func TestMemoryDeleteBotCascades(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	f := seed(t, m)
	sub := Subscriber{BotID: f.bot.ID, UserID: 42}
	if err := m.UpsertSubscriber(ctx, &sub); err != nil {
		t.Fatalf("upsert subscriber: %v", err)
	}

	if err := m.DeleteBot(ctx, f.bot.ID); err != nil {
		t.Fatalf("delete bot: %v", err)
	}
	if _, err := m.GetChain(ctx, f.chain.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("chain should be gone, got %v", err)
	}
	if _, err := m.GetSession(ctx, f.session.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("session should be gone, got %v", err)
	}
	if n, _ := m.CountSubscribers(ctx, f.bot.ID); n != 0 {
		t.Fatalf("subscribers should be gone, got %d", n)
	}
}

func TestMemoryUniqueness(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	f := seed(t, m)

	dupBot := Bot{Token: f.bot.Token}
	if err := m.CreateBot(ctx, &dupBot); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate token: expected conflict, got %v", err)
	}
	dupChain := Chain{BotID: f.bot.ID, Name: f.chain.Name}
	if err := m.CreateChain(ctx, &dupChain); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate chain name: expected conflict, got %v", err)
	}
	menu, _ := m.EnsureMainMenu(ctx, f.bot.ID)
	again, _ := m.EnsureMainMenu(ctx, f.bot.ID)
	if menu.ID != again.ID {
		t.Fatalf("main menu must be unique per bot: %d vs %d", menu.ID, again.ID)
	}
	a := MenuButton{MainMenuID: menu.ID, BotID: f.bot.ID, ButtonText: "Help", ReplyText: ptr("hi")}
	if err := m.CreateMenuButton(ctx, &a); err != nil {
		t.Fatalf("create menu button: %v", err)
	}
	b := MenuButton{MainMenuID: menu.ID, BotID: f.bot.ID, ButtonText: "Help"}
	if err := m.CreateMenuButton(ctx, &b); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate menu text: expected conflict, got %v", err)
	}
}

func TestMemorySessionVersioning(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	f := seed(t, m)

	first, _ := m.GetSession(ctx, f.session.ID)
	stale, _ := m.GetSession(ctx, f.session.ID)

	first.StepID = &f.second.ID
	first.ExpectsTextInput = true
	if err := m.UpdateSession(ctx, first); err != nil {
		t.Fatalf("update session: %v", err)
	}
	if first.Version != 2 {
		t.Fatalf("expected version 2, got %d", first.Version)
	}

	stale.Result.Set("q", "a")
	if err := m.UpdateSession(ctx, stale); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale write: expected conflict, got %v", err)
	}

	got, _ := m.FindTextInputSession(ctx, f.bot.ID, 42)
	if got.ID != f.session.ID {
		t.Fatalf("unexpected text input session %d", got.ID)
	}
	if got.Result.Len() != 0 {
		t.Fatalf("stale answers must not be persisted")
	}
}

func TestMemoryWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	f := seed(t, m)

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx Store) error {
		c := Chain{BotID: f.bot.ID, Name: "temp"}
		if err := tx.CreateChain(ctx, &c); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := m.FindChainByName(ctx, "temp"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("chain created in failed tx should not exist, got %v", err)
	}
}

func TestMemoryChainSessionsPaged(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	f := seed(t, m)
	for uid := int64(100); uid < 104; uid++ {
		s := Session{UserID: uid, BotID: f.bot.ID, ChainID: &f.chain.ID}
		if err := m.CreateSession(ctx, &s); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}
	page, total, err := m.ListChainSessions(ctx, f.chain.ID, Page{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(page) != 1 {
		t.Fatalf("expected total 5 and 1 row, got %d and %d", total, len(page))
	}
}

func TestMemoryMailingTransitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	f := seed(t, m)
	ml := Mailing{ID: "m-1", BotID: f.bot.ID, Message: "hi", ChunkSize: 10, Status: MailingQueued}
	if err := m.CreateMailing(ctx, &ml); err != nil {
		t.Fatalf("create mailing: %v", err)
	}
	ok, err := m.TransitionMailing(ctx, ml.ID, MailingRunning, MailingQueued)
	if err != nil || !ok {
		t.Fatalf("queued -> running: ok=%v err=%v", ok, err)
	}
	ok, _ = m.TransitionMailing(ctx, ml.ID, MailingRunning, MailingQueued)
	if ok {
		t.Fatalf("second queued -> running must not apply")
	}
	if ok, _ := m.TransitionMailing(ctx, ml.ID, MailingCompleted, MailingRunning); !ok {
		t.Fatalf("running -> completed must apply")
	}
	got, _ := m.GetMailing(ctx, ml.ID)
	if got.StartedAt == nil || got.FinishedAt == nil || !got.Terminal() {
		t.Fatalf("unexpected mailing state %+v", got)
	}
}

func TestMemoryReleaseTextInput(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	f := seed(t, m)
	waiting := Session{UserID: 42, BotID: f.bot.ID, ChainID: &f.chain.ID, StepID: &f.second.ID, ExpectsTextInput: true}
	if err := m.CreateSession(ctx, &waiting); err != nil {
		t.Fatalf("create session: %v", err)
	}

	n, err := m.ReleaseTextInput(ctx, f.bot.ID, 42)
	if err != nil || n != 1 {
		t.Fatalf("release: n=%d err=%v", n, err)
	}
	got, _ := m.GetSession(ctx, waiting.ID)
	if got.ExpectsTextInput || got.Version != waiting.Version+1 {
		t.Fatalf("session not released: %+v", got)
	}
	// A stale copy now loses the version race.
	if err := m.UpdateSession(ctx, &waiting); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale update: %v", err)
	}
}
