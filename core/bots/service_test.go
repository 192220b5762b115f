package bots

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/store"
	"github.com/m3rciful/chainbot/core/telegram/telegramtest"
)

func webhookURL(id int64) string {
	return fmt.Sprintf("https://hooks.example.com/api/v1/webhook/%d", id)
}

func newTestService(t *testing.T) (*Service, *store.Memory, *telegramtest.Fake) {
	t.Helper()
	st := store.NewMemory()
	tg := telegramtest.New()
	return NewService(st, tg, webhookURL, "Back"), st, tg
}

func TestCreateRegistersWebhook(t *testing.T) {
	ctx := context.Background()
	svc, _, tg := newTestService(t)

	b, err := svc.Create(ctx, CreateInput{Token: "100:tok"})
	require.NoError(t, err)
	require.Len(t, b.SecretToken, 32)
	require.True(t, b.IsActive)
	require.Equal(t, "test_bot", *b.Username)
	require.Equal(t, webhookURL(b.ID), tg.Webhooks["100:tok"])
	require.Equal(t, b.SecretToken, tg.Secrets["100:tok"])
}

func TestCreateRejectsInvalidToken(t *testing.T) {
	ctx := context.Background()
	svc, st, tg := newTestService(t)
	tg.GetMeErr = errors.New("telegram: Unauthorized (401)")

	_, err := svc.Create(ctx, CreateInput{Token: "bad"})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	bots, _ := st.ListBots(ctx)
	require.Empty(t, bots)
}

func TestCreateRollsBackOnWebhookFailure(t *testing.T) {
	ctx := context.Background()
	svc, st, tg := newTestService(t)
	tg.SetWebhookErr = errors.New("telegram: bad webhook (400)")

	_, err := svc.Create(ctx, CreateInput{Token: "100:tok"})
	require.ErrorIs(t, err, apperr.ErrUpstream)
	bots, _ := st.ListBots(ctx)
	require.Empty(t, bots, "bot must be removed when webhook registration fails")
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	b, err := svc.Create(ctx, CreateInput{Token: "100:tok"})
	require.NoError(t, err)

	got, err := svc.Verify(ctx, b.ID, b.SecretToken)
	require.NoError(t, err)
	require.Equal(t, b.ID, got.ID)

	_, err = svc.Verify(ctx, b.ID, "wrong")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = svc.Verify(ctx, b.ID+100, b.SecretToken)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	inactive := false
	_, err = svc.Update(ctx, b.ID, UpdateInput{IsActive: &inactive})
	require.NoError(t, err)
	_, err = svc.Verify(ctx, b.ID, b.SecretToken)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestUpdateRotatesToken(t *testing.T) {
	ctx := context.Background()
	svc, _, tg := newTestService(t)
	b, err := svc.Create(ctx, CreateInput{Token: "100:old"})
	require.NoError(t, err)

	newToken := "100:new"
	updated, err := svc.Update(ctx, b.ID, UpdateInput{Token: &newToken})
	require.NoError(t, err)
	require.Equal(t, newToken, updated.Token)
	require.Equal(t, webhookURL(b.ID), tg.Webhooks[newToken])
	_, stillThere := tg.Webhooks["100:old"]
	require.False(t, stillThere, "old webhook must be removed")
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	svc, st, tg := newTestService(t)
	b, err := svc.Create(ctx, CreateInput{Token: "100:tok"})
	require.NoError(t, err)
	c := store.Chain{BotID: b.ID, Name: "survey"}
	require.NoError(t, st.CreateChain(ctx, &c))

	require.NoError(t, svc.Delete(ctx, b.ID))
	require.Contains(t, tg.Removed, "100:tok")
	_, err = st.GetChain(ctx, c.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMenuButtons(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t)
	b, err := svc.Create(ctx, CreateInput{Token: "100:tok"})
	require.NoError(t, err)

	reply := "We are open 9-18"
	btn, err := svc.CreateMenuButton(ctx, MenuButtonInput{BotID: b.ID, ButtonText: " Hours ", ReplyText: &reply})
	require.NoError(t, err)
	require.Equal(t, "Hours", btn.ButtonText)

	_, err = svc.CreateMenuButton(ctx, MenuButtonInput{BotID: b.ID, ButtonText: "Hours"})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.CreateMenuButton(ctx, MenuButtonInput{BotID: b.ID, ButtonText: "/start"})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.CreateMenuButton(ctx, MenuButtonInput{BotID: b.ID, ButtonText: "Back"})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	other, err := svc.Create(ctx, CreateInput{Token: "200:tok"})
	require.NoError(t, err)
	foreign := store.Chain{BotID: other.ID, Name: "foreign"}
	require.NoError(t, st.CreateChain(ctx, &foreign))
	_, err = svc.CreateMenuButton(ctx, MenuButtonInput{BotID: b.ID, ButtonText: "Go", ChainID: &foreign.ID})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	welcome := "Hi there"
	menu, err := svc.UpdateWelcome(ctx, b.ID, &welcome)
	require.NoError(t, err)
	require.Equal(t, welcome, *menu.WelcomeMessage)
	require.Len(t, menu.Buttons, 1)
}
