package chains

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/store"
	"github.com/m3rciful/chainbot/core/telegram/telegramtest"
)

func setup(t *testing.T) (*Service, *store.Memory, *telegramtest.Fake, store.Bot) {
	t.Helper()
	st := store.NewMemory()
	tg := telegramtest.New()
	bot := store.Bot{Token: "100:tok", SecretToken: "secret", IsActive: true}
	require.NoError(t, st.CreateBot(context.Background(), &bot))
	return NewService(st, tg), st, tg, bot
}

func TestCreateChainBootstrapsFirstStep(t *testing.T) {
	ctx := context.Background()
	svc, st, _, bot := setup(t)

	c, err := svc.CreateChain(ctx, CreateChainInput{BotID: bot.ID, Name: "survey"})
	require.NoError(t, err)
	require.NotNil(t, c.FirstStepID)

	first, err := st.GetStep(ctx, *c.FirstStepID)
	require.NoError(t, err)
	require.Equal(t, c.ID, first.ChainID)
	require.Equal(t, "First step", first.Name)
	require.Equal(t, "Start of chain", first.Message)

	_, err = svc.CreateChain(ctx, CreateChainInput{BotID: bot.ID, Name: "survey"})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.CreateChain(ctx, CreateChainInput{BotID: bot.ID + 99, Name: "other"})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateStepLinking(t *testing.T) {
	ctx := context.Background()
	svc, st, _, bot := setup(t)
	c, err := svc.CreateChain(ctx, CreateChainInput{BotID: bot.ID, Name: "survey"})
	require.NoError(t, err)

	_, err = svc.CreateStep(ctx, CreateStepInput{ChainID: c.ID, Message: "x"})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument, "neither mode")

	btn, err := svc.CreateButton(ctx, CreateButtonInput{StepID: *c.FirstStepID, Text: "Yes"})
	require.NoError(t, err)
	_, err = svc.CreateStep(ctx, CreateStepInput{ChainID: c.ID, Message: "x", IsFirstStepOfChain: true, SetAsNextStepForButtonID: &btn.ID})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument, "both modes")

	next, err := svc.CreateStep(ctx, CreateStepInput{ChainID: c.ID, Message: "Great!", SetAsNextStepForButtonID: &btn.ID})
	require.NoError(t, err)
	got, _ := st.GetButton(ctx, btn.ID)
	require.Equal(t, next.ID, *got.NextStepID)

	head, err := svc.CreateStep(ctx, CreateStepInput{ChainID: c.ID, Message: "New start", IsFirstStepOfChain: true})
	require.NoError(t, err)
	chain, _ := st.GetChain(ctx, c.ID)
	require.Equal(t, head.ID, *chain.FirstStepID)
}

func TestSetNextStepRejectsSelfLoop(t *testing.T) {
	ctx := context.Background()
	svc, st, _, bot := setup(t)
	c, err := svc.CreateChain(ctx, CreateChainInput{BotID: bot.ID, Name: "survey"})
	require.NoError(t, err)
	other, err := svc.CreateStep(ctx, CreateStepInput{ChainID: c.ID, Message: "Other", IsFirstStepOfChain: true})
	require.NoError(t, err)

	btn, err := svc.CreateButton(ctx, CreateButtonInput{StepID: *c.FirstStepID, Text: "Go", NextStepID: &other.ID})
	require.NoError(t, err)

	_, err = svc.SetNextStepForButton(ctx, btn.ID, btn.StepID)
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	got, _ := st.GetButton(ctx, btn.ID)
	require.Equal(t, other.ID, *got.NextStepID, "next step must be unchanged")

	self := btn.StepID
	_, err = svc.UpdateButton(ctx, btn.ID, UpdateButtonInput{NextStepID: &self})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.CreateButton(ctx, CreateButtonInput{StepID: self, Text: "Loop", NextStepID: &self})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestButtonTargetsStayInChain(t *testing.T) {
	ctx := context.Background()
	svc, st, _, bot := setup(t)
	otherBot := store.Bot{Token: "200:tok", SecretToken: "other", IsActive: true}
	require.NoError(t, st.CreateBot(ctx, &otherBot))

	mine, err := svc.CreateChain(ctx, CreateChainInput{BotID: bot.ID, Name: "mine"})
	require.NoError(t, err)
	foreign, err := svc.CreateChain(ctx, CreateChainInput{BotID: otherBot.ID, Name: "foreign"})
	require.NoError(t, err)
	target := *foreign.FirstStepID

	_, err = svc.CreateButton(ctx, CreateButtonInput{StepID: *mine.FirstStepID, Text: "Jump", NextStepID: &target})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	btn, err := svc.CreateButton(ctx, CreateButtonInput{StepID: *mine.FirstStepID, Text: "Stay"})
	require.NoError(t, err)
	_, err = svc.SetNextStepForButton(ctx, btn.ID, target)
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.UpdateButton(ctx, btn.ID, UpdateButtonInput{NextStepID: &target})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	got, _ := st.GetButton(ctx, btn.ID)
	require.Nil(t, got.NextStepID, "rejected links leave the button unchanged")

	missing := target + 1000
	_, err = svc.SetNextStepForButton(ctx, btn.ID, missing)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.CreateButton(ctx, CreateButtonInput{StepID: missing, Text: "Orphan"})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteChainOrphansSessions(t *testing.T) {
	ctx := context.Background()
	svc, st, _, bot := setup(t)
	c, err := svc.CreateChain(ctx, CreateChainInput{BotID: bot.ID, Name: "survey"})
	require.NoError(t, err)
	btn, err := svc.CreateButton(ctx, CreateButtonInput{StepID: *c.FirstStepID, Text: "Yes"})
	require.NoError(t, err)
	sess := store.Session{UserID: 7, BotID: bot.ID, ChainID: &c.ID, StepID: c.FirstStepID}
	require.NoError(t, st.CreateSession(ctx, &sess))

	require.NoError(t, svc.DeleteChain(ctx, c.ID))

	_, err = svc.GetStep(ctx, *c.FirstStepID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.GetButton(ctx, btn.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Nil(t, got.ChainID)
	require.Nil(t, got.StepID)
}

func TestDetailMarksCycles(t *testing.T) {
	ctx := context.Background()
	svc, _, _, bot := setup(t)
	c, err := svc.CreateChain(ctx, CreateChainInput{BotID: bot.ID, Name: "loop"})
	require.NoError(t, err)
	first := *c.FirstStepID

	toSecond, err := svc.CreateButton(ctx, CreateButtonInput{StepID: first, Text: "Next"})
	require.NoError(t, err)
	second, err := svc.CreateStep(ctx, CreateStepInput{ChainID: c.ID, Name: "S2", Message: "Second", SetAsNextStepForButtonID: &toSecond.ID})
	require.NoError(t, err)
	_, err = svc.CreateButton(ctx, CreateButtonInput{StepID: second.ID, Text: "Again", NextStepID: &first})
	require.NoError(t, err)

	tree, err := svc.Detail(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, first, tree.FirstStep.ID)
	s2 := tree.FirstStep.Buttons[0].NextStep
	require.Equal(t, second.ID, s2.ID)
	back := s2.Buttons[0].NextStep
	require.True(t, back.Ref)
	require.Equal(t, first, back.ID)

	raw, err := json.Marshal(back)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":`+itoa(first)+`,"name":"First step","ref":true}`, string(raw))
}

func TestResultsPagination(t *testing.T) {
	ctx := context.Background()
	svc, st, tg, bot := setup(t)
	c, err := svc.CreateChain(ctx, CreateChainInput{BotID: bot.ID, Name: "survey"})
	require.NoError(t, err)

	for uid := int64(1); uid <= 3; uid++ {
		s := store.Session{UserID: uid, BotID: bot.ID, ChainID: &c.ID, StepID: c.FirstStepID}
		s.Result.Set("Start of chain", "answer")
		require.NoError(t, st.CreateSession(ctx, &s))
	}
	sub := store.Subscriber{BotID: bot.ID, UserID: 2, FirstName: "Stored"}
	require.NoError(t, st.UpsertSubscriber(ctx, &sub))
	tg.Chats[3] = &tele.Chat{ID: 3, FirstName: "Live", Username: "live_user"}
	tg.Photos[3] = "photo-file-id"

	_, err = svc.Results(ctx, c.ID, 0, 10)
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.Results(ctx, c.ID, 1, 101)
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	res, err := svc.Results(ctx, c.ID, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	require.Equal(t, 1, res.TotalPages)
	require.Len(t, res.Items, 3)

	byUser := map[int64]ResultItem{}
	for _, it := range res.Items {
		byUser[it.UserID] = it
	}
	require.Equal(t, "Unknown", byUser[1].FirstName)
	require.Equal(t, "Stored", byUser[2].FirstName)
	require.Equal(t, "Live", byUser[3].FirstName)
	require.Equal(t, "live_user", *byUser[3].Username)
	require.Equal(t, "photo-file-id", *byUser[3].Photo)
	v, _ := byUser[1].Answers.Get("Start of chain")
	require.Equal(t, "answer", v)

	page2, err := svc.Results(ctx, c.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2.Items, 1)
	require.Equal(t, 2, page2.TotalPages)
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
