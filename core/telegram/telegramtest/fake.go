// Package telegramtest provides an in-memory telegram.Client for tests.
package telegramtest

import (
	"context"
	"errors"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/chainbot/core/telegram"
)

// Sent is one recorded sendMessage call.
type Sent struct {
	Token   string
	ChatID  int64
	Text    string
	ReplyTo int64
	Markup  *tele.ReplyMarkup
}

// Edit is one recorded keyboard removal.
type Edit struct {
	ChatID    int64
	MessageID int64
}

// Fake records calls made through the clients it creates. Error fields inject failures.
type Fake struct {
	mu sync.Mutex

	Me        map[string]*tele.User
	Chats     map[int64]*tele.Chat
	Photos    map[int64]string
	Webhooks  map[string]string
	Secrets   map[string]string
	Messages  []Sent
	Edits     []Edit
	Answered  []string
	Removed   []string
	nextMsgID int64

	GetMeErr      error
	SetWebhookErr error
	SendErr       func(chatID int64) error
	EditErr       error
	AnswerErr     error
}

var _ telegram.Factory = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		Me:       map[string]*tele.User{},
		Chats:    map[int64]*tele.Chat{},
		Photos:   map[int64]string{},
		Webhooks: map[string]string{},
		Secrets:  map[string]string{},
	}
}

// New implements telegram.Factory.
func (f *Fake) New(token string) (telegram.Client, error) {
	if token == "" {
		return nil, errors.New("telegramtest: empty token")
	}
	return &client{f: f, token: token}, nil
}

// SentTexts returns the text of every sent message in order.
func (f *Fake) SentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Messages))
	for _, m := range f.Messages {
		out = append(out, m.Text)
	}
	return out
}

// LastSent returns the most recent message, or the zero value.
func (f *Fake) LastSent() Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Messages) == 0 {
		return Sent{}
	}
	return f.Messages[len(f.Messages)-1]
}

// SentCount returns the number of sent messages.
func (f *Fake) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Messages)
}

type client struct {
	f     *Fake
	token string
}

func (c *client) GetMe(_ context.Context) (*tele.User, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if c.f.GetMeErr != nil {
		return nil, c.f.GetMeErr
	}
	if u, ok := c.f.Me[c.token]; ok {
		return u, nil
	}
	return &tele.User{ID: 1, Username: "test_bot", FirstName: "Test", IsBot: true}, nil
}

func (c *client) SetWebhook(_ context.Context, url, secret string) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if c.f.SetWebhookErr != nil {
		return c.f.SetWebhookErr
	}
	c.f.Webhooks[c.token] = url
	c.f.Secrets[c.token] = secret
	return nil
}

func (c *client) DeleteWebhook(_ context.Context) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	delete(c.f.Webhooks, c.token)
	c.f.Removed = append(c.f.Removed, c.token)
	return nil
}

func (c *client) SendMessage(_ context.Context, chatID int64, text string, opts telegram.SendOptions) (int64, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if c.f.SendErr != nil {
		if err := c.f.SendErr(chatID); err != nil {
			return 0, err
		}
	}
	c.f.nextMsgID++
	c.f.Messages = append(c.f.Messages, Sent{
		Token: c.token, ChatID: chatID, Text: text, ReplyTo: opts.ReplyTo, Markup: opts.Markup,
	})
	return c.f.nextMsgID, nil
}

func (c *client) RemoveInlineKeyboard(_ context.Context, chatID, messageID int64) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.f.Edits = append(c.f.Edits, Edit{ChatID: chatID, MessageID: messageID})
	return c.f.EditErr
}

func (c *client) AnswerCallback(_ context.Context, callbackID string) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.f.Answered = append(c.f.Answered, callbackID)
	return c.f.AnswerErr
}

func (c *client) GetChat(_ context.Context, chatID int64) (*tele.Chat, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if chat, ok := c.f.Chats[chatID]; ok {
		return chat, nil
	}
	return nil, &tele.Error{Code: 400, Description: "Bad Request: chat not found"}
}

func (c *client) ProfilePhoto(_ context.Context, userID int64) (string, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return c.f.Photos[userID], nil
}
