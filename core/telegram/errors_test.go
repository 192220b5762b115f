package telegram

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"
)

func TestIsBenign(t *testing.T) {
	assert.True(t, IsBenign(errors.New("telegram: Bad Request: message is not modified (400)")))
	assert.True(t, IsBenign(fmt.Errorf("edit: %w", errors.New("Bad Request: MESSAGE TO EDIT NOT FOUND"))))
	assert.True(t, IsBenign(errors.New("Bad Request: query is too old and response timeout expired")))
	assert.False(t, IsBenign(errors.New("Forbidden: bot was blocked by the user")))
	assert.False(t, IsBenign(nil))
}

func TestRedact(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:AA-bb_cc/sendMessage": timeout`)
	got := Redact(err)
	assert.NotContains(t, got, "123456:AA-bb_cc")
	assert.Contains(t, got, "bot<redacted>/sendMessage")
}

func TestStatusFromError(t *testing.T) {
	assert.Equal(t, 403, StatusFromError(&tele.Error{Code: 403, Description: "Forbidden"}))
	assert.Equal(t, 400, StatusFromError(errors.New("telegram: chat not found (400)")))
	assert.Equal(t, 0, StatusFromError(errors.New("boom")))
	assert.Equal(t, "http_4xx", Classify(&tele.Error{Code: 403, Description: "Forbidden"}))
	assert.Equal(t, "benign", Classify(errors.New("message is not modified")))
}
