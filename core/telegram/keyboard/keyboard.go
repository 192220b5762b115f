// Package keyboard builds reply and inline markups.
package keyboard

import tele "gopkg.in/telebot.v4"

// InlineBtn is an inline button carrying raw callback data.
type InlineBtn struct {
	Text string
	Data string
}

// Menu builds a persistent resize reply keyboard, one button per row.
// A non-empty footer is appended as the last row.
func Menu(labels []string, footer string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true}
	rows := make([]tele.Row, 0, len(labels)+1)
	for _, label := range labels {
		rows = append(rows, markup.Row(markup.Text(label)))
	}
	if footer != "" {
		rows = append(rows, markup.Row(markup.Text(footer)))
	}
	markup.Reply(rows...)
	return markup
}

// Inline builds an inline keyboard with one button per row. Data is sent verbatim,
// without telebot's unique-prefix encoding. No buttons yields an empty markup.
func Inline(buttons []InlineBtn) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	if len(buttons) == 0 {
		return markup
	}
	rows := make([][]tele.InlineButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []tele.InlineButton{{Text: b.Text, Data: b.Data}})
	}
	markup.InlineKeyboard = rows
	return markup
}
