package keyboard

import "testing"

func TestMenuFooter(t *testing.T) {
	m := Menu([]string{"Survey", "Help"}, "Back")
	if !m.ResizeKeyboard {
		t.Fatalf("menu should resize")
	}
	if len(m.ReplyKeyboard) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(m.ReplyKeyboard))
	}
	if got := m.ReplyKeyboard[2][0].Text; got != "Back" {
		t.Fatalf("footer should be last, got %q", got)
	}

	if m := Menu([]string{"Only"}, ""); len(m.ReplyKeyboard) != 1 {
		t.Fatalf("empty footer must be skipped, got %d rows", len(m.ReplyKeyboard))
	}
}

func TestInlineOnePerRow(t *testing.T) {
	m := Inline([]InlineBtn{{Text: "Yes", Data: "a.b.c"}, {Text: "No", Data: "d.e.f"}})
	if len(m.InlineKeyboard) != 2 || len(m.InlineKeyboard[0]) != 1 {
		t.Fatalf("unexpected layout %+v", m.InlineKeyboard)
	}
	if m.InlineKeyboard[1][0].Data != "d.e.f" {
		t.Fatalf("data must be verbatim, got %q", m.InlineKeyboard[1][0].Data)
	}
	if empty := Inline(nil); len(empty.InlineKeyboard) != 0 {
		t.Fatalf("expected empty markup")
	}
}
