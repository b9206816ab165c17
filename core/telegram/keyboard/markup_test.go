package keyboard

import (
	"testing"

	"github.com/m3rciful/questbot/quest"
)

func TestToMarkupNil(t *testing.T) {
	if m := ToMarkup(nil); m != nil {
		t.Fatalf("expected nil markup, got %+v", m)
	}
}

func TestToMarkupHide(t *testing.T) {
	m := ToMarkup(quest.HideKeyboard())
	if m == nil || !m.RemoveKeyboard {
		t.Fatalf("expected remove directive, got %+v", m)
	}
	if len(m.ReplyKeyboard) != 0 {
		t.Fatalf("hide markup must carry no rows, got %+v", m.ReplyKeyboard)
	}
}

func TestToMarkupRows(t *testing.T) {
	m := ToMarkup(&quest.Keyboard{
		Rows:    [][]string{{"A", "B"}, {"C"}, {}},
		OneTime: true,
		Resize:  true,
	})
	if m == nil {
		t.Fatal("expected markup")
	}
	if !m.OneTimeKeyboard || !m.ResizeKeyboard {
		t.Fatalf("flags lost: %+v", m)
	}
	if len(m.ReplyKeyboard) != 2 {
		t.Fatalf("empty rows must be dropped, got %d rows", len(m.ReplyKeyboard))
	}
	if m.ReplyKeyboard[0][0].Text != "A" || m.ReplyKeyboard[1][0].Text != "C" {
		t.Fatalf("labels mangled: %+v", m.ReplyKeyboard)
	}
}
