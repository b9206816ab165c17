package render

import (
	"context"
	"testing"

	"github.com/m3rciful/questbot/quest"
	"github.com/m3rciful/questbot/storage/memory"
)

func seedChat(t *testing.T, chats *memory.Chats, chat quest.Chat) quest.Chat {
	t.Helper()
	stored, err := chats.GetOrCreate(context.Background(), chat)
	if err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	return stored
}

func TestApplyKeyboardPlainLayout(t *testing.T) {
	chats := memory.NewChats()
	chat := seedChat(t, chats, quest.Chat{ID: 1})
	rows := [][]string{{"A", "B"}}

	kb, err := ApplyKeyboard(context.Background(), chats, chat, quest.Response{OneTimeKeyboard: true}, rows)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if kb == nil || !kb.OneTime || !kb.Resize || len(kb.Rows) != 1 {
		t.Fatalf("unexpected keyboard: %+v", kb)
	}

	stored, _ := chats.Get(context.Background(), 1)
	if stored.CurrentKeyboard == nil || stored.DefaultKeyboard != nil {
		t.Fatalf("expected only current keyboard persisted: %+v", stored)
	}
}

func TestApplyKeyboardNoRowsNoKeyboard(t *testing.T) {
	chats := memory.NewChats()
	chat := seedChat(t, chats, quest.Chat{ID: 1})

	kb, err := ApplyKeyboard(context.Background(), chats, chat, quest.Response{}, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if kb != nil {
		t.Fatalf("expected no keyboard, got %+v", kb)
	}
}

func TestApplyKeyboardInheritUsesDefaultRows(t *testing.T) {
	chats := memory.NewChats()
	def := &quest.Keyboard{Rows: [][]string{{"Home"}}, Resize: true}
	chat := seedChat(t, chats, quest.Chat{ID: 1, DefaultKeyboard: def})

	kb, err := ApplyKeyboard(context.Background(), chats, chat,
		quest.Response{InheritKeyboard: true, OneTimeKeyboard: true},
		[][]string{{"Ignored"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(kb.Rows) != 1 || kb.Rows[0][0] != "Home" {
		t.Fatalf("expected inherited rows, got %+v", kb.Rows)
	}
	// one_time comes from the response, not the stored default
	if !kb.OneTime {
		t.Fatal("expected one_time from the response flags")
	}
}

func TestApplyKeyboardInheritWithoutDefaultKeepsRenderedRows(t *testing.T) {
	chats := memory.NewChats()
	chat := seedChat(t, chats, quest.Chat{ID: 1})

	kb, err := ApplyKeyboard(context.Background(), chats, chat,
		quest.Response{InheritKeyboard: true}, [][]string{{"Fallback"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(kb.Rows) != 1 || kb.Rows[0][0] != "Fallback" {
		t.Fatalf("expected rendered rows, got %+v", kb.Rows)
	}
}

func TestApplyKeyboardSetDefaultPersists(t *testing.T) {
	chats := memory.NewChats()
	chat := seedChat(t, chats, quest.Chat{ID: 1})

	_, err := ApplyKeyboard(context.Background(), chats, chat,
		quest.Response{SetDefaultKeyboard: true}, [][]string{{"Menu"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	stored, _ := chats.Get(context.Background(), 1)
	if stored.DefaultKeyboard == nil || stored.DefaultKeyboard.Rows[0][0] != "Menu" {
		t.Fatalf("expected default keyboard persisted: %+v", stored.DefaultKeyboard)
	}
}

func TestApplyKeyboardDeletePreviousWins(t *testing.T) {
	chats := memory.NewChats()
	current := &quest.Keyboard{Rows: [][]string{{"Old"}}}
	chat := seedChat(t, chats, quest.Chat{ID: 1, CurrentKeyboard: current})

	kb, err := ApplyKeyboard(context.Background(), chats, chat,
		quest.Response{DeletePreviousKeyboard: true}, [][]string{{"New"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if kb == nil || !kb.Hide {
		t.Fatalf("expected hide directive, got %+v", kb)
	}

	stored, _ := chats.Get(context.Background(), 1)
	if stored.CurrentKeyboard != nil {
		t.Fatalf("expected current keyboard cleared, got %+v", stored.CurrentKeyboard)
	}
}

func TestApplyKeyboardDeleteAndSetDefaultStillPersistsDefault(t *testing.T) {
	chats := memory.NewChats()
	chat := seedChat(t, chats, quest.Chat{ID: 1})

	kb, err := ApplyKeyboard(context.Background(), chats, chat,
		quest.Response{DeletePreviousKeyboard: true, SetDefaultKeyboard: true},
		[][]string{{"Menu"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !kb.Hide {
		t.Fatalf("delete flag must win on the outbound keyboard, got %+v", kb)
	}

	stored, _ := chats.Get(context.Background(), 1)
	if stored.DefaultKeyboard == nil || stored.DefaultKeyboard.Rows[0][0] != "Menu" {
		t.Fatalf("expected new default persisted, got %+v", stored.DefaultKeyboard)
	}
	if stored.CurrentKeyboard != nil {
		t.Fatalf("expected current cleared, got %+v", stored.CurrentKeyboard)
	}
}
