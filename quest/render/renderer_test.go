package render

import (
	"strings"
	"testing"
	"text/template"

	"github.com/m3rciful/questbot/quest"
)

func TestRenderExpandsTextAndKeyboard(t *testing.T) {
	r := New(nil)
	resp := quest.Response{
		ID:       1,
		Text:     "Hello {{.sender.first_name}}!",
		Keyboard: "- [\"{{.chat.title}} menu\", \"Back\"]",
	}
	data := Context(
		quest.User{ID: 1, FirstName: "Ada"},
		quest.Chat{ID: 2, Title: "Lab"},
	)

	out, err := r.Render(resp, data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.Text != "Hello Ada!" {
		t.Fatalf("text = %q", out.Text)
	}
	if len(out.Rows) != 1 || len(out.Rows[0]) != 2 || out.Rows[0][0] != "Lab menu" {
		t.Fatalf("rows = %+v", out.Rows)
	}
}

func TestRenderEmptyTemplatesYieldEmptyOutput(t *testing.T) {
	r := New(nil)
	out, err := r.Render(quest.Response{ID: 1}, Context(quest.User{}, quest.Chat{}))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.Text != "" || out.Rows != nil {
		t.Fatalf("expected empty render, got %+v", out)
	}
}

func TestRenderMissingKeyFails(t *testing.T) {
	r := New(nil)
	_, err := r.Render(quest.Response{ID: 1, Text: "{{.no_such_var}}"}, Context(quest.User{}, quest.Chat{}))
	if err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestRenderBrokenKeyboardLayoutFails(t *testing.T) {
	r := New(nil)
	resp := quest.Response{ID: 1, Keyboard: "not: [a: list"}
	if _, err := r.Render(resp, Context(quest.User{}, quest.Chat{})); err == nil {
		t.Fatal("expected layout parse error")
	}
}

func TestRenderCustomFuncs(t *testing.T) {
	r := New(template.FuncMap{"upper": strings.ToUpper})
	out, err := r.Render(
		quest.Response{ID: 1, Text: "{{upper .sender.username}}"},
		Context(quest.User{Username: "ada"}, quest.Chat{}),
	)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.Text != "ADA" {
		t.Fatalf("text = %q", out.Text)
	}
}

func TestContextMergesChatVariables(t *testing.T) {
	data := Context(
		quest.User{ID: 1, Username: "ada"},
		quest.Chat{ID: 2, TemplateContext: quest.Vars{"score": 42, "chat": "overridden"}},
	)
	if data["score"] != 42 {
		t.Fatalf("expected merged variable, got %v", data["score"])
	}
	// quest variables may shadow the built-in submaps
	if data["chat"] != "overridden" {
		t.Fatalf("expected chat override, got %v", data["chat"])
	}
	sender, ok := data["sender"].(map[string]any)
	if !ok || sender["username"] != "ada" {
		t.Fatalf("sender submap corrupted: %v", data["sender"])
	}
}
