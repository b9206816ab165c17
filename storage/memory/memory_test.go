package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m3rciful/questbot/quest"
	"github.com/m3rciful/questbot/storage"
)

func TestSessionsGetOrCreateIsStable(t *testing.T) {
	s := NewSessions()
	ctx := context.Background()
	at := time.Now()

	first, err := s.GetOrCreate(ctx, 1, at)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := s.GetOrCreate(ctx, 1, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same session, got %s and %s", first.ID, second.ID)
	}
	if second.StepID != nil {
		t.Fatalf("fresh session must have no step, got %v", second.StepID)
	}
}

func TestSessionsAdvanceDetectsStaleWrite(t *testing.T) {
	s := NewSessions()
	ctx := context.Background()

	sess, err := s.GetOrCreate(ctx, 1, time.Now())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	advanced, err := s.Advance(ctx, sess, 10)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if advanced.StepID == nil || *advanced.StepID != 10 {
		t.Fatalf("expected step 10, got %v", advanced.StepID)
	}
	if !advanced.Modified.After(sess.Modified) {
		t.Fatal("modified stamp must move forward")
	}

	// writing with the stale snapshot must conflict
	if _, err := s.Advance(ctx, sess, 11); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// the fresh snapshot still works
	if _, err := s.Advance(ctx, advanced, 11); err != nil {
		t.Fatalf("advance with fresh snapshot: %v", err)
	}
}

func TestSessionsAdvanceUnknownSession(t *testing.T) {
	s := NewSessions()
	sess := quest.Session{UserID: 42}
	if _, err := s.Advance(context.Background(), sess, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChatsByUsernameIsCaseInsensitive(t *testing.T) {
	c := NewChats()
	ctx := context.Background()
	if _, err := c.GetOrCreate(ctx, quest.Chat{ID: 1, Username: "Operator"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	chat, err := c.ByUsername(ctx, "oPeRaToR")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if chat.ID != 1 {
		t.Fatalf("wrong chat: %+v", chat)
	}

	if _, err := c.ByUsername(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChatsSaveKeyboards(t *testing.T) {
	c := NewChats()
	ctx := context.Background()
	if _, err := c.GetOrCreate(ctx, quest.Chat{ID: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	def := &quest.Keyboard{Rows: [][]string{{"Menu"}}}
	if err := c.SaveKeyboards(ctx, 1, def, nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	chat, err := c.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if chat.DefaultKeyboard == nil || chat.CurrentKeyboard != nil {
		t.Fatalf("keyboard state mismatch: %+v", chat)
	}

	if err := c.SaveKeyboards(ctx, 404, nil, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
