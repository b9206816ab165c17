// Package memory provides in-memory store implementations used by tests and
// local development.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/questbot/quest"
	"github.com/m3rciful/questbot/storage"
)

// Graph is a static in-memory quest graph.
type Graph struct {
	mu     sync.RWMutex
	quests map[int64]quest.Quest // keyed by bot id
	steps  map[int64]quest.Step
}

// NewGraph creates an empty graph store.
func NewGraph() *Graph {
	return &Graph{
		quests: make(map[int64]quest.Quest),
		steps:  make(map[int64]quest.Step),
	}
}

// PutQuest registers a quest for its owning bot.
func (g *Graph) PutQuest(q quest.Quest) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quests[q.BotID] = q
}

// PutStep registers a step, replacing any previous one with the same id.
func (g *Graph) PutStep(s quest.Step) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.steps[s.ID] = s
}

// DeleteStep removes a step, simulating an out-of-band graph edit.
func (g *Graph) DeleteStep(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.steps, id)
}

// QuestByBot implements storage.GraphStore.
func (g *Graph) QuestByBot(_ context.Context, botID int64) (quest.Quest, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	q, ok := g.quests[botID]
	if !ok {
		return quest.Quest{}, storage.ErrNotFound
	}
	return q, nil
}

// Step implements storage.GraphStore.
func (g *Graph) Step(_ context.Context, stepID int64) (quest.Step, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.steps[stepID]
	if !ok {
		return quest.Step{}, storage.ErrNotFound
	}
	return s, nil
}

// Sessions is an in-memory session store with conditional advance semantics.
type Sessions struct {
	mu     sync.Mutex
	active map[int64]quest.Session
	clock  func() time.Time
}

// NewSessions creates an empty session store.
func NewSessions() *Sessions {
	return &Sessions{
		active: make(map[int64]quest.Session),
		clock:  time.Now,
	}
}

// GetOrCreate implements storage.SessionStore.
func (s *Sessions) GetOrCreate(_ context.Context, userID int64, at time.Time) (quest.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.active[userID]; ok {
		return sess, nil
	}
	sess := quest.Session{
		ID:       uuid.New(),
		UserID:   userID,
		Active:   true,
		Created:  at,
		Modified: at,
	}
	s.active[userID] = sess
	return sess, nil
}

// Advance implements storage.SessionStore. The write succeeds only when the
// stored session still carries the caller's Modified timestamp.
func (s *Sessions) Advance(_ context.Context, sess quest.Session, stepID int64) (quest.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.active[sess.UserID]
	if !ok || stored.ID != sess.ID {
		return quest.Session{}, storage.ErrNotFound
	}
	if !stored.Modified.Equal(sess.Modified) {
		return quest.Session{}, storage.ErrConflict
	}
	stored.StepID = &stepID
	stored.Modified = s.clock()
	if stored.Modified.Equal(sess.Modified) {
		// guarantee monotonic modified stamps even with a coarse clock
		stored.Modified = sess.Modified.Add(time.Nanosecond)
	}
	s.active[sess.UserID] = stored
	return stored, nil
}

// CurrentStepID implements storage.SessionStore.
func (s *Sessions) CurrentStepID(_ context.Context, userID int64) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.active[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return sess.StepID, nil
}

// Chats is an in-memory chat store.
type Chats struct {
	mu    sync.Mutex
	chats map[int64]quest.Chat
}

// NewChats creates an empty chat store.
func NewChats() *Chats {
	return &Chats{chats: make(map[int64]quest.Chat)}
}

// Get implements storage.ChatStore.
func (c *Chats) Get(_ context.Context, chatID int64) (quest.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chat, ok := c.chats[chatID]
	if !ok {
		return quest.Chat{}, storage.ErrNotFound
	}
	return chat, nil
}

// GetOrCreate implements storage.ChatStore.
func (c *Chats) GetOrCreate(_ context.Context, chat quest.Chat) (quest.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stored, ok := c.chats[chat.ID]; ok {
		return stored, nil
	}
	c.chats[chat.ID] = chat
	return chat, nil
}

// ByUsername implements storage.ChatStore.
func (c *Chats) ByUsername(_ context.Context, username string) (quest.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chat := range c.chats {
		if strings.EqualFold(chat.Username, username) {
			return chat, nil
		}
	}
	return quest.Chat{}, storage.ErrNotFound
}

// SaveKeyboards implements storage.ChatStore.
func (c *Chats) SaveKeyboards(_ context.Context, chatID int64, def, current *quest.Keyboard) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	chat, ok := c.chats[chatID]
	if !ok {
		return storage.ErrNotFound
	}
	chat.DefaultKeyboard = def
	chat.CurrentKeyboard = current
	c.chats[chatID] = chat
	return nil
}
