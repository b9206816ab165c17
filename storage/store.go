// Package storage declares the read/write contracts the quest engine needs
// from a durable keyed store. Implementations live in the postgres and
// memory subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/m3rciful/questbot/quest"
)

var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict reports a lost conditional update: the record changed
	// between read and write.
	ErrConflict = errors.New("storage: concurrent modification")
)

// GraphStore provides read-only access to the quest graph. The graph is
// immutable for the duration of one dispatch; edits happen out of band.
type GraphStore interface {
	// QuestByBot returns the quest owned by the given bot.
	QuestByBot(ctx context.Context, botID int64) (quest.Quest, error)
	// Step returns the step with its handlers, conditions, and responses,
	// each in declared order.
	Step(ctx context.Context, stepID int64) (quest.Step, error)
}

// SessionStore owns per-user sessions. Advance is the only mutation path for
// the step pointer; it is conditional on the session's Modified timestamp and
// returns ErrConflict when the stored session moved underneath the caller.
type SessionStore interface {
	GetOrCreate(ctx context.Context, userID int64, at time.Time) (quest.Session, error)
	Advance(ctx context.Context, s quest.Session, stepID int64) (quest.Session, error)
	CurrentStepID(ctx context.Context, userID int64) (*int64, error)
}

// ChatStore owns chat records and their keyboard state. Keyboard fields are
// written only by the response renderer through SaveKeyboards.
type ChatStore interface {
	Get(ctx context.Context, chatID int64) (quest.Chat, error)
	GetOrCreate(ctx context.Context, c quest.Chat) (quest.Chat, error)
	// ByUsername resolves a chat by username, case-insensitive exact match.
	ByUsername(ctx context.Context, username string) (quest.Chat, error)
	// SaveKeyboards persists both keyboard fields in one write.
	SaveKeyboards(ctx context.Context, chatID int64, def, current *quest.Keyboard) error
}
