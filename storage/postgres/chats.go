package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/questbot/quest"
	"github.com/m3rciful/questbot/storage"
)

// Chats persists chat records and their keyboard state.
type Chats struct {
	db *sqlx.DB
}

// NewChats wraps a database handle as a ChatStore.
func NewChats(db *sqlx.DB) *Chats {
	return &Chats{db: db}
}

// chatRow carries keyboard columns as raw JSON so NULL maps to a nil
// keyboard rather than an empty one.
type chatRow struct {
	ID              int64      `db:"id"`
	Type            string     `db:"type"`
	Title           string     `db:"title"`
	Username        string     `db:"username"`
	FirstName       string     `db:"first_name"`
	LastName        string     `db:"last_name"`
	DefaultKeyboard []byte     `db:"default_keyboard"`
	CurrentKeyboard []byte     `db:"current_keyboard"`
	TemplateContext quest.Vars `db:"template_context"`
}

func (r chatRow) toChat() (quest.Chat, error) {
	chat := quest.Chat{
		ID:              r.ID,
		Type:            r.Type,
		Title:           r.Title,
		Username:        r.Username,
		FirstName:       r.FirstName,
		LastName:        r.LastName,
		TemplateContext: r.TemplateContext,
	}
	if len(r.DefaultKeyboard) > 0 {
		kb := new(quest.Keyboard)
		if err := json.Unmarshal(r.DefaultKeyboard, kb); err != nil {
			return quest.Chat{}, fmt.Errorf("chat %d default keyboard: %w", r.ID, err)
		}
		chat.DefaultKeyboard = kb
	}
	if len(r.CurrentKeyboard) > 0 {
		kb := new(quest.Keyboard)
		if err := json.Unmarshal(r.CurrentKeyboard, kb); err != nil {
			return quest.Chat{}, fmt.Errorf("chat %d current keyboard: %w", r.ID, err)
		}
		chat.CurrentKeyboard = kb
	}
	return chat, nil
}

const chatColumns = `id, type, title, username, first_name, last_name,
	default_keyboard, current_keyboard, template_context`

// Get returns the chat with the given id.
func (c *Chats) Get(ctx context.Context, chatID int64) (quest.Chat, error) {
	var row chatRow
	err := c.db.GetContext(ctx, &row, `
		SELECT `+chatColumns+`
		FROM chats
		WHERE id = $1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return quest.Chat{}, storage.ErrNotFound
	}
	if err != nil {
		return quest.Chat{}, fmt.Errorf("chat %d: %w", chatID, err)
	}
	return row.toChat()
}

// GetOrCreate upserts the chat. Identity fields refresh on every contact;
// keyboard state and template context are never touched here.
func (c *Chats) GetOrCreate(ctx context.Context, chat quest.Chat) (quest.Chat, error) {
	var row chatRow
	err := c.db.GetContext(ctx, &row, `
		INSERT INTO chats (id, type, title, username, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			title = EXCLUDED.title,
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name
		RETURNING `+chatColumns,
		chat.ID, chat.Type, chat.Title, chat.Username, chat.FirstName, chat.LastName)
	if err != nil {
		return quest.Chat{}, fmt.Errorf("upsert chat %d: %w", chat.ID, err)
	}
	return row.toChat()
}

// ByUsername resolves a chat by username, case-insensitive exact match.
func (c *Chats) ByUsername(ctx context.Context, username string) (quest.Chat, error) {
	var row chatRow
	err := c.db.GetContext(ctx, &row, `
		SELECT `+chatColumns+`
		FROM chats
		WHERE LOWER(username) = LOWER($1)`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return quest.Chat{}, storage.ErrNotFound
	}
	if err != nil {
		return quest.Chat{}, fmt.Errorf("chat by username %q: %w", username, err)
	}
	return row.toChat()
}

// SaveKeyboards persists both keyboard fields in one statement.
func (c *Chats) SaveKeyboards(ctx context.Context, chatID int64, def, current *quest.Keyboard) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE chats
		SET default_keyboard = $2, current_keyboard = $3
		WHERE id = $1`,
		chatID, def, current)
	if err != nil {
		return fmt.Errorf("save keyboards of chat %d: %w", chatID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
