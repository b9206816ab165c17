package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/questbot/quest"
	"github.com/m3rciful/questbot/storage"
)

// Sessions persists per-user sessions. A partial unique index keeps at most
// one active session per user; historical sessions stay in the table with
// active = false.
type Sessions struct {
	db *sqlx.DB
}

// NewSessions wraps a database handle as a SessionStore.
func NewSessions(db *sqlx.DB) *Sessions {
	return &Sessions{db: db}
}

// GetOrCreate returns the user's active session, creating it on first contact.
func (s *Sessions) GetOrCreate(ctx context.Context, userID int64, at time.Time) (quest.Session, error) {
	sess, err := s.activeSession(ctx, userID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return quest.Session{}, err
	}

	created := quest.Session{
		ID:       uuid.New(),
		UserID:   userID,
		Active:   true,
		Created:  at,
		Modified: at,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, step_id, active, created, modified)
		VALUES ($1, $2, NULL, TRUE, $3, $3)`,
		created.ID, userID, at)
	if err != nil {
		// Lost the insert race: another dispatch created the active session.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return s.activeSession(ctx, userID)
		}
		return quest.Session{}, fmt.Errorf("create session for user %d: %w", userID, err)
	}
	return created, nil
}

// Advance moves the session pointer, conditional on the Modified stamp the
// caller read. Zero rows updated means the session changed underneath us.
func (s *Sessions) Advance(ctx context.Context, sess quest.Session, stepID int64) (quest.Session, error) {
	var updated quest.Session
	err := s.db.GetContext(ctx, &updated, `
		UPDATE sessions
		SET step_id = $1, modified = NOW()
		WHERE id = $2 AND modified = $3 AND active
		RETURNING id, user_id, step_id, active, created, modified`,
		stepID, sess.ID, sess.Modified)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a lost conditional write from a vanished session.
		if _, lookupErr := s.activeSession(ctx, sess.UserID); lookupErr != nil {
			return quest.Session{}, lookupErr
		}
		return quest.Session{}, storage.ErrConflict
	}
	if err != nil {
		return quest.Session{}, fmt.Errorf("advance session %s: %w", sess.ID, err)
	}
	return updated, nil
}

// CurrentStepID returns the active session's step pointer.
func (s *Sessions) CurrentStepID(ctx context.Context, userID int64) (*int64, error) {
	sess, err := s.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	return sess.StepID, nil
}

func (s *Sessions) activeSession(ctx context.Context, userID int64) (quest.Session, error) {
	var sess quest.Session
	err := s.db.GetContext(ctx, &sess, `
		SELECT id, user_id, step_id, active, created, modified
		FROM sessions
		WHERE user_id = $1 AND active`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return quest.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return quest.Session{}, fmt.Errorf("active session of user %d: %w", userID, err)
	}
	return sess, nil
}
