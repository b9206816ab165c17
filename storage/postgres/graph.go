// Package postgres implements the storage contracts on top of PostgreSQL
// via sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/questbot/quest"
	"github.com/m3rciful/questbot/storage"
)

// Graph reads the quest graph. Rows are returned in declared order: steps
// carry handlers by id, handlers carry conditions and responses by id.
type Graph struct {
	db *sqlx.DB
}

// NewGraph wraps a database handle as a GraphStore.
func NewGraph(db *sqlx.DB) *Graph {
	return &Graph{db: db}
}

// QuestByBot returns the quest owned by the given bot.
func (g *Graph) QuestByBot(ctx context.Context, botID int64) (quest.Quest, error) {
	var q quest.Quest
	err := g.db.GetContext(ctx, &q, `
		SELECT id, bot_id, name, initial_step_id
		FROM quests
		WHERE bot_id = $1`, botID)
	if errors.Is(err, sql.ErrNoRows) {
		return quest.Quest{}, storage.ErrNotFound
	}
	if err != nil {
		return quest.Quest{}, fmt.Errorf("quest by bot %d: %w", botID, err)
	}
	return q, nil
}

// Step loads one step with its full handler tree.
func (g *Graph) Step(ctx context.Context, stepID int64) (quest.Step, error) {
	var step quest.Step
	err := g.db.GetContext(ctx, &step, `
		SELECT id, quest_id, number
		FROM steps
		WHERE id = $1`, stepID)
	if errors.Is(err, sql.ErrNoRows) {
		return quest.Step{}, storage.ErrNotFound
	}
	if err != nil {
		return quest.Step{}, fmt.Errorf("step %d: %w", stepID, err)
	}

	var handlers []quest.Handler
	err = g.db.SelectContext(ctx, &handlers, `
		SELECT id, step_id, enabled_on, step_on_success, step_on_error, redirects
		FROM handlers
		WHERE step_id = $1
		ORDER BY id`, stepID)
	if err != nil {
		return quest.Step{}, fmt.Errorf("handlers of step %d: %w", stepID, err)
	}
	if len(handlers) == 0 {
		step.Handlers = nil
		return step, nil
	}

	ids := make(pq.Int64Array, 0, len(handlers))
	byID := make(map[int64]*quest.Handler, len(handlers))
	for i := range handlers {
		ids = append(ids, handlers[i].ID)
		byID[handlers[i].ID] = &handlers[i]
	}

	var conditions []quest.Condition
	err = g.db.SelectContext(ctx, &conditions, `
		SELECT id, handler_id, rule, matched_field, value
		FROM conditions
		WHERE handler_id = ANY($1)
		ORDER BY id`, ids)
	if err != nil {
		return quest.Step{}, fmt.Errorf("conditions of step %d: %w", stepID, err)
	}
	for _, c := range conditions {
		h := byID[c.HandlerID]
		h.Conditions = append(h.Conditions, c)
	}

	var responses []quest.Response
	err = g.db.SelectContext(ctx, &responses, `
		SELECT id, handler_id, title, text, keyboard, on_true, as_reply,
		       priority, inherit_keyboard, set_default_keyboard,
		       delete_previous_keyboard, one_time_keyboard, redirect_to, created
		FROM responses
		WHERE handler_id = ANY($1)
		ORDER BY id`, ids)
	if err != nil {
		return quest.Step{}, fmt.Errorf("responses of step %d: %w", stepID, err)
	}
	for _, r := range responses {
		h := byID[r.HandlerID]
		h.Responses = append(h.Responses, r)
	}

	step.Handlers = handlers
	return step, nil
}
