// Package engine dispatches inbound updates through the quest graph: it
// resolves the user's session, evaluates handler conditions, applies step
// transitions, and hands selected responses to the renderer and outbox.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/m3rciful/questbot/core/logger"
	"github.com/m3rciful/questbot/quest"
	"github.com/m3rciful/questbot/quest/outbox"
	"github.com/m3rciful/questbot/quest/render"
	"github.com/m3rciful/questbot/storage"
)

const component = "engine"

// ErrNoMessage reports an update that carries neither a message nor a
// callback with an attached message, leaving no chat to respond into.
var ErrNoMessage = errors.New("engine: update carries no message")

// Sender is the outbound boundary the engine pushes rendered responses to.
// *outbox.Queue satisfies it.
type Sender interface {
	Enqueue(ctx context.Context, req outbox.SendRequest) error
	SendNow(ctx context.Context, req outbox.SendRequest) error
}

// Engine is the per-update dispatcher. It serializes session mutations per
// user and chat keyboard writes per chat; updates from different users run
// fully in parallel.
type Engine struct {
	graph    storage.GraphStore
	sessions storage.SessionStore
	chats    storage.ChatStore
	renderer *render.Renderer
	sender   Sender
	eval     quest.Evaluator

	userLocks keyedMutex
	chatLocks keyedMutex
}

// New wires an engine from its collaborators.
func New(graph storage.GraphStore, sessions storage.SessionStore, chats storage.ChatStore, renderer *render.Renderer, sender Sender, eval quest.Evaluator) *Engine {
	return &Engine{
		graph:    graph,
		sessions: sessions,
		chats:    chats,
		renderer: renderer,
		sender:   sender,
		eval:     eval,
	}
}

// outcome captures one handler's evaluation result together with the
// responses selected for it.
type outcome struct {
	handler   quest.Handler
	isTrue    bool
	responses []quest.Response
}

// Dispatch processes one inbound update and returns the session as it stands
// after all transitions. A step with no handler matching the trigger kind is
// a valid no-op, not a failure.
func (e *Engine) Dispatch(ctx context.Context, upd quest.Update) (quest.Session, error) {
	msg := upd.AnyMessage()
	if msg == nil {
		return quest.Session{}, ErrNoMessage
	}

	chat, err := e.chats.GetOrCreate(ctx, msg.Chat)
	if err != nil {
		return quest.Session{}, fmt.Errorf("resolve chat %d: %w", msg.Chat.ID, err)
	}

	// Session reads and step writes run under the per-user critical section.
	// Rendering and enqueueing happen after release; they can be slow.
	unlock := e.userLocks.Lock(upd.Sender.ID)
	session, outcomes, err := e.evaluate(ctx, upd)
	unlock()
	if err != nil {
		return session, err
	}

	e.respond(ctx, upd, chat, outcomes)
	return session, nil
}

func (e *Engine) evaluate(ctx context.Context, upd quest.Update) (quest.Session, []outcome, error) {
	session, err := e.sessions.GetOrCreate(ctx, upd.Sender.ID, upd.Modified)
	if err != nil {
		return quest.Session{}, nil, fmt.Errorf("resolve session: %w", err)
	}

	if session.StepID == nil {
		q, err := e.graph.QuestByBot(ctx, upd.BotID)
		if err != nil {
			return session, nil, fmt.Errorf("resolve quest for bot %d: %w", upd.BotID, err)
		}
		session, err = e.advance(ctx, session, q.InitialStepID)
		if err != nil {
			return session, nil, err
		}
		logger.Info(ctx, component, "session.init",
			slog.Int64("user_id", upd.Sender.ID),
			slog.Int64("step_id", q.InitialStepID),
		)
	}

	step, err := e.graph.Step(ctx, *session.StepID)
	if err != nil {
		return session, nil, fmt.Errorf("load step %d: %w", *session.StepID, err)
	}

	var outcomes []outcome
	for _, h := range step.Handlers {
		if h.EnabledOn != upd.Action {
			continue
		}

		isTrue := true
		for _, c := range h.Conditions {
			if !e.eval.Matches(c, upd) {
				isTrue = false
				break
			}
		}

		next := h.StepOnError
		if isTrue {
			next = h.StepOnSuccess
		}
		if next != nil {
			if _, serr := e.graph.Step(ctx, *next); serr != nil {
				// transition target missing: keep the user on the prior step
				// and surface the inconsistency instead of failing the update
				logger.Error(ctx, component, "step.missing",
					slog.Int64("handler_id", h.ID),
					slog.Int64("step_id", *next),
					slog.String("err", serr.Error()),
				)
			} else {
				session, err = e.advance(ctx, session, *next)
				if err != nil {
					return session, nil, err
				}
			}
		}

		outcomes = append(outcomes, outcome{
			handler:   h,
			isTrue:    isTrue,
			responses: selectResponses(h, isTrue),
		})
	}

	return session, outcomes, nil
}

// advance writes the step transition, retrying once against fresh session
// state when the conditional write is lost to a concurrent writer.
func (e *Engine) advance(ctx context.Context, session quest.Session, stepID int64) (quest.Session, error) {
	next, err := e.sessions.Advance(ctx, session, stepID)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return session, fmt.Errorf("advance session: %w", err)
	}

	logger.Warn(ctx, component, "session.conflict",
		slog.Int64("user_id", session.UserID),
		slog.Int64("step_id", stepID),
	)
	fresh, err := e.sessions.GetOrCreate(ctx, session.UserID, session.Modified)
	if err != nil {
		return session, fmt.Errorf("reload session after conflict: %w", err)
	}
	next, err = e.sessions.Advance(ctx, fresh, stepID)
	if err != nil {
		return session, fmt.Errorf("advance session after retry: %w", err)
	}
	return next, nil
}

// selectResponses filters the handler's responses by the evaluation result
// and orders them by priority, then creation time.
func selectResponses(h quest.Handler, isTrue bool) []quest.Response {
	var out []quest.Response
	for _, r := range h.Responses {
		if r.OnTrue == isTrue {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

func (e *Engine) respond(ctx context.Context, upd quest.Update, chat quest.Chat, outcomes []outcome) {
	msg := upd.AnyMessage()
	data := render.Context(upd.Sender, chat)

	for _, o := range outcomes {
		if o.isTrue && o.handler.Redirects != "" {
			e.forwardMessage(ctx, upd, o.handler)
		}

		for _, resp := range o.responses {
			rendered, err := e.renderer.Render(resp, data)
			if err != nil {
				// a broken template fails this response only
				logger.Error(ctx, component, "render.fail",
					slog.Int64("response_id", resp.ID),
					slog.String("err", err.Error()),
				)
				continue
			}

			kb, err := e.applyKeyboard(ctx, chat.ID, resp, rendered.Rows)
			if err != nil {
				logger.Error(ctx, component, "keyboard.fail",
					slog.Int64("response_id", resp.ID),
					slog.String("err", err.Error()),
				)
				continue
			}

			req := outbox.SendRequest{
				BotID:    upd.BotID,
				ChatID:   chat.ID,
				Keyboard: kb,
				Text:     rendered.Text,
			}
			if resp.AsReply && msg != nil {
				req.ReplyTo = msg.ID
			}
			if err := e.sender.Enqueue(ctx, req); err != nil {
				logger.Error(ctx, component, "enqueue.fail",
					slog.Int64("response_id", resp.ID),
					slog.String("err", err.Error()),
				)
			}

			e.redirectSummary(ctx, upd, resp)
		}
	}
}

// applyKeyboard serializes keyboard state writes per chat and re-reads the
// chat inside the critical section so concurrent responses observe each
// other's writes.
func (e *Engine) applyKeyboard(ctx context.Context, chatID int64, resp quest.Response, rows [][]string) (*quest.Keyboard, error) {
	unlock := e.chatLocks.Lock(chatID)
	defer unlock()

	chat, err := e.chats.Get(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("reload chat: %w", err)
	}
	return render.ApplyKeyboard(ctx, e.chats, chat, resp, rows)
}

// forwardMessage copies the triggering message to every username listed on
// the handler. Unknown usernames are skipped, not errors.
func (e *Engine) forwardMessage(ctx context.Context, upd quest.Update, h quest.Handler) {
	msg := upd.AnyMessage()
	if msg == nil {
		return
	}
	for _, username := range strings.Fields(h.Redirects) {
		target, err := e.chats.ByUsername(ctx, username)
		if err != nil {
			logger.Debug(ctx, component, "redirect.skip",
				slog.Int64("handler_id", h.ID),
				slog.String("username", username),
			)
			continue
		}
		err = e.sender.Enqueue(ctx, outbox.SendRequest{
			BotID:  upd.BotID,
			ChatID: target.ID,
			Text:   msg.Text,
		})
		if err != nil {
			logger.Warn(ctx, component, "redirect.fail",
				slog.Int64("handler_id", h.ID),
				slog.String("username", username),
				slog.String("err", err.Error()),
			)
		}
	}
}

// redirectSummary notifies the response's redirect targets with a fixed
// summary of the triggering message. These sends intentionally bypass the
// async queue.
func (e *Engine) redirectSummary(ctx context.Context, upd quest.Update, resp quest.Response) {
	if resp.RedirectTo == "" {
		return
	}
	msg := upd.AnyMessage()
	for _, username := range strings.Fields(resp.RedirectTo) {
		target, err := e.chats.ByUsername(ctx, username)
		if err != nil {
			logger.Debug(ctx, component, "redirect.skip",
				slog.Int64("response_id", resp.ID),
				slog.String("username", username),
			)
			continue
		}

		var msgID int
		var msgText string
		if msg != nil {
			msgID = msg.ID
			msgText = msg.Text
		}
		text := fmt.Sprintf(
			"Bot: %d\nChat: %d | %s\nMessage ID: %d\nText: %s\n",
			upd.BotID, target.ID, target.Username, msgID, msgText,
		)
		err = e.sender.SendNow(ctx, outbox.SendRequest{
			BotID:  upd.BotID,
			ChatID: target.ID,
			Text:   text,
		})
		if err != nil {
			logger.Warn(ctx, component, "redirect.summary_fail",
				slog.Int64("response_id", resp.ID),
				slog.String("username", username),
				slog.String("err", err.Error()),
			)
		}
	}
}
