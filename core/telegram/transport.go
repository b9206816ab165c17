package telegram

import (
	"context"

	"github.com/m3rciful/questbot/core/telegram/keyboard"
	"github.com/m3rciful/questbot/quest/outbox"

	tele "gopkg.in/telebot.v4"
)

// BotTransport delivers outbox requests through a live Telebot instance.
type BotTransport struct {
	bot *tele.Bot
}

// NewBotTransport wraps a bot as an outbox transport.
func NewBotTransport(bot *tele.Bot) *BotTransport {
	return &BotTransport{bot: bot}
}

// SendMessage sends one prepared message. Retries and backoff are owned by
// the HTTP client and the outbox queue, not by the transport.
func (t *BotTransport) SendMessage(ctx context.Context, req outbox.SendRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := &tele.SendOptions{}
	if req.ReplyTo != 0 {
		opts.ReplyTo = &tele.Message{
			ID:   req.ReplyTo,
			Chat: &tele.Chat{ID: req.ChatID},
		}
	}
	if markup := keyboard.ToMarkup(req.Keyboard); markup != nil {
		opts.ReplyMarkup = markup
	}

	_, err := t.bot.Send(tele.ChatID(req.ChatID), req.Text, opts)
	return err
}
