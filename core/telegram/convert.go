package telegram

import (
	"strings"
	"time"

	"github.com/m3rciful/questbot/quest"

	tele "gopkg.in/telebot.v4"
)

// QuestUpdate maps a Telebot context to the engine's update shape. The second
// return value is false when the update carries neither a message nor a
// callback query, or has no identifiable sender.
func QuestUpdate(c tele.Context, botID int64) (quest.Update, bool) {
	sender := c.Sender()
	if sender == nil {
		return quest.Update{}, false
	}
	user := quest.User{
		ID:        sender.ID,
		Username:  sender.Username,
		FirstName: sender.FirstName,
		LastName:  sender.LastName,
	}

	now := time.Now()
	if cb := c.Callback(); cb != nil {
		upd := quest.Update{
			Action:   quest.ActionCallbackQuery,
			BotID:    botID,
			Sender:   user,
			Modified: now,
		}
		qcb := &quest.CallbackQuery{
			ID: cb.ID,
			// Telebot prefixes callback payloads with \f for its own routing.
			Data: strings.TrimPrefix(cb.Data, "\f"),
		}
		if cb.Message != nil {
			qcb.Message = questMessage(cb.Message)
		}
		upd.Callback = qcb
		return upd, true
	}

	if msg := c.Message(); msg != nil {
		return quest.Update{
			Action:   quest.ActionMessage,
			BotID:    botID,
			Sender:   user,
			Message:  questMessage(msg),
			Modified: now,
		}, true
	}

	return quest.Update{}, false
}

func questMessage(m *tele.Message) *quest.Message {
	msg := &quest.Message{
		ID:   m.ID,
		Text: m.Text,
		Date: time.Unix(m.Unixtime, 0),
	}
	if m.Text == "" && m.Caption != "" {
		msg.Text = m.Caption
	}
	if m.Photo != nil {
		msg.Photos = 1
	}
	if m.Chat != nil {
		msg.Chat = quest.Chat{
			ID:        m.Chat.ID,
			Type:      string(m.Chat.Type),
			Title:     m.Chat.Title,
			Username:  m.Chat.Username,
			FirstName: m.Chat.FirstName,
			LastName:  m.Chat.LastName,
		}
	}
	return msg
}
