// Package keyboard converts engine keyboard layouts to Telegram reply markup.
package keyboard

import (
	"github.com/m3rciful/questbot/quest"

	tele "gopkg.in/telebot.v4"
)

// ToMarkup builds Telegram reply markup from a keyboard layout. A nil
// keyboard yields nil markup so the message is sent without any keyboard
// directive. A hide keyboard maps to RemoveKeyboard.
func ToMarkup(k *quest.Keyboard) *tele.ReplyMarkup {
	if k == nil {
		return nil
	}
	if k.Hide {
		return &tele.ReplyMarkup{RemoveKeyboard: true, Selective: k.Selective}
	}

	markup := &tele.ReplyMarkup{
		ResizeKeyboard:  k.Resize,
		OneTimeKeyboard: k.OneTime,
		Selective:       k.Selective,
	}
	rows := make([]tele.Row, 0, len(k.Rows))
	for _, labels := range k.Rows {
		if len(labels) == 0 {
			continue
		}
		btns := make([]tele.Btn, 0, len(labels))
		for _, label := range labels {
			btns = append(btns, markup.Text(label))
		}
		rows = append(rows, markup.Row(btns...))
	}
	markup.Reply(rows...)
	return markup
}
