package quest

import "time"

// Message is the plain-message variant of an update.
type Message struct {
	ID     int
	Chat   Chat
	Text   string
	Photos int
	Date   time.Time
}

// CallbackQuery is the button-press variant of an update. Message is the
// message the pressed keyboard was attached to, when the platform supplies it.
type CallbackQuery struct {
	ID      string
	Data    string
	Message *Message
}

// Update is one inbound unit of work. Exactly one of Message or Callback is
// set, discriminated by Action. Modified is the receipt timestamp used by the
// time-window rules.
type Update struct {
	Action   ActionType
	BotID    int64
	Sender   User
	Message  *Message
	Callback *CallbackQuery
	Modified time.Time
}

// AnyMessage returns whichever message variant the update carries: the plain
// message, or the message attached to the callback query. Returns nil when
// neither is present.
func (u Update) AnyMessage() *Message {
	if u.Message != nil {
		return u.Message
	}
	if u.Callback != nil {
		return u.Callback.Message
	}
	return nil
}

// ChatID resolves the conversation the update belongs to, or 0 when the
// update carries no message at all.
func (u Update) ChatID() int64 {
	if m := u.AnyMessage(); m != nil {
		return m.Chat.ID
	}
	return 0
}
