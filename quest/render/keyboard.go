package render

import (
	"context"

	"github.com/m3rciful/questbot/quest"
	"github.com/m3rciful/questbot/storage"
)

// ApplyKeyboard resolves the response keyboard flags against the chat's
// stored keyboard state and persists the resulting state in a single write.
// It returns the keyboard to attach to the outbound send, which may be nil
// (no keyboard) or the explicit hide directive.
//
// Flag precedence: delete_previous_keyboard always wins and clears the
// current keyboard; inherit_keyboard discards the rendered rows in favor of
// the chat default; set_default_keyboard persists the (possibly inherited)
// layout as the new default before the send is issued.
func ApplyKeyboard(ctx context.Context, chats storage.ChatStore, chat quest.Chat, resp quest.Response, rows [][]string) (*quest.Keyboard, error) {
	def := chat.DefaultKeyboard

	layout := rows
	if resp.InheritKeyboard && def != nil {
		layout = def.Rows
	}

	var built *quest.Keyboard
	if len(layout) > 0 {
		built = &quest.Keyboard{
			Rows:      layout,
			OneTime:   resp.OneTimeKeyboard,
			Resize:    true,
			Selective: false,
		}
	}

	if resp.SetDefaultKeyboard {
		def = built
	}

	outbound := built
	current := built
	if resp.DeletePreviousKeyboard {
		outbound = quest.HideKeyboard()
		current = nil
	}

	if err := chats.SaveKeyboards(ctx, chat.ID, def, current); err != nil {
		return nil, err
	}
	return outbound, nil
}
