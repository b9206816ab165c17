package quest

import (
	"regexp"
	"strings"
	"time"
)

// DefaultDateTimeFormat is the reference layout for received_before and
// received_after values. Authoring and evaluation share the same layout; it
// is overridable through configuration, not per condition.
const DefaultDateTimeFormat = "2006-01-02 15:04:05"

// Evaluator matches conditions against updates. The zero value uses
// DefaultDateTimeFormat for the time-window rules.
type Evaluator struct {
	DateTimeFormat string
}

// Matches reports whether the update satisfies the condition.
//
// The comparison text is lowercased and trimmed; the condition value is
// lowercased but not trimmed. The contains rule deliberately compares the
// original-case value against the lowered text — that asymmetry is part of
// the authored contract and must not be normalized away. Malformed regex
// patterns and unparsable date values evaluate to false rather than failing.
func (e Evaluator) Matches(c Condition, u Update) bool {
	text := strings.ToLower(strings.TrimSpace(e.sourceText(c.MatchedField, u)))
	value := strings.ToLower(c.Value)

	switch c.Rule {
	case RuleFullCoincidence, RuleQRCode:
		return text == value
	case RuleToBeIn:
		// reversed containment: the text must occur inside the value
		return strings.Contains(value, text)
	case RuleContains:
		return strings.Contains(text, c.Value)
	case RuleStartsWith:
		return strings.HasPrefix(text, value)
	case RuleEndsWith:
		return strings.HasSuffix(text, value)
	case RuleMatchRegex:
		return matchAtStart(value, text)
	case RuleContainAnImage:
		m := u.AnyMessage()
		return m != nil && m.Photos > 0
	case RuleContainAFile, RuleContainAnAudio, RuleContainAVideo:
		// declared rule kinds without matching behavior; they are a defined
		// no-match rather than an error
		return false
	case RuleReceivedBefore, RuleReceivedAfter:
		dt, err := time.Parse(e.layout(), strings.TrimSpace(value))
		if err != nil {
			return false
		}
		if c.Rule == RuleReceivedBefore {
			return u.Modified.Before(dt)
		}
		return u.Modified.After(dt)
	}
	return false
}

func (e Evaluator) layout() string {
	if e.DateTimeFormat != "" {
		return e.DateTimeFormat
	}
	return DefaultDateTimeFormat
}

// sourceText resolves the comparison text for the matched field. A missing
// source object yields the empty string.
func (e Evaluator) sourceText(field MatchedField, u Update) string {
	switch field {
	case FieldAnyMessage:
		if m := u.AnyMessage(); m != nil {
			return m.Text
		}
	case FieldMessageText:
		if u.Message != nil {
			return u.Message.Text
		}
	case FieldCallbackMessageText:
		if u.Callback != nil && u.Callback.Message != nil {
			return u.Callback.Message.Text
		}
	case FieldCallbackData:
		if u.Callback != nil {
			return u.Callback.Data
		}
	}
	return ""
}

// matchAtStart emulates a start-anchored regex match: the pattern must match
// at the beginning of the text, not necessarily consume all of it.
func matchAtStart(pattern, text string) bool {
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	loc := rx.FindStringIndex(text)
	return loc != nil && loc[0] == 0
}
