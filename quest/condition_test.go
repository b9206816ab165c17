package quest

import (
	"testing"
	"time"
)

func msgUpdate(text string) Update {
	return Update{
		Action:   ActionMessage,
		Sender:   User{ID: 7},
		Message:  &Message{ID: 1, Chat: Chat{ID: 10}, Text: text},
		Modified: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func callbackUpdate(data, attachedText string) Update {
	return Update{
		Action: ActionCallbackQuery,
		Sender: User{ID: 7},
		Callback: &CallbackQuery{
			ID:      "cb-1",
			Data:    data,
			Message: &Message{ID: 2, Chat: Chat{ID: 10}, Text: attachedText},
		},
		Modified: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMatchesFullCoincidence(t *testing.T) {
	var e Evaluator
	cond := Condition{Rule: RuleFullCoincidence, MatchedField: FieldAnyMessage, Value: "Yes"}

	if !e.Matches(cond, msgUpdate("  yes  ")) {
		t.Fatal("trimmed lowercased text should equal lowercased value")
	}
	if e.Matches(cond, msgUpdate("yes please")) {
		t.Fatal("partial text must not match full_coincidence")
	}
}

func TestMatchesPrefixSuffix(t *testing.T) {
	var e Evaluator
	starts := Condition{Rule: RuleStartsWith, MatchedField: FieldAnyMessage, Value: "Hi"}
	ends := Condition{Rule: RuleEndsWith, MatchedField: FieldAnyMessage, Value: "Hi"}

	if !e.Matches(starts, msgUpdate("hi there")) {
		t.Fatal("starts_with should match case-insensitively")
	}
	if e.Matches(ends, msgUpdate("hi there")) {
		t.Fatal("ends_with should not match")
	}
	if !e.Matches(ends, msgUpdate("oh hi")) {
		t.Fatal("ends_with should match suffix")
	}
}

func TestMatchesContainsAsymmetry(t *testing.T) {
	var e Evaluator

	// contains compares the original-case value against the lowered text, so
	// an upper-case value can never occur in it.
	cond := Condition{Rule: RuleContains, MatchedField: FieldAnyMessage, Value: "HELLO"}
	if e.Matches(cond, msgUpdate("well hello there")) {
		t.Fatal("upper-case value must not match lowered text")
	}
	cond.Value = "hello"
	if !e.Matches(cond, msgUpdate("well HELLO there")) {
		t.Fatal("lower-case value should match lowered text")
	}
}

func TestMatchesToBeInReversed(t *testing.T) {
	var e Evaluator
	cond := Condition{Rule: RuleToBeIn, MatchedField: FieldAnyMessage, Value: "red green blue"}

	if !e.Matches(cond, msgUpdate(" Green ")) {
		t.Fatal("text should be found inside the value")
	}
	if e.Matches(cond, msgUpdate("yellow")) {
		t.Fatal("text absent from the value must not match")
	}
}

func TestMatchesRegexAnchoredAtStart(t *testing.T) {
	var e Evaluator
	cond := Condition{Rule: RuleMatchRegex, MatchedField: FieldAnyMessage, Value: `\d+ apples`}

	if !e.Matches(cond, msgUpdate("12 apples and more")) {
		t.Fatal("pattern matching at position zero should succeed")
	}
	if e.Matches(cond, msgUpdate("I have 12 apples")) {
		t.Fatal("match not anchored at the start must fail")
	}
}

func TestMatchesRegexInvalidPattern(t *testing.T) {
	var e Evaluator
	cond := Condition{Rule: RuleMatchRegex, MatchedField: FieldAnyMessage, Value: "([unclosed"}
	if e.Matches(cond, msgUpdate("anything")) {
		t.Fatal("invalid regex must evaluate to false, not panic")
	}
}

func TestMatchesDateWindows(t *testing.T) {
	var e Evaluator
	before := Condition{Rule: RuleReceivedBefore, MatchedField: FieldAnyMessage, Value: "2025-07-01 00:00:00"}
	after := Condition{Rule: RuleReceivedAfter, MatchedField: FieldAnyMessage, Value: "2025-05-01 00:00:00"}

	upd := msgUpdate("hello") // modified 2025-06-01
	if !e.Matches(before, upd) {
		t.Fatal("update older than the value should match received_before")
	}
	if !e.Matches(after, upd) {
		t.Fatal("update newer than the value should match received_after")
	}

	bad := Condition{Rule: RuleReceivedBefore, MatchedField: FieldAnyMessage, Value: "not a date"}
	if e.Matches(bad, upd) {
		t.Fatal("unparsable value must evaluate to false")
	}
}

func TestMatchesCustomDateFormat(t *testing.T) {
	e := Evaluator{DateTimeFormat: "02.01.2006 15:04"}
	cond := Condition{Rule: RuleReceivedAfter, MatchedField: FieldAnyMessage, Value: "01.05.2025 00:00"}
	if !e.Matches(cond, msgUpdate("hi")) {
		t.Fatal("configured layout should parse the value")
	}
}

func TestMatchesFieldResolution(t *testing.T) {
	var e Evaluator

	data := Condition{Rule: RuleFullCoincidence, MatchedField: FieldCallbackData, Value: "go:next"}
	if !e.Matches(data, callbackUpdate("go:next", "pick one")) {
		t.Fatal("callback_data should read the callback payload")
	}
	if e.Matches(data, msgUpdate("go:next")) {
		t.Fatal("callback fields on a plain message resolve to empty text")
	}

	attached := Condition{Rule: RuleContains, MatchedField: FieldCallbackMessageText, Value: "pick"}
	if !e.Matches(attached, callbackUpdate("x", "Pick one")) {
		t.Fatal("callback_message_text should read the attached message")
	}

	msgOnly := Condition{Rule: RuleFullCoincidence, MatchedField: FieldMessageText, Value: "hello"}
	if e.Matches(msgOnly, callbackUpdate("hello", "hello")) {
		t.Fatal("message_text must ignore callback updates")
	}

	any := Condition{Rule: RuleFullCoincidence, MatchedField: FieldAnyMessage, Value: "pick one"}
	if !e.Matches(any, callbackUpdate("x", "Pick one")) {
		t.Fatal("any_message should fall through to the attached message")
	}
}

func TestMatchesMediaRules(t *testing.T) {
	var e Evaluator
	img := Condition{Rule: RuleContainAnImage, MatchedField: FieldAnyMessage}

	withPhoto := msgUpdate("")
	withPhoto.Message.Photos = 2
	if !e.Matches(img, withPhoto) {
		t.Fatal("message with photos should match contain_an_image")
	}
	if e.Matches(img, msgUpdate("no photo")) {
		t.Fatal("message without photos must not match")
	}

	for _, rule := range []Rule{RuleContainAFile, RuleContainAnAudio, RuleContainAVideo} {
		if e.Matches(Condition{Rule: rule, MatchedField: FieldAnyMessage}, withPhoto) {
			t.Fatalf("rule %s has no matching behavior and must default to false", rule)
		}
	}
}

func TestMatchesEmptySourceText(t *testing.T) {
	var e Evaluator
	cond := Condition{Rule: RuleFullCoincidence, MatchedField: FieldAnyMessage, Value: ""}
	upd := Update{Action: ActionMessage, Sender: User{ID: 1}, Modified: time.Now()}
	if !e.Matches(cond, upd) {
		t.Fatal("missing message resolves to empty text, equal to empty value")
	}
}
