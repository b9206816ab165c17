// Package quest defines the conversational flow graph and the condition
// evaluator that classifies inbound updates against it.
package quest

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionType discriminates the kind of inbound update a handler reacts to.
type ActionType string

const (
	// ActionMessage marks plain chat messages.
	ActionMessage ActionType = "message"
	// ActionCallbackQuery marks inline keyboard button presses.
	ActionCallbackQuery ActionType = "callback_query"
)

// Rule names a condition matching strategy.
type Rule string

const (
	RuleFullCoincidence Rule = "full_coincidence"
	RuleToBeIn          Rule = "to_be_in"
	RuleContains        Rule = "contains"
	RuleStartsWith      Rule = "starts_with"
	RuleEndsWith        Rule = "ends_with"
	RuleMatchRegex      Rule = "match_regex"
	RuleContainAnImage  Rule = "contain_an_image"
	RuleContainAFile    Rule = "contain_a_file"
	RuleContainAnAudio  Rule = "contain_an_audio"
	RuleContainAVideo   Rule = "contain_a_video"
	RuleReceivedBefore  Rule = "received_before"
	RuleReceivedAfter   Rule = "received_after"
	RuleQRCode          Rule = "qr_code"
)

// MatchedField selects which part of an update supplies the comparison text.
type MatchedField string

const (
	FieldAnyMessage          MatchedField = "any_message"
	FieldMessageText         MatchedField = "message_text"
	FieldCallbackMessageText MatchedField = "callback_message_text"
	FieldCallbackData        MatchedField = "callback_data"
)

// Quest is a named conversational flow owned by a bot. Exactly one of its
// steps is the initial one assigned to fresh sessions.
type Quest struct {
	ID            int64  `db:"id"`
	BotID         int64  `db:"bot_id"`
	Name          string `db:"name"`
	InitialStepID int64  `db:"initial_step_id"`
}

// Step is a single state in the per-user flow. Handlers are kept in their
// declared order; the dispatcher never reorders them.
type Step struct {
	ID       int64 `db:"id"`
	QuestID  int64 `db:"quest_id"`
	Number   int   `db:"number"`
	Handlers []Handler
}

// Handler bundles an ordered condition set, an ordered response set, and the
// success/error transition targets. A nil target means "stay on the current
// step". Redirects holds whitespace-separated usernames that receive a copy
// of the triggering message when the handler matches.
type Handler struct {
	ID            int64      `db:"id"`
	StepID        int64      `db:"step_id"`
	EnabledOn     ActionType `db:"enabled_on"`
	StepOnSuccess *int64     `db:"step_on_success"`
	StepOnError   *int64     `db:"step_on_error"`
	Redirects     string     `db:"redirects"`
	Conditions    []Condition
	Responses     []Response
}

// Condition is one predicate over a part of an inbound update.
type Condition struct {
	ID           int64        `db:"id"`
	HandlerID    int64        `db:"handler_id"`
	Rule         Rule         `db:"rule"`
	MatchedField MatchedField `db:"matched_field"`
	Value        string       `db:"value"`
}

// Response is a templated outbound message gated by the handler's boolean
// result. Text and Keyboard are templates expanded against the dispatch
// context; Keyboard yields a YAML list of button rows.
type Response struct {
	ID                     int64     `db:"id"`
	HandlerID              int64     `db:"handler_id"`
	Title                  string    `db:"title"`
	Text                   string    `db:"text"`
	Keyboard               string    `db:"keyboard"`
	OnTrue                 bool      `db:"on_true"`
	AsReply                bool      `db:"as_reply"`
	Priority               int       `db:"priority"`
	InheritKeyboard        bool      `db:"inherit_keyboard"`
	SetDefaultKeyboard     bool      `db:"set_default_keyboard"`
	DeletePreviousKeyboard bool      `db:"delete_previous_keyboard"`
	OneTimeKeyboard        bool      `db:"one_time_keyboard"`
	RedirectTo             string    `db:"redirect_to"`
	Created                time.Time `db:"created"`
}

// Session is the per-user pointer into the quest graph. StepID is nil until
// the user enters a quest. Modified guards conditional step writes.
type Session struct {
	ID       uuid.UUID `db:"id"`
	UserID   int64     `db:"user_id"`
	StepID   *int64    `db:"step_id"`
	Active   bool      `db:"active"`
	Created  time.Time `db:"created"`
	Modified time.Time `db:"modified"`
}

// User identifies the sender of an update.
type User struct {
	ID        int64  `db:"id"`
	Username  string `db:"username"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
}

// Chat is an external conversation endpoint. Keyboard fields are owned by
// the response renderer; nothing else mutates them.
type Chat struct {
	ID              int64     `db:"id"`
	Type            string    `db:"type"`
	Title           string    `db:"title"`
	Username        string    `db:"username"`
	FirstName       string    `db:"first_name"`
	LastName        string    `db:"last_name"`
	DefaultKeyboard *Keyboard `db:"default_keyboard"`
	CurrentKeyboard *Keyboard `db:"current_keyboard"`
	TemplateContext Vars      `db:"template_context"`
}

// Keyboard is the structured reply keyboard layout sent with a response.
// A Hide keyboard carries no rows and instructs the client to remove the
// previously shown keyboard.
type Keyboard struct {
	Rows      [][]string `json:"rows,omitempty"`
	OneTime   bool       `json:"one_time_keyboard,omitempty"`
	Resize    bool       `json:"resize_keyboard,omitempty"`
	Selective bool       `json:"selective,omitempty"`
	Hide      bool       `json:"hide_keyboard,omitempty"`
}

// HideKeyboard returns the explicit "remove keyboard" directive.
func HideKeyboard() *Keyboard {
	return &Keyboard{Hide: true}
}

// Value implements driver.Valuer so keyboards persist as JSON columns.
func (k *Keyboard) Value() (driver.Value, error) {
	if k == nil {
		return nil, nil
	}
	return json.Marshal(k)
}

// Scan implements sql.Scanner for JSON keyboard columns.
func (k *Keyboard) Scan(src any) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, k)
	case string:
		return json.Unmarshal([]byte(v), k)
	default:
		return fmt.Errorf("keyboard: unsupported scan type %T", src)
	}
}

// Vars carries quest-defined template variables attached to a chat.
type Vars map[string]any

// Value implements driver.Valuer for JSON persistence.
func (v Vars) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner for JSON columns.
func (v *Vars) Scan(src any) error {
	if src == nil {
		return nil
	}
	switch raw := src.(type) {
	case []byte:
		return json.Unmarshal(raw, v)
	case string:
		return json.Unmarshal([]byte(raw), v)
	default:
		return fmt.Errorf("vars: unsupported scan type %T", src)
	}
}
