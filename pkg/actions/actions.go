// Package actions applies structured reminder actions produced upstream
// (by the language parser or a chat button) to the store, schedules their
// alerts and reports the changes to the affected users.
package actions

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Type string

const (
	TypeAddReminderAlerts Type = "ADD_REMINDER_ALERTS"
	TypeAddAlert          Type = "ADD_ALERT"
	TypeEditReminderText  Type = "EDIT_REMINDER_TEXT"
	TypeMarkComplete      Type = "MARK_COMPLETE"
	TypeDeleteReminder    Type = "DELETE_REMINDER"
	TypeDeleteAlert       Type = "DELETE_ALERT"
)

// Action is implemented only by the action structs of this package.
type Action interface {
	Type() Type
	validate() error
}

type AddReminderAlerts struct {
	Text           string   `json:"text"`
	DueAt          string   `json:"due_at"`
	Recurring      bool     `json:"recurring"`
	Schedule       *string  `json:"schedule"`
	Alerts         []string `json:"alerts"`
	AssigneeUserID string   `json:"assignee_user_id"`
}

type AddAlert struct {
	ReminderID string `json:"reminder_id"`
	DueAt      string `json:"due_at"`
	UserID     string `json:"user_id"`
}

type EditReminderText struct {
	ReminderID string `json:"reminder_id"`
	Text       string `json:"text"`
	UserID     string `json:"user_id"`
}

type MarkComplete struct {
	ReminderID string `json:"reminder_id"`
	UserID     string `json:"user_id"`
}

type DeleteReminder struct {
	ReminderID string `json:"reminder_id"`
	UserID     string `json:"user_id"`
}

type DeleteAlert struct {
	AlertID    string `json:"alert_id"`
	ReminderID string `json:"reminder_id"`
	UserID     string `json:"user_id"`
}

func (AddReminderAlerts) Type() Type { return TypeAddReminderAlerts }
func (AddAlert) Type() Type          { return TypeAddAlert }
func (EditReminderText) Type() Type  { return TypeEditReminderText }
func (MarkComplete) Type() Type      { return TypeMarkComplete }
func (DeleteReminder) Type() Type    { return TypeDeleteReminder }
func (DeleteAlert) Type() Type       { return TypeDeleteAlert }

func (a AddReminderAlerts) validate() error {
	if strings.TrimSpace(a.Text) == "" {
		return invalid("text", "must not be empty")
	}
	hasSchedule := a.Schedule != nil && strings.TrimSpace(*a.Schedule) != ""
	if a.Recurring && !hasSchedule {
		return invalid("schedule", "required for recurring reminders")
	}
	if !a.Recurring && hasSchedule {
		return invalid("schedule", "only allowed for recurring reminders")
	}
	if !a.Recurring && strings.TrimSpace(a.DueAt) == "" {
		return invalid("due_at", "must not be empty")
	}
	return nil
}

func (a AddAlert) validate() error {
	if a.ReminderID == "" {
		return invalid("reminder_id", "must not be empty")
	}
	if strings.TrimSpace(a.DueAt) == "" {
		return invalid("due_at", "must not be empty")
	}
	return nil
}

func (a EditReminderText) validate() error {
	if a.ReminderID == "" {
		return invalid("reminder_id", "must not be empty")
	}
	if strings.TrimSpace(a.Text) == "" {
		return invalid("text", "must not be empty")
	}
	return nil
}

func (a MarkComplete) validate() error {
	if a.ReminderID == "" {
		return invalid("reminder_id", "must not be empty")
	}
	return nil
}

func (a DeleteReminder) validate() error {
	if a.ReminderID == "" {
		return invalid("reminder_id", "must not be empty")
	}
	return nil
}

func (a DeleteAlert) validate() error {
	if a.AlertID == "" {
		return invalid("alert_id", "must not be empty")
	}
	return nil
}

// Decode parses one JSON action of the form {"type": "...", ...}. Unknown
// type tags are reported as validation errors matching ErrUnknownAction.
func Decode(data []byte) (Action, error) {
	if !json.Valid(data) {
		return nil, invalid("action", "malformed JSON")
	}

	kind := peekType(data)
	var action Action
	var err error
	switch kind {
	case TypeAddReminderAlerts:
		action, err = decodeInto[AddReminderAlerts](data)
	case TypeAddAlert:
		action, err = decodeInto[AddAlert](data)
	case TypeEditReminderText:
		action, err = decodeInto[EditReminderText](data)
	case TypeMarkComplete:
		action, err = decodeInto[MarkComplete](data)
	case TypeDeleteReminder:
		action, err = decodeInto[DeleteReminder](data)
	case TypeDeleteAlert:
		action, err = decodeInto[DeleteAlert](data)
	default:
		return nil, &ValidationError{
			Field:  "type",
			Reason: fmt.Sprintf("unknown action type %q", kind),
			Err:    ErrUnknownAction,
		}
	}
	if err != nil {
		return nil, err
	}
	if err := action.validate(); err != nil {
		return nil, err
	}
	return action, nil
}

func peekType(data []byte) Type {
	var envelope struct {
		Type Type `json:"type"`
	}
	_ = json.Unmarshal(data, &envelope)
	return envelope.Type
}

func decodeInto[T Action](data []byte) (Action, error) {
	var action T
	if err := json.Unmarshal(data, &action); err != nil {
		return nil, invalidWrap(string(action.Type()), err)
	}
	return action, nil
}
