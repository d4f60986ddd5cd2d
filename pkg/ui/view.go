package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/smith3v/family-reminders/pkg/db"
)

// Button is a channel-neutral action button; Token is the callback data.
type Button struct {
	Label string
	Token string
}

// Message is one rendered notification. Channels that cannot show buttons
// send Text only.
type Message struct {
	Text    string
	Buttons [][]Button
}

type ChangeKind string

const (
	ChangeAdded        ChangeKind = "added"
	ChangeUpdated      ChangeKind = "updated"
	ChangeDeleted      ChangeKind = "deleted"
	ChangeCompleted    ChangeKind = "completed"
	ChangeAlertAdded   ChangeKind = "alert_added"
	ChangeAlertDeleted ChangeKind = "alert_deleted"
)

func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeAdded, ChangeUpdated, ChangeDeleted, ChangeCompleted, ChangeAlertAdded, ChangeAlertDeleted:
		return true
	}
	return false
}

// RenderAlert renders a firing alert with complete, snooze and delete buttons.
func RenderAlert(reminder db.Reminder, alert db.Alert, offsetSeconds int, snooze time.Duration) (Message, error) {
	completeData, err := BuildCompleteToken(reminder.ID)
	if err != nil {
		return Message{}, err
	}
	snoozeData, err := BuildSnoozeToken(reminder.ID, alert.ID)
	if err != nil {
		return Message{}, err
	}
	deleteData, err := BuildDeleteToken(reminder.ID)
	if err != nil {
		return Message{}, err
	}

	text := fmt.Sprintf("⏰ %s\n%s", reminder.Text, formatWhen(alert.DueAt, offsetSeconds))
	return Message{
		Text: text,
		Buttons: [][]Button{
			{
				{Label: "Done ✅", Token: completeData},
				{Label: "Snooze " + formatSnooze(snooze), Token: snoozeData},
			},
			{
				{Label: "Delete 🗑", Token: deleteData},
			},
		},
	}, nil
}

// Change describes one reminder in a change notification. Alert is set for
// alert-level changes.
type Change struct {
	Reminder db.Reminder
	Alert    *db.Alert
}

// RenderChange renders the confirmation sent to the owner, and to the
// family member who made the change when that is someone else.
func RenderChange(kind ChangeKind, ownerID, actorID string, change Change, offsetSeconds int) (Message, error) {
	r := change.Reminder
	var lines []string
	switch kind {
	case ChangeAdded:
		lines = append(lines, "New reminder: "+r.Text)
	case ChangeUpdated:
		lines = append(lines, "Reminder updated: "+r.Text)
	case ChangeDeleted:
		lines = append(lines, "Reminder deleted: "+r.Text)
	case ChangeCompleted:
		lines = append(lines, "Reminder done: "+r.Text)
	case ChangeAlertAdded:
		lines = append(lines, "Alert added for: "+r.Text)
	case ChangeAlertDeleted:
		lines = append(lines, "Alert removed from: "+r.Text)
	default:
		return Message{}, fmt.Errorf("unknown change kind %q", kind)
	}

	if change.Alert != nil {
		lines = append(lines, formatWhen(change.Alert.DueAt, offsetSeconds))
	} else if kind != ChangeDeleted && kind != ChangeCompleted {
		if r.NextDueAt != nil {
			lines = append(lines, "Next alert: "+formatWhen(*r.NextDueAt, offsetSeconds))
		}
		if r.Recurring && r.Schedule != nil {
			lines = append(lines, "Repeats: "+*r.Schedule)
		}
	}
	if actorID != "" && actorID != ownerID {
		lines = append(lines, fmt.Sprintf("For %s, set by %s", ownerID, actorID))
	}

	msg := Message{Text: strings.Join(lines, "\n")}
	if kind == ChangeDeleted || kind == ChangeCompleted || r.Completed {
		return msg, nil
	}
	completeData, err := BuildCompleteToken(r.ID)
	if err != nil {
		return Message{}, err
	}
	deleteData, err := BuildDeleteToken(r.ID)
	if err != nil {
		return Message{}, err
	}
	msg.Buttons = [][]Button{{
		{Label: "Done ✅", Token: completeData},
		{Label: "Delete 🗑", Token: deleteData},
	}}
	return msg, nil
}

// InlineKeyboard converts buttons into a Telegram inline keyboard.
func InlineKeyboard(rows [][]Button) *models.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: make([][]models.InlineKeyboardButton, 0, len(rows)),
	}
	for _, row := range rows {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, models.InlineKeyboardButton{Text: b.Label, CallbackData: b.Token})
		}
		keyboard.InlineKeyboard = append(keyboard.InlineKeyboard, buttons)
	}
	return keyboard
}

func formatWhen(abs time.Time, offsetSeconds int) string {
	zone := time.FixedZone("", offsetSeconds)
	local := abs.In(zone)
	return local.Format("Mon 2 Jan 15:04") + " " + formatOffset(offsetSeconds)
}

func formatOffset(offsetSeconds int) string {
	sign := "+"
	if offsetSeconds < 0 {
		sign = "-"
		offsetSeconds = -offsetSeconds
	}
	if offsetSeconds%3600 == 0 {
		return fmt.Sprintf("(UTC%s%d)", sign, offsetSeconds/3600)
	}
	return fmt.Sprintf("(UTC%s%d:%02d)", sign, offsetSeconds/3600, (offsetSeconds%3600)/60)
}

func formatSnooze(d time.Duration) string {
	if d <= 0 {
		d = 10 * time.Minute
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%dm", int(d/time.Minute))
}
