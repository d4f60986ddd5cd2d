package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/smith3v/family-reminders/pkg/logger"
	"github.com/smith3v/family-reminders/pkg/queue"
	"github.com/smith3v/family-reminders/pkg/schedule"
	"github.com/smith3v/family-reminders/pkg/store"
	"github.com/smith3v/family-reminders/pkg/ui"
)

// HandleFire delivers a due alert to its owner. The alert and reminder are
// re-read first; nothing is sent when either is gone or the reminder is
// completed.
func (f *Fanout) HandleFire(ctx context.Context, job queue.Job) error {
	var payload schedule.FirePayload
	if err := job.Decode(&payload); err != nil {
		logger.Error("dropping malformed fire job", "key", job.Key, "error", err)
		return nil
	}
	if payload.AlertID == "" {
		payload.AlertID = job.Key
	}

	alert, err := f.store.LookupAlert(ctx, payload.AlertID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Debug("alert no longer exists", "alert_id", payload.AlertID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load alert %s: %w", payload.AlertID, err)
	}

	now := f.opts.Now().UTC()
	if alert.DueAt.After(now) {
		// Fired early, e.g. armed before its due time moved; re-arm instead.
		return f.queue.Schedule(ctx, schedule.FireJobType, alert.ID,
			schedule.FirePayload{AlertID: alert.ID, ReminderID: alert.ReminderID}, alert.DueAt)
	}

	reminder, err := f.store.LookupReminder(ctx, alert.ReminderID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Debug("reminder no longer exists", "alert_id", alert.ID, "reminder_id", alert.ReminderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reminder %s: %w", alert.ReminderID, err)
	}
	if reminder.Completed {
		logger.Debug("skipping alert of completed reminder", "alert_id", alert.ID, "reminder_id", reminder.ID)
		return nil
	}

	profile, err := f.store.GetProfile(ctx, reminder.OwnerUserID)
	if err != nil {
		return fmt.Errorf("load profile %s: %w", reminder.OwnerUserID, err)
	}
	msg, err := ui.RenderAlert(reminder, alert, profile.TimezoneOffsetSeconds, f.opts.Snooze)
	if err != nil {
		logger.Error("failed to render alert", "alert_id", alert.ID, "error", err)
		return nil
	}

	res := deliver(ctx, f.channels, profile, msg)
	if err := f.store.RefreshNextDueAt(ctx, reminder.ID); err != nil {
		logger.Warn("failed to refresh next due time", "reminder_id", reminder.ID, "error", err)
	}
	if res.allFailed() {
		return ErrNoDelivery
	}
	logger.Info("alert fired", "alert_id", alert.ID, "reminder_id", reminder.ID, "user_id", reminder.OwnerUserID, "delivered", res.delivered)
	return nil
}
