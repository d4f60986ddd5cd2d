// Package notify turns reminder and alert changes into outbound messages.
// Changes are collected in a Batch, grouped per owning user into a single
// queued job, and rendered from the store's current state when the job runs.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/logger"
	"github.com/smith3v/family-reminders/pkg/queue"
	"github.com/smith3v/family-reminders/pkg/schedule"
	"github.com/smith3v/family-reminders/pkg/store"
	"github.com/smith3v/family-reminders/pkg/ui"
)

const GroupJobType = "notify:group"

type Options struct {
	Snooze time.Duration
	Now    func() time.Time
}

type Fanout struct {
	store    *store.Store
	queue    *queue.Queue
	channels []Channel
	opts     Options
}

func NewFanout(st *store.Store, q *queue.Queue, channels []Channel, opts Options) *Fanout {
	if opts.Snooze <= 0 {
		opts.Snooze = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Fanout{store: st, queue: q, channels: channels, opts: opts}
}

// Register installs the notify and fire handlers on the queue.
func (f *Fanout) Register(q *queue.Queue) {
	q.Process(GroupJobType, f.HandleGroup)
	q.Process(schedule.FireJobType, f.HandleFire)
}

// GroupItem is the snapshot stored with a queued notification. Only deleted
// reminders and alerts are rendered from it; everything else is re-read.
type GroupItem struct {
	ReminderID string     `json:"reminder_id"`
	AlertID    string     `json:"alert_id,omitempty"`
	Text       string     `json:"text"`
	DueAt      *time.Time `json:"due_at,omitempty"`
}

type GroupPayload struct {
	OwnerUserID string        `json:"owner_user_id"`
	ActorUserID string        `json:"actor_user_id"`
	Mode        ui.ChangeKind `json:"mode"`
	Items       []GroupItem   `json:"items"`
}

// Notify queues notifications for reminders affected by one change made by
// actorUserID.
func (f *Fanout) Notify(ctx context.Context, actorUserID string, mode ui.ChangeKind, reminders []db.Reminder) error {
	batch := f.NewBatch(actorUserID)
	for _, r := range reminders {
		batch.Add(Event{Kind: mode, Reminder: r})
	}
	return f.Flush(ctx, batch)
}

// Flush enqueues one job per (mode, owner) collected in the batch. A failing
// owner is logged and the remaining owners are still queued.
func (f *Fanout) Flush(ctx context.Context, b *Batch) error {
	var firstErr error
	for _, key := range b.order {
		payload := b.groups[key]
		if len(payload.Items) == 0 {
			continue
		}
		jobKey := fmt.Sprintf("%s:%s:%s", b.id, key.mode, key.owner)
		if err := f.queue.Schedule(ctx, GroupJobType, jobKey, payload, f.opts.Now()); err != nil {
			logger.Error("failed to queue notification", "user_id", key.owner, "mode", key.mode, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	b.order = nil
	b.groups = make(map[groupKey]*GroupPayload)
	return firstErr
}

// HandleGroup delivers a queued notification to the owner and, when someone
// else made the change, to the actor.
func (f *Fanout) HandleGroup(ctx context.Context, job queue.Job) error {
	var payload GroupPayload
	if err := job.Decode(&payload); err != nil {
		logger.Error("dropping malformed notification", "key", job.Key, "error", err)
		return nil
	}

	changes := make([]ui.Change, 0, len(payload.Items))
	for _, item := range payload.Items {
		change, ok, err := f.resolve(ctx, payload, item)
		if err != nil {
			return err
		}
		if ok {
			changes = append(changes, change)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	recipients := []string{payload.OwnerUserID}
	if payload.ActorUserID != "" && payload.ActorUserID != payload.OwnerUserID {
		recipients = append(recipients, payload.ActorUserID)
	}

	var total deliveryResult
	for _, userID := range recipients {
		profile, err := f.store.GetProfile(ctx, userID)
		if err != nil {
			logger.Error("failed to load profile", "user_id", userID, "error", err)
			continue
		}
		for _, change := range changes {
			msg, err := ui.RenderChange(payload.Mode, payload.OwnerUserID, payload.ActorUserID, change, profile.TimezoneOffsetSeconds)
			if err != nil {
				logger.Error("failed to render notification", "reminder_id", change.Reminder.ID, "error", err)
				continue
			}
			total.add(deliver(ctx, f.channels, profile, msg))
		}
	}
	if total.allFailed() {
		return ErrNoDelivery
	}
	return nil
}

// resolve rebuilds one item from the store so the message shows the final
// state. Items whose rows disappeared since they were queued are skipped:
// the batch that removed them queues its own deleted notification.
func (f *Fanout) resolve(ctx context.Context, payload GroupPayload, item GroupItem) (ui.Change, bool, error) {
	snapshot := db.Reminder{ID: item.ReminderID, OwnerUserID: payload.OwnerUserID, Text: item.Text}
	if payload.Mode == ui.ChangeDeleted {
		return ui.Change{Reminder: snapshot}, true, nil
	}

	reminder, err := f.store.LookupReminder(ctx, item.ReminderID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && reminder.OwnerUserID != payload.OwnerUserID) {
		return ui.Change{}, false, nil
	}
	if err != nil {
		return ui.Change{}, false, fmt.Errorf("load reminder %s: %w", item.ReminderID, err)
	}
	change := ui.Change{Reminder: reminder}

	switch payload.Mode {
	case ui.ChangeAlertAdded:
		alert, err := f.store.LookupAlert(ctx, item.AlertID)
		if errors.Is(err, store.ErrNotFound) {
			return ui.Change{}, false, nil
		}
		if err != nil {
			return ui.Change{}, false, fmt.Errorf("load alert %s: %w", item.AlertID, err)
		}
		change.Alert = &alert
	case ui.ChangeAlertDeleted:
		if item.DueAt != nil {
			change.Alert = &db.Alert{ID: item.AlertID, ReminderID: item.ReminderID, DueAt: *item.DueAt}
		}
	}
	return change, true, nil
}
