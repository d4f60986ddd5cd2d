// Package sweep holds the periodic safety-net jobs that reconcile queued work
// with the store: re-arming alerts after downtime, expanding recurring
// reminders, completing overdue reminders and purging old alerts.
package sweep

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
)

const (
	RearmJobType        = "sweep:rearm"
	ExpandJobType       = "sweep:expand"
	AutoCompleteJobType = "sweep:autocomplete"
	RetentionJobType    = "sweep:retention"

	// ReminderExpandJobType expands a single recurring reminder.
	ReminderExpandJobType = "reminder:expand"
)

type Options struct {
	RearmWindow           time.Duration
	RearmEvery            time.Duration
	ExpansionCron         string
	AutoCompleteCron      string
	RetentionCron         string
	AlertRetention        time.Duration
	AutoCompleteRecurring bool
	Now                   func() time.Time
}

func (o Options) withDefaults() Options {
	if o.RearmWindow <= 0 {
		o.RearmWindow = 10 * time.Hour
	}
	if o.RearmEvery <= 0 {
		o.RearmEvery = 10 * time.Hour
	}
	if o.ExpansionCron == "" {
		o.ExpansionCron = "0 0 * * *"
	}
	if o.AutoCompleteCron == "" {
		o.AutoCompleteCron = "30 0 * * *"
	}
	if o.RetentionCron == "" {
		o.RetentionCron = "0 4 * * *"
	}
	if o.AlertRetention <= 0 {
		o.AlertRetention = 30 * 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Sweeper struct {
	store     *store.Store
	queue     *queue.Queue
	scheduler *schedule.Scheduler
	alerts    *schedule.AlertJobs
	opts      Options
}

func New(st *store.Store, q *queue.Queue, scheduler *schedule.Scheduler, alerts *schedule.AlertJobs, opts Options) *Sweeper {
	return &Sweeper{store: st, queue: q, scheduler: scheduler, alerts: alerts, opts: opts.withDefaults()}
}

// ExpandPayload identifies the reminder a reminder:expand job works on.
type ExpandPayload struct {
	ReminderID  string `json:"reminder_id"`
	OwnerUserID string `json:"owner_user_id"`
}

// Register installs the sweep handlers and their repeat registrations.
func (s *Sweeper) Register(ctx context.Context) error {
	s.queue.Process(RearmJobType, func(ctx context.Context, _ queue.Job) error {
		_, err := s.Rearm(ctx)
		return err
	})
	s.queue.Process(ExpandJobType, func(ctx context.Context, _ queue.Job) error {
		_, err := s.EnqueueExpansions(ctx)
		return err
	})
	s.queue.Process(AutoCompleteJobType, func(ctx context.Context, _ queue.Job) error {
		_, err := s.AutoComplete(ctx)
		return err
	})
	s.queue.Process(RetentionJobType, func(ctx context.Context, _ queue.Job) error {
		_, err := s.PurgeAlerts(ctx)
		return err
	})
	s.queue.Process(ReminderExpandJobType, s.HandleExpand)

	repeats := []struct {
		jobType string
		spec    queue.RepeatSpec
	}{
		{RearmJobType, queue.RepeatSpec{Every: s.opts.RearmEvery}},
		{ExpandJobType, queue.RepeatSpec{Cron: s.opts.ExpansionCron}},
		{AutoCompleteJobType, queue.RepeatSpec{Cron: s.opts.AutoCompleteCron}},
		{RetentionJobType, queue.RepeatSpec{Cron: s.opts.RetentionCron}},
	}
	var errs []error
	for _, r := range repeats {
		if err := s.queue.Repeat(ctx, r.jobType, nil, r.spec); err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", r.jobType, err))
		}
	}
	return errors.Join(errs...)
}

// Rearm schedules a fire job for every active alert due within the rearm
// window. Fire jobs are keyed by alert id, so running it repeatedly never
// produces a second job for the same alert.
func (s *Sweeper) Rearm(ctx context.Context) (int, error) {
	now := s.opts.Now().UTC()
	alerts, err := s.store.ListAlertsDueBetween(ctx, now, now.Add(s.opts.RearmWindow))
	if err != nil {
		return 0, fmt.Errorf("list due alerts: %w", err)
	}
	armed := 0
	for _, alert := range alerts {
		if err := s.alerts.Arm(ctx, alert); err != nil {
			logger.Error("failed to re-arm alert", "alert_id", alert.ID, "reminder_id", alert.ReminderID, "error", err)
			continue
		}
		armed++
	}
	logger.Info("alert rearm sweep finished", "alerts", len(alerts), "armed", armed)
	return armed, nil
}

// EnqueueExpansions queues one reminder:expand job per active recurring
// reminder. The key is stable per reminder so an expansion still waiting from
// a previous run is replaced rather than duplicated.
func (s *Sweeper) EnqueueExpansions(ctx context.Context) (int, error) {
	reminders, err := s.store.ListActiveRecurringReminders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list recurring reminders: %w", err)
	}
	now := s.opts.Now().UTC()
	queued := 0
	for _, r := range reminders {
		payload := ExpandPayload{ReminderID: r.ID, OwnerUserID: r.OwnerUserID}
		if err := s.queue.Schedule(ctx, ReminderExpandJobType, expandKey(r), payload, now); err != nil {
			logger.Error("failed to queue expansion", "reminder_id", r.ID, "user_id", r.OwnerUserID, "error", err)
			continue
		}
		queued++
	}
	logger.Info("expansion sweep finished", "reminders", len(reminders), "queued", queued)
	return queued, nil
}

func expandKey(r db.Reminder) string {
	return r.ID + ":" + r.OwnerUserID
}

// HandleExpand runs the recurring expansion for one reminder. A schedule
// that cannot be evaluated skips the reminder until the next sweep.
func (s *Sweeper) HandleExpand(ctx context.Context, job queue.Job) error {
	var payload ExpandPayload
	if err := job.Decode(&payload); err != nil {
		logger.Error("dropping malformed expansion job", "key", job.Key, "error", err)
		return nil
	}
	reminder, err := s.store.LookupReminder(ctx, payload.ReminderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if reminder.OwnerUserID != payload.OwnerUserID {
		return nil
	}

	created, err := s.scheduler.ExpandRecurring(ctx, reminder)
	if errors.Is(err, schedule.ErrInvalidSchedule) {
		logger.Error("skipping reminder with invalid schedule", "reminder_id", reminder.ID, "user_id", reminder.OwnerUserID, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("expand reminder %s: %w", reminder.ID, err)
	}
	if len(created) > 0 {
		logger.Debug("expanded reminder", "reminder_id", reminder.ID, "alerts", len(created))
	}
	return nil
}

// AutoComplete marks overdue reminders complete. Recurring series are only
// included when configured.
func (s *Sweeper) AutoComplete(ctx context.Context) (int64, error) {
	n, err := s.store.CompleteOverdue(ctx, s.opts.AutoCompleteRecurring)
	if err != nil {
		return 0, fmt.Errorf("complete overdue reminders: %w", err)
	}
	if n > 0 {
		logger.Info("auto-completed overdue reminders", "count", n)
	}
	return n, nil
}

// PurgeAlerts deletes alerts that fired longer ago than the retention period.
func (s *Sweeper) PurgeAlerts(ctx context.Context) (int64, error) {
	cutoff := s.opts.Now().UTC().Add(-s.opts.AlertRetention)
	n, err := s.store.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge alerts: %w", err)
	}
	if n > 0 {
		logger.Info("purged fired alerts", "count", n, "before", cutoff)
	}
	return n, nil
}
