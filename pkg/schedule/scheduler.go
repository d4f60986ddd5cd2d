// Package schedule decides when alerts fire. It evaluates cron schedules in a
// user's fixed UTC offset, turns user-supplied timestamps into absolute
// instants and expands recurring reminders into a bounded window of alerts.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/logger"
	"github.com/smith3v/family-reminders/pkg/store"
)

// Suggester proposes alert times for a recurring reminder whose schedule
// is not a cron expression, for instance free text the upstream parser could
// not translate.
type Suggester interface {
	SuggestAlertTimes(ctx context.Context, reminder db.Reminder, from, to time.Time) ([]time.Time, error)
}

type Options struct {
	Horizon   time.Duration
	MaxPerDay int
	Now       func() time.Time
}

type Scheduler struct {
	store     *store.Store
	jobs      *AlertJobs
	suggester Suggester
	opts      Options
}

func NewScheduler(st *store.Store, jobs *AlertJobs, suggester Suggester, opts Options) *Scheduler {
	if opts.Horizon <= 0 {
		opts.Horizon = 7 * 24 * time.Hour
	}
	if opts.MaxPerDay <= 0 {
		opts.MaxPerDay = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{store: st, jobs: jobs, suggester: suggester, opts: opts}
}

func (s *Scheduler) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Second)
}

func (s *Scheduler) offset(ctx context.Context, userID string) (int, error) {
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load profile: %w", err)
	}
	return profile.TimezoneOffsetSeconds, nil
}

// Resolve converts a timestamp given on behalf of userID to an absolute instant.
func (s *Scheduler) Resolve(ctx context.Context, userID, value string) (time.Time, error) {
	offset, err := s.offset(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	return ParseLocal(value, offset)
}

// AddAlert stores one absolute alert time and arms its fire job. A zero
// Alert with created=false means the time was rejected or already present.
func (s *Scheduler) AddAlert(ctx context.Context, reminder db.Reminder, at time.Time) (db.Alert, bool, error) {
	alert, created, err := s.store.CreateAlert(ctx, reminder.OwnerUserID, reminder.ID, at)
	if err != nil {
		return db.Alert{}, false, err
	}
	if alert.ID == "" {
		return alert, false, nil
	}
	if err := s.jobs.Arm(ctx, alert); err != nil {
		return alert, created, fmt.Errorf("arm alert %s: %w", alert.ID, err)
	}
	return alert, created, nil
}

// ScheduleOneShot creates alerts for candidate timestamps written on the
// owner's wall clock. Duplicate and past candidates are absorbed; only newly
// created alerts are returned.
func (s *Scheduler) ScheduleOneShot(ctx context.Context, reminder db.Reminder, candidates []string) ([]db.Alert, error) {
	offset, err := s.offset(ctx, reminder.OwnerUserID)
	if err != nil {
		return nil, err
	}

	var (
		created []db.Alert
		errs    []error
	)
	for _, candidate := range candidates {
		at, err := ParseLocal(candidate, offset)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		alert, isNew, err := s.AddAlert(ctx, reminder, at)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if isNew {
			created = append(created, alert)
		}
	}
	return created, errors.Join(errs...)
}

// ExpandRecurring creates the alerts of a recurring reminder between now and
// the end of the horizon, stopping at the end of the series (due_at). At most
// MaxPerDay alerts exist per reminder on each of the owner's calendar days,
// counting alerts created earlier.
func (s *Scheduler) ExpandRecurring(ctx context.Context, reminder db.Reminder) ([]db.Alert, error) {
	if !reminder.Recurring || reminder.Completed {
		return nil, nil
	}
	now := s.now()
	end := now.Add(s.opts.Horizon)
	if seriesEnd := reminder.DueAt.Add(time.Second); seriesEnd.Before(end) {
		end = seriesEnd
	}
	if !end.After(now) {
		return nil, nil
	}

	offset, err := s.offset(ctx, reminder.OwnerUserID)
	if err != nil {
		return nil, err
	}
	occurrences, err := s.occurrences(ctx, reminder, now, end, offset)
	if err != nil {
		return nil, err
	}

	// Alerts earlier today still count towards today's cap.
	existing, err := s.store.ListReminderAlertsFrom(ctx, reminder.ID, startOfDay(now, offset))
	if err != nil {
		return nil, fmt.Errorf("list existing alerts: %w", err)
	}
	taken := make(map[int64]bool, len(existing))
	perDay := make(map[string]int)
	for _, a := range existing {
		taken[a.DueAt.Unix()] = true
		perDay[dayKey(a.DueAt, offset)]++
	}

	var created []db.Alert
	for _, at := range occurrences {
		if taken[at.Unix()] {
			continue
		}
		day := dayKey(at, offset)
		if perDay[day] >= s.opts.MaxPerDay {
			continue
		}
		alert, isNew, err := s.AddAlert(ctx, reminder, at)
		if err != nil {
			return created, err
		}
		taken[at.Unix()] = true
		if isNew {
			perDay[day]++
			created = append(created, alert)
		}
	}
	if len(created) > 0 {
		logger.Debug("expanded recurring reminder", "reminder_id", reminder.ID, "user_id", reminder.OwnerUserID, "alerts", len(created))
	}
	return created, nil
}

// HasSuggester reports whether schedules that are not valid cron can still
// be expanded.
func (s *Scheduler) HasSuggester() bool {
	return s.suggester != nil
}

// occurrences evaluates the reminder's cron schedule. A schedule that is not
// machine-readable falls back to the suggester when one is configured.
func (s *Scheduler) occurrences(ctx context.Context, reminder db.Reminder, from, to time.Time, offset int) ([]time.Time, error) {
	var expr string
	if reminder.Schedule != nil {
		expr = *reminder.Schedule
	}
	occurrences, err := NextOccurrences(expr, from, to, offset)
	if err == nil || s.suggester == nil {
		return occurrences, err
	}

	suggested, err := s.suggester.SuggestAlertTimes(ctx, reminder, from, to)
	if err != nil {
		return nil, fmt.Errorf("suggest alert times: %w", err)
	}
	out := make([]time.Time, 0, len(suggested))
	for _, t := range suggested {
		t = t.UTC().Truncate(time.Second)
		if t.Before(from) || !t.Before(to) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}
