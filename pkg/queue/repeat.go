package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/logger"
	"gorm.io/gorm"
)

// RepeatSpec describes a recurring registration: either a fixed interval or
// a 5-field cron expression evaluated in UTC.
type RepeatSpec struct {
	Every time.Duration
	Cron  string
}

func (s RepeatSpec) validate() error {
	hasEvery := s.Every > 0
	hasCron := strings.TrimSpace(s.Cron) != ""
	if hasEvery == hasCron {
		return ErrInvalidRepeat
	}
	if hasCron {
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRepeat, err)
		}
	}
	return nil
}

// next returns the first run strictly after t.
func (s RepeatSpec) next(t time.Time) (time.Time, error) {
	if s.Every > 0 {
		return t.Add(s.Every).Truncate(time.Second), nil
	}
	schedule, err := cron.ParseStandard(s.Cron)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(t.UTC()), nil
}

func (s RepeatSpec) matches(row db.RepeatingJob) bool {
	return row.EveryMs == s.Every.Milliseconds() && row.Cron == strings.TrimSpace(s.Cron)
}

func specOf(row db.RepeatingJob) RepeatSpec {
	return RepeatSpec{Every: time.Duration(row.EveryMs) * time.Millisecond, Cron: row.Cron}
}

// Repeat persists a recurring registration for jobType. Each time it comes
// due, a one-off job of the same type is scheduled with the given payload.
//
// Registering again with an unchanged spec keeps the stored next run, so
// restarts neither skip nor reset the cadence. Interval registrations first
// run immediately; cron registrations first run at the next matching minute.
func (q *Queue) Repeat(ctx context.Context, jobType string, payload any, spec RepeatSpec) error {
	if strings.TrimSpace(jobType) == "" {
		return ErrInvalidJob
	}
	if err := spec.validate(); err != nil {
		return err
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}
	now := q.now()

	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing db.RepeatingJob
		err := tx.Where("job_type = ?", jobType).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			first := now
			if spec.Cron != "" {
				if first, err = spec.next(now); err != nil {
					return err
				}
			}
			return tx.Create(&db.RepeatingJob{
				JobType:   jobType,
				Payload:   raw,
				EveryMs:   spec.Every.Milliseconds(),
				Cron:      strings.TrimSpace(spec.Cron),
				NextRunAt: first,
			}).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]any{"payload": raw}
		if !spec.matches(existing) {
			next, err := spec.next(now)
			if err != nil {
				return err
			}
			updates["every_ms"] = spec.Every.Milliseconds()
			updates["cron"] = strings.TrimSpace(spec.Cron)
			updates["next_run_at"] = next
		}
		return tx.Model(&existing).Updates(updates).Error
	})
}

// Unrepeat removes a recurring registration.
func (q *Queue) Unrepeat(ctx context.Context, jobType string) error {
	return q.db.WithContext(ctx).Where("job_type = ?", jobType).Delete(&db.RepeatingJob{}).Error
}

// promoteRepeats turns every due registration into a one-off job. Advancing
// next_run_at is conditional on the value that was read, so when several
// processes poll at once only one of them enqueues the run.
func (q *Queue) promoteRepeats(ctx context.Context) error {
	now := q.now()
	var due []db.RepeatingJob
	if err := q.db.WithContext(ctx).Where("next_run_at <= ?", now).Find(&due).Error; err != nil {
		return err
	}

	for _, row := range due {
		next, err := specOf(row).next(now)
		if err != nil {
			logger.Error("invalid repeating job spec", "job_type", row.JobType, "cron", row.Cron, "error", err)
			continue
		}
		res := q.db.WithContext(ctx).Model(&db.RepeatingJob{}).
			Where("id = ? AND next_run_at = ?", row.ID, row.NextRunAt).
			Update("next_run_at", next)
		if res.Error != nil {
			logger.Error("failed to advance repeating job", "job_type", row.JobType, "error", res.Error)
			continue
		}
		if res.RowsAffected != 1 {
			continue
		}

		key := row.JobType + "@" + row.NextRunAt.UTC().Format(time.RFC3339)
		if err := q.Schedule(ctx, row.JobType, key, json.RawMessage(row.Payload), now); err != nil {
			logger.Error("failed to enqueue repeating job", "job_type", row.JobType, "error", err)
		}
	}
	return nil
}
