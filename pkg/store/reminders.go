package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smith3v/family-reminders/pkg/db"
	"gorm.io/gorm"
)

var (
	ErrEmptyOwner       = errors.New("owner user id is required")
	ErrEmptyText        = errors.New("reminder text is required")
	ErrScheduleMismatch = errors.New("schedule must be set exactly when the reminder is recurring")
)

type NewReminder struct {
	OwnerUserID string
	Text        string
	DueAt       time.Time
	Recurring   bool
	Schedule    *string
}

func (r NewReminder) validate() error {
	if strings.TrimSpace(r.OwnerUserID) == "" {
		return ErrEmptyOwner
	}
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	hasSchedule := r.Schedule != nil && strings.TrimSpace(*r.Schedule) != ""
	if hasSchedule != r.Recurring {
		return ErrScheduleMismatch
	}
	return nil
}

func (s *Store) CreateReminder(ctx context.Context, in NewReminder) (db.Reminder, error) {
	if err := in.validate(); err != nil {
		return db.Reminder{}, err
	}
	reminder := db.Reminder{
		ID:          NewID(),
		OwnerUserID: in.OwnerUserID,
		Text:        strings.TrimSpace(in.Text),
		DueAt:       normalize(in.DueAt),
		Recurring:   in.Recurring,
	}
	if in.Recurring {
		schedule := strings.TrimSpace(*in.Schedule)
		reminder.Schedule = &schedule
	}
	if err := s.db.WithContext(ctx).Create(&reminder).Error; err != nil {
		return db.Reminder{}, fmt.Errorf("create reminder: %w", err)
	}
	return reminder, nil
}

// GetReminder loads a reminder owned by ownerID.
func (s *Store) GetReminder(ctx context.Context, ownerID, id string) (db.Reminder, error) {
	var reminder db.Reminder
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_user_id = ?", id, ownerID).
		First(&reminder).Error
	if notFound(err) {
		return db.Reminder{}, ErrNotFound
	}
	return reminder, err
}

// LookupReminder loads a reminder regardless of owner. It is meant for
// background jobs that re-read state at fire time.
func (s *Store) LookupReminder(ctx context.Context, id string) (db.Reminder, error) {
	var reminder db.Reminder
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&reminder).Error
	if notFound(err) {
		return db.Reminder{}, ErrNotFound
	}
	return reminder, err
}

// UpdateReminderText reports false when the reminder does not exist for ownerID.
func (s *Store) UpdateReminderText(ctx context.Context, ownerID, id, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, ErrEmptyText
	}
	res := s.db.WithContext(ctx).Model(&db.Reminder{}).
		Where("id = ? AND owner_user_id = ?", id, ownerID).
		Updates(map[string]any{"text": text, "updated_at": s.clock()})
	if res.Error != nil {
		return false, fmt.Errorf("update reminder text: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkComplete moves an active reminder to completed and cancels the fire
// jobs of its pending alerts.
func (s *Store) MarkComplete(ctx context.Context, ownerID, id string) (bool, error) {
	now := s.clock()
	res := s.db.WithContext(ctx).Model(&db.Reminder{}).
		Where("id = ? AND owner_user_id = ? AND completed = ?", id, ownerID, false).
		Updates(map[string]any{"completed": true, "next_due_at": nil, "updated_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("mark reminder complete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	var pending []string
	if err := s.db.WithContext(ctx).Model(&db.Alert{}).
		Where("reminder_id = ? AND due_at > ?", id, now).
		Pluck("id", &pending).Error; err != nil {
		return true, fmt.Errorf("list pending alerts: %w", err)
	}
	s.cancelAlerts(ctx, pending)
	return true, nil
}

// DeleteReminder removes the reminder and all of its alerts, then cancels the
// alerts' fire jobs. It returns the deleted row, or nil when nothing matched.
func (s *Store) DeleteReminder(ctx context.Context, ownerID, id string) (*db.Reminder, error) {
	var (
		deleted  db.Reminder
		alertIDs []string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND owner_user_id = ?", id, ownerID).First(&deleted).Error; err != nil {
			return err
		}
		if err := tx.Model(&db.Alert{}).Where("reminder_id = ?", id).Pluck("id", &alertIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("reminder_id = ?", id).Delete(&db.Alert{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND owner_user_id = ?", id, ownerID).Delete(&db.Reminder{}).Error
	})
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete reminder: %w", err)
	}
	s.cancelAlerts(ctx, alertIDs)
	return &deleted, nil
}

// ListActiveRecurringReminders returns recurring reminders that are neither
// completed nor past the end of their series.
func (s *Store) ListActiveRecurringReminders(ctx context.Context) ([]db.Reminder, error) {
	var reminders []db.Reminder
	err := s.db.WithContext(ctx).
		Where("recurring = ? AND completed = ? AND due_at > ?", true, false, s.clock()).
		Order("id ASC").
		Find(&reminders).Error
	return reminders, err
}

// CompleteOverdue marks every active reminder whose due_at has passed as
// completed. Recurring reminders are included only when includeRecurring is set.
func (s *Store) CompleteOverdue(ctx context.Context, includeRecurring bool) (int64, error) {
	now := s.clock()
	query := s.db.WithContext(ctx).Model(&db.Reminder{}).
		Where("completed = ? AND due_at <= ?", false, now)
	if !includeRecurring {
		query = query.Where("recurring = ?", false)
	}
	res := query.Updates(map[string]any{"completed": true, "next_due_at": nil, "updated_at": now})
	return res.RowsAffected, res.Error
}

// RefreshNextDueAt recomputes next_due_at from the reminder's pending alerts.
func (s *Store) RefreshNextDueAt(ctx context.Context, reminderID string) error {
	return refreshNextDueAt(s.db.WithContext(ctx), reminderID, s.clock())
}

func refreshNextDueAt(tx *gorm.DB, reminderID string, now time.Time) error {
	return tx.Exec(`
UPDATE reminders
SET next_due_at = (
  SELECT MIN(alerts.due_at) FROM alerts
  WHERE alerts.reminder_id = ? AND alerts.due_at > ?
)
WHERE id = ?`, reminderID, now, reminderID).Error
}
