package store

import (
	"context"
	"fmt"
	"time"

	"github.com/smith3v/family-reminders/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateAlert records an alert for an active reminder owned by ownerID.
//
// It is a no-op when dueAt is not in the future or the reminder is missing,
// owned by someone else, or completed. Creating an alert for an instant that
// already exists returns the existing row with created=false.
func (s *Store) CreateAlert(ctx context.Context, ownerID, reminderID string, dueAt time.Time) (db.Alert, bool, error) {
	now := s.clock()
	dueAt = normalize(dueAt)
	if !dueAt.After(now) {
		return db.Alert{}, false, nil
	}

	var (
		alert   db.Alert
		created bool
		exists  bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reminder db.Reminder
		err := tx.Where("id = ? AND owner_user_id = ? AND completed = ?", reminderID, ownerID, false).
			First(&reminder).Error
		if notFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true

		alert = db.Alert{
			ID:          NewID(),
			ReminderID:  reminderID,
			OwnerUserID: ownerID,
			DueAt:       dueAt,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reminder_id"}, {Name: "due_at"}},
			DoNothing: true,
		}).Create(&alert)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var existing db.Alert
			if err := tx.Where("reminder_id = ? AND due_at = ?", reminderID, dueAt).First(&existing).Error; err != nil {
				return err
			}
			alert = existing
			return nil
		}
		created = true
		return refreshNextDueAt(tx, reminderID, now)
	})
	if err != nil {
		return db.Alert{}, false, fmt.Errorf("create alert: %w", err)
	}
	if !exists {
		return db.Alert{}, false, nil
	}
	return alert, created, nil
}

// DeleteAlert removes an alert owned by ownerID and cancels its fire job.
// It returns nil when nothing matched.
func (s *Store) DeleteAlert(ctx context.Context, ownerID, alertID string) (*db.Alert, error) {
	var alert db.Alert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND owner_user_id = ?", alertID, ownerID).First(&alert).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", alertID).Delete(&db.Alert{}).Error; err != nil {
			return err
		}
		return refreshNextDueAt(tx, alert.ReminderID, s.clock())
	})
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete alert: %w", err)
	}
	s.cancelAlerts(ctx, []string{alertID})
	return &alert, nil
}

// LookupAlert loads an alert regardless of owner.
func (s *Store) LookupAlert(ctx context.Context, id string) (db.Alert, error) {
	var alert db.Alert
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&alert).Error
	if notFound(err) {
		return db.Alert{}, ErrNotFound
	}
	return alert, err
}

// ListAlertsDueBetween returns alerts with from <= due_at < to whose
// reminder is still active, ordered by due time.
func (s *Store) ListAlertsDueBetween(ctx context.Context, from, to time.Time) ([]db.Alert, error) {
	var alerts []db.Alert
	err := s.db.WithContext(ctx).
		Joins("JOIN reminders ON reminders.id = alerts.reminder_id").
		Where("alerts.due_at >= ? AND alerts.due_at < ?", normalize(from), normalize(to)).
		Where("reminders.completed = ?", false).
		Order("alerts.due_at ASC, alerts.id ASC").
		Find(&alerts).Error
	return alerts, err
}

// ListReminderAlertsFrom returns the alerts of one reminder due at or after from.
func (s *Store) ListReminderAlertsFrom(ctx context.Context, reminderID string, from time.Time) ([]db.Alert, error) {
	var alerts []db.Alert
	err := s.db.WithContext(ctx).
		Where("reminder_id = ? AND due_at >= ?", reminderID, normalize(from)).
		Order("due_at ASC").
		Find(&alerts).Error
	return alerts, err
}

// DeleteAlertsBefore removes alerts that fired before cutoff.
func (s *Store) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("due_at < ?", normalize(cutoff)).Delete(&db.Alert{})
	return res.RowsAffected, res.Error
}
