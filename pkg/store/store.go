// Package store is the durable source of truth for reminders, alerts,
// family relations and user profiles. Every write is scoped by the owning
// user; a row that is missing or owned by someone else is reported the same
// way so callers cannot probe for existence.
package store

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/smith3v/family-reminders/pkg/logger"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not found")

// AlertCanceller drops the pending fire job of an alert.
type AlertCanceller interface {
	CancelAlert(ctx context.Context, alertID string) error
}

type Store struct {
	db        *gorm.DB
	now       func() time.Time
	canceller AlertCanceller
}

func New(gdb *gorm.DB, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: gdb, now: now}
}

// SetCanceller wires the job queue in after construction; the queue's fire
// handler itself depends on the store.
func (s *Store) SetCanceller(c AlertCanceller) {
	s.canceller = c
}

// NewID returns a 22 character URL-safe id. Short ids keep button tokens such
// as "reminder:snooze:<id>:<alert_id>" inside Telegram's 64 byte limit.
func NewID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func (s *Store) clock() time.Time {
	return normalize(s.now())
}

func (s *Store) cancelAlerts(ctx context.Context, alertIDs []string) {
	if s.canceller == nil {
		return
	}
	for _, id := range alertIDs {
		if err := s.canceller.CancelAlert(ctx, id); err != nil {
			logger.Warn("failed to cancel alert job", "alert_id", id, "error", err)
		}
	}
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
