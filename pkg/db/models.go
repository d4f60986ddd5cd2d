package db

import (
	"time"

	"gorm.io/datatypes"
)

// Reminder.DueAt is the single due time of a one-off reminder and the end of
// the series for a recurring one. NextDueAt tracks the earliest pending alert.
type Reminder struct {
	ID          string    `gorm:"primaryKey;size:32"`
	OwnerUserID string    `gorm:"size:64;not null;index:idx_reminder_owner"`
	Text        string    `gorm:"type:text;not null"`
	DueAt       time.Time `gorm:"not null;index"`
	NextDueAt   *time.Time
	Recurring   bool    `gorm:"not null;default:false"`
	Schedule    *string `gorm:"size:128"`
	Completed   bool    `gorm:"not null;default:false;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Alerts []Alert `gorm:"foreignKey:ReminderID;constraint:OnDelete:CASCADE"`
}

type Alert struct {
	ID          string    `gorm:"primaryKey;size:32"`
	ReminderID  string    `gorm:"size:32;not null;uniqueIndex:idx_alert_reminder_due,priority:1"`
	OwnerUserID string    `gorm:"size:64;not null;index"`
	DueAt       time.Time `gorm:"not null;uniqueIndex:idx_alert_reminder_due,priority:2;index:idx_alert_due"`
	CreatedAt   time.Time
}

// FamilyRelation stores an unordered pair normalized so that UserA < UserB.
type FamilyRelation struct {
	ID        uint   `gorm:"primaryKey"`
	UserA     string `gorm:"size:64;not null;uniqueIndex:idx_family_pair,priority:1"`
	UserB     string `gorm:"size:64;not null;uniqueIndex:idx_family_pair,priority:2;index"`
	CreatedAt time.Time
}

// UserProfile holds per-user delivery addresses. WhatsAppID is only stored
// and served back through the API; delivery to it belongs to an external
// gateway that reads profiles, since no WhatsApp notify.Channel ships here.
type UserProfile struct {
	UserID                string  `gorm:"primaryKey;size:64"`
	TimezoneOffsetSeconds int     `gorm:"not null;default:0"`
	TelegramChatID        *int64  `gorm:"uniqueIndex"`
	WhatsAppID            *string `gorm:"size:64"`
	Email                 *string `gorm:"size:255"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ScheduledJob is a persisted delayed job. At most one row exists per
// (job_type, key); LockToken is set while a worker owns the row.
type ScheduledJob struct {
	ID                uint           `gorm:"primaryKey"`
	JobType           string         `gorm:"size:64;not null;uniqueIndex:idx_job_type_key,priority:1"`
	Key               string         `gorm:"size:191;not null;uniqueIndex:idx_job_type_key,priority:2"`
	Payload           datatypes.JSON `gorm:"not null"`
	RunAt             time.Time      `gorm:"not null;index"`
	AttemptsRemaining int            `gorm:"not null;default:2"`
	LockToken         *string        `gorm:"size:64"`
	LockedUntil       *time.Time
	LastError         string `gorm:"type:text;not null;default:''"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RepeatingJob is a persisted recurring registration; exactly one of EveryMs
// and Cron is set.
type RepeatingJob struct {
	ID        uint           `gorm:"primaryKey"`
	JobType   string         `gorm:"size:64;not null;uniqueIndex"`
	Payload   datatypes.JSON `gorm:"not null"`
	EveryMs   int64          `gorm:"not null;default:0"`
	Cron      string         `gorm:"size:128;not null;default:''"`
	NextRunAt time.Time      `gorm:"not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func AllModels() []any {
	return []any{
		&Reminder{},
		&Alert{},
		&FamilyRelation{},
		&UserProfile{},
		&ScheduledJob{},
		&RepeatingJob{},
	}
}
