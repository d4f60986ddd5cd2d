package schedule

import (
	"context"

	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/queue"
)

const FireJobType = "alert:fire"

type FirePayload struct {
	AlertID    string `json:"alert_id"`
	ReminderID string `json:"reminder_id"`
}

// AlertJobs keys one fire job per alert id in the job queue, so arming the
// same alert twice replaces the pending job instead of adding another.
type AlertJobs struct {
	queue *queue.Queue
}

func NewAlertJobs(q *queue.Queue) *AlertJobs {
	return &AlertJobs{queue: q}
}

func (j *AlertJobs) Arm(ctx context.Context, alert db.Alert) error {
	payload := FirePayload{AlertID: alert.ID, ReminderID: alert.ReminderID}
	return j.queue.Schedule(ctx, FireJobType, alert.ID, payload, alert.DueAt)
}

func (j *AlertJobs) CancelAlert(ctx context.Context, alertID string) error {
	return j.queue.Cancel(ctx, FireJobType, alertID)
}
