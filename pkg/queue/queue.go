// Package queue is a persisted delayed-job queue. Jobs live in the
// scheduled_jobs table so they survive restarts, and any number of workers
// may poll the same table: a job is claimed with a conditional update that
// only one worker can win.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNoHandler     = errors.New("no handler registered for job type")
	ErrInvalidJob    = errors.New("job type and key are required")
	ErrInvalidRepeat = errors.New("repeat needs exactly one of Every or Cron")
)

type Job struct {
	ID                uint
	Type              string
	Key               string
	Payload           json.RawMessage
	RunAt             time.Time
	AttemptsRemaining int
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

// Handler runs one job. Returning an error consumes an attempt.
type Handler func(ctx context.Context, job Job) error

type Options struct {
	PollInterval time.Duration
	Workers      int
	Attempts     int
	RetryBackoff time.Duration
	LockTimeout  time.Duration
	BatchSize    int
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.Attempts <= 0 {
		o.Attempts = 2
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 5 * time.Minute
	}
	if o.BatchSize <= 0 {
		o.BatchSize = o.Workers * 4
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Queue struct {
	db   *gorm.DB
	opts Options

	mu       sync.RWMutex
	handlers map[string]Handler
}

func New(gdb *gorm.DB, opts Options) *Queue {
	return &Queue{
		db:       gdb,
		opts:     opts.withDefaults(),
		handlers: make(map[string]Handler),
	}
}

func (q *Queue) now() time.Time {
	return q.opts.Now().UTC().Truncate(time.Second)
}

// Process registers the handler for jobType. Only job types with a handler
// are claimed by this process.
func (q *Queue) Process(jobType string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

func (q *Queue) handler(jobType string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

func (q *Queue) jobTypes() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	types := make([]string, 0, len(q.handlers))
	for t := range q.handlers {
		types = append(types, t)
	}
	return types
}

type scheduleSettings struct {
	attempts int
}

type ScheduleOption func(*scheduleSettings)

// WithAttempts overrides the attempt budget of one job.
func WithAttempts(n int) ScheduleOption {
	return func(s *scheduleSettings) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// Schedule stores a job to run at runAt. A pending job with the same type and
// key is replaced, including its payload, run time and attempt budget. A
// runAt in the past makes the job due on the next poll. Replacing a job that
// is currently running drops the runner's token but keeps locked_until, so
// the new run cannot start until the current one has ended.
func (q *Queue) Schedule(ctx context.Context, jobType, key string, payload any, runAt time.Time, opts ...ScheduleOption) error {
	if strings.TrimSpace(jobType) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidJob
	}
	settings := scheduleSettings{attempts: q.opts.Attempts}
	for _, opt := range opts {
		opt(&settings)
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}

	job := db.ScheduledJob{
		JobType:           jobType,
		Key:               key,
		Payload:           raw,
		RunAt:             runAt.UTC().Truncate(time.Second),
		AttemptsRemaining: settings.attempts,
	}
	err = q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_type"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"payload",
			"run_at",
			"attempts_remaining",
			"lock_token",
			"last_error",
			"updated_at",
		}),
	}).Create(&job).Error
	if err != nil {
		return fmt.Errorf("schedule %s/%s: %w", jobType, key, err)
	}
	logger.Debug("job scheduled", "job_type", jobType, "key", key, "run_at", job.RunAt)
	return nil
}

// Cancel removes the pending job for (jobType, key). Cancelling a job that
// does not exist is not an error.
func (q *Queue) Cancel(ctx context.Context, jobType, key string) error {
	err := q.db.WithContext(ctx).
		Where("job_type = ? AND key = ?", jobType, key).
		Delete(&db.ScheduledJob{}).Error
	if err != nil {
		return fmt.Errorf("cancel %s/%s: %w", jobType, key, err)
	}
	return nil
}

// Pending lists the stored jobs of one type ordered by run time.
func (q *Queue) Pending(ctx context.Context, jobType string) ([]Job, error) {
	var rows []db.ScheduledJob
	if err := q.db.WithContext(ctx).
		Where("job_type = ?", jobType).
		Order("run_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, toJob(row))
	}
	return jobs, nil
}

func encodePayload(payload any) (datatypes.JSON, error) {
	if payload == nil {
		return datatypes.JSON("{}"), nil
	}
	switch raw := payload.(type) {
	case json.RawMessage:
		return datatypes.JSON(raw), nil
	case datatypes.JSON:
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func toJob(row db.ScheduledJob) Job {
	return Job{
		ID:                row.ID,
		Type:              row.JobType,
		Key:               row.Key,
		Payload:           json.RawMessage(row.Payload),
		RunAt:             row.RunAt,
		AttemptsRemaining: row.AttemptsRemaining,
	}
}
