package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/logger"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Run polls for due jobs until ctx is cancelled, executing at most
// Options.Workers handlers at a time. In-flight handlers are awaited before
// Run returns.
func (q *Queue) Run(ctx context.Context) {
	var group errgroup.Group
	group.SetLimit(q.opts.Workers)

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	logger.Info("job queue started", "workers", q.opts.Workers, "poll_interval", q.opts.PollInterval)
	for {
		q.poll(ctx, &group)
		select {
		case <-ctx.Done():
			_ = group.Wait()
			logger.Info("job queue stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunDue performs a single pass: due repeat registrations are enqueued, then
// every due job is claimed and executed. It returns once all claimed jobs
// have finished and reports how many ran.
func (q *Queue) RunDue(ctx context.Context) int {
	var group errgroup.Group
	group.SetLimit(q.opts.Workers)
	n := q.poll(ctx, &group)
	_ = group.Wait()
	return n
}

func (q *Queue) poll(ctx context.Context, group *errgroup.Group) int {
	if ctx.Err() != nil {
		return 0
	}
	if err := q.promoteRepeats(ctx); err != nil {
		logger.Error("failed to enqueue repeating jobs", "error", err)
	}

	jobs, err := q.claimDue(ctx)
	if err != nil {
		logger.Error("failed to claim due jobs", "error", err)
		return 0
	}
	for _, claimed := range jobs {
		claimed := claimed
		group.Go(func() error {
			q.execute(ctx, claimed)
			return nil
		})
	}
	return len(jobs)
}

type claimedJob struct {
	Job
	token string
}

func (q *Queue) claimDue(ctx context.Context) ([]claimedJob, error) {
	types := q.jobTypes()
	if len(types) == 0 {
		return nil, nil
	}
	now := q.now()

	var candidates []db.ScheduledJob
	err := q.db.WithContext(ctx).
		Where("job_type IN ? AND run_at <= ?", types, now).
		Where("locked_until IS NULL OR locked_until < ?", now).
		Order("run_at ASC, id ASC").
		Limit(q.opts.BatchSize).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]claimedJob, 0, len(candidates))
	for _, candidate := range candidates {
		job, ok, err := q.claim(ctx, candidate.ID, now)
		if err != nil {
			logger.Error("failed to claim job", "job_id", candidate.ID, "job_type", candidate.JobType, "key", candidate.Key, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if job.AttemptsRemaining <= 0 {
			logger.Error("job lost its lock too many times, dropping",
				"job_type", job.Type, "key", job.Key)
			q.finish(ctx, job)
			continue
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// claim locks one job row. The conditions are re-checked in the update so a
// job that another worker took, or that was rescheduled into the future,
// is left alone. Taking over an expired lock uses up one attempt.
func (q *Queue) claim(ctx context.Context, id uint, now time.Time) (claimedJob, bool, error) {
	token := uuid.NewString()
	lockedUntil := now.Add(q.opts.LockTimeout)
	res := q.db.WithContext(ctx).Model(&db.ScheduledJob{}).
		Where("id = ? AND run_at <= ?", id, now).
		Where("locked_until IS NULL OR locked_until < ?", now).
		Updates(map[string]any{
			"attempts_remaining": gorm.Expr("CASE WHEN lock_token IS NULL THEN attempts_remaining ELSE attempts_remaining - 1 END"),
			"lock_token":         token,
			"locked_until":       lockedUntil,
		})
	if res.Error != nil {
		return claimedJob{}, false, res.Error
	}
	if res.RowsAffected != 1 {
		return claimedJob{}, false, nil
	}

	var row db.ScheduledJob
	err := q.db.WithContext(ctx).Where("id = ? AND lock_token = ?", id, token).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return claimedJob{}, false, nil
	}
	if err != nil {
		return claimedJob{}, false, err
	}
	return claimedJob{Job: toJob(row), token: token}, true, nil
}

func (q *Queue) execute(ctx context.Context, job claimedJob) {
	handler, ok := q.handler(job.Type)
	var err error
	if !ok {
		err = ErrNoHandler
	} else {
		err = safeCall(ctx, handler, job.Job)
	}

	if err == nil {
		q.finish(ctx, job)
		return
	}
	q.fail(ctx, job, err)
}

func safeCall(ctx context.Context, handler Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

// finish deletes the row only while this worker still owns it; a job
// rescheduled under the same key during execution keeps its new row.
func (q *Queue) finish(ctx context.Context, job claimedJob) {
	res := q.db.WithContext(ctx).
		Where("id = ? AND lock_token = ?", job.ID, job.token).
		Delete(&db.ScheduledJob{})
	if res.Error != nil {
		logger.Error("failed to delete finished job", "job_type", job.Type, "key", job.Key, "error", res.Error)
		return
	}
	if res.RowsAffected == 0 {
		q.release(ctx, job)
	}
}

// release unblocks a row that was rescheduled while job was running.
func (q *Queue) release(ctx context.Context, job claimedJob) {
	err := q.db.WithContext(ctx).Model(&db.ScheduledJob{}).
		Where("id = ? AND lock_token IS NULL", job.ID).
		Update("locked_until", nil).Error
	if err != nil {
		logger.Error("failed to release rescheduled job", "job_type", job.Type, "key", job.Key, "error", err)
	}
}

func (q *Queue) fail(ctx context.Context, job claimedJob, jobErr error) {
	remaining := job.AttemptsRemaining - 1
	if remaining <= 0 {
		logger.Error("job failed permanently, dropping",
			"job_type", job.Type, "key", job.Key, "error", jobErr)
		q.finish(ctx, job)
		return
	}

	logger.Warn("job failed, will retry",
		"job_type", job.Type, "key", job.Key, "attempts_remaining", remaining, "error", jobErr)
	res := q.db.WithContext(ctx).Model(&db.ScheduledJob{}).
		Where("id = ? AND lock_token = ?", job.ID, job.token).
		Updates(map[string]any{
			"attempts_remaining": remaining,
			"run_at":             q.now().Add(q.opts.RetryBackoff),
			"lock_token":         nil,
			"locked_until":       nil,
			"last_error":         jobErr.Error(),
		})
	if res.Error != nil {
		logger.Error("failed to reschedule job", "job_type", job.Type, "key", job.Key, "error", res.Error)
		return
	}
	if res.RowsAffected == 0 {
		q.release(ctx, job)
	}
}
