package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/logger"
	"github.com/smith3v/family-reminders/pkg/notify"
	"github.com/smith3v/family-reminders/pkg/schedule"
	"github.com/smith3v/family-reminders/pkg/store"
	"github.com/smith3v/family-reminders/pkg/ui"
)

// openSeriesEnd is used as due_at for recurring reminders that were given no
// end of series.
const openSeriesEnd = 10 * 365 * 24 * time.Hour

type Status string

const (
	StatusApplied Status = "applied"
	StatusNoop    Status = "noop"
	StatusInvalid Status = "invalid"
	StatusFailed  Status = "failed"
)

type Result struct {
	Type       Type     `json:"type"`
	Status     Status   `json:"status"`
	ReminderID string   `json:"reminder_id,omitempty"`
	AlertIDs   []string `json:"alert_ids,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type Options struct {
	Snooze time.Duration
	Now    func() time.Time
}

type Processor struct {
	store     *store.Store
	scheduler *schedule.Scheduler
	fanout    *notify.Fanout
	opts      Options
}

func NewProcessor(st *store.Store, scheduler *schedule.Scheduler, fanout *notify.Fanout, opts Options) *Processor {
	if opts.Snooze <= 0 {
		opts.Snooze = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Processor{store: st, scheduler: scheduler, fanout: fanout, opts: opts}
}

// Apply runs each action on behalf of requesterID and returns one result per
// action. Actions are isolated: a failing or invalid action does not stop
// the rest. All notifications of the call share one dedup batch.
func (p *Processor) Apply(ctx context.Context, requesterID string, actions []Action) ([]Result, error) {
	batch := p.fanout.NewBatch(requesterID)
	results := make([]Result, 0, len(actions))
	for _, action := range actions {
		results = append(results, p.applyOne(ctx, batch, requesterID, action))
	}
	return results, p.flush(ctx, batch)
}

// ApplyJSON decodes and applies a list of JSON actions. Actions that fail to
// decode get an invalid result in their position; the rest still apply.
func (p *Processor) ApplyJSON(ctx context.Context, requesterID string, raw []json.RawMessage) ([]Result, error) {
	batch := p.fanout.NewBatch(requesterID)
	results := make([]Result, 0, len(raw))
	for _, data := range raw {
		action, err := Decode(data)
		if err != nil {
			results = append(results, Result{Type: peekType(data), Status: StatusInvalid, Error: err.Error()})
			continue
		}
		results = append(results, p.applyOne(ctx, batch, requesterID, action))
	}
	return results, p.flush(ctx, batch)
}

func (p *Processor) flush(ctx context.Context, batch *notify.Batch) error {
	if err := p.fanout.Flush(ctx, batch); err != nil {
		return fmt.Errorf("queue notifications: %w", err)
	}
	return nil
}

func (p *Processor) applyOne(ctx context.Context, batch *notify.Batch, requesterID string, action Action) Result {
	if action == nil {
		return Result{Status: StatusInvalid, Error: "missing action"}
	}
	result := Result{Type: action.Type()}
	if err := action.validate(); err != nil {
		result.Status = StatusInvalid
		result.Error = err.Error()
		return result
	}

	var err error
	switch a := action.(type) {
	case AddReminderAlerts:
		err = p.addReminderAlerts(ctx, batch, requesterID, a, &result)
	case AddAlert:
		err = p.addAlert(ctx, batch, requesterID, a, &result)
	case EditReminderText:
		err = p.editText(ctx, batch, requesterID, a, &result)
	case MarkComplete:
		err = p.markComplete(ctx, batch, requesterID, a, &result)
	case DeleteReminder:
		err = p.deleteReminder(ctx, batch, requesterID, a, &result)
	case DeleteAlert:
		err = p.deleteAlert(ctx, batch, requesterID, a, &result)
	default:
		err = &ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported action %T", action), Err: ErrUnknownAction}
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrValidation):
		result.Status = StatusInvalid
		result.Error = err.Error()
	default:
		logger.Error("failed to apply action", "type", result.Type, "user_id", requesterID, "error", err)
		result.Status = StatusFailed
		result.Error = "internal error"
	}
	return result
}

func record(batch *notify.Batch, kind ui.ChangeKind, reminder db.Reminder, alert *db.Alert) {
	batch.Add(notify.Event{Kind: kind, Reminder: reminder, Alert: alert})
}

// owner resolves whose reminder an action targets and whether the requester
// may touch it: the owner themselves or a linked family member.
func (p *Processor) owner(ctx context.Context, requesterID, userID string) (string, bool, error) {
	owner := strings.TrimSpace(userID)
	if owner == "" {
		owner = requesterID
	}
	allowed, err := p.store.CanActFor(ctx, requesterID, owner)
	if err != nil {
		return "", false, fmt.Errorf("check family relation: %w", err)
	}
	return owner, allowed, nil
}

func (p *Processor) addReminderAlerts(ctx context.Context, batch *notify.Batch, requesterID string, a AddReminderAlerts, result *Result) error {
	owner, allowed, err := p.owner(ctx, requesterID, a.AssigneeUserID)
	if err != nil {
		return err
	}
	if !allowed {
		result.Status = StatusNoop
		return nil
	}

	if a.Recurring && !p.scheduler.HasSuggester() {
		if _, err := schedule.Parse(*a.Schedule); err != nil {
			return invalidWrap("schedule", err)
		}
	}
	for _, candidate := range a.Alerts {
		if _, err := schedule.ParseLocal(candidate, 0); err != nil {
			return invalidWrap("alerts", err)
		}
	}

	var dueAt time.Time
	if strings.TrimSpace(a.DueAt) == "" {
		dueAt = p.opts.Now().Add(openSeriesEnd)
	} else if dueAt, err = p.scheduler.Resolve(ctx, owner, a.DueAt); err != nil {
		if errors.Is(err, schedule.ErrInvalidTime) {
			return invalidWrap("due_at", err)
		}
		return err
	}

	reminder, err := p.store.CreateReminder(ctx, store.NewReminder{
		OwnerUserID: owner,
		Text:        a.Text,
		DueAt:       dueAt,
		Recurring:   a.Recurring,
		Schedule:    a.Schedule,
	})
	if err != nil {
		return err
	}
	result.Status = StatusApplied
	result.ReminderID = reminder.ID

	candidates := a.Alerts
	if !a.Recurring && len(candidates) == 0 {
		candidates = []string{reminder.DueAt.Format(time.RFC3339)}
	}
	created, err := p.scheduler.ScheduleOneShot(ctx, reminder, candidates)
	if err != nil {
		logger.Warn("failed to schedule alerts", "reminder_id", reminder.ID, "error", err)
	}
	if a.Recurring {
		expanded, err := p.scheduler.ExpandRecurring(ctx, reminder)
		if err != nil {
			logger.Warn("failed to expand recurring reminder", "reminder_id", reminder.ID, "error", err)
		}
		created = append(created, expanded...)
	}
	for _, alert := range created {
		result.AlertIDs = append(result.AlertIDs, alert.ID)
	}

	if fresh, err := p.store.LookupReminder(ctx, reminder.ID); err == nil {
		reminder = fresh
	}
	record(batch, ui.ChangeAdded, reminder, nil)
	return nil
}

func (p *Processor) addAlert(ctx context.Context, batch *notify.Batch, requesterID string, a AddAlert, result *Result) error {
	owner, allowed, err := p.owner(ctx, requesterID, a.UserID)
	if err != nil {
		return err
	}
	result.ReminderID = a.ReminderID
	if !allowed {
		result.Status = StatusNoop
		return nil
	}
	reminder, err := p.store.GetReminder(ctx, owner, a.ReminderID)
	if errors.Is(err, store.ErrNotFound) {
		result.Status = StatusNoop
		return nil
	}
	if err != nil {
		return err
	}

	at, err := p.scheduler.Resolve(ctx, owner, a.DueAt)
	if err != nil {
		if errors.Is(err, schedule.ErrInvalidTime) {
			return invalidWrap("due_at", err)
		}
		return err
	}
	alert, created, err := p.scheduler.AddAlert(ctx, reminder, at)
	if err != nil {
		return err
	}
	if !created {
		result.Status = StatusNoop
		return nil
	}
	result.Status = StatusApplied
	result.AlertIDs = []string{alert.ID}
	record(batch, ui.ChangeAlertAdded, reminder, &alert)
	return nil
}

func (p *Processor) editText(ctx context.Context, batch *notify.Batch, requesterID string, a EditReminderText, result *Result) error {
	owner, allowed, err := p.owner(ctx, requesterID, a.UserID)
	if err != nil {
		return err
	}
	result.ReminderID = a.ReminderID
	if !allowed {
		result.Status = StatusNoop
		return nil
	}
	updated, err := p.store.UpdateReminderText(ctx, owner, a.ReminderID, a.Text)
	if err != nil {
		return err
	}
	if !updated {
		result.Status = StatusNoop
		return nil
	}
	result.Status = StatusApplied
	if reminder, err := p.store.GetReminder(ctx, owner, a.ReminderID); err == nil {
		record(batch, ui.ChangeUpdated, reminder, nil)
	}
	return nil
}

func (p *Processor) markComplete(ctx context.Context, batch *notify.Batch, requesterID string, a MarkComplete, result *Result) error {
	owner, allowed, err := p.owner(ctx, requesterID, a.UserID)
	if err != nil {
		return err
	}
	result.ReminderID = a.ReminderID
	if !allowed {
		result.Status = StatusNoop
		return nil
	}
	completed, err := p.store.MarkComplete(ctx, owner, a.ReminderID)
	if err != nil {
		return err
	}
	if !completed {
		result.Status = StatusNoop
		return nil
	}
	result.Status = StatusApplied
	if reminder, err := p.store.GetReminder(ctx, owner, a.ReminderID); err == nil {
		record(batch, ui.ChangeCompleted, reminder, nil)
	}
	return nil
}

func (p *Processor) deleteReminder(ctx context.Context, batch *notify.Batch, requesterID string, a DeleteReminder, result *Result) error {
	owner, allowed, err := p.owner(ctx, requesterID, a.UserID)
	if err != nil {
		return err
	}
	result.ReminderID = a.ReminderID
	if !allowed {
		result.Status = StatusNoop
		return nil
	}
	deleted, err := p.store.DeleteReminder(ctx, owner, a.ReminderID)
	if err != nil {
		return err
	}
	if deleted == nil {
		result.Status = StatusNoop
		return nil
	}
	result.Status = StatusApplied
	record(batch, ui.ChangeDeleted, *deleted, nil)
	return nil
}

func (p *Processor) deleteAlert(ctx context.Context, batch *notify.Batch, requesterID string, a DeleteAlert, result *Result) error {
	owner, allowed, err := p.owner(ctx, requesterID, a.UserID)
	if err != nil {
		return err
	}
	result.ReminderID = a.ReminderID
	if !allowed {
		result.Status = StatusNoop
		return nil
	}
	alert, err := p.store.LookupAlert(ctx, a.AlertID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && (alert.OwnerUserID != owner || (a.ReminderID != "" && alert.ReminderID != a.ReminderID))) {
		result.Status = StatusNoop
		return nil
	}
	if err != nil {
		return err
	}

	deleted, err := p.store.DeleteAlert(ctx, owner, a.AlertID)
	if err != nil {
		return err
	}
	if deleted == nil {
		result.Status = StatusNoop
		return nil
	}
	result.Status = StatusApplied
	result.ReminderID = deleted.ReminderID
	result.AlertIDs = []string{deleted.ID}
	if reminder, err := p.store.GetReminder(ctx, owner, deleted.ReminderID); err == nil {
		record(batch, ui.ChangeAlertDeleted, reminder, deleted)
	}
	return nil
}

// Snooze replaces alertID with a new alert one snooze interval from now.
// Only the new alert is reported; the removed one is an implementation detail
// of snoozing.
func (p *Processor) Snooze(ctx context.Context, requesterID, reminderID, alertID string) (Result, error) {
	result := Result{Type: TypeAddAlert, ReminderID: reminderID}
	reminder, err := p.store.LookupReminder(ctx, reminderID)
	if errors.Is(err, store.ErrNotFound) {
		result.Status = StatusNoop
		return result, nil
	}
	if err != nil {
		return result, err
	}
	allowed, err := p.store.CanActFor(ctx, requesterID, reminder.OwnerUserID)
	if err != nil {
		return result, fmt.Errorf("check family relation: %w", err)
	}
	if !allowed || reminder.Completed {
		result.Status = StatusNoop
		return result, nil
	}

	if alert, err := p.store.LookupAlert(ctx, alertID); err == nil && alert.ReminderID == reminder.ID {
		if _, err := p.store.DeleteAlert(ctx, reminder.OwnerUserID, alertID); err != nil {
			return result, err
		}
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return result, err
	}

	alert, created, err := p.scheduler.AddAlert(ctx, reminder, p.opts.Now().Add(p.opts.Snooze))
	if err != nil {
		return result, err
	}
	if !created {
		result.Status = StatusNoop
		return result, nil
	}
	result.Status = StatusApplied
	result.AlertIDs = []string{alert.ID}

	batch := p.fanout.NewBatch(requesterID)
	record(batch, ui.ChangeAlertAdded, reminder, &alert)
	return result, p.flush(ctx, batch)
}

// ApplyToken runs the action behind a tapped button on behalf of requesterID.
func (p *Processor) ApplyToken(ctx context.Context, requesterID string, token ui.Token) (Result, error) {
	if token.Kind == ui.KindSnooze {
		return p.Snooze(ctx, requesterID, token.ReminderID, token.AlertID)
	}

	reminder, err := p.store.LookupReminder(ctx, token.ReminderID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Status: StatusNoop, ReminderID: token.ReminderID}, nil
	}
	if err != nil {
		return Result{}, err
	}

	var action Action
	switch token.Kind {
	case ui.KindComplete:
		action = MarkComplete{ReminderID: reminder.ID, UserID: reminder.OwnerUserID}
	case ui.KindDelete:
		action = DeleteReminder{ReminderID: reminder.ID, UserID: reminder.OwnerUserID}
	default:
		return Result{}, &ValidationError{Field: "token", Reason: fmt.Sprintf("unknown token kind %q", token.Kind), Err: ErrUnknownAction}
	}
	results, err := p.Apply(ctx, requesterID, []Action{action})
	if len(results) == 0 {
		return Result{}, err
	}
	return results[0], err
}
