package store

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/internal/testutil"
)

var baseNow = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

type recordingCanceller struct {
	cancelled []string
	err       error
}

func (c *recordingCanceller) CancelAlert(_ context.Context, alertID string) error {
	c.cancelled = append(c.cancelled, alertID)
	return c.err
}

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	gdb := testutil.SetupTestDB(t)
	now := baseNow
	return New(gdb, func() time.Time { return now }), &now
}

func mustCreateReminder(t *testing.T, s *Store, owner string, due time.Time) db.Reminder {
	t.Helper()
	r, err := s.CreateReminder(context.Background(), NewReminder{OwnerUserID: owner, Text: "take out bins", DueAt: due})
	if err != nil {
		t.Fatalf("CreateReminder returned error: %v", err)
	}
	return r
}

func TestNewIDFitsCallbackTokens(t *testing.T) {
	id := NewID()
	if len(id) != 22 {
		t.Fatalf("expected 22 character id, got %q (%d)", id, len(id))
	}
	if id == NewID() {
		t.Fatalf("expected ids to be unique")
	}
}

func TestCreateReminderValidates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	schedule := "0 9 * * *"

	cases := []struct {
		name string
		in   NewReminder
		want error
	}{
		{"no owner", NewReminder{Text: "x", DueAt: baseNow}, ErrEmptyOwner},
		{"blank text", NewReminder{OwnerUserID: "u1", Text: "  ", DueAt: baseNow}, ErrEmptyText},
		{"recurring without schedule", NewReminder{OwnerUserID: "u1", Text: "x", Recurring: true}, ErrScheduleMismatch},
		{"schedule without recurring", NewReminder{OwnerUserID: "u1", Text: "x", Schedule: &schedule}, ErrScheduleMismatch},
	}
	for _, tc := range cases {
		if _, err := s.CreateReminder(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	r, err := s.CreateReminder(ctx, NewReminder{OwnerUserID: "u1", Text: "water plants", DueAt: baseNow.Add(time.Hour), Recurring: true, Schedule: &schedule})
	if err != nil {
		t.Fatalf("CreateReminder returned error: %v", err)
	}
	loaded, err := s.GetReminder(ctx, "u1", r.ID)
	if err != nil {
		t.Fatalf("GetReminder returned error: %v", err)
	}
	if !loaded.Recurring || loaded.Schedule == nil || *loaded.Schedule != schedule {
		t.Fatalf("unexpected recurring reminder: %+v", loaded)
	}
	if _, err := s.GetReminder(ctx, "u2", r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another owner, got %v", err)
	}
}

func TestCreateAlertIsIdempotentAndFutureOnly(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	r := mustCreateReminder(t, s, "u1", baseNow.Add(24*time.Hour))
	due := baseNow.Add(2 * time.Hour)

	first, created, err := s.CreateAlert(ctx, "u1", r.ID, due)
	if err != nil || !created {
		t.Fatalf("expected alert to be created, got created=%v err=%v", created, err)
	}
	second, created, err := s.CreateAlert(ctx, "u1", r.ID, due.Add(300*time.Millisecond))
	if err != nil {
		t.Fatalf("CreateAlert returned error: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing alert %s to be returned, got %+v created=%v", first.ID, second, created)
	}

	if _, created, err := s.CreateAlert(ctx, "u1", r.ID, baseNow); err != nil || created {
		t.Fatalf("expected alert at now to be ignored, got created=%v err=%v", created, err)
	}
	if _, created, err := s.CreateAlert(ctx, "u1", r.ID, baseNow.Add(-time.Minute)); err != nil || created {
		t.Fatalf("expected past alert to be ignored, got created=%v err=%v", created, err)
	}
	if _, created, err := s.CreateAlert(ctx, "u2", r.ID, due.Add(time.Hour)); err != nil || created {
		t.Fatalf("expected alert for another owner to be ignored, got created=%v err=%v", created, err)
	}

	var count int64
	if err := s.db.Model(&db.Alert{}).Where("reminder_id = ?", r.ID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count alerts: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one alert, got %d", count)
	}

	loaded, err := s.GetReminder(ctx, "u1", r.ID)
	if err != nil {
		t.Fatalf("GetReminder returned error: %v", err)
	}
	if loaded.NextDueAt == nil || !loaded.NextDueAt.Equal(due) {
		t.Fatalf("expected next_due_at %v, got %v", due, loaded.NextDueAt)
	}
}

func TestCreateAlertIgnoresCompletedReminder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	r := mustCreateReminder(t, s, "u1", baseNow.Add(time.Hour))
	if ok, err := s.MarkComplete(ctx, "u1", r.ID); err != nil || !ok {
		t.Fatalf("MarkComplete: ok=%v err=%v", ok, err)
	}
	if _, created, err := s.CreateAlert(ctx, "u1", r.ID, baseNow.Add(30*time.Minute)); err != nil || created {
		t.Fatalf("expected no alert on completed reminder, got created=%v err=%v", created, err)
	}
}

func TestMarkCompleteIsTerminalAndCancelsAlerts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	canceller := &recordingCanceller{}
	s.SetCanceller(canceller)

	r := mustCreateReminder(t, s, "u1", baseNow.Add(3*time.Hour))
	alert, _, err := s.CreateAlert(ctx, "u1", r.ID, baseNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateAlert returned error: %v", err)
	}

	if ok, err := s.MarkComplete(ctx, "u2", r.ID); err != nil || ok {
		t.Fatalf("expected other owner to be refused, got ok=%v err=%v", ok, err)
	}
	if ok, err := s.MarkComplete(ctx, "u1", r.ID); err != nil || !ok {
		t.Fatalf("expected completion, got ok=%v err=%v", ok, err)
	}
	if ok, err := s.MarkComplete(ctx, "u1", r.ID); err != nil || ok {
		t.Fatalf("expected second completion to be a no-op, got ok=%v err=%v", ok, err)
	}
	if len(canceller.cancelled) != 1 || canceller.cancelled[0] != alert.ID {
		t.Fatalf("expected alert %s to be cancelled, got %v", alert.ID, canceller.cancelled)
	}
}

func TestDeleteReminderRemovesAlertsAndSwallowsCancelErrors(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	canceller := &recordingCanceller{err: errors.New("queue unavailable")}
	s.SetCanceller(canceller)

	r := mustCreateReminder(t, s, "u1", baseNow.Add(5*time.Hour))
	for i := 1; i <= 3; i++ {
		if _, _, err := s.CreateAlert(ctx, "u1", r.ID, baseNow.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("CreateAlert returned error: %v", err)
		}
	}

	if deleted, err := s.DeleteReminder(ctx, "u2", r.ID); err != nil || deleted != nil {
		t.Fatalf("expected other owner delete to be a no-op, got %v err=%v", deleted, err)
	}
	deleted, err := s.DeleteReminder(ctx, "u1", r.ID)
	if err != nil {
		t.Fatalf("DeleteReminder returned error: %v", err)
	}
	if deleted == nil || deleted.Text != "take out bins" {
		t.Fatalf("expected deleted snapshot, got %+v", deleted)
	}
	if len(canceller.cancelled) != 3 {
		t.Fatalf("expected three cancellations, got %v", canceller.cancelled)
	}

	var count int64
	if err := s.db.Model(&db.Alert{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count alerts: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected alerts to be removed, got %d", count)
	}
	if _, err := s.LookupReminder(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected reminder to be gone, got %v", err)
	}
	if deleted, err := s.DeleteReminder(ctx, "u1", r.ID); err != nil || deleted != nil {
		t.Fatalf("expected repeated delete to be a no-op, got %v err=%v", deleted, err)
	}
}

func TestDeleteAlertRefreshesNextDueAt(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	canceller := &recordingCanceller{}
	s.SetCanceller(canceller)

	r := mustCreateReminder(t, s, "u1", baseNow.Add(5*time.Hour))
	early, _, _ := s.CreateAlert(ctx, "u1", r.ID, baseNow.Add(time.Hour))
	late, _, _ := s.CreateAlert(ctx, "u1", r.ID, baseNow.Add(2*time.Hour))

	if removed, err := s.DeleteAlert(ctx, "u1", early.ID); err != nil || removed == nil {
		t.Fatalf("DeleteAlert: removed=%v err=%v", removed, err)
	}
	loaded, _ := s.GetReminder(ctx, "u1", r.ID)
	if loaded.NextDueAt == nil || !loaded.NextDueAt.Equal(late.DueAt) {
		t.Fatalf("expected next_due_at %v, got %v", late.DueAt, loaded.NextDueAt)
	}
	if len(canceller.cancelled) != 1 || canceller.cancelled[0] != early.ID {
		t.Fatalf("expected %s to be cancelled, got %v", early.ID, canceller.cancelled)
	}
	if removed, err := s.DeleteAlert(ctx, "u1", early.ID); err != nil || removed != nil {
		t.Fatalf("expected missing alert delete to be a no-op, got %v err=%v", removed, err)
	}
}

func TestUpdateReminderText(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	r := mustCreateReminder(t, s, "u1", baseNow.Add(time.Hour))

	if ok, err := s.UpdateReminderText(ctx, "u1", r.ID, "buy milk"); err != nil || !ok {
		t.Fatalf("UpdateReminderText: ok=%v err=%v", ok, err)
	}
	if ok, err := s.UpdateReminderText(ctx, "u1", "missing", "buy milk"); err != nil || ok {
		t.Fatalf("expected missing reminder update to be a no-op, got ok=%v err=%v", ok, err)
	}
	if _, err := s.UpdateReminderText(ctx, "u1", r.ID, " "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	loaded, _ := s.GetReminder(ctx, "u1", r.ID)
	if loaded.Text != "buy milk" {
		t.Fatalf("expected updated text, got %q", loaded.Text)
	}
}

func TestListAlertsDueBetweenSkipsCompletedReminders(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	active := mustCreateReminder(t, s, "u1", baseNow.Add(20*time.Hour))
	done := mustCreateReminder(t, s, "u1", baseNow.Add(20*time.Hour))

	inWindow, _, _ := s.CreateAlert(ctx, "u1", active.ID, baseNow.Add(time.Hour))
	s.CreateAlert(ctx, "u1", active.ID, baseNow.Add(11*time.Hour))
	s.CreateAlert(ctx, "u1", done.ID, baseNow.Add(2*time.Hour))
	s.MarkComplete(ctx, "u1", done.ID)

	alerts, err := s.ListAlertsDueBetween(ctx, baseNow, baseNow.Add(10*time.Hour))
	if err != nil {
		t.Fatalf("ListAlertsDueBetween returned error: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != inWindow.ID {
		t.Fatalf("expected only %s, got %+v", inWindow.ID, alerts)
	}
}

func TestListActiveRecurringReminders(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()
	schedule := "0 9 * * *"
	create := func(due time.Time) db.Reminder {
		r, err := s.CreateReminder(ctx, NewReminder{OwnerUserID: "u1", Text: "pills", DueAt: due, Recurring: true, Schedule: &schedule})
		if err != nil {
			t.Fatalf("CreateReminder returned error: %v", err)
		}
		return r
	}
	live := create(baseNow.Add(48 * time.Hour))
	create(baseNow.Add(-time.Hour))
	finished := create(baseNow.Add(48 * time.Hour))
	s.MarkComplete(ctx, "u1", finished.ID)
	mustCreateReminder(t, s, "u1", baseNow.Add(48*time.Hour))

	reminders, err := s.ListActiveRecurringReminders(ctx)
	if err != nil {
		t.Fatalf("ListActiveRecurringReminders returned error: %v", err)
	}
	if len(reminders) != 1 || reminders[0].ID != live.ID {
		t.Fatalf("expected only %s, got %+v", live.ID, reminders)
	}

	*now = baseNow.Add(72 * time.Hour)
	reminders, _ = s.ListActiveRecurringReminders(ctx)
	if len(reminders) != 0 {
		t.Fatalf("expected series to have ended, got %+v", reminders)
	}
}

func TestCompleteOverdue(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()
	schedule := "0 9 * * *"
	oneOff := mustCreateReminder(t, s, "u1", baseNow.Add(time.Hour))
	recurring, _ := s.CreateReminder(ctx, NewReminder{OwnerUserID: "u1", Text: "pills", DueAt: baseNow.Add(time.Hour), Recurring: true, Schedule: &schedule})
	future := mustCreateReminder(t, s, "u1", baseNow.Add(48*time.Hour))

	*now = baseNow.Add(2 * time.Hour)
	n, err := s.CompleteOverdue(ctx, false)
	if err != nil {
		t.Fatalf("CompleteOverdue returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one reminder completed, got %d", n)
	}
	for id, want := range map[string]bool{oneOff.ID: true, recurring.ID: false, future.ID: false} {
		r, _ := s.LookupReminder(ctx, id)
		if r.Completed != want {
			t.Errorf("reminder %s: expected completed=%v", id, want)
		}
	}

	if n, _ := s.CompleteOverdue(ctx, true); n != 1 {
		t.Fatalf("expected recurring reminder to be completed when included, got %d", n)
	}
}

func TestDeleteAlertsBefore(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()
	r := mustCreateReminder(t, s, "u1", baseNow.Add(96*time.Hour))
	s.CreateAlert(ctx, "u1", r.ID, baseNow.Add(time.Hour))
	kept, _, _ := s.CreateAlert(ctx, "u1", r.ID, baseNow.Add(72*time.Hour))

	*now = baseNow.Add(80 * time.Hour)
	n, err := s.DeleteAlertsBefore(ctx, baseNow.Add(24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected one alert removed, got %d err=%v", n, err)
	}
	if _, err := s.LookupAlert(ctx, kept.ID); err != nil {
		t.Fatalf("expected recent alert to survive, got %v", err)
	}
}

func TestFamilyRelations(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.LinkFamily(ctx, "zoe", "adam"); err != nil {
		t.Fatalf("LinkFamily returned error: %v", err)
	}
	if err := s.LinkFamily(ctx, "adam", "zoe"); err != nil {
		t.Fatalf("expected relinking to be a no-op, got %v", err)
	}
	if err := s.LinkFamily(ctx, "adam", "beth"); err != nil {
		t.Fatalf("LinkFamily returned error: %v", err)
	}
	if err := s.LinkFamily(ctx, "adam", "adam"); !errors.Is(err, ErrSelfRelation) {
		t.Fatalf("expected ErrSelfRelation, got %v", err)
	}

	members, err := s.FamilyOf(ctx, "adam")
	if err != nil {
		t.Fatalf("FamilyOf returned error: %v", err)
	}
	sort.Strings(members)
	if len(members) != 2 || members[0] != "beth" || members[1] != "zoe" {
		t.Fatalf("unexpected family: %v", members)
	}

	for _, tc := range []struct {
		requester, owner string
		want             bool
	}{
		{"adam", "adam", true},
		{"zoe", "adam", true},
		{"adam", "zoe", true},
		{"zoe", "beth", false},
		{"", "adam", false},
	} {
		got, err := s.CanActFor(ctx, tc.requester, tc.owner)
		if err != nil {
			t.Fatalf("CanActFor returned error: %v", err)
		}
		if got != tc.want {
			t.Errorf("CanActFor(%q, %q) = %v, want %v", tc.requester, tc.owner, got, tc.want)
		}
	}

	if err := s.UnlinkFamily(ctx, "adam", "zoe"); err != nil {
		t.Fatalf("UnlinkFamily returned error: %v", err)
	}
	if ok, _ := s.CanActFor(ctx, "zoe", "adam"); ok {
		t.Fatalf("expected relation to be removed")
	}
}

func TestProfiles(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile returned error: %v", err)
	}
	if p.UserID != "u1" || p.TimezoneOffsetSeconds != 0 || p.TelegramChatID != nil {
		t.Fatalf("expected default profile, got %+v", p)
	}

	chat := int64(4242)
	if err := s.UpsertProfile(ctx, db.UserProfile{UserID: "u1", TimezoneOffsetSeconds: 3600, TelegramChatID: &chat}); err != nil {
		t.Fatalf("UpsertProfile returned error: %v", err)
	}
	email := "u1@example.com"
	if err := s.UpsertProfile(ctx, db.UserProfile{UserID: "u1", TimezoneOffsetSeconds: 7200, TelegramChatID: &chat, Email: &email}); err != nil {
		t.Fatalf("UpsertProfile returned error: %v", err)
	}

	p, err = s.ProfileByTelegramChat(ctx, chat)
	if err != nil {
		t.Fatalf("ProfileByTelegramChat returned error: %v", err)
	}
	if p.UserID != "u1" || p.TimezoneOffsetSeconds != 7200 || p.Email == nil || *p.Email != email {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if _, err := s.ProfileByTelegramChat(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
