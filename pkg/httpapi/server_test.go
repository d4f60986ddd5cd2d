package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smith3v/family-reminders/pkg/actions"
	"github.com/smith3v/family-reminders/pkg/internal/testutil"
	"github.com/smith3v/family-reminders/pkg/logger"
	"github.com/smith3v/family-reminders/pkg/notify"
	"github.com/smith3v/family-reminders/pkg/queue"
	"github.com/smith3v/family-reminders/pkg/schedule"
	"github.com/smith3v/family-reminders/pkg/store"
)

var testNow = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger.SetLogLevel(logger.ERROR)
	gdb := testutil.SetupTestDB(t)
	clock := func() time.Time { return testNow }

	st := store.New(gdb, clock)
	q := queue.New(gdb, queue.Options{Workers: 1, Now: clock})
	jobs := schedule.NewAlertJobs(q)
	st.SetCanceller(jobs)
	scheduler := schedule.NewScheduler(st, jobs, nil, schedule.Options{Now: clock})
	fanout := notify.NewFanout(st, q, nil, notify.Options{Now: clock})
	processor := actions.NewProcessor(st, scheduler, fanout, actions.Options{Now: clock})

	return New(st, processor).Router(), st
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestApplyActionsReturnsResultPerAction(t *testing.T) {
	router, st := newTestServer(t)
	body := `{"user_id": "anna", "actions": [
		{"type": "ADD_REMINDER_ALERTS", "text": "dentist", "due_at": "2026-03-03T15:00", "recurring": false, "schedule": null, "alerts": ["2026-03-03T14:00"]},
		{"type": "TELEPORT", "where": "moon"},
		{"type": "MARK_COMPLETE", "reminder_id": "does-not-exist"}
	]}`

	rec := doJSON(t, router, http.MethodPost, "/v1/actions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp actionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %+v", resp.Results)
	}
	if resp.Results[0].Status != actions.StatusApplied || len(resp.Results[0].AlertIDs) != 1 {
		t.Fatalf("unexpected first result %+v", resp.Results[0])
	}
	if resp.Results[1].Status != actions.StatusInvalid || resp.Results[1].Type != "TELEPORT" {
		t.Fatalf("unexpected second result %+v", resp.Results[1])
	}
	if resp.Results[2].Status != actions.StatusNoop {
		t.Fatalf("unexpected third result %+v", resp.Results[2])
	}

	if _, err := st.GetReminder(context.Background(), "anna", resp.Results[0].ReminderID); err != nil {
		t.Fatalf("expected reminder to be stored: %v", err)
	}
}

func TestApplyActionsRequiresUser(t *testing.T) {
	router, _ := newTestServer(t)
	rec := doJSON(t, router, http.MethodPost, "/v1/actions", `{"actions": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/v1/actions", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestFamilyLinks(t *testing.T) {
	router, st := newTestServer(t)
	ctx := context.Background()

	rec := doJSON(t, router, http.MethodPost, "/v1/family/links", `{"user_id": "anna", "other_user_id": "ben"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if ok, err := st.CanActFor(ctx, "ben", "anna"); err != nil || !ok {
		t.Fatalf("expected ben to act for anna: %v %v", ok, err)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/users/anna/family", "")
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"ben"`)) {
		t.Fatalf("unexpected family listing %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/family/links", `{"user_id": "anna", "other_user_id": "anna"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected self link to be rejected, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/v1/family/links", `{"user_id": "ben", "other_user_id": "anna"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if ok, _ := st.CanActFor(ctx, "ben", "anna"); ok {
		t.Fatalf("expected link to be removed")
	}
}

func TestPutProfile(t *testing.T) {
	router, st := newTestServer(t)

	rec := doJSON(t, router, http.MethodPut, "/v1/users/anna/profile", `{"timezone_offset_seconds": 3600, "telegram_chat_id": 42, "whatsapp_id": "+31600000000", "email": "anna@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	profile, err := st.ProfileByTelegramChat(context.Background(), 42)
	if err != nil {
		t.Fatalf("ProfileByTelegramChat returned error: %v", err)
	}
	if profile.UserID != "anna" || profile.TimezoneOffsetSeconds != 3600 {
		t.Fatalf("unexpected profile %+v", profile)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/users/anna/profile", "")
	var got profileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode profile: %v", err)
	}
	if got.Email == nil || *got.Email != "anna@example.com" || got.WhatsAppID == nil || *got.WhatsAppID != "+31600000000" {
		t.Fatalf("unexpected profile response %+v", got)
	}

	rec = doJSON(t, router, http.MethodPut, "/v1/users/anna/profile", `{"timezone_offset_seconds": 86400}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected out of range offset to be rejected, got %d", rec.Code)
	}
}
