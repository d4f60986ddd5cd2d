package db

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to access underlying DB: %v", err)
	}
	t.Cleanup(func() {
		if err := sqlDB.Close(); err != nil {
			t.Fatalf("failed to close database: %v", err)
		}
	})
	return gdb
}

func TestMigrateCreatesTables(t *testing.T) {
	gdb := openTestDB(t, "migrate_tables")
	if err := Migrate(gdb); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	for _, model := range AllModels() {
		if !gdb.Migrator().HasTable(model) {
			t.Fatalf("expected table for %T", model)
		}
	}
	if !gdb.Migrator().HasIndex(&Alert{}, "idx_alert_reminder_due") {
		t.Fatalf("expected unique (reminder_id, due_at) index on alerts")
	}
	if !gdb.Migrator().HasIndex(&ScheduledJob{}, "idx_job_type_key") {
		t.Fatalf("expected unique (job_type, key) index on scheduled_jobs")
	}
}

func TestMigrateNextDueAt(t *testing.T) {
	gdb := openTestDB(t, "migrate_next_due")
	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	soon := now.Add(2 * time.Hour)
	later := now.Add(5 * time.Hour)

	reminders := []Reminder{
		{ID: "r-open", OwnerUserID: "u1", Text: "water plants", DueAt: later},
		{ID: "r-done", OwnerUserID: "u1", Text: "done already", DueAt: later, Completed: true},
	}
	if err := gdb.Create(&reminders).Error; err != nil {
		t.Fatalf("failed to seed reminders: %v", err)
	}
	alerts := []Alert{
		{ID: "a-past", ReminderID: "r-open", OwnerUserID: "u1", DueAt: now.Add(-time.Hour)},
		{ID: "a-soon", ReminderID: "r-open", OwnerUserID: "u1", DueAt: soon},
		{ID: "a-later", ReminderID: "r-open", OwnerUserID: "u1", DueAt: later},
		{ID: "a-done", ReminderID: "r-done", OwnerUserID: "u1", DueAt: soon},
	}
	if err := gdb.Create(&alerts).Error; err != nil {
		t.Fatalf("failed to seed alerts: %v", err)
	}

	if err := migrateNextDueAt(gdb); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	var open Reminder
	if err := gdb.First(&open, "id = ?", "r-open").Error; err != nil {
		t.Fatalf("failed to reload reminder: %v", err)
	}
	if open.NextDueAt == nil || !open.NextDueAt.Equal(soon) {
		t.Fatalf("expected next_due_at %v, got %v", soon, open.NextDueAt)
	}

	var done Reminder
	if err := gdb.First(&done, "id = ?", "r-done").Error; err != nil {
		t.Fatalf("failed to reload reminder: %v", err)
	}
	if done.NextDueAt != nil {
		t.Fatalf("completed reminder should not be backfilled, got %v", done.NextDueAt)
	}
}
