package ui

import (
	"strings"
	"testing"
)

const (
	reminderID = "3q2-7wAAQkKkmVGnWlQbXw"
	alertID    = "Zm9vYmFyYmF6cXV4cXV1eA"
)

func TestParseToken(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Token
		wantErr bool
	}{
		{
			name:  "complete",
			input: "reminder:complete:" + reminderID,
			want:  Token{Kind: KindComplete, ReminderID: reminderID},
		},
		{
			name:  "delete",
			input: "reminder:delete:" + reminderID,
			want:  Token{Kind: KindDelete, ReminderID: reminderID},
		},
		{
			name:  "snooze",
			input: "reminder:snooze:" + reminderID + ":" + alertID,
			want:  Token{Kind: KindSnooze, ReminderID: reminderID, AlertID: alertID},
		},
		{name: "empty", input: "", wantErr: true},
		{name: "foreign prefix", input: "s:home", wantErr: true},
		{name: "unknown kind", input: "reminder:archive:" + reminderID, wantErr: true},
		{name: "snooze without alert", input: "reminder:snooze:" + reminderID, wantErr: true},
		{name: "complete with extra part", input: "reminder:complete:" + reminderID + ":x", wantErr: true},
		{name: "bad id", input: "reminder:delete:abc def", wantErr: true},
		{name: "empty id", input: "reminder:delete:", wantErr: true},
		{name: "too long", input: "reminder:delete:" + strings.Repeat("a", 60), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseToken(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
			if got.String() != tt.input {
				t.Fatalf("expected String() to round trip, got %q", got.String())
			}
		})
	}
}

func TestBuildTokensFitCallbackLimit(t *testing.T) {
	builders := map[string]func() (string, error){
		"complete": func() (string, error) { return BuildCompleteToken(reminderID) },
		"delete":   func() (string, error) { return BuildDeleteToken(reminderID) },
		"snooze":   func() (string, error) { return BuildSnoozeToken(reminderID, alertID) },
	}
	for name, build := range builders {
		data, err := build()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if len(data) > MaxCallbackDataLen {
			t.Fatalf("%s: token %q exceeds %d bytes", name, data, MaxCallbackDataLen)
		}
		if _, err := ParseToken(data); err != nil {
			t.Fatalf("%s: built token does not parse: %v", name, err)
		}
	}
}

func TestBuildTokenRejectsBadInput(t *testing.T) {
	if _, err := BuildCompleteToken("a:b"); err == nil {
		t.Fatalf("expected error for id containing a colon")
	}
	if _, err := BuildSnoozeToken(reminderID, ""); err == nil {
		t.Fatalf("expected error for empty alert id")
	}
	if _, err := BuildDeleteToken(strings.Repeat("x", 60)); err == nil {
		t.Fatalf("expected error for oversized token")
	}
}

func TestIsToken(t *testing.T) {
	if !IsToken("reminder:complete:x") {
		t.Fatalf("expected reminder token to be recognised")
	}
	if IsToken("s:home") {
		t.Fatalf("expected foreign data to be ignored")
	}
}
