package email

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/ui"
)

type fakeClient struct {
	sent     []*mail.SGMailV3
	response *rest.Response
	err      error
}

func (f *fakeClient) Send(email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	return f.response, f.err
}

func profileWithEmail(address string) db.UserProfile {
	return db.UserProfile{UserID: "anna", Email: &address}
}

func TestSendBuildsEmail(t *testing.T) {
	client := &fakeClient{response: &rest.Response{
		StatusCode: 202,
		Headers:    map[string][]string{"X-Message-Id": {"sg-1"}},
	}}
	ch := New(client, "noreply@example.com", "Family Reminders")

	id, err := ch.Send(context.Background(), profileWithEmail("anna@example.com"), ui.Message{Text: "⏰ Dentist <3pm>\nMon 2 Mar 15:00 (UTC+1)"})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if id != "sg-1" {
		t.Fatalf("expected delivery id sg-1, got %q", id)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(client.sent))
	}
	email := client.sent[0]
	if email.Subject != "⏰ Dentist <3pm>" {
		t.Fatalf("unexpected subject %q", email.Subject)
	}
	if email.From.Address != "noreply@example.com" || email.Personalizations[0].To[0].Address != "anna@example.com" {
		t.Fatalf("unexpected addresses from=%v to=%v", email.From, email.Personalizations[0].To)
	}
	var htmlBody string
	for _, c := range email.Content {
		if c.Type == "text/html" {
			htmlBody = c.Value
		}
	}
	if !strings.Contains(htmlBody, "&lt;3pm&gt;<br>") {
		t.Fatalf("expected escaped html with line breaks, got %q", htmlBody)
	}
}

func TestSendReportsFailures(t *testing.T) {
	ch := New(&fakeClient{response: &rest.Response{StatusCode: 401}}, "noreply@example.com", "")
	if _, err := ch.Send(context.Background(), profileWithEmail("anna@example.com"), ui.Message{Text: "x"}); err == nil {
		t.Fatalf("expected error for 401 response")
	}

	ch = New(&fakeClient{err: errors.New("dial tcp: timeout")}, "noreply@example.com", "")
	if _, err := ch.Send(context.Background(), profileWithEmail("anna@example.com"), ui.Message{Text: "x"}); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestRegistered(t *testing.T) {
	ch := New(&fakeClient{}, "noreply@example.com", "")
	if ch.Registered(db.UserProfile{UserID: "anna"}) {
		t.Fatalf("expected profile without email to be unregistered")
	}
	if ch.Registered(profileWithEmail("  ")) {
		t.Fatalf("expected blank email to be unregistered")
	}
	if _, err := ch.Send(context.Background(), db.UserProfile{UserID: "anna"}, ui.Message{Text: "x"}); err == nil {
		t.Fatalf("expected error without address")
	}
}
