// Package email delivers notifications through SendGrid. Emails carry the
// rendered text only; action buttons are a chat feature.
package email

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/smith3v/family-reminders/pkg/config"
	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/ui"
)

var errNoAddress = errors.New("user has no email address")

// Client is the subset of *sendgrid.Client used by the channel.
type Client interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

type Channel struct {
	client    Client
	fromEmail string
	fromName  string
}

func New(client Client, fromEmail, fromName string) *Channel {
	return &Channel{client: client, fromEmail: fromEmail, fromName: fromName}
}

func NewFromConfig(cfg config.SendGridConfig) *Channel {
	return New(sendgrid.NewSendClient(cfg.APIKey), cfg.FromEmail, cfg.FromName)
}

func (c *Channel) Name() string {
	return "email"
}

func (c *Channel) Registered(profile db.UserProfile) bool {
	return profile.Email != nil && strings.TrimSpace(*profile.Email) != ""
}

func (c *Channel) Send(_ context.Context, profile db.UserProfile, msg ui.Message) (string, error) {
	if !c.Registered(profile) {
		return "", errNoAddress
	}
	from := mail.NewEmail(c.fromName, c.fromEmail)
	to := mail.NewEmail(profile.UserID, *profile.Email)
	subject := subjectOf(msg.Text)
	htmlContent := "<p>" + strings.ReplaceAll(html.EscapeString(msg.Text), "\n", "<br>") + "</p>"

	message := mail.NewSingleEmail(from, subject, to, msg.Text, htmlContent)
	response, err := c.client.Send(message)
	if err != nil {
		return "", err
	}
	if response.StatusCode >= 400 {
		return "", fmt.Errorf("failed to send email to %s: %d", *profile.Email, response.StatusCode)
	}
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}

func subjectOf(text string) string {
	subject, _, _ := strings.Cut(text, "\n")
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Reminder"
	}
	return subject
}
