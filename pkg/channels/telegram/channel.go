// Package telegram delivers notifications as Telegram messages with inline
// action buttons.
package telegram

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/ui"
)

var errNoChat = errors.New("user has no telegram chat")

// Sender is the subset of *bot.Bot used by the channel.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

type Channel struct {
	sender Sender
}

func New(sender Sender) *Channel {
	return &Channel{sender: sender}
}

func (c *Channel) Name() string {
	return "telegram"
}

func (c *Channel) Registered(profile db.UserProfile) bool {
	return profile.TelegramChatID != nil && *profile.TelegramChatID != 0
}

func (c *Channel) Send(ctx context.Context, profile db.UserProfile, msg ui.Message) (string, error) {
	if !c.Registered(profile) {
		return "", errNoChat
	}
	params := &bot.SendMessageParams{
		ChatID: *profile.TelegramChatID,
		Text:   msg.Text,
	}
	if keyboard := ui.InlineKeyboard(msg.Buttons); keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	sent, err := c.sender.SendMessage(ctx, params)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(sent.ID), nil
}
