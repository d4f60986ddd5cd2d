package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/family-reminders/pkg/actions"
	"github.com/smith3v/family-reminders/pkg/logger"
	"github.com/smith3v/family-reminders/pkg/ui"
)

const callbackPrefix = ui.TokenPrefix

// HandleReminderCallback runs the action behind a tapped reminder button for
// the account linked to the tapping user's chat.
func (h *Handlers) HandleReminderCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil || update.CallbackQuery == nil {
		logger.Error("invalid update in HandleReminderCallback")
		return
	}
	query := update.CallbackQuery

	callbackID := query.ID
	answerCallback := func(text string) {
		if callbackID == "" {
			return
		}
		if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: callbackID,
			Text:            text,
		}); err != nil {
			logger.Error("failed to answer reminder callback query", "error", err)
		}
	}

	token, err := ui.ParseToken(query.Data)
	if err != nil {
		logger.Warn("failed to parse reminder callback", "data", query.Data, "error", err)
		answerCallback("Unknown command")
		return
	}

	profile, ok, err := h.profileForChat(ctx, query.From.ID)
	if err != nil {
		logger.Error("failed to load profile for callback", "chat_id", query.From.ID, "error", err)
		answerCallback("Something went wrong, try again")
		return
	}
	if !ok {
		answerCallback("This chat is not linked to an account")
		return
	}

	result, err := h.processor.ApplyToken(ctx, profile.UserID, token)
	if err != nil {
		logger.Error("failed to apply reminder button", "user_id", profile.UserID, "reminder_id", token.ReminderID, "kind", token.Kind, "error", err)
		answerCallback("Something went wrong, try again")
		return
	}
	if result.Status != actions.StatusApplied {
		answerCallback("Nothing to do")
		h.clearButtons(ctx, b, query)
		return
	}

	switch token.Kind {
	case ui.KindComplete:
		answerCallback("Marked as done")
	case ui.KindDelete:
		answerCallback("Reminder deleted")
	case ui.KindSnooze:
		answerCallback("Snoozed")
	}
	h.clearButtons(ctx, b, query)
}

// clearButtons removes the keyboard from the message that carried the tapped
// button so it cannot be used twice.
func (h *Handlers) clearButtons(ctx context.Context, b *bot.Bot, query *models.CallbackQuery) {
	message := query.Message
	if message.Type != models.MaybeInaccessibleMessageTypeMessage || message.Message == nil || message.Message.Chat.ID == 0 {
		return
	}
	if _, err := b.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
		ChatID:      message.Message.Chat.ID,
		MessageID:   message.Message.ID,
		ReplyMarkup: &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{}},
	}); err != nil {
		logger.Error("failed to clear reminder buttons", "chat_id", message.Message.Chat.ID, "error", err)
	}
}
