package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/family-reminders/pkg/actions"
	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/logger"
	"github.com/smith3v/family-reminders/pkg/store"
)

// Handlers serves the Telegram side of the engine: reminder buttons and a
// couple of informational commands. Reminders themselves arrive through the
// action API.
type Handlers struct {
	store     *store.Store
	processor *actions.Processor
}

func New(st *store.Store, processor *actions.Processor) *Handlers {
	return &Handlers{store: st, processor: processor}
}

// Register installs the handlers on b.
func (h *Handlers) Register(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, h.HandleStart)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackPrefix, bot.MatchTypePrefix, h.HandleReminderCallback)
}

// profileForChat resolves the account linked to a private chat. ok is false
// when the chat has not been registered.
func (h *Handlers) profileForChat(ctx context.Context, chatID int64) (db.UserProfile, bool, error) {
	profile, err := h.store.ProfileByTelegramChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return db.UserProfile{}, false, nil
	}
	if err != nil {
		return db.UserProfile{}, false, err
	}
	return profile, true, nil
}

func (h *Handlers) HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil || update.Message == nil || update.Message.From == nil || update.Message.Chat.ID == 0 {
		logger.Error("invalid update in HandleStart")
		return
	}
	chatID := update.Message.Chat.ID

	profile, ok, err := h.profileForChat(ctx, chatID)
	if err != nil {
		logger.Error("failed to load profile for chat", "chat_id", chatID, "error", err)
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Failed to look up your account. Please try again later.",
		})
		return
	}

	text := fmt.Sprintf("Hi! This chat is not linked to a family account yet.\nYour chat id is %d; add it to your profile to receive reminders here.", chatID)
	if ok {
		text = fmt.Sprintf("Hi! Reminders for %s are delivered to this chat.\nUse the buttons under a reminder to complete, snooze or delete it.", profile.UserID)
	}
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		logger.Error("failed to send start message", "chat_id", chatID, "error", err)
	}
}

func DefaultHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil || update.Message == nil {
		return
	}
	if update.Message.Chat.ID == 0 {
		logger.Error("chat ID is zero in DefaultHandler")
		return
	}
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   "I only deliver reminders here. Send /start to check whether this chat is linked to your account.",
	})
	if err != nil {
		logger.Error("failed to send message in DefaultHandler", "error", err)
	}
}
