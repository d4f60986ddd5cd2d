package store

import (
	"context"
	"strings"

	"github.com/smith3v/family-reminders/pkg/db"
	"gorm.io/gorm/clause"
)

// UpsertProfile stores the channel registrations and timezone of a user.
func (s *Store) UpsertProfile(ctx context.Context, profile db.UserProfile) error {
	if strings.TrimSpace(profile.UserID) == "" {
		return ErrEmptyOwner
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"timezone_offset_seconds",
			"telegram_chat_id",
			"whats_app_id",
			"email",
			"updated_at",
		}),
	}).Create(&profile).Error
}

// GetProfile returns the stored profile, or a UTC profile without channels
// when the user never registered one.
func (s *Store) GetProfile(ctx context.Context, userID string) (db.UserProfile, error) {
	var profile db.UserProfile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if notFound(err) {
		return db.UserProfile{UserID: userID}, nil
	}
	return profile, err
}

// ProfileByTelegramChat maps a Telegram chat back to the user it belongs to.
func (s *Store) ProfileByTelegramChat(ctx context.Context, chatID int64) (db.UserProfile, error) {
	var profile db.UserProfile
	err := s.db.WithContext(ctx).Where("telegram_chat_id = ?", chatID).First(&profile).Error
	if notFound(err) {
		return db.UserProfile{}, ErrNotFound
	}
	return profile, err
}
