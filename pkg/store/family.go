package store

import (
	"context"
	"errors"
	"strings"

	"github.com/smith3v/family-reminders/pkg/db"
	"gorm.io/gorm/clause"
)

var ErrSelfRelation = errors.New("a user cannot be linked to themselves")

func orderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// LinkFamily records that two users may act on each other's reminders.
// Linking an existing pair is a no-op.
func (s *Store) LinkFamily(ctx context.Context, a, b string) error {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return ErrEmptyOwner
	}
	if a == b {
		return ErrSelfRelation
	}
	userA, userB := orderedPair(a, b)
	relation := db.FamilyRelation{UserA: userA, UserB: userB}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_a"}, {Name: "user_b"}},
		DoNothing: true,
	}).Create(&relation).Error
}

func (s *Store) UnlinkFamily(ctx context.Context, a, b string) error {
	userA, userB := orderedPair(a, b)
	return s.db.WithContext(ctx).
		Where("user_a = ? AND user_b = ?", userA, userB).
		Delete(&db.FamilyRelation{}).Error
}

// FamilyOf lists the users linked to userID.
func (s *Store) FamilyOf(ctx context.Context, userID string) ([]string, error) {
	var relations []db.FamilyRelation
	if err := s.db.WithContext(ctx).
		Where("user_a = ? OR user_b = ?", userID, userID).
		Find(&relations).Error; err != nil {
		return nil, err
	}
	members := make([]string, 0, len(relations))
	for _, r := range relations {
		if r.UserA == userID {
			members = append(members, r.UserB)
		} else {
			members = append(members, r.UserA)
		}
	}
	return members, nil
}

// CanActFor reports whether requester may modify reminders owned by owner.
func (s *Store) CanActFor(ctx context.Context, requester, owner string) (bool, error) {
	if requester == "" || owner == "" {
		return false, nil
	}
	if requester == owner {
		return true, nil
	}
	userA, userB := orderedPair(requester, owner)
	var count int64
	err := s.db.WithContext(ctx).Model(&db.FamilyRelation{}).
		Where("user_a = ? AND user_b = ?", userA, userB).
		Count(&count).Error
	return count > 0, err
}
